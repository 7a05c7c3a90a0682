package providers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/llm"
)

func TestProvidersRegistered(t *testing.T) {
	assert.NotNil(t, llm.GetProvider("openai"))
	assert.NotNil(t, llm.GetProvider("ollama"))
}

func TestOllamaBuildURL(t *testing.T) {
	p := &OllamaProvider{}

	assert.Equal(t, "http://localhost:11434/v1/chat/completions", p.BuildURL(""))
	assert.Equal(t, "http://vllm:8000/v1/chat/completions", p.BuildURL("http://vllm:8000/v1/"))
	assert.Equal(t, "http://x/v1/chat/completions", p.BuildURL("http://x/v1/chat/completions"))
}

func TestOpenAIBuildURL(t *testing.T) {
	p := &OpenAIProvider{}

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", p.BuildURL(""))
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", p.BuildURL("https://openrouter.ai/api/v1"))
}

func TestChatCompletionsURLNormalization(t *testing.T) {
	assert.Equal(t, "http://x/v1/chat/completions", chatCompletionsURL("http://x/v1"))
	assert.Equal(t, "http://x/v1/chat/completions", chatCompletionsURL("http://x/v1/"))
	assert.Equal(t, "http://x/v1/chat/completions", chatCompletionsURL("http://x/v1/chat/completions"))
}

func TestOpenAIHeadersCarryOpenRouterAttribution(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_SITE_URL", "https://phraseforge.example")
	t.Setenv("OPENROUTER_SITE_NAME", "Phraseforge")

	req := httptest.NewRequest("POST", "http://x", nil)
	(&OpenAIProvider{}).SetHeaders(req)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Equal(t, "https://phraseforge.example", req.Header.Get("HTTP-Referer"))
	assert.Equal(t, "Phraseforge", req.Header.Get("X-Title"))
}

func TestOllamaBuildRequestBody(t *testing.T) {
	p := &OllamaProvider{}
	temp := 0.2

	body, err := p.BuildRequestBody("mistral", []llm.Message{
		{Role: "system", Content: "extract sentences"},
		{Role: "user", Content: "page text"},
	}, &temp, 2048)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "mistral", req["model"])
	assert.Equal(t, 0.2, req["temperature"])
	assert.Equal(t, float64(2048), req["max_tokens"])
	assert.Len(t, req["messages"], 2)
}

func TestOllamaBuildRequestBodyOmitsDefaults(t *testing.T) {
	p := &OllamaProvider{}

	body, err := p.BuildRequestBody("mistral", []llm.Message{{Role: "user", Content: "x"}}, nil, 0)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	_, hasTemp := req["temperature"]
	_, hasMax := req["max_tokens"]
	assert.False(t, hasTemp)
	assert.False(t, hasMax)
}

func TestOllamaParseResponse(t *testing.T) {
	p := &OllamaProvider{}

	body := []byte(`{
		"model": "mistral",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Le chat dort."}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)

	resp, err := p.ParseResponse(body, "mistral")
	require.NoError(t, err)
	assert.Equal(t, "Le chat dort.", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOllamaParseResponseNoChoices(t *testing.T) {
	p := &OllamaProvider{}

	_, err := p.ParseResponse([]byte(`{"model": "mistral", "choices": []}`), "mistral")
	assert.Error(t, err)
}
