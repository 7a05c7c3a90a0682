package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/phraseforge/llm"
)

// OpenAIProvider serves hosted OpenAI-compatible APIs (api.openai.com,
// OpenRouter). The wire format comes from the embedded OllamaProvider;
// only the default URL and the attribution headers differ.
type OpenAIProvider struct {
	OllamaProvider
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the hosted chat completions endpoint.
func (o *OpenAIProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return chatCompletionsURL(baseURL)
}

// SetHeaders adds bearer auth plus the OpenRouter attribution headers
// when their environment variables are set.
func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	bearerAuthFromEnv(req)

	if siteURL := os.Getenv("OPENROUTER_SITE_URL"); siteURL != "" {
		req.Header.Set("HTTP-Referer", siteURL)
	}
	if siteName := os.Getenv("OPENROUTER_SITE_NAME"); siteName != "" {
		req.Header.Set("X-Title", siteName)
	}
}
