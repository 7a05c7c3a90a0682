// Package main implements a mock LLM server for extraction testing.
// It serves OpenAI-compatible /v1/chat/completions responses so the
// extraction cascade can run fast, deterministic and offline.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Fixture files are JSON named by model ("mistral-small.json" answers
// model "mistral-small"). Numbered files ("mistral-small.1.json",
// "mistral-small.2.json") are served in order, one per call, before the
// base file repeats; that is how failure-then-success retry rounds are
// scripted.
//
// Without a matching fixture the server echo-extracts: the chunk text in
// the last user message is split into lines and returned as the
// normalized-sentence JSON array the extraction prompt asks for. A bare
// `mock-llm` with no fixtures is therefore enough to drive a full job.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type server struct {
	// fixtures maps model name to its ordered response sequence.
	fixtures map[string][]string

	mu         sync.Mutex
	totalCalls int64
	modelCalls map[string]int64
}

func newServer(fixtures map[string][]string) *server {
	return &server{
		fixtures:   fixtures,
		modelCalls: make(map[string]int64),
	}
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files (optional)")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	fixtures := map[string][]string{}
	if *fixtureDir != "" {
		loaded, err := loadFixtures(*fixtureDir)
		if err != nil {
			log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
		}
		fixtures = loaded
		log.Printf("Loaded %d model(s) from %s", len(fixtures), *fixtureDir)
	} else {
		log.Printf("No fixtures configured, echo-extracting every request")
	}

	s := newServer(fixtures)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock LLM server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum, callIndex := s.countCall(req.Model)
	content := s.respond(req, callIndex)
	log.Printf("[call %d] model=%s call_index=%d bytes=%d", callNum, req.Model, callIndex+1, len(content))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) countCall(model string) (total, index int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls++
	index = s.modelCalls[model]
	s.modelCalls[model] = index + 1
	return s.totalCalls, index
}

// respond picks the fixture for this call, or echo-extracts the chunk
// text when the model has no fixture.
func (s *server) respond(req chatRequest, callIndex int64) string {
	if seq, ok := s.fixtures[req.Model]; ok && len(seq) > 0 {
		if int(callIndex) < len(seq) {
			return seq[callIndex]
		}
		return seq[len(seq)-1] // repeat last fixture
	}
	return echoExtract(req.Messages)
}

// echoExtract builds the JSON sentence array the extraction prompt asks
// for by splitting the last user message into lines.
func echoExtract(messages []chatMessage) string {
	var text string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			text = messages[i].Content
			break
		}
	}

	type sentence struct {
		Normalized string `json:"normalized"`
		Original   string `json:"original"`
	}
	var sentences []sentence
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sentences = append(sentences, sentence{Normalized: line, Original: line})
	}
	if len(sentences) == 0 {
		sentences = append(sentences, sentence{
			Normalized: "Le texte fourni était vide.",
			Original:   "Le texte fourni était vide.",
		})
	}

	data, _ := json.Marshal(sentences)
	return string(data)
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	callsByModel := make(map[string]int64, len(s.modelCalls))
	for model, count := range s.modelCalls {
		callsByModel[model] = count
	}
	total := s.totalCalls
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    total,
		"calls_by_model": callsByModel,
	})
}

// numberedFileRe matches files like "mistral-small.1.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir into per-model sequences:
// numbered files in order, then the base file as the repeating tail.
func loadFixtures(dir string) (map[string][]string, error) {
	baseFiles := make(map[string]string)
	numberedFiles := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		if matches := numberedFileRe.FindStringSubmatch(info.Name()); matches != nil {
			model := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numberedFiles[model] == nil {
				numberedFiles[model] = make(map[int]string)
			}
			numberedFiles[model][index] = string(data)
			return nil
		}

		model := strings.TrimSuffix(info.Name(), ".json")
		baseFiles[model] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)
	for model := range baseFiles {
		fixtures[model] = nil
	}
	for model := range numberedFiles {
		fixtures[model] = nil
	}

	for model := range fixtures {
		var seq []string
		if numbered, ok := numberedFiles[model]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}
		if base, ok := baseFiles[model]; ok {
			seq = append(seq, base)
		}
		fixtures[model] = seq
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
