// Package extract turns one chunk's text into normalized French sentences
// through a tiered fallback cascade: preferred model, heavier model,
// subchunk split, minimal prompt, and finally a local regex splitter.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/phraseforge/llm"
	"github.com/c360studio/phraseforge/model"
	"github.com/c360studio/phraseforge/pdfsplit"
	"github.com/c360studio/phraseforge/storage"
)

// Fallback markers recorded on chunk results. Stable external contracts.
const (
	MarkerModelFallback         = "MODEL_FALLBACK"
	MarkerSubchunkFallback      = "SUBCHUNK_FALLBACK"
	MarkerMinimalPromptFallback = "MINIMAL_PROMPT_FALLBACK"
	MarkerLocalFallback         = "LOCAL_FALLBACK"
)

// ErrNoText reports a chunk with no extractable text. Deterministic, never
// retried.
var ErrNoText = errors.New("no extractable text in chunk")

// fragmentRateThreshold is the fragment rate above which the engine logs
// an error. Output is still accepted.
const fragmentRateThreshold = 0.05

// Completer is the LLM surface the engine depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Config holds the engine knobs.
type Config struct {
	// AllowLocalFallback enables the final no-LLM regex splitter. When
	// false the cascade ends with the last LLM error instead.
	AllowLocalFallback bool
}

// Engine runs the extraction cascade for chunk payloads.
type Engine struct {
	client Completer
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an extraction engine.
func NewEngine(client Completer, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, cfg: cfg, logger: logger}
}

// Result is the outcome of a successful extraction.
type Result struct {
	// Sentences is the ordered sentence list. Duplicates within a chunk
	// are preserved; cross-chunk dedup happens at merge time.
	Sentences []storage.Sentence

	// TokenCount is the total LLM tokens consumed across all attempts
	// that contributed to this result.
	TokenCount int

	// FallbackMarker names the cascade tier that produced the result,
	// empty for a clean tier-0 extraction.
	FallbackMarker string
}

// Extract runs the cascade over one chunk's text.
//
// Tiers:
//
//	0  preferred model, full prompt
//	1  next-heavier model, full prompt        MODEL_FALLBACK
//	2  split into two subchunks, tiers 0-1    SUBCHUNK_FALLBACK
//	3  original then heavier, minimal prompt  MINIMAL_PROMPT_FALLBACK
//	4  local regex splitter, no LLM           LOCAL_FALLBACK
//
// Each tier is attempted only when the previous one failed retryably; a
// fatal error (auth, bad request) aborts the whole cascade.
func (e *Engine) Extract(ctx context.Context, text string, settings storage.ProcessingSettings) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	tier := model.ParseTier(settings.ModelTier)
	if tier == "" {
		tier = model.TierBalanced
	}

	tokens := 0

	// Tier 0: preferred model, full prompt.
	sentences, err := e.attempt(ctx, tier, FullPrompt(settings), text, &tokens)
	if err == nil {
		return e.finish(sentences, tokens, "")
	}
	if llm.IsFatal(err) {
		return nil, err
	}
	lastErr := err

	// Tier 1: next-heavier model, full prompt.
	if heavier := tier.NextHeavier(); heavier != "" {
		sentences, err = e.attempt(ctx, heavier, FullPrompt(settings), text, &tokens)
		if err == nil {
			return e.finish(sentences, tokens, MarkerModelFallback)
		}
		if llm.IsFatal(err) {
			return nil, err
		}
		lastErr = err
	}

	// Tier 2: split the payload in two and run tiers 0-1 on each half.
	first, second := pdfsplit.SplitText(text)
	if second != "" {
		merged, err := e.extractSubchunks(ctx, tier, settings, first, second, &tokens)
		if err == nil {
			return e.finish(merged, tokens, MarkerSubchunkFallback)
		}
		if llm.IsFatal(err) {
			return nil, err
		}
		lastErr = err
	}

	// Tier 3: minimal extract-and-split prompt, original then heavier.
	for _, t := range minimalTiers(tier) {
		sentences, err = e.attempt(ctx, t, MinimalPrompt(), text, &tokens)
		if err == nil {
			return e.finish(sentences, tokens, MarkerMinimalPromptFallback)
		}
		if llm.IsFatal(err) {
			return nil, err
		}
		lastErr = err
	}

	// Tier 4: local regex splitter, no LLM.
	if e.cfg.AllowLocalFallback {
		sentences = LocalSplit(text, settings)
		if len(sentences) > 0 {
			e.logger.Warn("Extraction degraded to local splitter", "sentences", len(sentences))
			return e.finish(sentences, tokens, MarkerLocalFallback)
		}
		return nil, ErrNoText
	}

	return nil, fmt.Errorf("extraction cascade exhausted: %w", lastErr)
}

// attempt performs one LLM call and parses its sentence list.
func (e *Engine) attempt(ctx context.Context, tier model.Tier, system, text string, tokens *int) ([]storage.Sentence, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		Tier: tier.String(),
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: text},
		},
		Temperature: ptr(0.0),
	})
	if err != nil {
		return nil, err
	}
	*tokens += resp.Usage.TotalTokens

	sentences, err := ParseSentences(resp.Content)
	if err != nil {
		// An unparseable response is transient: a different model or
		// prompt may produce valid output.
		return nil, llm.NewTransientError(fmt.Errorf("parse LLM response: %w", err))
	}
	if len(sentences) == 0 {
		return nil, llm.NewTransientError(errors.New("LLM returned no sentences"))
	}
	return sentences, nil
}

// extractSubchunks runs the tier 0-1 sub-cascade on each half and merges
// results in order.
func (e *Engine) extractSubchunks(ctx context.Context, tier model.Tier, settings storage.ProcessingSettings, first, second string, tokens *int) ([]storage.Sentence, error) {
	var merged []storage.Sentence
	for _, half := range []string{first, second} {
		if strings.TrimSpace(half) == "" {
			continue
		}
		sentences, err := e.attempt(ctx, tier, FullPrompt(settings), half, tokens)
		if err != nil {
			if llm.IsFatal(err) {
				return nil, err
			}
			heavier := tier.NextHeavier()
			if heavier == "" {
				return nil, err
			}
			sentences, err = e.attempt(ctx, heavier, FullPrompt(settings), half, tokens)
			if err != nil {
				return nil, err
			}
		}
		merged = append(merged, sentences...)
	}
	if len(merged) == 0 {
		return nil, llm.NewTransientError(errors.New("subchunk extraction produced no sentences"))
	}
	return merged, nil
}

// finish applies the fragment heuristic and assembles the result.
func (e *Engine) finish(sentences []storage.Sentence, tokens int, marker string) (*Result, error) {
	rate := FragmentRate(sentences)
	if rate > fragmentRateThreshold {
		e.logger.Error("Fragment rate above threshold",
			"rate", fmt.Sprintf("%.1f%%", rate*100),
			"sentences", len(sentences))
	}
	return &Result{
		Sentences:      sentences,
		TokenCount:     tokens,
		FallbackMarker: marker,
	}, nil
}

// minimalTiers returns the tier order for the minimal-prompt step:
// the original tier first, then the heavier one if it exists.
func minimalTiers(tier model.Tier) []model.Tier {
	tiers := []model.Tier{tier}
	if heavier := tier.NextHeavier(); heavier != "" {
		tiers = append(tiers, heavier)
	}
	return tiers
}

func ptr(f float64) *float64 { return &f }
