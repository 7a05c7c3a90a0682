package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/c360studio/phraseforge/storage"
)

// ParseSentences extracts a sentence list from an LLM response. Models
// wrap JSON in prose or markdown fences often enough that parsing has to
// be lenient: try the embedded JSON array first (objects, then bare
// strings), fall back to line splitting.
func ParseSentences(content string) ([]storage.Sentence, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty response")
	}

	if raw := extractJSONArray(content); raw != "" {
		var objs []struct {
			Normalized string `json:"normalized"`
			Original   string `json:"original"`
		}
		if err := json.Unmarshal([]byte(raw), &objs); err == nil && len(objs) > 0 {
			sentences := make([]storage.Sentence, 0, len(objs))
			for _, o := range objs {
				s := sentenceFromPair(o.Normalized, o.Original)
				if s.Normalized != "" {
					sentences = append(sentences, s)
				}
			}
			if len(sentences) > 0 {
				return sentences, nil
			}
		}

		var strs []string
		if err := json.Unmarshal([]byte(raw), &strs); err == nil && len(strs) > 0 {
			sentences := make([]storage.Sentence, 0, len(strs))
			for _, s := range strs {
				s = strings.TrimSpace(s)
				if s != "" {
					sentences = append(sentences, storage.Sentence{Normalized: s, Original: s})
				}
			}
			if len(sentences) > 0 {
				return sentences, nil
			}
		}
	}

	return parseLines(content)
}

// extractJSONArray returns the first top-level JSON array in the content,
// or "" if none is found. Handles markdown code fences and surrounding
// prose.
func extractJSONArray(content string) string {
	start := strings.IndexByte(content, '[')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// parseLines treats each non-empty line as one sentence, stripping common
// list decorations.
func parseLines(content string) ([]storage.Sentence, error) {
	var sentences []storage.Sentence
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) \t")
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		sentences = append(sentences, storage.Sentence{Normalized: line, Original: line})
	}
	if len(sentences) == 0 {
		return nil, errors.New("no sentences in response")
	}
	return sentences, nil
}

func sentenceFromPair(normalized, original string) storage.Sentence {
	normalized = strings.TrimSpace(normalized)
	original = strings.TrimSpace(original)
	if normalized == "" {
		normalized = original
	}
	if original == "" {
		original = normalized
	}
	return storage.Sentence{Normalized: normalized, Original: original}
}
