package extract

import (
	"fmt"
	"strings"

	"github.com/c360studio/phraseforge/storage"
)

// FullPrompt builds the system prompt for tiers 0-2 of the cascade.
// The model rewrites the chunk text into standalone normalized sentences
// but never fabricates content beyond it.
func FullPrompt(settings storage.ProcessingSettings) string {
	var b strings.Builder

	b.WriteString("Tu es un extracteur de phrases pour l'apprentissage du français.\n")
	b.WriteString("À partir du texte fourni, produis une liste de phrases françaises complètes et autonomes.\n\n")
	b.WriteString("Règles:\n")
	b.WriteString("- Chaque phrase doit être une unité grammaticale complète (sujet et verbe conjugué).\n")
	b.WriteString("- Reformule uniquement à partir du texte fourni, n'invente jamais de contenu.\n")
	b.WriteString("- Corrige la ponctuation et les coupures de ligne issues de l'extraction PDF.\n")

	if settings.SentenceLength > 0 {
		fmt.Fprintf(&b, "- Vise des phrases d'environ %d mots.\n", settings.SentenceLength)
	}
	if settings.MinSentenceLength > 0 {
		fmt.Fprintf(&b, "- Ignore les phrases de moins de %d mots.\n", settings.MinSentenceLength)
	}
	if settings.IgnoreDialogue {
		b.WriteString("- Ignore les répliques de dialogue (lignes commençant par un tiret ou entre guillemets).\n")
	}

	b.WriteString("\nRéponds uniquement avec un tableau JSON d'objets ")
	b.WriteString(`{"normalized": "...", "original": "..."}`)
	b.WriteString(" où normalized est la phrase réécrite et original le passage source.\n")

	return b.String()
}

// MinimalPrompt builds the stripped-down tier-3 prompt: extract and split
// only, no rewriting. Used when the full prompt repeatedly fails.
func MinimalPrompt() string {
	return "Découpe le texte fourni en phrases françaises complètes. " +
		"Ne reformule pas, ne commente pas. " +
		`Réponds uniquement avec un tableau JSON de chaînes: ["phrase 1", "phrase 2"].`
}
