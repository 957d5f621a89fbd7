package rag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/developer-mesh/docs-expert/internal/models"
)

const (
	// FallbackAnswer is returned when retrieval finds nothing
	FallbackAnswer = "I don't have enough information to answer that question."

	contextSeparator = "\n\n---\n\n"

	suggestionCount       = 3
	suggestionAnswerRunes = 500
)

// DefaultSuggestions are offered when follow-up generation fails
var DefaultSuggestions = []string{
	"How do I customize the theme?",
	"What plugins are available?",
	"How do I deploy to GitHub Pages?",
}

// listMarker matches bullets and numbering at the start of a suggestion line
var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)]|\(\d+\))\s*`)

func answerPrompt(product, contextText, conversation, question string) string {
	var conv string
	if strings.TrimSpace(conversation) != "" {
		conv = fmt.Sprintf("Conversation so far:\n%s\n\n", conversation)
	}

	return fmt.Sprintf(`You are the %[1]s Expert Agent, specialized in the %[1]s documentation.
Use the following context to answer the user's question accurately and helpfully.

Context from %[1]s documentation:
%[2]s

%[3]sUser Question: %[4]s

Instructions:
1. Answer based on the provided context
2. Be specific and include code examples when relevant
3. Reference specific %[1]s features, plugins, or configurations
4. If the context doesn't contain enough information, acknowledge this

Answer:`, product, contextText, conv, question)
}

func suggestionPrompt(product, question, answer string) string {
	runes := []rune(answer)
	if len(runes) > suggestionAnswerRunes {
		runes = runes[:suggestionAnswerRunes]
	}

	return fmt.Sprintf(`Based on this Q&A about %s, suggest 3 follow-up questions:

Question: %s
Answer: %s...

Generate 3 concise follow-up questions:`, product, question, string(runes))
}

// parseSuggestions keeps the first three non-blank lines with list markers removed
func parseSuggestions(text string) []string {
	out := make([]string, 0, suggestionCount)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == suggestionCount {
			break
		}
	}
	return out
}

// renderHistory formats the last window entries as "role: content" lines
func renderHistory(history []models.Message, window int) string {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	lines := make([]string, 0, len(history))
	for _, h := range history {
		lines = append(lines, h.Role+": "+h.Content)
	}
	return strings.Join(lines, "\n")
}
