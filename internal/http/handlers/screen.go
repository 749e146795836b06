package handlers

import (
	"fmt"
	"strings"

	"imageforge/internal/domain"
)

// Prompt screening runs before any credits move, so a rejected prompt
// never needs a refund. The list mirrors the provider's own policy
// categories; the provider still applies its own moderation downstream.
var blockedTerms = []string{
	"child abuse",
	"csam",
	"beheading",
	"gore",
	"nazi propaganda",
	"revenge porn",
}

func screenPrompt(prompt string) error {
	lowered := strings.ToLower(prompt)
	for _, term := range blockedTerms {
		if strings.Contains(lowered, term) {
			return fmt.Errorf("%w: prompt contains prohibited content", domain.ErrContentPolicy)
		}
	}
	return nil
}
