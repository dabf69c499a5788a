package usecase

import (
	"fmt"
	"strings"

	"ollama-agent/internal/domain"
)

// buildGenerationRequest flattens an ordered conversation into the single
// prompt the generate endpoint accepts. User and assistant turns are appended
// in order as "User: ...\n" / "Assistant: ...\n" lines; a system message
// becomes the system instruction, with a later one overwriting an earlier one.
// Messages with any other role are skipped. The assembled prompt is
// whitespace-trimmed.
func buildGenerationRequest(messages []domain.ChatMessage) (string, *domain.GenerateConfig) {
	var (
		b                 strings.Builder
		systemInstruction string
	)
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			systemInstruction = m.Content
		case domain.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case domain.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}

	prompt := strings.TrimSpace(b.String())
	if systemInstruction == "" {
		return prompt, nil
	}
	return prompt, &domain.GenerateConfig{SystemInstruction: systemInstruction}
}
