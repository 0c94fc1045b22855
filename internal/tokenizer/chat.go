package tokenizer

import (
	"fmt"
	"strings"

	"offlined/pkg/types"
)

// Conversation roles understood by FormatChat.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FormatChat renders a structured conversation into the flat prompt
// format a causal model expects: each message wrapped with its role's
// start marker and a turn-end marker, ending with an open assistant
// turn so the model is cued to continue as the assistant. It depends
// only on the fixed marker literals, so it works before the vocabulary
// is loaded.
func FormatChat(messages []types.ChatMessage) (string, error) {
	var sb strings.Builder
	for i, msg := range messages {
		marker, err := roleMarker(msg.Role)
		if err != nil {
			return "", fmt.Errorf("message %d: %w", i, err)
		}
		sb.WriteString(marker)
		sb.WriteString("\n")
		sb.WriteString(msg.Content)
		sb.WriteString(EndPiece)
		sb.WriteString("\n")
	}
	sb.WriteString(AssistantPiece)
	sb.WriteString("\n")
	return sb.String(), nil
}

func roleMarker(role string) (string, error) {
	switch role {
	case RoleSystem:
		return SystemPiece, nil
	case RoleUser:
		return UserPiece, nil
	case RoleAssistant:
		return AssistantPiece, nil
	}
	return "", fmt.Errorf("unknown role %q", role)
}
