package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Egham-7/tokentra/internal/models"

	"github.com/openai/openai-go/v2"
)

// FindLastUserMessage returns the text of the most recent user message.
func FindLastUserMessage(messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.OfUser == nil {
			continue
		}
		if text := userContent(msg.OfUser); text != "" {
			return text, nil
		}
	}

	return "", fmt.Errorf("no user message found")
}

// ChatMessages flattens OpenAI message params into the role/content pairs
// the routing engine inspects. Messages without text are skipped.
func ChatMessages(messages []openai.ChatCompletionMessageParamUnion) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		var role, content string
		switch {
		case msg.OfUser != nil:
			role, content = "user", userContent(msg.OfUser)
		case msg.OfSystem != nil:
			role = "system"
			if msg.OfSystem.Content.OfString.Valid() {
				content = msg.OfSystem.Content.OfString.Value
			}
		case msg.OfDeveloper != nil:
			role = "developer"
			if msg.OfDeveloper.Content.OfString.Valid() {
				content = msg.OfDeveloper.Content.OfString.Value
			}
		case msg.OfAssistant != nil:
			role = "assistant"
			if msg.OfAssistant.Content.OfString.Valid() {
				content = msg.OfAssistant.Content.OfString.Value
			}
		}
		if content == "" {
			continue
		}
		out = append(out, models.ChatMessage{Role: role, Content: content})
	}
	return out
}

// PromptHash is a stable, non-reversible fingerprint of a prompt.
func PromptHash(prompt string) string {
	if prompt == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:16])
}

func userContent(msg *openai.ChatCompletionUserMessageParam) string {
	if msg.Content.OfString.Valid() && msg.Content.OfString.Value != "" {
		return msg.Content.OfString.Value
	}
	var texts []string
	for _, part := range msg.Content.OfArrayOfContentParts {
		if part.OfText != nil {
			texts = append(texts, part.OfText.Text)
		}
	}
	return strings.Join(texts, " ")
}
