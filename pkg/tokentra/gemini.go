package tokentra

import (
	"context"

	"google.golang.org/genai"
)

const methodGeminiGenerate = "models.generateContent"

// GenerateContentAPI is the part of the genai client that WrapGemini
// decorates; *genai.Models satisfies it.
type GenerateContentAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiModels struct {
	next   GenerateContentAPI
	client *Client
}

func (c *Client) WrapGemini(next GenerateContentAPI) *GeminiModels {
	return &GeminiModels{next: next, client: c}
}

func (w *GeminiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	rec := callRecord{
		requestID:  w.client.newRequestID(),
		provider:   "google",
		model:      model,
		methodPath: methodGeminiGenerate,
		start:      w.client.now(),
	}

	resp, err := w.next.GenerateContent(ctx, model, contents, config)
	rec.err = err
	if err == nil && resp != nil && resp.UsageMetadata != nil {
		rec.inputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		rec.outputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		rec.cachedTokens = int64(resp.UsageMetadata.CachedContentTokenCount)
	}

	w.client.trackCall(ctx, rec)
	return resp, err
}
