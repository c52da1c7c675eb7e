package tokentra

import (
	"context"

	"github.com/Egham-7/tokentra/internal/utils"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const methodOpenAIChat = "chat.completions.create"

// ChatCompletionsAPI is the part of the OpenAI client that WrapOpenAI
// decorates; *openai.ChatCompletionService satisfies it.
type ChatCompletionsAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIChat tracks every chat completion made through it.
type OpenAIChat struct {
	next   ChatCompletionsAPI
	client *Client
}

// WrapOpenAI decorates chat completions:
//
//	chat := tt.WrapOpenAI(&oai.Chat.Completions)
//	resp, err := chat.New(tokentra.WithCallOptions(ctx, tokentra.CallOptions{Feature: "chat"}), params)
func (c *Client) WrapOpenAI(next ChatCompletionsAPI) *OpenAIChat {
	return &OpenAIChat{next: next, client: c}
}

// New calls the wrapped service and returns its result and error untouched.
// With a response cache configured, a cache hit is returned without calling
// OpenAI.
func (w *OpenAIChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	prompt, _ := utils.FindLastUserMessage(body.Messages)
	rec := callRecord{
		requestID:  w.client.newRequestID(),
		provider:   "openai",
		model:      string(body.Model),
		methodPath: methodOpenAIChat,
		start:      w.client.now(),
		promptHash: utils.PromptHash(prompt),
	}

	useCache := w.client.cache != nil && prompt != "" && !callOptionsFrom(ctx).SkipCache
	if useCache {
		if hit, kind, ok := w.client.cache.Get(ctx, prompt, w.client.cacheThreshold(ctx)); ok {
			w.client.pipeline.RecordCacheHit()
			rec.wasCached = true
			rec.cacheHitType = kind
			openAIUsage(&rec, hit)
			w.client.trackCall(ctx, rec)
			return hit, nil
		}
		w.client.pipeline.RecordCacheMiss()
	}

	resp, err := w.next.New(ctx, body, opts...)
	rec.err = err
	if err == nil {
		openAIUsage(&rec, resp)
		if useCache && resp != nil {
			if cacheErr := w.client.cache.Set(ctx, prompt, resp); cacheErr != nil {
				fiberlog.Warnf("[tokentra] Failed to cache response: %v", cacheErr)
			}
		}
	}

	w.client.trackCall(ctx, rec)
	return resp, err
}

func openAIUsage(rec *callRecord, resp *openai.ChatCompletion) {
	if resp == nil {
		return
	}
	rec.inputTokens = resp.Usage.PromptTokens
	rec.outputTokens = resp.Usage.CompletionTokens
	rec.cachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
}
