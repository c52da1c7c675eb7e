package tokentra

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const methodAnthropicMessages = "messages.create"

// MessagesAPI is the part of the Anthropic client that WrapAnthropic
// decorates; *anthropic.MessageService satisfies it.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicMessages struct {
	next   MessagesAPI
	client *Client
}

func (c *Client) WrapAnthropic(next MessagesAPI) *AnthropicMessages {
	return &AnthropicMessages{next: next, client: c}
}

func (w *AnthropicMessages) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	rec := callRecord{
		requestID:  w.client.newRequestID(),
		provider:   "anthropic",
		model:      string(body.Model),
		methodPath: methodAnthropicMessages,
		start:      w.client.now(),
	}

	resp, err := w.next.New(ctx, body, opts...)
	rec.err = err
	if err == nil && resp != nil {
		rec.inputTokens = resp.Usage.InputTokens
		rec.outputTokens = resp.Usage.OutputTokens
		rec.cachedTokens = resp.Usage.CacheReadInputTokens
	}

	w.client.trackCall(ctx, rec)
	return resp, err
}
