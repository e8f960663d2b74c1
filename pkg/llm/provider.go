// Package llm provides abstractions for streaming chat-completion providers.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := provider.Complete(ctx, []*types.Message{
//	    types.NewUserMessage("Hello!"),
//	}, &llm.Callbacks{
//	    OnContent: func(delta string) { fmt.Print(delta) },
//	})
package llm

import (
	"context"

	"github.com/entrhq/memochat/pkg/types"
)

// Channel identifies one of the two output streams multiplexed in a completion.
type Channel string

const (
	ChannelContent   Channel = "content"   // ChannelContent is the visible reply.
	ChannelReasoning Channel = "reasoning" // ChannelReasoning is the model's internal reasoning.
)

// StreamChunk is a single delta received from the provider.
type StreamChunk struct {
	// Channel is the stream the delta belongs to.
	Channel Channel

	// Delta is the incremental text. Never the accumulated value.
	Delta string

	// Finished marks the terminal chunk of a stream.
	Finished bool

	// Error is set when the stream failed after it started.
	Error error
}

// IsError reports whether the chunk carries a stream-time error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// Callbacks are optional per-delta observers. Each is invoked synchronously
// with only the new delta, in the order the deltas were decoded.
type Callbacks struct {
	OnContent   func(delta string)
	OnReasoning func(delta string)
}

// Dispatch routes a chunk to the matching callback. Nil callbacks and empty
// deltas are ignored.
func (cb *Callbacks) Dispatch(chunk *StreamChunk) {
	if cb == nil || chunk == nil || chunk.Delta == "" {
		return
	}
	switch chunk.Channel {
	case ChannelContent:
		if cb.OnContent != nil {
			cb.OnContent(chunk.Delta)
		}
	case ChannelReasoning:
		if cb.OnReasoning != nil {
			cb.OnReasoning(chunk.Delta)
		}
	}
}

// Result is the authoritative aggregate of a completed stream. Callers must
// prefer it over anything accumulated from callbacks.
type Result struct {
	Content   string
	Reasoning string
}

// ModelCloner is an optional interface that providers can implement to
// support lightweight per-call model overrides without constructing a full
// second provider. The returned provider shares credentials and transport with
// the original but directs calls to the given model.
type ModelCloner interface {
	CloneWithModel(model string) Provider
}

// Provider defines the interface for completion service integrations.
type Provider interface {
	// Complete sends messages, streams the response through callbacks and
	// returns the aggregated result once the stream has ended.
	//
	// A non-success HTTP status fails the call before any callback fires.
	// A failure after streaming began is returned as an error; deltas
	// already delivered to callbacks are not retracted.
	Complete(ctx context.Context, messages []*types.Message, callbacks *Callbacks) (*Result, error)

	// StreamCompletion sends messages and streams back response chunks.
	//
	// The channel is closed when streaming completes. Stream-time errors are
	// sent as chunks with Error set. Returns an error only if streaming
	// cannot be initiated.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}

// ProviderForModel returns a clone of provider bound to model when model is
// non-empty and the provider supports cloning. Otherwise provider is returned
// unchanged.
func ProviderForModel(provider Provider, model string) Provider {
	if model == "" || provider == nil {
		return provider
	}
	if cloner, ok := provider.(ModelCloner); ok {
		return cloner.CloneWithModel(model)
	}
	return provider
}
