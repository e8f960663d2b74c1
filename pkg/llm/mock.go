package llm

import (
	"context"

	"github.com/entrhq/memochat/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of Provider.
//
// When the first return value of a Complete expectation is a CompleteFunc it
// is invoked with the call's arguments, which lets tests stream deltas
// through the callbacks.
type MockProvider struct {
	mock.Mock
}

// CompleteFunc lets a mock expectation stream deltas through the callbacks.
type CompleteFunc func(ctx context.Context, messages []*types.Message, callbacks *Callbacks) (*Result, error)

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, messages []*types.Message, callbacks *Callbacks) (*Result, error) {
	args := m.Called(ctx, messages, callbacks)
	if fn, ok := args.Get(0).(CompleteFunc); ok {
		return fn(ctx, messages, callbacks)
	}
	var result *Result
	if r := args.Get(0); r != nil {
		result = r.(*Result)
	}
	return result, args.Error(1)
}

// StreamCompletion implements Provider.
func (m *MockProvider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error) {
	args := m.Called(ctx, messages)
	var ch <-chan *StreamChunk
	if c := args.Get(0); c != nil {
		ch = c.(<-chan *StreamChunk)
	}
	return ch, args.Error(1)
}

// GetModel implements Provider.
func (m *MockProvider) GetModel() string {
	args := m.Called()
	return args.String(0)
}

// GetBaseURL implements Provider.
func (m *MockProvider) GetBaseURL() string {
	args := m.Called()
	return args.String(0)
}
