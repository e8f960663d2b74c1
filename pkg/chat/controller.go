// Package chat owns the conversation transcript and drives completions for
// it.
//
// The Controller runs one completion at a time. Send and Regenerate append an
// in-flight assistant turn, stream deltas into it, then reconcile it with the
// provider's aggregated result. Every operation records the controller epoch;
// Clear, Replace and Cancel advance it so a superseded stream can no longer
// write into the transcript.
//
// Reserve hands the transcript to a caller that reads and then clears it, such
// as a compaction cycle. While it is held no new turn can be added or edited.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/memochat/pkg/llm"
	"github.com/entrhq/memochat/pkg/logging"
	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("chat")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize chat logger, using stderr fallback: %v", err)
	}
}

var (
	// ErrBusy is returned when a completion is already in flight.
	ErrBusy = errors.New("a completion is already in progress")

	// ErrEmptyInput is returned by Send for blank input.
	ErrEmptyInput = errors.New("message is empty")

	// ErrNothingToRegenerate is returned by Regenerate when the transcript does
	// not end with an assistant turn.
	ErrNothingToRegenerate = errors.New("last turn is not an assistant reply")

	// ErrSuperseded is returned when the transcript was cleared, replaced or
	// the completion was cancelled while it was streaming.
	ErrSuperseded = errors.New("completion superseded")

	// ErrTurnIndex is returned when a turn index is out of range.
	ErrTurnIndex = errors.New("turn index out of range")

	// ErrReserved is returned while the transcript is reserved.
	ErrReserved = errors.New("transcript is reserved for compaction")
)

// MemoSource supplies the memos rendered into the system message.
type MemoSource interface {
	Memos() []memo.Memo
}

// Controller owns a transcript and runs completions against it. It is safe
// for concurrent use.
type Controller struct {
	mu           sync.Mutex
	provider     llm.Provider
	systemPrompt string
	memos        MemoSource
	turns        []types.Message
	busy         bool
	reserved     bool
	inflight     int
	epoch        uint64
	cancel       context.CancelFunc
	events       *types.Broadcaster
}

// Option configures a Controller.
type Option func(*Controller)

// WithSystemPrompt sets the system prompt appended to the system message.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) {
		c.systemPrompt = prompt
	}
}

// WithMemoSource sets where memos for the system message come from.
func WithMemoSource(source MemoSource) Option {
	return func(c *Controller) {
		c.memos = source
	}
}

// WithTurns seeds the transcript, e.g. from saved chat history.
func WithTurns(turns []types.Message) Option {
	return func(c *Controller) {
		c.turns = types.CloneMessages(turns)
	}
}

// NewController creates a controller that completes with provider.
func NewController(provider llm.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		inflight: -1,
		events:   types.NewBroadcaster(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns a channel receiving transcript and busy events until ctx
// is cancelled.
func (c *Controller) Subscribe(ctx context.Context) <-chan *types.Event {
	ch, _ := c.events.Subscribe(ctx)
	return ch
}

// Close cancels any in-flight completion and releases subscribers.
func (c *Controller) Close() {
	c.Cancel()
	c.events.Close()
}

// Send appends a user turn and completes a reply to it.
//
// Blank text returns ErrEmptyInput, a busy controller returns ErrBusy and a
// reserved one ErrReserved; none of them mutates the transcript. A failed completion still leaves a
// displayable assistant turn whose content is the rendered error, and the
// error is returned.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if err := c.availableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.turns = append(c.turns, types.Message{Role: types.RoleUser, Content: text})
	return c.completeLocked(ctx)
}

// Regenerate removes the final assistant turn and completes a new one.
// It returns ErrNothingToRegenerate without mutation when the transcript does
// not end with an assistant turn.
func (c *Controller) Regenerate(ctx context.Context) error {
	c.mu.Lock()
	if err := c.availableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	n := len(c.turns)
	if n == 0 || c.turns[n-1].Role != types.RoleAssistant {
		c.mu.Unlock()
		return ErrNothingToRegenerate
	}
	c.turns = c.turns[:n-1]
	return c.completeLocked(ctx)
}

func (c *Controller) availableLocked() error {
	if c.busy {
		return ErrBusy
	}
	if c.reserved {
		return ErrReserved
	}
	return nil
}

// Reserve holds the transcript until release is called. It fails with ErrBusy
// while a completion is in flight and with ErrReserved while another
// reservation is held. Send, Regenerate and Edit return ErrReserved until the
// reservation is released; Clear, Replace and Cancel still apply. Calling
// release more than once is harmless.
func (c *Controller) Reserve() (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.availableLocked(); err != nil {
		return nil, err
	}
	c.reserved = true

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.reserved = false
			c.mu.Unlock()
		})
	}, nil
}

// IsReserved reports whether the transcript is reserved.
func (c *Controller) IsReserved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserved
}

// completeLocked runs one completion for the current transcript. It must be
// called with c.mu held and releases it.
func (c *Controller) completeLocked(ctx context.Context) error {
	c.busy = true
	c.turns = append(c.turns, types.Message{Role: types.RoleAssistant})
	index := len(c.turns) - 1
	c.inflight = index
	gen := c.epoch

	var memos []memo.Memo
	if c.memos != nil {
		memos = c.memos.Memos()
	}
	request := BuildRequest(c.turns[:index], memos, c.systemPrompt)
	provider := c.provider

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.events.Publish(types.NewUpdateBusyEvent(true))
	c.events.Publish(types.NewTranscriptChangedEvent())

	callbacks := &llm.Callbacks{
		OnContent: func(delta string) {
			if c.apply(gen, index, func(m types.Message) types.Message { return m.WithContentAppended(delta) }) {
				c.events.Publish(types.NewContentDeltaEvent(index, delta))
			}
		},
		OnReasoning: func(delta string) {
			if c.apply(gen, index, func(m types.Message) types.Message { return m.WithReasoningAppended(delta) }) {
				c.events.Publish(types.NewReasoningDeltaEvent(index, delta))
			}
		},
	}

	debugLog.Debugf("Starting completion: turn=%d, request_messages=%d, model=%s", index, len(request), provider.GetModel())
	result, err := provider.Complete(ctx, request, callbacks)

	c.mu.Lock()
	if c.epoch != gen {
		c.mu.Unlock()
		debugLog.Infof("Discarding superseded completion for turn %d", index)
		return ErrSuperseded
	}
	if err != nil {
		c.turns[index].Content = renderError(err)
	} else {
		c.turns[index].Content = result.Content
		c.turns[index].Reasoning = result.Reasoning
	}
	c.busy = false
	c.inflight = -1
	c.cancel = nil
	c.mu.Unlock()

	if err != nil {
		debugLog.Errorf("Completion failed for turn %d: %v", index, err)
		c.events.Publish(types.NewErrorEvent(index, err))
	}
	c.events.Publish(types.NewTurnEndEvent(index))
	c.events.Publish(types.NewTranscriptChangedEvent())
	c.events.Publish(types.NewUpdateBusyEvent(false))

	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}
	return nil
}

// apply updates the in-flight turn if gen is still the current epoch.
func (c *Controller) apply(gen uint64, index int, update func(types.Message) types.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != gen || index >= len(c.turns) {
		return false
	}
	c.turns[index] = update(c.turns[index])
	return true
}

// Cancel aborts the in-flight completion, if any. The in-flight turn keeps
// what it has streamed so far; an empty one is rendered as a cancellation
// error so the transcript never holds a blank assistant turn.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if !c.busy {
		c.mu.Unlock()
		return
	}
	if c.inflight >= 0 && c.inflight < len(c.turns) {
		turn := &c.turns[c.inflight]
		if turn.Content == "" {
			turn.Content = renderError(context.Canceled)
		}
	}
	c.supersedeLocked()
	c.mu.Unlock()

	c.events.Publish(types.NewTranscriptChangedEvent())
	c.events.Publish(types.NewUpdateBusyEvent(false))
}

// Clear empties the transcript, cancelling any in-flight completion.
func (c *Controller) Clear() {
	c.mu.Lock()
	wasBusy := c.busy
	c.supersedeLocked()
	c.turns = nil
	c.mu.Unlock()

	c.events.Publish(types.NewTranscriptClearedEvent())
	if wasBusy {
		c.events.Publish(types.NewUpdateBusyEvent(false))
	}
}

// Replace swaps in a new transcript, cancelling any in-flight completion.
func (c *Controller) Replace(turns []types.Message) {
	turns = types.CloneMessages(turns)

	c.mu.Lock()
	wasBusy := c.busy
	c.supersedeLocked()
	c.turns = turns
	c.mu.Unlock()

	c.events.Publish(types.NewTranscriptChangedEvent())
	if wasBusy {
		c.events.Publish(types.NewUpdateBusyEvent(false))
	}
}

// supersedeLocked advances the epoch and releases the busy flag.
func (c *Controller) supersedeLocked() {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false
	c.inflight = -1
}

// Edit overwrites the content of the turn at index. The in-flight turn cannot
// be edited, and nothing can while the transcript is reserved.
func (c *Controller) Edit(index int, content string) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.turns) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrTurnIndex, index)
	}
	if c.reserved {
		c.mu.Unlock()
		return ErrReserved
	}
	if c.busy && index == c.inflight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.turns[index].Content = content
	c.mu.Unlock()

	c.events.Publish(types.NewTranscriptChangedEvent())
	return nil
}

// Snapshot returns a copy of the transcript.
func (c *Controller) Snapshot() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CloneMessages(c.turns)
}

// Len returns the number of turns.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// IsBusy reports whether a completion is in flight.
func (c *Controller) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// SystemPrompt returns the current system prompt.
func (c *Controller) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

// SetSystemPrompt replaces the system prompt for later completions.
func (c *Controller) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// SetProvider replaces the provider for later completions. The in-flight
// completion, if any, keeps the provider it started with.
func (c *Controller) SetProvider(provider llm.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
}

// Provider returns the current provider.
func (c *Controller) Provider() llm.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

func renderError(err error) string {
	return fmt.Sprintf("Error: %v", err)
}
