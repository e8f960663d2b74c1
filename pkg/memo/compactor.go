package memo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/memochat/pkg/llm"
	"github.com/entrhq/memochat/pkg/llm/tokenizer"
	"github.com/entrhq/memochat/pkg/logging"
	"github.com/entrhq/memochat/pkg/types"
	"github.com/sourcegraph/conc/iter"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("memo")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize memo logger, using stderr fallback: %v", err)
	}
}

var (
	// ErrCompactionRunning is returned when a cycle is already in progress.
	ErrCompactionRunning = errors.New("compaction already running")

	// ErrEmptyTranscript is returned when there is nothing to compact.
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// TaskStatus is the resolution state of one rule's update.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"   // TaskPending has not resolved yet.
	TaskSucceeded TaskStatus = "succeeded" // TaskSucceeded produced new content.
	TaskFailed    TaskStatus = "failed"    // TaskFailed fell back to the prior content.
)

// TaskOutcome is the tagged result of one rule's update.
type TaskOutcome struct {
	Rule    Rule
	Prior   string
	Status  TaskStatus
	Content string
	Err     error
}

// CycleResult describes a finished compaction cycle.
type CycleResult struct {
	// Memos is the new memo array in rule order.
	Memos []Memo

	// Outcomes holds the per-rule resolutions, for diagnostics.
	Outcomes []TaskOutcome

	// Failed counts tasks that kept their prior content.
	Failed int

	// TranscriptTokens is the estimated size of the compacted transcript.
	TranscriptTokens int

	// Duration is the wall time of the fan-out.
	Duration time.Duration

	// ArchiveErr is set when archiving the transcript failed. The transcript
	// is cleared regardless.
	ArchiveErr error
}

// DefaultArchiveTimeout bounds how long a cycle waits for the archiver.
const DefaultArchiveTimeout = 30 * time.Second

// Transcript is the conversation a cycle reads and then clears. Reserve keeps
// turns from being added between the snapshot and the clear.
type Transcript interface {
	Reserve() (release func(), err error)
	Snapshot() []types.Message
	Clear()
}

// Archiver persists a transcript before it is cleared.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, turns []types.Message) error
}

// Compactor distills a transcript into memos, one completion per rule.
type Compactor struct {
	mu             sync.RWMutex
	provider       llm.Provider
	model          string
	archiver       Archiver
	tokenizer      *tokenizer.Tokenizer
	maxConcurrency int
	archiveTimeout time.Duration

	running  atomic.Bool
	progress atomic.Pointer[cycleProgress]

	events *types.Broadcaster
}

// cycleProgress counts the resolved tasks of one fan-out.
type cycleProgress struct {
	total     int64
	completed atomic.Int64
	failed    atomic.Int64
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithCompactionModel sets the model used for memo updates. Empty falls back
// to the provider's model.
func WithCompactionModel(model string) CompactorOption {
	return func(c *Compactor) {
		c.model = model
	}
}

// WithArchiver sets where transcripts are archived before clearing.
func WithArchiver(archiver Archiver) CompactorOption {
	return func(c *Compactor) {
		c.archiver = archiver
	}
}

// WithTokenizer sets the tokenizer used for transcript size telemetry.
func WithTokenizer(tok *tokenizer.Tokenizer) CompactorOption {
	return func(c *Compactor) {
		c.tokenizer = tok
	}
}

// WithMaxConcurrency bounds the number of concurrent rule updates. Zero or
// less runs every rule at once.
func WithMaxConcurrency(n int) CompactorOption {
	return func(c *Compactor) {
		c.maxConcurrency = n
	}
}

// WithArchiveTimeout bounds the archive step. Zero or less uses
// DefaultArchiveTimeout.
func WithArchiveTimeout(d time.Duration) CompactorOption {
	return func(c *Compactor) {
		c.archiveTimeout = d
	}
}

// NewCompactor creates a compactor that completes with provider.
func NewCompactor(provider llm.Provider, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		provider: provider,
		events:   types.NewBroadcaster(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.archiveTimeout <= 0 {
		c.archiveTimeout = DefaultArchiveTimeout
	}
	return c
}

// Subscribe returns a channel receiving compaction events until ctx is
// cancelled.
func (c *Compactor) Subscribe(ctx context.Context) <-chan *types.Event {
	ch, _ := c.events.Subscribe(ctx)
	return ch
}

// Close releases subscribers.
func (c *Compactor) Close() {
	c.events.Close()
}

// SetProvider replaces the provider and compaction model for later cycles.
func (c *Compactor) SetProvider(provider llm.Provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	c.model = model
}

// IsRunning reports whether a cycle started by Run is in progress.
func (c *Compactor) IsRunning() bool {
	return c.running.Load()
}

// Progress returns the completed-task counter and the total of the most
// recently started fan-out.
func (c *Compactor) Progress() (completed, total int) {
	p := c.progress.Load()
	if p == nil {
		return 0, 0
	}
	return int(p.completed.Load()), int(p.total)
}

// Run compacts the transcript into the book's memos, archives the transcript
// and clears it.
//
// Only one Run may be in progress; a concurrent call returns
// ErrCompactionRunning. The transcript stays reserved for the whole cycle, so
// the turns archived are exactly the turns cleared; a transcript that cannot
// be reserved returns the reservation error. An empty transcript returns
// ErrEmptyTranscript. The memos are installed as a whole once every rule has
// resolved, matched to the book's rules as they are at that point. An archive
// failure or timeout is logged and reported in the result but does not
// prevent the clear. If ctx is cancelled during the fan-out nothing is
// replaced or cleared.
func (c *Compactor) Run(ctx context.Context, transcript Transcript, book *Book) (*CycleResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrCompactionRunning
	}
	defer c.running.Store(false)

	release, err := transcript.Reserve()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve transcript: %w", err)
	}
	defer release()

	turns := transcript.Snapshot()
	if len(turns) == 0 {
		return nil, ErrEmptyTranscript
	}

	rules := book.Rules()
	result := c.Compact(ctx, turns, rules, book.Memos())
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("compaction aborted: %w", err)
	}

	book.InstallMemos(rules, result.Memos)

	if err := c.archive(ctx, turns); err != nil {
		debugLog.Errorf("Failed to archive transcript (%d turns): %v", len(turns), err)
		result.ArchiveErr = err
	}

	transcript.Clear()

	debugLog.Infof("Compaction complete: rules=%d, failed=%d, turns=%d, duration=%s",
		len(result.Memos), result.Failed, len(turns), result.Duration)
	c.events.Publish(types.NewCompactionCompleteEvent(len(result.Memos), result.Failed, result.Duration.Round(time.Millisecond).String()))

	return result, nil
}

func (c *Compactor) archive(ctx context.Context, turns []types.Message) error {
	c.mu.RLock()
	archiver := c.archiver
	timeout := c.archiveTimeout
	c.mu.RUnlock()
	if archiver == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return archiver.ArchiveTranscript(ctx, turns)
}

// Compact runs one update per rule concurrently and returns the new memos in
// rule order. A task that fails resolves to its prior memo content, or "" if
// there was none; a task that succeeds resolves to its trimmed output. No
// failure aborts sibling tasks. Each call counts its own progress, so calls
// may overlap a running cycle.
func (c *Compactor) Compact(ctx context.Context, turns []types.Message, rules []Rule, prior []Memo) *CycleResult {
	start := time.Now()

	c.mu.RLock()
	provider := llm.ProviderForModel(c.provider, c.model)
	maxConcurrency := c.maxConcurrency
	c.mu.RUnlock()

	history := FlattenTranscript(turns)
	tokens := c.tokenizer.CountMessagesTokens(turns)

	total := len(rules)
	progress := &cycleProgress{total: int64(total)}
	c.progress.Store(progress)
	c.events.Publish(types.NewCompactionStartEvent(total, tokens))
	debugLog.Infof("Starting compaction: rules=%d, turns=%d, tokens=%d, model=%s",
		total, len(turns), tokens, modelName(provider))

	tasks := make([]TaskOutcome, total)
	for i, rule := range rules {
		tasks[i] = TaskOutcome{Rule: rule, Prior: priorContent(prior, i, rule.Title), Status: TaskPending}
	}

	if maxConcurrency <= 0 {
		maxConcurrency = total
	}
	mapper := iter.Mapper[TaskOutcome, TaskOutcome]{MaxGoroutines: maxConcurrency}
	outcomes := mapper.Map(tasks, func(task *TaskOutcome) TaskOutcome {
		return c.runTask(ctx, provider, progress, *task, history)
	})

	result := &CycleResult{
		Memos:            make([]Memo, total),
		Outcomes:         outcomes,
		TranscriptTokens: tokens,
		Duration:         time.Since(start),
	}
	for i, outcome := range outcomes {
		result.Memos[i] = Memo{Title: outcome.Rule.Title, Content: outcome.Content}
		if outcome.Status == TaskFailed {
			result.Failed++
		}
	}
	return result
}

// runTask resolves one rule. The progress counter is incremented exactly once
// whichever way the task ends.
func (c *Compactor) runTask(ctx context.Context, provider llm.Provider, progress *cycleProgress, task TaskOutcome, history string) (outcome TaskOutcome) {
	outcome = task
	defer func() {
		failed := progress.failed.Load()
		if outcome.Status == TaskFailed {
			failed = progress.failed.Add(1)
		}
		completed := progress.completed.Add(1)
		c.events.Publish(types.NewCompactionProgressEvent(int(completed), int(progress.total), int(failed)))
	}()

	if provider == nil {
		outcome.Status = TaskFailed
		outcome.Err = errors.New("no provider configured")
		outcome.Content = task.Prior
		return outcome
	}

	prompt := BuildUpdatePrompt(task.Rule, task.Prior, history)
	result, err := provider.Complete(ctx, []*types.Message{types.NewUserMessage(prompt)}, nil)
	if err != nil {
		debugLog.Warnf("Memo %q failed, keeping prior content: %v", task.Rule.Title, err)
		outcome.Status = TaskFailed
		outcome.Err = err
		outcome.Content = task.Prior
		return outcome
	}

	outcome.Status = TaskSucceeded
	outcome.Content = strings.TrimSpace(result.Content)
	return outcome
}

// priorContent finds the memo the rule at index produced last cycle. The memo
// at the same position wins when its title matches; otherwise a memo with the
// rule's title is used, and failing that the positional memo.
func priorContent(prior []Memo, index int, title string) string {
	if index < len(prior) && prior[index].Title == title {
		return prior[index].Content
	}
	for _, m := range prior {
		if m.Title == title && title != "" {
			return m.Content
		}
	}
	if index < len(prior) {
		return prior[index].Content
	}
	return ""
}

func modelName(provider llm.Provider) string {
	if provider == nil {
		return ""
	}
	return provider.GetModel()
}
