package store

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/types"
	"golang.org/x/sync/errgroup"
)

// DefaultWriteDelay is how long the writer waits for changes to settle.
const DefaultWriteDelay = 500 * time.Millisecond

// TranscriptSource is the conversation the writer persists.
type TranscriptSource interface {
	Snapshot() []types.Message
	Subscribe(ctx context.Context) <-chan *types.Event
}

// BookSource is the rule book the writer persists.
type BookSource interface {
	Rules() []memo.Rule
	Memos() []memo.Memo
	Subscribe(ctx context.Context) <-chan *types.Event
}

type recordKind int

const (
	kindTranscript recordKind = iota
	kindRules
	kindMemos
	numKinds
)

func (k recordKind) String() string {
	switch k {
	case kindTranscript:
		return "transcript"
	case kindRules:
		return "rules"
	case kindMemos:
		return "memos"
	default:
		return "unknown"
	}
}

// Writer saves the transcript, rules and memos after they change. Bursts of
// changes (such as streaming deltas) are coalesced into one write per record.
// Write failures are logged and retried on the next change or Flush.
type Writer struct {
	store      Store
	transcript TranscriptSource
	book       BookSource
	delay      time.Duration

	mu         sync.Mutex
	dirty      [numKinds]bool
	writeMu    [numKinds]sync.Mutex
	debouncers [numKinds]*Debouncer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriteDelay sets the quiet period before a change is written.
func WithWriteDelay(d time.Duration) WriterOption {
	return func(w *Writer) {
		w.delay = d
	}
}

// NewWriter creates a writer persisting transcript and book into store.
func NewWriter(store Store, transcript TranscriptSource, book BookSource, opts ...WriterOption) *Writer {
	w := &Writer{
		store:      store,
		transcript: transcript,
		book:       book,
		delay:      DefaultWriteDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	for k := range w.debouncers {
		w.debouncers[k] = NewDebouncer(w.delay)
	}
	return w
}

// Start subscribes to the transcript and book. It returns immediately; call
// Stop to unsubscribe and write pending changes.
func (w *Writer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	transcriptEvents := w.transcript.Subscribe(ctx)
	bookEvents := w.book.Subscribe(ctx)

	w.wg.Add(2)
	go w.watch(ctx, transcriptEvents)
	go w.watch(ctx, bookEvents)
}

func (w *Writer) watch(ctx context.Context, events <-chan *types.Event) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Writer) handle(ev *types.Event) {
	switch ev.Type {
	case types.EventTypeTranscriptCleared:
		// A cleared transcript follows an archive; save it without waiting so
		// a restart cannot resurrect archived turns.
		w.markDirty(kindTranscript)
		w.debouncers[kindTranscript].Immediate(func() {
			_ = w.save(context.Background(), kindTranscript)
		})
	case types.EventTypeTranscriptChanged,
		types.EventTypeContentDelta,
		types.EventTypeReasoningDelta,
		types.EventTypeTurnEnd:
		w.schedule(kindTranscript)
	case types.EventTypeRulesChanged:
		w.schedule(kindRules)
	case types.EventTypeMemosChanged:
		w.schedule(kindMemos)
	}
}

func (w *Writer) markDirty(kind recordKind) {
	w.mu.Lock()
	w.dirty[kind] = true
	w.mu.Unlock()
}

func (w *Writer) schedule(kind recordKind) {
	w.markDirty(kind)
	w.debouncers[kind].Debounce(func() {
		_ = w.save(context.Background(), kind)
	})
}

// save writes kind if it is dirty. The snapshot is taken at write time, so
// one write covers every change scheduled before it.
func (w *Writer) save(ctx context.Context, kind recordKind) error {
	w.writeMu[kind].Lock()
	defer w.writeMu[kind].Unlock()

	w.mu.Lock()
	if !w.dirty[kind] {
		w.mu.Unlock()
		return nil
	}
	w.dirty[kind] = false
	w.mu.Unlock()

	var err error
	switch kind {
	case kindTranscript:
		err = w.store.SaveTranscript(ctx, w.transcript.Snapshot())
	case kindRules:
		err = w.store.SaveRules(ctx, w.book.Rules())
	case kindMemos:
		err = w.store.SaveMemos(ctx, w.book.Memos())
	}
	if err != nil {
		debugLog.Errorf("Failed to save %s: %v", kind, err)
		w.markDirty(kind)
		return err
	}
	debugLog.Debugf("Saved %s", kind)
	return nil
}

// Flush writes every pending change now.
func (w *Writer) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for k := range numKinds {
		w.debouncers[k].Cancel()
		g.Go(func() error {
			return w.save(ctx, k)
		})
	}
	return g.Wait()
}

// Pending reports whether any change has not been written yet.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range w.dirty {
		if d {
			return true
		}
	}
	return false
}

// Stop unsubscribes, waits for the watchers to exit and writes every record
// once more, so changes whose events were not yet observed are kept.
func (w *Writer) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	for k := range w.dirty {
		w.dirty[k] = true
	}
	w.mu.Unlock()
	return w.Flush(ctx)
}
