package types

// EventType defines the type of event emitted by a chat session.
type EventType string

const (
	EventTypeTranscriptChanged  EventType = "transcript_changed"  // EventTypeTranscriptChanged indicates turns were appended, removed or replaced.
	EventTypeTranscriptCleared  EventType = "transcript_cleared"  // EventTypeTranscriptCleared indicates the transcript was emptied.
	EventTypeContentDelta       EventType = "content_delta"       // EventTypeContentDelta carries a content delta applied to the in-flight turn.
	EventTypeReasoningDelta     EventType = "reasoning_delta"     // EventTypeReasoningDelta carries a reasoning delta applied to the in-flight turn.
	EventTypeUpdateBusy         EventType = "update_busy"         // EventTypeUpdateBusy indicates a change in the controller's busy status.
	EventTypeTurnEnd            EventType = "turn_end"            // EventTypeTurnEnd indicates the in-flight turn was finalized.
	EventTypeError              EventType = "error"               // EventTypeError indicates a completion failed.
	EventTypeMemosChanged       EventType = "memos_changed"       // EventTypeMemosChanged indicates the memo array was replaced or edited.
	EventTypeRulesChanged       EventType = "rules_changed"       // EventTypeRulesChanged indicates the memo rules were edited.
	EventTypeCompactionStart    EventType = "compaction_start"    // EventTypeCompactionStart indicates a compaction cycle started.
	EventTypeCompactionProgress EventType = "compaction_progress" // EventTypeCompactionProgress indicates one compaction task resolved.
	EventTypeCompactionComplete EventType = "compaction_complete" // EventTypeCompactionComplete indicates a compaction cycle finished.
)

// Event represents a state change observed by session subscribers.
type Event struct {
	// Type indicates the kind of event.
	Type EventType

	// TurnIndex is the transcript index the event refers to, or -1.
	TurnIndex int

	// Delta holds the text fragment for delta events.
	Delta string

	// IsBusy reports the busy flag for busy events.
	IsBusy bool

	// Error contains error information for error events.
	Error error

	// Compaction carries progress for compaction events.
	Compaction *CompactionProgress
}

// CompactionProgress reports the state of a compaction cycle.
type CompactionProgress struct {
	// Completed is the number of resolved tasks.
	Completed int

	// Total is the number of tasks in the cycle (the rule count).
	Total int

	// Failed is the number of tasks that fell back to the prior memo.
	Failed int

	// TranscriptTokens is the estimated size of the compacted transcript.
	TranscriptTokens int

	// Duration is how long the cycle took (complete events only).
	Duration string
}

// NewTranscriptChangedEvent creates a transcript changed event.
func NewTranscriptChangedEvent() *Event {
	return &Event{Type: EventTypeTranscriptChanged, TurnIndex: -1}
}

// NewTranscriptClearedEvent creates a transcript cleared event.
func NewTranscriptClearedEvent() *Event {
	return &Event{Type: EventTypeTranscriptCleared, TurnIndex: -1}
}

// NewContentDeltaEvent creates a content delta event for the turn at index.
func NewContentDeltaEvent(index int, delta string) *Event {
	return &Event{Type: EventTypeContentDelta, TurnIndex: index, Delta: delta}
}

// NewReasoningDeltaEvent creates a reasoning delta event for the turn at index.
func NewReasoningDeltaEvent(index int, delta string) *Event {
	return &Event{Type: EventTypeReasoningDelta, TurnIndex: index, Delta: delta}
}

// NewUpdateBusyEvent creates a busy status event.
func NewUpdateBusyEvent(isBusy bool) *Event {
	return &Event{Type: EventTypeUpdateBusy, TurnIndex: -1, IsBusy: isBusy}
}

// NewTurnEndEvent creates a turn end event for the turn at index.
func NewTurnEndEvent(index int) *Event {
	return &Event{Type: EventTypeTurnEnd, TurnIndex: index}
}

// NewErrorEvent creates an error event for the turn at index.
func NewErrorEvent(index int, err error) *Event {
	return &Event{Type: EventTypeError, TurnIndex: index, Error: err}
}

// NewMemosChangedEvent creates a memos changed event.
func NewMemosChangedEvent() *Event {
	return &Event{Type: EventTypeMemosChanged, TurnIndex: -1}
}

// NewRulesChangedEvent creates a rules changed event.
func NewRulesChangedEvent() *Event {
	return &Event{Type: EventTypeRulesChanged, TurnIndex: -1}
}

// NewCompactionStartEvent creates a compaction start event.
func NewCompactionStartEvent(total, transcriptTokens int) *Event {
	return &Event{
		Type:      EventTypeCompactionStart,
		TurnIndex: -1,
		Compaction: &CompactionProgress{
			Total:            total,
			TranscriptTokens: transcriptTokens,
		},
	}
}

// NewCompactionProgressEvent creates a compaction progress event.
func NewCompactionProgressEvent(completed, total, failed int) *Event {
	return &Event{
		Type:      EventTypeCompactionProgress,
		TurnIndex: -1,
		Compaction: &CompactionProgress{
			Completed: completed,
			Total:     total,
			Failed:    failed,
		},
	}
}

// NewCompactionCompleteEvent creates a compaction complete event.
func NewCompactionCompleteEvent(total, failed int, duration string) *Event {
	return &Event{
		Type:      EventTypeCompactionComplete,
		TurnIndex: -1,
		Compaction: &CompactionProgress{
			Completed: total,
			Total:     total,
			Failed:    failed,
			Duration:  duration,
		},
	}
}

// IsError reports whether the event carries an error.
func (e *Event) IsError() bool {
	return e.Error != nil
}
