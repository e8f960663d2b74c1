// Package memo maintains rule-governed memos and distills a conversation
// transcript into them.
//
// A Book holds the ordered memo rules and the memos they produce. Rules and
// memos are positionally correlated: the memo at index i was produced by the
// rule at index i. The Compactor fans out one completion per rule and replaces
// the book's memos once every task has resolved.
package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/memochat/pkg/types"
	"github.com/google/uuid"
)

// ErrRuleIndex is returned when a rule index is out of range.
var ErrRuleIndex = errors.New("memo rule index out of range")

// Rule governs how one memo is updated from the transcript.
//
// ID identifies the rule for the lifetime of the process and is not
// persisted.
type Rule struct {
	ID         string `json:"-" yaml:"-"`
	Title      string `json:"title" yaml:"title"`
	UpdateRule string `json:"updateRule" yaml:"updateRule"`
}

// NewRule creates a rule with a fresh ID.
func NewRule(title, updateRule string) Rule {
	return Rule{ID: uuid.New().String(), Title: title, UpdateRule: updateRule}
}

// Memo is a durable summary produced by the rule at the same index.
type Memo struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// Book holds memo rules and memos. It is safe for concurrent use.
type Book struct {
	mu     sync.RWMutex
	rules  []Rule
	memos  []Memo
	events *types.Broadcaster
}

// NewBook creates a book with the given rules and memos. Rules without an ID
// are assigned one.
func NewBook(rules []Rule, memos []Memo) *Book {
	b := &Book{events: types.NewBroadcaster()}
	b.rules = withIDs(rules)
	b.memos = cloneMemos(memos)
	return b
}

// Subscribe returns a channel receiving rules_changed and memos_changed
// events until ctx is cancelled.
func (b *Book) Subscribe(ctx context.Context) <-chan *types.Event {
	ch, _ := b.events.Subscribe(ctx)
	return ch
}

// Close releases subscribers.
func (b *Book) Close() {
	b.events.Close()
}

// Rules returns a copy of the rules.
func (b *Book) Rules() []Rule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Rule, len(b.rules))
	copy(out, b.rules)
	return out
}

// Memos returns a copy of the memos.
func (b *Book) Memos() []Memo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneMemos(b.memos)
}

// AddRule appends a rule and returns it with its assigned ID.
func (b *Book) AddRule(title, updateRule string) Rule {
	rule := NewRule(title, updateRule)
	b.mu.Lock()
	b.rules = append(b.rules, rule)
	b.mu.Unlock()

	b.events.Publish(types.NewRulesChangedEvent())
	return rule
}

// UpdateRule replaces the title and update instruction of the rule at index.
func (b *Book) UpdateRule(index int, title, updateRule string) error {
	b.mu.Lock()
	if index < 0 || index >= len(b.rules) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRuleIndex, index)
	}
	b.rules[index].Title = title
	b.rules[index].UpdateRule = updateRule
	b.mu.Unlock()

	b.events.Publish(types.NewRulesChangedEvent())
	return nil
}

// RemoveRule removes the rule at index together with the memo at the same
// index, if one exists.
func (b *Book) RemoveRule(index int) error {
	b.mu.Lock()
	if index < 0 || index >= len(b.rules) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRuleIndex, index)
	}
	b.rules = append(b.rules[:index], b.rules[index+1:]...)
	memosChanged := index < len(b.memos)
	if memosChanged {
		b.memos = append(b.memos[:index], b.memos[index+1:]...)
	}
	b.mu.Unlock()

	b.events.Publish(types.NewRulesChangedEvent())
	if memosChanged {
		b.events.Publish(types.NewMemosChangedEvent())
	}
	return nil
}

// MoveRule moves the rule at from to position to. The memo at from moves with
// it when both positions hold a memo.
func (b *Book) MoveRule(from, to int) error {
	b.mu.Lock()
	if from < 0 || from >= len(b.rules) || to < 0 || to >= len(b.rules) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d -> %d", ErrRuleIndex, from, to)
	}
	if from == to {
		b.mu.Unlock()
		return nil
	}
	b.rules = move(b.rules, from, to)
	memosChanged := from < len(b.memos) && to < len(b.memos)
	if memosChanged {
		b.memos = move(b.memos, from, to)
	}
	b.mu.Unlock()

	b.events.Publish(types.NewRulesChangedEvent())
	if memosChanged {
		b.events.Publish(types.NewMemosChangedEvent())
	}
	return nil
}

// SetRules replaces every rule. Rules without an ID are assigned one.
func (b *Book) SetRules(rules []Rule) {
	rules = withIDs(rules)
	b.mu.Lock()
	b.rules = rules
	b.mu.Unlock()

	b.events.Publish(types.NewRulesChangedEvent())
}

// SetMemos replaces every memo.
func (b *Book) SetMemos(memos []Memo) {
	b.ReplaceMemos(memos)
}

// SetMemoContent edits the content of the memo at index.
func (b *Book) SetMemoContent(index int, content string) error {
	b.mu.Lock()
	if index < 0 || index >= len(b.memos) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRuleIndex, index)
	}
	b.memos[index].Content = content
	b.mu.Unlock()

	b.events.Publish(types.NewMemosChangedEvent())
	return nil
}

// ReplaceMemos atomically swaps the whole memo array.
func (b *Book) ReplaceMemos(memos []Memo) {
	memos = cloneMemos(memos)
	b.mu.Lock()
	b.memos = memos
	b.mu.Unlock()

	b.events.Publish(types.NewMemosChangedEvent())
}

// InstallMemos installs memos produced for rules, one per rule, aligned by
// rule ID to the book's current rules. A memo whose rule has since been
// removed is dropped. A rule added since keeps the memo at its position when
// the titles match, and otherwise gets an empty one. Memo titles follow the
// current rule titles.
func (b *Book) InstallMemos(rules []Rule, memos []Memo) {
	produced := make(map[string]Memo, len(rules))
	for i, rule := range rules {
		if i < len(memos) && rule.ID != "" {
			produced[rule.ID] = memos[i]
		}
	}

	b.mu.Lock()
	out := make([]Memo, len(b.rules))
	for i, rule := range b.rules {
		m, ok := produced[rule.ID]
		if !ok && i < len(b.memos) && b.memos[i].Title == rule.Title {
			m = b.memos[i]
		}
		m.Title = rule.Title
		out[i] = m
	}
	b.memos = out
	b.mu.Unlock()

	b.events.Publish(types.NewMemosChangedEvent())
}

func withIDs(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.New().String()
		}
	}
	return out
}

func cloneMemos(memos []Memo) []Memo {
	out := make([]Memo, len(memos))
	copy(out, memos)
	return out
}

func move[T any](items []T, from, to int) []T {
	item := items[from]
	items = append(items[:from], items[from+1:]...)
	items = append(items[:to], append([]T{item}, items[to:]...)...)
	return items
}
