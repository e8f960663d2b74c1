package memo

import (
	"context"
	"testing"
	"time"

	"github.com/entrhq/memochat/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titles(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Title
	}
	return out
}

func TestNewBookAssignsIDs(t *testing.T) {
	b := NewBook([]Rule{{Title: "A"}, {ID: "keep", Title: "B"}}, nil)

	rules := b.Rules()
	assert.NotEmpty(t, rules[0].ID)
	assert.Equal(t, "keep", rules[1].ID)
}

func TestAddAndUpdateRule(t *testing.T) {
	b := NewBook(nil, nil)

	added := b.AddRule("Profile", "track the user")
	assert.NotEmpty(t, added.ID)

	require.NoError(t, b.UpdateRule(0, "Bio", "track bio"))
	assert.Equal(t, []Rule{{ID: added.ID, Title: "Bio", UpdateRule: "track bio"}}, b.Rules())

	assert.ErrorIs(t, b.UpdateRule(1, "x", "y"), ErrRuleIndex)
}

func TestRemoveRuleRemovesMatchingMemo(t *testing.T) {
	b := NewBook(
		[]Rule{{Title: "A"}, {Title: "B"}, {Title: "C"}},
		[]Memo{{Title: "A", Content: "a"}, {Title: "B", Content: "b"}},
	)

	require.NoError(t, b.RemoveRule(1))
	assert.Equal(t, []string{"A", "C"}, titles(b.Rules()))
	assert.Equal(t, []Memo{{Title: "A", Content: "a"}}, b.Memos())

	// No memo at index 1 any more; only the rule goes.
	require.NoError(t, b.RemoveRule(1))
	assert.Equal(t, []string{"A"}, titles(b.Rules()))
	assert.Len(t, b.Memos(), 1)

	assert.ErrorIs(t, b.RemoveRule(5), ErrRuleIndex)
}

func TestMoveRuleMovesMemo(t *testing.T) {
	b := NewBook(
		[]Rule{{Title: "A"}, {Title: "B"}, {Title: "C"}},
		[]Memo{{Title: "A"}, {Title: "B"}, {Title: "C"}},
	)

	require.NoError(t, b.MoveRule(0, 2))
	assert.Equal(t, []string{"B", "C", "A"}, titles(b.Rules()))
	assert.Equal(t, []Memo{{Title: "B"}, {Title: "C"}, {Title: "A"}}, b.Memos())

	require.NoError(t, b.MoveRule(2, 0))
	assert.Equal(t, []string{"A", "B", "C"}, titles(b.Rules()))

	require.NoError(t, b.MoveRule(1, 1))
	assert.ErrorIs(t, b.MoveRule(0, 3), ErrRuleIndex)
}

func TestMoveRuleWithoutMemos(t *testing.T) {
	b := NewBook([]Rule{{Title: "A"}, {Title: "B"}}, nil)

	require.NoError(t, b.MoveRule(1, 0))
	assert.Equal(t, []string{"B", "A"}, titles(b.Rules()))
	assert.Empty(t, b.Memos())
}

func TestReplaceMemosIsACopy(t *testing.T) {
	b := NewBook(nil, nil)
	memos := []Memo{{Title: "A", Content: "a"}}

	b.ReplaceMemos(memos)
	memos[0].Content = "mutated"

	assert.Equal(t, "a", b.Memos()[0].Content)

	got := b.Memos()
	got[0].Content = "also mutated"
	assert.Equal(t, "a", b.Memos()[0].Content)
}

func TestInstallMemosFollowsCurrentRules(t *testing.T) {
	b := NewBook(
		[]Rule{{Title: "A"}, {Title: "B"}, {Title: "C"}},
		[]Memo{{Title: "A", Content: "old a"}, {Title: "B", Content: "old b"}, {Title: "C", Content: "old c"}},
	)
	snapshot := b.Rules()

	require.NoError(t, b.RemoveRule(1))
	b.AddRule("D", "d")
	require.NoError(t, b.MoveRule(2, 0))

	b.InstallMemos(snapshot, []Memo{
		{Title: "A", Content: "new a"},
		{Title: "B", Content: "new b"},
		{Title: "C", Content: "new c"},
	})

	assert.Equal(t, []string{"D", "A", "C"}, titles(b.Rules()))
	assert.Equal(t, []Memo{
		{Title: "D", Content: ""},
		{Title: "A", Content: "new a"},
		{Title: "C", Content: "new c"},
	}, b.Memos())
}

func TestSetMemoContent(t *testing.T) {
	b := NewBook(nil, []Memo{{Title: "A"}})

	require.NoError(t, b.SetMemoContent(0, "edited"))
	assert.Equal(t, "edited", b.Memos()[0].Content)
	assert.ErrorIs(t, b.SetMemoContent(1, "x"), ErrRuleIndex)
}

func TestBookPublishesEvents(t *testing.T) {
	b := NewBook(nil, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := b.Subscribe(ctx)

	b.AddRule("A", "a")
	b.SetMemos([]Memo{{Title: "A"}})

	var got []types.EventType
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []types.EventType{types.EventTypeRulesChanged, types.EventTypeMemosChanged}, got)
}
