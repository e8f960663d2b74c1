package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/memochat/pkg/chat"
	"github.com/entrhq/memochat/pkg/config"
	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeService answers chat requests with "Hello" (reasoning "R1") and memo
// update requests with "Name: Ann". When hold is set, memo update requests
// signal held and wait for hold to close.
type fakeService struct {
	mu       sync.Mutex
	requests []chatRequest

	hold chan struct{}
	held chan struct{}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	last := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(last, "Memo title:") {
		if f.hold != nil {
			f.held <- struct{}{}
			<-f.hold
		}
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"  Name: Ann \"}}]}\n\n")
	} else {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"R1\"}}]}\n\n")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
	}
	fmt.Fprintf(w, "data: [DONE]\n\n")
}

func (f *fakeService) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Model
	}
	return out
}

func (f *fakeService) last() chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fixture struct {
	service *fakeService
	opts    Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &fakeService{}
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	return &fixture{
		service: svc,
		opts: Options{
			ConfigPath: filepath.Join(dir, "config.json"),
			DataDir:    filepath.Join(dir, "data"),
			LLM: config.LLMSettings{
				APIKey:          "test-key",
				Model:           "chat-model",
				BaseURL:         server.URL,
				CompactionModel: "memo-model",
			},
			WriteDelay: 10 * time.Millisecond,
		},
	}
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	s, err := Open(context.Background(), f.opts)
	require.NoError(t, err)
	return s
}

func TestSession_ChatCompactAndReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t)

	s.Book().AddRule("Profile", "Track the user's name")
	require.NoError(t, s.Send(ctx, "my name is Ann"))

	turns := s.Controller().Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, types.Message{Role: types.RoleAssistant, Content: "Hello", Reasoning: "R1"}, turns[1])

	html, err := s.RenderTurn(1)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>\n", html)

	result, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)
	assert.Equal(t, []memo.Memo{{Title: "Profile", Content: "Name: Ann"}}, s.Book().Memos())
	assert.Empty(t, s.Controller().Snapshot())
	assert.Equal(t, []string{"chat-model", "memo-model"}, f.service.models())

	archives, err := s.Archives().ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, 2, archives[0].MessageCount)

	// The next request carries the memo in its system message.
	require.NoError(t, s.Send(ctx, "hi again"))
	sys := f.service.last().Messages[0]
	assert.Equal(t, "system", sys.Role)
	assert.Equal(t, "[Profile]: Name: Ann", sys.Content)

	require.NoError(t, s.Close(ctx))

	reopened := f.open(t)
	defer reopened.Close(ctx)

	rules := reopened.Book().Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "Profile", rules[0].Title)
	assert.Equal(t, []memo.Memo{{Title: "Profile", Content: "Name: Ann"}}, reopened.Book().Memos())
	assert.Len(t, reopened.Controller().Snapshot(), 2)
}

func TestSession_CompactRequiresTranscript(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	defer s.Close(context.Background())

	_, err := s.Compact(context.Background())
	assert.ErrorIs(t, err, memo.ErrEmptyTranscript)
}

func TestSession_SendDuringCompactIsRefused(t *testing.T) {
	f := newFixture(t)
	f.service.hold = make(chan struct{})
	f.service.held = make(chan struct{}, 1)
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	s.Book().AddRule("Profile", "Track the user's name")
	require.NoError(t, s.Send(ctx, "my name is Ann"))
	before := s.Controller().Snapshot()

	type compactResult struct {
		result *memo.CycleResult
		err    error
	}
	done := make(chan compactResult, 1)
	go func() {
		result, err := s.Compact(ctx)
		done <- compactResult{result, err}
	}()
	<-f.service.held

	assert.ErrorIs(t, s.Send(ctx, "second, sent mid-compaction"), chat.ErrReserved)
	assert.Len(t, s.Controller().Snapshot(), len(before))

	close(f.service.hold)
	got := <-done
	require.NoError(t, got.err)
	assert.NoError(t, got.result.ArchiveErr)
	assert.Empty(t, s.Controller().Snapshot())

	archives, err := s.Archives().ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	archived, err := s.Archives().LoadArchive(ctx, archives[0].Name)
	require.NoError(t, err)
	assert.Equal(t, before, archived)

	require.NoError(t, s.Send(ctx, "second"))
	assert.Len(t, s.Controller().Snapshot(), 2)
}

func TestSession_CompactWhileReservedIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	require.NoError(t, s.Send(ctx, "hello"))
	release, err := s.Controller().Reserve()
	require.NoError(t, err)

	_, err = s.Compact(ctx)
	assert.ErrorIs(t, err, chat.ErrReserved)
	assert.Len(t, s.Controller().Snapshot(), 2)

	release()
}

func TestSession_CompactClearsWhenArchiveDirIsUnusable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	archives := filepath.Join(f.opts.DataDir, "archives")
	require.NoError(t, os.RemoveAll(archives))
	require.NoError(t, os.WriteFile(archives, []byte("not a directory"), 0o600))

	s.Book().AddRule("Profile", "Track the user's name")
	require.NoError(t, s.Send(ctx, "my name is Ann"))

	done := make(chan error, 1)
	var result *memo.CycleResult
	go func() {
		var err error
		result, err = s.Compact(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Compact did not return")
	}

	assert.Error(t, result.ArchiveErr)
	assert.Empty(t, s.Controller().Snapshot())
	assert.Equal(t, []memo.Memo{{Title: "Profile", Content: "Name: Ann"}}, s.Book().Memos())
}

func TestSession_SavedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	require.NoError(t, s.Send(ctx, "  plan   a trip to Lisbon "))
	id, err := s.SaveSession(ctx, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sessions, err := s.Store().ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "plan a trip to Lisbon", sessions[0].Title)
	assert.Equal(t, 2, sessions[0].MessageCount)

	s.Controller().Clear()
	require.NoError(t, s.LoadSession(ctx, id))
	assert.Len(t, s.Controller().Snapshot(), 2)
}

func TestSession_RenderReasoningWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.opts.LLM.ReasoningEnabled = true
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	require.NoError(t, s.Send(ctx, "hi"))
	html, err := s.RenderTurn(1)
	require.NoError(t, err)
	assert.Equal(t, "<details><summary>Reasoning</summary>\n<p>R1</p>\n</details>\n<p>Hello</p>\n", html)

	_, err = s.RenderTurn(5)
	assert.ErrorIs(t, err, chat.ErrTurnIndex)
}

func TestSession_InstallAndImportPacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	pack, err := s.ImportPack(ctx, "/downloads/study-buddy.json",
		[]byte(`{"systemPrompt":"You tutor.","rules":[{"title":"Topics","updateRule":"list topics"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "study buddy", pack.Name)

	packs, err := s.Store().ListPacks(ctx)
	require.NoError(t, err)
	require.Len(t, packs, 1)

	pack.Memos = []memo.Memo{{Title: "Topics", Content: "Go"}}
	require.NoError(t, s.InstallPack(ctx, pack))

	assert.Equal(t, "You tutor.", s.Controller().SystemPrompt())
	assert.Equal(t, "Topics", s.Book().Rules()[0].Title)
	assert.Equal(t, pack.Memos, s.Book().Memos())

	current, err := s.Store().LoadCurrentPack(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, pack.ID, current.ID)

	snap := s.SnapshotPack("Mine")
	assert.Equal(t, "You tutor.", snap.SystemPrompt)
	assert.Len(t, snap.Rules, 1)
	assert.NotEqual(t, pack.ID, snap.ID)
}

func TestSession_RulesAndMemosTransfer(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	defer s.Close(context.Background())

	require.NoError(t, s.ImportRules([]byte("systemPrompt: Be brief.\nrules:\n  - title: A\n    updateRule: a\n")))
	assert.Equal(t, "Be brief.", s.Controller().SystemPrompt())
	assert.Len(t, s.Book().Rules(), 1)

	// No rules key keeps the current rules.
	require.NoError(t, s.ImportRules([]byte(`{"systemPrompt":"Be kind."}`)))
	assert.Equal(t, "Be kind.", s.Controller().SystemPrompt())
	assert.Len(t, s.Book().Rules(), 1)

	data, err := s.ExportRules()
	require.NoError(t, err)
	assert.JSONEq(t, `{"systemPrompt":"Be kind.","rules":[{"title":"A","updateRule":"a"}]}`, string(data))

	require.NoError(t, s.ImportMemos([]byte(`[{"title":"A","content":"x"}]`)))
	memos, err := s.ExportMemos()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"A","content":"x"}]`, string(memos))
}

func TestSession_UpdateSettingsSwapsProvider(t *testing.T) {
	f := newFixture(t)
	f.opts.LLM.Model = ""
	f.opts.LLM.CompactionModel = ""
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	require.NoError(t, s.UpdateSettings(config.LLMSettings{Model: "new-model", CompactionModel: "new-memo"}, "Be terse."))
	assert.Equal(t, "new-model", s.Settings().Model)
	assert.Equal(t, "Be terse.", s.Controller().SystemPrompt())

	require.NoError(t, s.Send(ctx, "hi"))
	assert.Equal(t, "new-model", f.service.last().Model)
	assert.Equal(t, "Be terse.", f.service.last().Messages[0].Content)

	// Saved settings survive a restart.
	cfg, err := config.New(f.opts.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "new-memo", config.LLMOf(cfg).Settings().CompactionModel)
	assert.Equal(t, "Be terse.", config.ChatOf(cfg).SystemPrompt())
}

func TestSession_SQLiteArchive(t *testing.T) {
	f := newFixture(t)
	f.opts.ArchiveDB = filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()
	s := f.open(t)
	defer s.Close(ctx)

	s.Book().AddRule("Profile", "name")
	require.NoError(t, s.Send(ctx, "I am Ann"))
	_, err := s.Compact(ctx)
	require.NoError(t, err)

	archives, err := s.Archives().ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)

	require.NoError(t, s.LoadArchive(ctx, archives[0].Name))
	assert.Len(t, s.Controller().Snapshot(), 2)
}

func TestDefaultTitle(t *testing.T) {
	assert.Equal(t, "New chat", defaultTitle(nil))
	long := strings.Repeat("word ", 20)
	title := defaultTitle([]types.Message{{Role: types.RoleUser, Content: long}})
	assert.Equal(t, maxTitleLen+1, len([]rune(title)))
	assert.True(t, strings.HasSuffix(title, "…"))
}
