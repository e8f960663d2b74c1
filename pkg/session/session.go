// Package session wires a conversation, its memo book and their persistence
// into one object a host application can drive.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/memochat/pkg/chat"
	"github.com/entrhq/memochat/pkg/config"
	"github.com/entrhq/memochat/pkg/llm/openai"
	"github.com/entrhq/memochat/pkg/llm/tokenizer"
	"github.com/entrhq/memochat/pkg/logging"
	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/render"
	"github.com/entrhq/memochat/pkg/store"
	"github.com/entrhq/memochat/pkg/types"
	"github.com/google/uuid"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("session")
	if err != nil {
		debugLog = logging.Nop("session")
	}
}

// Options configures Open.
type Options struct {
	// ConfigPath is the config file; empty means ~/.memochat/config.json.
	ConfigPath string

	// DataDir holds transcripts, memos, archives, sessions and packs;
	// empty means ~/.memochat.
	DataDir string

	// LLM overrides the configured completion settings field by field.
	LLM config.LLMSettings

	// ArchiveDB, when set, keeps archives in a SQLite database at this path
	// instead of the archives directory.
	ArchiveDB string

	// Tokenizer counts transcript tokens for compaction telemetry; nil
	// falls back to an estimate.
	Tokenizer *tokenizer.Tokenizer

	// MaxConcurrency bounds parallel memo updates; 0 means one per rule.
	MaxConcurrency int

	// WriteDelay is the persistence debounce; 0 means store.DefaultWriteDelay.
	WriteDelay time.Duration
}

// Session is a running chat with memos and persistence attached.
type Session struct {
	cfg        *config.Manager
	store      store.Store
	archive    store.ArchiveStore
	sqlite     *store.SQLiteArchive
	controller *chat.Controller
	book       *memo.Book
	compactor  *memo.Compactor
	writer     *store.Writer
	renderer   *render.Renderer

	overrides config.LLMSettings

	mu       sync.RWMutex
	settings config.LLMSettings
}

// Open loads configuration and saved state and starts persisting changes.
// Unreadable saved state is logged and replaced by an empty value.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg, err := config.New(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	provider, settings, err := config.BuildProvider(opts.LLM, config.LLMOf(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		if dataDir, err = config.DefaultDir(); err != nil {
			return nil, err
		}
	}
	fs, err := store.NewFileStore(dataDir)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		store:     fs,
		archive:   fs,
		renderer:  render.New(),
		overrides: opts.LLM,
		settings:  settings,
	}
	if opts.ArchiveDB != "" {
		s.sqlite, err = store.NewSQLiteArchive(opts.ArchiveDB)
		if err != nil {
			return nil, err
		}
		s.archive = s.sqlite
	}

	turns, err := fs.LoadTranscript(ctx)
	if err != nil {
		debugLog.Warnf("Starting with an empty transcript: %v", err)
	}
	rules, err := fs.LoadRules(ctx)
	if err != nil {
		debugLog.Warnf("Starting with no memo rules: %v", err)
	}
	memos, err := fs.LoadMemos(ctx)
	if err != nil {
		debugLog.Warnf("Starting with no memos: %v", err)
	}

	s.book = memo.NewBook(rules, memos)
	s.controller = chat.NewController(provider,
		chat.WithSystemPrompt(config.ChatOf(cfg).SystemPrompt()),
		chat.WithMemoSource(s.book),
		chat.WithTurns(turns),
	)
	s.compactor = memo.NewCompactor(provider,
		memo.WithCompactionModel(settings.CompactionModel),
		memo.WithArchiver(s.archive),
		memo.WithTokenizer(opts.Tokenizer),
		memo.WithMaxConcurrency(opts.MaxConcurrency),
	)

	var writerOpts []store.WriterOption
	if opts.WriteDelay > 0 {
		writerOpts = append(writerOpts, store.WithWriteDelay(opts.WriteDelay))
	}
	s.writer = store.NewWriter(fs, s.controller, s.book, writerOpts...)
	s.writer.Start(context.WithoutCancel(ctx))

	debugLog.Infof("Session opened: data=%s, model=%s, turns=%d, rules=%d",
		dataDir, settings.Model, len(turns), len(rules))
	return s, nil
}

// Controller returns the conversation controller.
func (s *Session) Controller() *chat.Controller { return s.controller }

// Book returns the memo book.
func (s *Session) Book() *memo.Book { return s.book }

// Compactor returns the compactor, for progress and subscriptions.
func (s *Session) Compactor() *memo.Compactor { return s.compactor }

// Store returns the persistence store.
func (s *Session) Store() store.Store { return s.store }

// Archives returns where compacted transcripts are kept.
func (s *Session) Archives() store.ArchiveStore { return s.archive }

// Settings returns the resolved completion settings.
func (s *Session) Settings() config.LLMSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Send sends a user message.
func (s *Session) Send(ctx context.Context, text string) error {
	return s.controller.Send(ctx, text)
}

// Compact distills the transcript into memos, archives it and clears it.
// It fails with chat.ErrBusy while a reply is streaming, and sends made while
// it runs fail with chat.ErrReserved.
func (s *Session) Compact(ctx context.Context) (*memo.CycleResult, error) {
	result, err := s.compactor.Run(ctx, s.controller, s.book)
	if err != nil {
		return nil, err
	}
	s.renderer.Reset()
	return result, nil
}

// UpdateSettings saves new completion settings and system prompt and swaps
// the provider used by later requests. Values given to Open still override
// the saved ones.
func (s *Session) UpdateSettings(llm config.LLMSettings, systemPrompt string) error {
	config.LLMOf(s.cfg).SetSettings(llm)
	config.ChatOf(s.cfg).SetSystemPrompt(systemPrompt)
	if err := s.cfg.SaveAll(); err != nil {
		return err
	}

	provider, settings, err := config.BuildProvider(s.overrides, config.LLMOf(s.cfg))
	if err != nil {
		return err
	}
	s.applyProvider(provider, settings)
	s.controller.SetSystemPrompt(systemPrompt)
	return nil
}

func (s *Session) applyProvider(provider *openai.Provider, settings config.LLMSettings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.controller.SetProvider(provider)
	s.compactor.SetProvider(provider, settings.CompactionModel)
	debugLog.Infof("Provider updated: model=%s, compaction_model=%s", settings.Model, settings.CompactionModel)
}

// SaveSession saves the current transcript as a named session and returns
// its ID. An empty id creates a new session.
func (s *Session) SaveSession(ctx context.Context, id, title string) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if strings.TrimSpace(title) == "" {
		title = defaultTitle(s.controller.Snapshot())
	}
	if err := s.store.SaveSession(ctx, id, title, s.controller.Snapshot()); err != nil {
		return "", err
	}
	return id, nil
}

// LoadSession replaces the transcript with a saved session.
func (s *Session) LoadSession(ctx context.Context, id string) error {
	turns, err := s.store.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	s.controller.Replace(turns)
	s.renderer.Reset()
	return nil
}

// LoadArchive replaces the transcript with an archived one.
func (s *Session) LoadArchive(ctx context.Context, name string) error {
	turns, err := s.archive.LoadArchive(ctx, name)
	if err != nil {
		return err
	}
	s.controller.Replace(turns)
	s.renderer.Reset()
	return nil
}

// InstallPack replaces the system prompt, rules and memos with the pack's
// and records it as the current pack.
func (s *Session) InstallPack(ctx context.Context, pack *memo.Pack) error {
	rules := make([]memo.Rule, len(pack.Rules))
	for i, r := range pack.Rules {
		rules[i] = memo.NewRule(r.Title, r.UpdateRule)
	}
	s.book.SetRules(rules)
	s.book.SetMemos(pack.Memos)
	s.setSystemPrompt(pack.SystemPrompt)

	if err := s.store.SaveCurrentPack(ctx, pack); err != nil {
		return err
	}
	debugLog.Infof("Installed pack %s (%s): %d rules, %d memos", pack.Name, pack.ID, len(pack.Rules), len(pack.Memos))
	return nil
}

// ImportPack decodes a pack or an exported rules document and saves it as
// a new pack.
func (s *Session) ImportPack(ctx context.Context, filename string, data []byte) (*memo.Pack, error) {
	pack, err := memo.DecodePack(filepath.Base(filename), data)
	if err != nil {
		return nil, err
	}
	if err := s.store.SavePack(ctx, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// SnapshotPack bundles the current system prompt, rules and memos into a new
// pack without saving it.
func (s *Session) SnapshotPack(name string) *memo.Pack {
	pack := memo.NewPack(name, time.Now())
	pack.SystemPrompt = s.controller.SystemPrompt()
	pack.Rules = s.book.Rules()
	pack.Memos = s.book.Memos()
	return pack
}

// ExportRules encodes the system prompt and rules.
func (s *Session) ExportRules() ([]byte, error) {
	return memo.ExportRules(s.controller.SystemPrompt(), s.book.Rules())
}

// ImportRules applies an exported rules document. A document without a
// system prompt keeps the current one; one without rules keeps the current
// rules.
func (s *Session) ImportRules(data []byte) error {
	doc, err := memo.ImportRules(data)
	if err != nil {
		return err
	}
	if doc.SystemPrompt != nil {
		s.setSystemPrompt(*doc.SystemPrompt)
	}
	if doc.HasRules {
		s.book.SetRules(doc.Rules)
	}
	return nil
}

// ExportMemos encodes the memos.
func (s *Session) ExportMemos() ([]byte, error) {
	return memo.ExportMemos(s.book.Memos())
}

// ImportMemos replaces the memos with an exported memo list.
func (s *Session) ImportMemos(data []byte) error {
	memos, err := memo.ImportMemos(data)
	if err != nil {
		return err
	}
	s.book.SetMemos(memos)
	return nil
}

func (s *Session) setSystemPrompt(prompt string) {
	s.controller.SetSystemPrompt(prompt)
	config.ChatOf(s.cfg).SetSystemPrompt(prompt)
	if err := s.cfg.SaveAll(); err != nil {
		debugLog.Errorf("Failed to save system prompt: %v", err)
	}
}

// RenderTurn renders the turn at index as HTML. Reasoning is included in a
// collapsed block when reasoning display is enabled.
func (s *Session) RenderTurn(index int) (string, error) {
	turns := s.controller.Snapshot()
	if index < 0 || index >= len(turns) {
		return "", chat.ErrTurnIndex
	}
	turn := turns[index]

	body, err := s.renderer.RenderTurn(turn)
	if err != nil {
		return "", err
	}
	if turn.Reasoning == "" || !s.Settings().ReasoningEnabled {
		return body, nil
	}

	reasoning, err := s.renderer.Render(turn.Reasoning)
	if err != nil {
		return "", err
	}
	return "<details><summary>Reasoning</summary>\n" + reasoning + "</details>\n" + body, nil
}

// Close cancels any in-flight reply, writes pending changes and releases
// subscribers.
func (s *Session) Close(ctx context.Context) error {
	s.controller.Cancel()
	err := s.writer.Stop(ctx)

	s.controller.Close()
	s.book.Close()
	s.compactor.Close()
	if s.sqlite != nil {
		err = errors.Join(err, s.sqlite.Close())
	}
	return err
}

const maxTitleLen = 40

// defaultTitle names a session after its first user turn.
func defaultTitle(turns []types.Message) string {
	for _, t := range turns {
		if t.Role != types.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(t.Content), " ")
		if r := []rune(title); len(r) > maxTitleLen {
			title = string(r[:maxTitleLen]) + "…"
		}
		return title
	}
	return "New chat"
}
