package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/entrhq/memochat/pkg/logging"
	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("store")
	if err != nil {
		debugLog = logging.Nop("store")
	}
}

const (
	historyFile     = "chat-history.json"
	rulesFile       = "memo-rules.json"
	memosFile       = "memos.json"
	currentPackFile = "current-pack.json"
	archivesDir     = "archives"
	sessionsDir     = "sessions"
	packsDir        = "packs"

	// ArchiveNameLayout is the time layout of archive names.
	ArchiveNameLayout = "20060102_150405"

	// maxArchiveSuffix bounds the archives written within one second.
	maxArchiveSuffix = 1000
)

// FileStore keeps every record as an indented JSON file under one directory.
// Writes go through a temporary file and a rename so a crash never leaves a
// truncated record behind.
type FileStore struct {
	dir string
	now func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithClock sets the clock used for archive names and session timestamps.
func WithClock(now func() time.Time) FileStoreOption {
	return func(fs *FileStore) {
		fs.now = now
	}
}

// NewFileStore creates a file store rooted at dir, creating the directory
// tree if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("store: abs dir: %w", err)
	}
	for _, d := range []string{abs, filepath.Join(abs, archivesDir), filepath.Join(abs, sessionsDir), filepath.Join(abs, packsDir)} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("store: init directory %s: %w", d, err)
		}
	}
	fs := &FileStore{dir: abs, now: time.Now}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

// Dir returns the root directory of the store.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// LoadTranscript returns the last saved transcript.
func (fs *FileStore) LoadTranscript(_ context.Context) ([]types.Message, error) {
	var turns []types.Message
	if err := fs.readJSON(filepath.Join(fs.dir, historyFile), &turns); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nonNil(turns), nil
}

// SaveTranscript overwrites the saved transcript.
func (fs *FileStore) SaveTranscript(_ context.Context, turns []types.Message) error {
	return fs.writeJSON(filepath.Join(fs.dir, historyFile), nonNil(turns))
}

// fileRule is the on-disk form of a memo rule. Older files name the title
// "description" and the update rule "updateRule".
type fileRule struct {
	Title            string `json:"title"`
	LegacyTitle      string `json:"description,omitempty"`
	UpdateRule       string `json:"update_rule"`
	LegacyUpdateRule string `json:"updateRule,omitempty"`
}

// LoadRules returns the saved memo rules with fresh IDs.
func (fs *FileStore) LoadRules(_ context.Context) ([]memo.Rule, error) {
	var recs []fileRule
	if err := fs.readJSON(filepath.Join(fs.dir, rulesFile), &recs); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	rules := make([]memo.Rule, len(recs))
	for i, r := range recs {
		title := r.Title
		if title == "" {
			title = r.LegacyTitle
		}
		update := r.UpdateRule
		if update == "" {
			update = r.LegacyUpdateRule
		}
		rules[i] = memo.NewRule(title, update)
	}
	return rules, nil
}

// SaveRules overwrites the saved memo rules.
func (fs *FileStore) SaveRules(_ context.Context, rules []memo.Rule) error {
	recs := make([]fileRule, len(rules))
	for i, r := range rules {
		recs[i] = fileRule{Title: r.Title, UpdateRule: r.UpdateRule}
	}
	return fs.writeJSON(filepath.Join(fs.dir, rulesFile), recs)
}

// LoadMemos returns the saved memos.
func (fs *FileStore) LoadMemos(_ context.Context) ([]memo.Memo, error) {
	var memos []memo.Memo
	if err := fs.readJSON(filepath.Join(fs.dir, memosFile), &memos); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nonNil(memos), nil
}

// SaveMemos overwrites the saved memos.
func (fs *FileStore) SaveMemos(_ context.Context, memos []memo.Memo) error {
	return fs.writeJSON(filepath.Join(fs.dir, memosFile), nonNil(memos))
}

// ArchiveTranscript writes turns to a new archive named after the current
// time. Archives written within the same second get a numeric suffix.
func (fs *FileStore) ArchiveTranscript(_ context.Context, turns []types.Message) error {
	base := fs.now().Format(ArchiveNameLayout)
	name := base
	for n := 1; n <= maxArchiveSuffix; n++ {
		path := filepath.Join(fs.dir, archivesDir, name+".json")
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			debugLog.Infof("Archiving %d turns to %s", len(turns), name)
			return fs.writeJSON(path, nonNil(turns))
		}
		if err != nil {
			return fmt.Errorf("store: stat archive %s: %w", name, err)
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
	return fmt.Errorf("store: no free archive name for %s", base)
}

// ListArchives returns the archives, newest first. Unreadable archives are
// listed with a zero message count.
func (fs *FileStore) ListArchives(_ context.Context) ([]ArchiveEntry, error) {
	dir := filepath.Join(fs.dir, archivesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", dir, err)
	}
	var out []ArchiveEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		entry := ArchiveEntry{Name: name}
		if len(name) >= len(ArchiveNameLayout) {
			if t, err := time.ParseInLocation(ArchiveNameLayout, name[:len(ArchiveNameLayout)], time.Local); err == nil {
				entry.CreatedAt = t
			}
		}
		var turns []types.Message
		if err := fs.readJSON(filepath.Join(dir, e.Name()), &turns); err != nil {
			debugLog.Warnf("Skipping unreadable archive %s: %v", e.Name(), err)
		}
		entry.MessageCount = len(turns)
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b ArchiveEntry) int {
		return strings.Compare(b.Name, a.Name)
	})
	return out, nil
}

// LoadArchive returns the turns of the named archive.
func (fs *FileStore) LoadArchive(_ context.Context, name string) ([]types.Message, error) {
	path, err := fs.pathForID(archivesDir, name)
	if err != nil {
		return nil, err
	}
	var turns []types.Message
	if err := fs.readJSON(path, &turns); err != nil {
		return nil, err
	}
	return nonNil(turns), nil
}

type sessionFile struct {
	Meta     SessionInfo     `json:"meta"`
	Messages []types.Message `json:"messages"`
}

// ListSessions returns the metadata of saved sessions, newest first. Corrupt
// session files are skipped.
func (fs *FileStore) ListSessions(_ context.Context) ([]SessionInfo, error) {
	dir := filepath.Join(fs.dir, sessionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", dir, err)
	}
	var out []SessionInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var sf sessionFile
		if err := fs.readJSON(filepath.Join(dir, e.Name()), &sf); err != nil {
			debugLog.Warnf("Skipping corrupt session %s: %v", e.Name(), err)
			continue
		}
		out = append(out, sf.Meta)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		return strings.Compare(b.CreatedAt, a.CreatedAt)
	})
	return out, nil
}

// SaveSession writes turns under id. Saving over an existing session keeps
// its creation time.
func (fs *FileStore) SaveSession(_ context.Context, id, title string, turns []types.Message) error {
	path, err := fs.pathForID(sessionsDir, id)
	if err != nil {
		return err
	}
	createdAt := fs.now().Format(time.RFC3339)
	var existing sessionFile
	if err := fs.readJSON(path, &existing); err == nil {
		createdAt = existing.Meta.CreatedAt
	}

	return fs.writeJSON(path, sessionFile{
		Meta: SessionInfo{
			ID:           id,
			Title:        title,
			MessageCount: len(turns),
			CreatedAt:    createdAt,
		},
		Messages: nonNil(turns),
	})
}

// LoadSession returns the turns of the session saved under id.
func (fs *FileStore) LoadSession(_ context.Context, id string) ([]types.Message, error) {
	path, err := fs.pathForID(sessionsDir, id)
	if err != nil {
		return nil, err
	}
	var sf sessionFile
	if err := fs.readJSON(path, &sf); err != nil {
		return nil, err
	}
	return nonNil(sf.Messages), nil
}

// DeleteSession removes the session saved under id.
func (fs *FileStore) DeleteSession(_ context.Context, id string) error {
	path, err := fs.pathForID(sessionsDir, id)
	if err != nil {
		return err
	}
	return remove(path)
}

// ListPacks returns the installed packs. Corrupt pack files are skipped.
func (fs *FileStore) ListPacks(_ context.Context) ([]memo.Pack, error) {
	dir := filepath.Join(fs.dir, packsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", dir, err)
	}
	var out []memo.Pack
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var p memo.Pack
		if err := fs.readJSON(filepath.Join(dir, e.Name()), &p); err != nil {
			debugLog.Warnf("Skipping corrupt pack %s: %v", e.Name(), err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SavePack writes the pack under its ID.
func (fs *FileStore) SavePack(_ context.Context, pack *memo.Pack) error {
	path, err := fs.pathForID(packsDir, pack.ID)
	if err != nil {
		return err
	}
	return fs.writeJSON(path, pack)
}

// DeletePack removes the pack saved under id.
func (fs *FileStore) DeletePack(_ context.Context, id string) error {
	path, err := fs.pathForID(packsDir, id)
	if err != nil {
		return err
	}
	return remove(path)
}

// LoadCurrentPack returns the pack the session was last set up from, or nil
// when there is none or it cannot be read.
func (fs *FileStore) LoadCurrentPack(_ context.Context) (*memo.Pack, error) {
	var p memo.Pack
	if err := fs.readJSON(filepath.Join(fs.dir, currentPackFile), &p); err != nil {
		if !errors.Is(err, ErrNotFound) {
			debugLog.Warnf("Ignoring unreadable current pack: %v", err)
		}
		return nil, nil
	}
	return &p, nil
}

// SaveCurrentPack records pack as the current pack.
func (fs *FileStore) SaveCurrentPack(_ context.Context, pack *memo.Pack) error {
	return fs.writeJSON(filepath.Join(fs.dir, currentPackFile), pack)
}

func (fs *FileStore) pathForID(sub, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("store: invalid id (empty)")
	}
	if strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("store: invalid id %q (contains path separator)", id)
	}
	dir := filepath.Join(fs.dir, sub)
	resolved := filepath.Join(dir, id+".json")
	if !strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("store: path traversal detected for id %q", id)
	}
	return resolved, nil
}

func (fs *FileStore) readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

func (fs *FileStore) writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("store: atomic rename %s: %w", path, err)
	}
	return nil
}

func remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
