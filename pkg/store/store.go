// Package store persists transcripts, memo rules, memos, archives, saved
// sessions and packs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/memochat/pkg/memo"
	"github.com/entrhq/memochat/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ArchiveEntry describes one archived transcript.
type ArchiveEntry struct {
	// Name identifies the archive (YYYYMMDD_HHMMSS for file archives).
	Name         string    `json:"filename"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionInfo is the metadata of a saved session.
type SessionInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
}

// ArchiveStore keeps transcripts that were compacted away. It satisfies
// memo.Archiver.
type ArchiveStore interface {
	ArchiveTranscript(ctx context.Context, turns []types.Message) error
	ListArchives(ctx context.Context) ([]ArchiveEntry, error)
	LoadArchive(ctx context.Context, name string) ([]types.Message, error)
}

// Store is the persistence collaborator of a chat session.
//
// Load methods return empty values, not ErrNotFound, when nothing has been
// saved yet.
type Store interface {
	ArchiveStore

	LoadTranscript(ctx context.Context) ([]types.Message, error)
	SaveTranscript(ctx context.Context, turns []types.Message) error

	LoadRules(ctx context.Context) ([]memo.Rule, error)
	SaveRules(ctx context.Context, rules []memo.Rule) error

	LoadMemos(ctx context.Context) ([]memo.Memo, error)
	SaveMemos(ctx context.Context, memos []memo.Memo) error

	ListSessions(ctx context.Context) ([]SessionInfo, error)
	SaveSession(ctx context.Context, id, title string, turns []types.Message) error
	LoadSession(ctx context.Context, id string) ([]types.Message, error)
	DeleteSession(ctx context.Context, id string) error

	ListPacks(ctx context.Context) ([]memo.Pack, error)
	SavePack(ctx context.Context, pack *memo.Pack) error
	DeletePack(ctx context.Context, id string) error
	LoadCurrentPack(ctx context.Context) (*memo.Pack, error)
	SaveCurrentPack(ctx context.Context, pack *memo.Pack) error
}

var (
	_ Store         = (*FileStore)(nil)
	_ ArchiveStore  = (*SQLiteArchive)(nil)
	_ memo.Archiver = (*FileStore)(nil)
	_ memo.Archiver = (*SQLiteArchive)(nil)
)
