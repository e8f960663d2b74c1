package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/entrhq/memochat/pkg/types"

	_ "modernc.org/sqlite"
)

// SQLiteArchive keeps compacted transcripts in a single SQLite table.
type SQLiteArchive struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteArchive opens (or creates) the archive database at path.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	a := &SQLiteArchive{db: db, now: time.Now}
	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	debugLog.Infof("SQLite archive initialized at %s", path)
	return a, nil
}

func (a *SQLiteArchive) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS archives (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			messages TEXT NOT NULL
		);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close closes the database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// ArchiveTranscript stores turns as a new archive row.
func (a *SQLiteArchive) ArchiveTranscript(ctx context.Context, turns []types.Message) error {
	data, err := json.Marshal(nonNil(turns))
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO archives (created_at, message_count, messages) VALUES (?, ?, ?)`,
		a.now().UTC().Format(time.RFC3339), len(turns), string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting archive: %w", err)
	}
	return nil
}

// ListArchives returns the archives, newest first. Names are the row IDs.
func (a *SQLiteArchive) ListArchives(ctx context.Context) ([]ArchiveEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, created_at, message_count FROM archives ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying archives: %w", err)
	}
	defer rows.Close()

	var out []ArchiveEntry
	for rows.Next() {
		var (
			id           int64
			createdAtStr string
			entry        ArchiveEntry
		)
		if err := rows.Scan(&id, &createdAtStr, &entry.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		entry.Name = strconv.FormatInt(id, 10)
		entry.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// LoadArchive returns the turns of the archive with the given name.
func (a *SQLiteArchive) LoadArchive(ctx context.Context, name string) ([]types.Message, error) {
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: archive %q", ErrNotFound, name)
	}

	var data string
	err = a.db.QueryRowContext(ctx, `SELECT messages FROM archives WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}

	var turns []types.Message
	if err := json.Unmarshal([]byte(data), &turns); err != nil {
		return nil, fmt.Errorf("decoding archive %s: %w", name, err)
	}
	return nonNil(turns), nil
}
