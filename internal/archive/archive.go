// Package archive journals terminal publication records to SQLite so runs
// survive process restarts for inspection. The in-memory ledger stays the
// source of truth; the archive is append-only history.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"towncrier/internal/publication"
	"towncrier/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS publications (
	id               TEXT NOT NULL,
	tool_id          TEXT NOT NULL,
	platform         TEXT NOT NULL,
	status           TEXT NOT NULL,
	ts               TIMESTAMP NOT NULL,
	platform_post_id TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	dry_run          INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT NOT NULL DEFAULT '{}',
	recorded_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publications_tool ON publications(tool_id);
CREATE INDEX IF NOT EXISTS idx_publications_platform ON publications(platform);
`

// Store is an append-only publication journal. A nil *Store is a valid
// disabled archive; every method is a no-op on it.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates or opens the archive database and applies the schema.
// An empty path disables the archive and returns a nil store.
func Open(path string, log logx.Logger) (*Store, error) {
	if path == "" || path == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}

	log.Debug("archive opened", logx.String("path", path))
	return &Store{db: db, log: log.With(logx.String("component", "archive"))}, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one publication snapshot. Records are never updated in
// place; each terminal state lands as its own row.
func (s *Store) Record(ctx context.Context, p publication.Publication) error {
	if s == nil {
		return nil
	}
	meta := "{}"
	if len(p.Metadata) > 0 {
		if b, err := json.Marshal(p.Metadata); err == nil {
			meta = string(b)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publications
			(id, tool_id, platform, status, ts, platform_post_id, url, error, retry_count, dry_run, metadata, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ToolID, p.Platform, string(p.Status), p.Timestamp,
		p.PlatformPostID, p.URL, p.Error, p.RetryCount, boolToInt(p.DryRun), meta, time.Now())
	if err != nil {
		return fmt.Errorf("record publication %s: %w", p.ID, err)
	}
	return nil
}

// Recent returns the latest snapshots, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]publication.Publication, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT id, tool_id, platform, status, ts, platform_post_id, url, error, retry_count, dry_run, metadata
		FROM publications ORDER BY recorded_at DESC LIMIT ?`, limit)
}

// ByTool returns every snapshot for the tool, oldest first.
func (s *Store) ByTool(ctx context.Context, toolID string) ([]publication.Publication, error) {
	if s == nil {
		return nil, nil
	}
	return s.query(ctx, `
		SELECT id, tool_id, platform, status, ts, platform_post_id, url, error, retry_count, dry_run, metadata
		FROM publications WHERE tool_id = ? ORDER BY recorded_at ASC`, toolID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]publication.Publication, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []publication.Publication
	for rows.Next() {
		var (
			p      publication.Publication
			status string
			dryRun int
			meta   string
		)
		if err := rows.Scan(&p.ID, &p.ToolID, &p.Platform, &status, &p.Timestamp,
			&p.PlatformPostID, &p.URL, &p.Error, &p.RetryCount, &dryRun, &meta); err != nil {
			return nil, err
		}
		p.Status = publication.Status(status)
		p.DryRun = dryRun != 0
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &p.Metadata)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
