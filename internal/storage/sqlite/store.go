// Package sqlite is a SQLite-backed InteractionStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/askwise/askrelay/internal/storage"
)

// Store is a SQLite implementation of InteractionStore.
type Store struct {
	db *sql.DB
}

var _ storage.InteractionStore = (*Store)(nil)

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS turns (
		corr_id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT,
		status TEXT NOT NULL,
		streaming INTEGER NOT NULL DEFAULT 0,
		upstream_status INTEGER,
		user_id TEXT,
		duration_ns INTEGER,
		created_at TIMESTAMP NOT NULL
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_user_created
		ON turns(user_id, created_at DESC)`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordTurn(ctx context.Context, rec *storage.TurnRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO turns
		(corr_id, question, answer, status, streaming, upstream_status, user_id, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(corr_id) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			status = excluded.status,
			streaming = excluded.streaming,
			upstream_status = excluded.upstream_status,
			user_id = excluded.user_id,
			duration_ns = excluded.duration_ns`,
		rec.CorrID, rec.Question, rec.Answer, rec.Status, boolToInt(rec.Streaming),
		rec.UpstreamStatus, rec.UserID, rec.Duration.Nanoseconds(), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

func (s *Store) GetTurn(ctx context.Context, corrID string) (*storage.TurnRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT corr_id, question, answer, status,
		streaming, upstream_status, user_id, duration_ns, created_at
		FROM turns WHERE corr_id = ?`, corrID)

	rec, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return rec, nil
}

func (s *Store) ListTurns(ctx context.Context, opts storage.ListOptions) ([]*storage.TurnRecord, error) {
	query := `SELECT corr_id, question, answer, status, streaming,
		upstream_status, user_id, duration_ns, created_at FROM turns`
	var conds []string
	var args []any

	if opts.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var result []*storage.TurnRecord
	for rows.Next() {
		rec, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*storage.TurnRecord, error) {
	var rec storage.TurnRecord
	var answer, userID sql.NullString
	var streaming int
	var upstreamStatus, durationNS sql.NullInt64

	err := row.Scan(&rec.CorrID, &rec.Question, &answer, &rec.Status,
		&streaming, &upstreamStatus, &userID, &durationNS, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.Answer = answer.String
	rec.UserID = userID.String
	rec.Streaming = streaming != 0
	rec.UpstreamStatus = int(upstreamStatus.Int64)
	rec.Duration = time.Duration(durationNS.Int64)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
