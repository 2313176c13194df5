package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"humansign/internal/chain"
)

// SQLite stores snapshots in a single SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the SQLite database at the given path and
// runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps WAL checkpoints and busy retries simple.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLite{db: db}, nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveSnapshot upserts a session snapshot.
func (s *SQLite) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	state, err := chain.MarshalState(snap.Chain)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, subject, session_index, rep, chain_state, ended, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			subject = excluded.subject,
			session_index = excluded.session_index,
			rep = excluded.rep,
			chain_state = excluded.chain_state,
			ended = excluded.ended,
			updated_at = excluded.updated_at`,
		snap.SessionID, snap.Subject, snap.SessionIndex, snap.Rep, state, snap.Ended,
		snap.CreatedAt.UnixNano(), snap.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves a session snapshot.
func (s *SQLite) LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	var (
		snap               Snapshot
		state              []byte
		createdNs, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, subject, session_index, rep, chain_state, ended, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&snap.SessionID, &snap.Subject, &snap.SessionIndex, &snap.Rep, &state, &snap.Ended, &createdNs, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap.Chain, err = chain.UnmarshalState(state)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = time.Unix(0, createdNs)
	snap.UpdatedAt = time.Unix(0, updated)
	return &snap, nil
}

// DeleteSnapshot removes a session snapshot. Seal records are kept.
func (s *SQLite) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// ListSessions returns every stored session ID.
func (s *SQLite) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendSeal records an issued token.
func (s *SQLite) AppendSeal(ctx context.Context, r *SealRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seals (session_id, document_hash, event_count, block_count, token, issued_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.DocumentHash, r.EventCount, r.BlockCount, r.Token, r.IssuedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert seal: %w", err)
	}
	return nil
}

// ListSeals returns seals for a session in insertion order.
func (s *SQLite) ListSeals(ctx context.Context, sessionID string) ([]SealRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, document_hash, event_count, block_count, token, issued_at
		FROM seals WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list seals: %w", err)
	}
	defer rows.Close()

	var out []SealRecord
	for rows.Next() {
		var (
			r      SealRecord
			issued int64
		)
		if err := rows.Scan(&r.SessionID, &r.DocumentHash, &r.EventCount, &r.BlockCount, &r.Token, &issued); err != nil {
			return nil, fmt.Errorf("scan seal: %w", err)
		}
		r.IssuedAt = time.Unix(issued, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
