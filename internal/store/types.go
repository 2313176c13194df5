// Package store persists session snapshots and seal records for humansign.
package store

import (
	"context"
	"errors"
	"time"

	"humansign/internal/chain"
)

// Errors
var (
	ErrNotFound = errors.New("store: not found")
	ErrClosed   = errors.New("store: closed")
)

// Snapshot is the durable state of one capture session. It is rewritten
// after every chain mutation.
type Snapshot struct {
	SessionID    string      `json:"session_id"`
	Subject      string      `json:"subject"`
	SessionIndex int         `json:"session_index"`
	Rep          int         `json:"rep"`
	Chain        chain.State `json:"chain"`
	Ended        bool        `json:"ended"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// SealRecord notes a token issued for a session. The token itself is kept
// so a lost artifact can be re-exported.
type SealRecord struct {
	SessionID    string    `json:"session_id"`
	DocumentHash string    `json:"document_hash"`
	EventCount   int       `json:"event_count"`
	BlockCount   int       `json:"block_count"`
	Token        string    `json:"token"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Store is implemented by every snapshot backend.
type Store interface {
	// SaveSnapshot inserts or replaces the snapshot for s.SessionID.
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	// LoadSnapshot returns ErrNotFound when no snapshot exists.
	LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
	// ListSessions returns the IDs of every stored snapshot, sorted.
	ListSessions(ctx context.Context) ([]string, error)

	AppendSeal(ctx context.Context, r *SealRecord) error
	// ListSeals returns the seals for a session, oldest first.
	ListSeals(ctx context.Context, sessionID string) ([]SealRecord, error)

	Close() error
}
