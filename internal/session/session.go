// Package session runs keystroke capture sessions: it feeds events into a
// chain, seals blocks by size or after an idle interval, persists a
// snapshot after every change, and seals finished documents into tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"humansign/internal/chain"
	"humansign/internal/logging"
	"humansign/internal/metrics"
	"humansign/internal/seal"
	"humansign/internal/store"
)

// Errors
var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionEnded    = errors.New("session: ended")
	ErrNotPersisted    = errors.New("session: event recorded but not persisted")
)

// Policy controls when pending events are sealed into a block.
type Policy struct {
	// BlockSize seals a block as soon as this many events are pending.
	BlockSize int
	// BlockInterval seals whatever is pending this long after the first
	// event of a block arrived.
	BlockInterval time.Duration
}

// DefaultPolicy returns the stock sealing policy.
func DefaultPolicy() Policy {
	return Policy{BlockSize: 50, BlockInterval: 5 * time.Second}
}

// Session is one capture session. All methods are safe for concurrent use.
type Session struct {
	id        string
	policy    Policy
	createdAt time.Time

	chain  *chain.Chain
	sealer *seal.Sealer
	store  store.Store

	logger  *logging.Logger
	audit   *logging.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	meta  seal.Metadata
	ended bool
	timer *time.Timer
	// gen invalidates a scheduled timer seal once a size or finalize
	// seal has taken its events.
	gen uint64
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Metadata returns the subject, session index and repetition the next
// seal will carry.
func (s *Session) Metadata() seal.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Status is a point-in-time view of a session.
type Status struct {
	ID           string        `json:"id"`
	Metadata     seal.Metadata `json:"metadata"`
	EventCount   int           `json:"event_count"`
	PendingCount int           `json:"pending_count"`
	BlockCount   int           `json:"block_count"`
	PreviousHash string        `json:"previous_hash"`
	Ended        bool          `json:"ended"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Status reports the current counters.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:           s.id,
		Metadata:     s.meta,
		EventCount:   s.chain.TotalCount(),
		PendingCount: s.chain.PendingCount(),
		BlockCount:   s.chain.BlockCount(),
		PreviousHash: s.chain.PreviousHash(),
		Ended:        s.ended,
		CreatedAt:    s.createdAt,
	}
}

// Blocks returns a copy of the sealed blocks.
func (s *Session) Blocks() []chain.Block {
	return s.chain.Blocks()
}

// AddEvent records one keystroke event. When the pending buffer reaches
// the block size the block is sealed immediately; otherwise the first
// event of a block arms the interval timer.
//
// An error matching ErrNotPersisted means the event was recorded but the
// snapshot could not be saved; the next successful save covers it. Any
// other error means the event was not recorded.
func (s *Session) AddEvent(ctx context.Context, timestamp int64, typ chain.EventType) error {
	if !typ.Valid() {
		return fmt.Errorf("session: invalid event type %q", typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrSessionEnded
	}

	s.chain.AddEvent(timestamp, typ)
	s.metrics.ObserveEvent()

	pending := s.chain.PendingCount()
	switch {
	case s.policy.BlockSize > 0 && pending >= s.policy.BlockSize:
		s.cancelTimerLocked()
		if err := s.sealBlockLocked(metrics.TriggerSize); err != nil {
			return fmt.Errorf("%w: %w", ErrNotPersisted, err)
		}
	case pending == 1 && s.policy.BlockInterval > 0:
		s.armTimerLocked()
	}

	if err := s.persistLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

// Flush seals any pending events into a block now.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()
	if err := s.sealBlockLocked(metrics.TriggerFinalize); err != nil {
		return err
	}
	return s.persistLocked(ctx)
}

// SealDocument finalizes the chain, binds it to content and signs it. On
// success the chain is reset for the next repetition. On failure the
// chain keeps every event so the seal can be retried.
func (s *Session) SealDocument(ctx context.Context, content []byte) (*seal.Result, error) {
	start := s.now()
	res, err := s.sealDocument(ctx, content)
	s.metrics.ObserveSeal(s.now().Sub(start), err)

	docHash := seal.DocumentHash(content)
	details := map[string]any{}
	if res != nil {
		details["events"] = res.EventCount
		details["blocks"] = res.BlockCount
	}
	_ = s.audit.LogSeal(ctx, s.id, docHash, err, details)
	return res, err
}

func (s *Session) sealDocument(ctx context.Context, content []byte) (*seal.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, ErrSessionEnded
	}

	s.cancelTimerLocked()
	pendingBefore := s.chain.PendingCount()
	blocks, err := s.chain.Finalize()
	if err != nil {
		return nil, err
	}
	if pendingBefore > 0 {
		s.metrics.ObserveBlockSealed(metrics.TriggerFinalize)
	}
	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}

	res, err := s.sealer.Seal(s.meta, blocks, content)
	if err != nil {
		s.logger.WarnContext(ctx, "seal failed, events kept for retry", "session_id", s.id, "error", err)
		return nil, err
	}

	if err := s.store.AppendSeal(ctx, &store.SealRecord{
		SessionID:    s.id,
		DocumentHash: res.DocumentHash,
		EventCount:   res.EventCount,
		BlockCount:   res.BlockCount,
		Token:        res.Token,
		IssuedAt:     res.IssuedAt,
	}); err != nil {
		// The token is valid; a missing seal record only loses the archive copy.
		s.logger.ErrorContext(ctx, "failed to record seal", "session_id", s.id, "error", err)
	}

	s.chain.Reset()
	s.meta.Rep++
	if err := s.persistLocked(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist reset chain", "session_id", s.id, "error", err)
	}

	s.logger.InfoContext(ctx, "document sealed",
		"session_id", s.id,
		"events", res.EventCount,
		"blocks", res.BlockCount,
		"document_hash", res.DocumentHash,
	)
	return res, nil
}

// end stops the timer, seals pending events and marks the session ended.
func (s *Session) end(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil
	}
	s.cancelTimerLocked()
	if err := s.sealBlockLocked(metrics.TriggerFinalize); err != nil {
		return err
	}
	s.ended = true
	return s.persistLocked(ctx)
}

// stop cancels the timer without touching the chain.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
}

func (s *Session) armTimerLocked() {
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.policy.BlockInterval, func() {
		s.onTimer(gen)
	})
}

func (s *Session) cancelTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) onTimer(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.ended {
		return
	}
	s.timer = nil
	if err := s.sealBlockLocked(metrics.TriggerTimer); err != nil {
		s.logger.Error("timed block seal failed", "session_id", s.id, "error", err)
		return
	}
	if err := s.persistLocked(context.Background()); err != nil {
		s.logger.Error("failed to persist session", "session_id", s.id, "error", err)
	}
}

func (s *Session) sealBlockLocked(trigger string) error {
	block, err := s.chain.SealBlock()
	if err != nil {
		return err
	}
	if block != nil {
		s.metrics.ObserveBlockSealed(trigger)
		s.logger.Debug("block sealed",
			"session_id", s.id,
			"trigger", trigger,
			"events", len(block.Events),
			"block_hash", block.BlockHash,
		)
	}
	return nil
}

func (s *Session) persistLocked(ctx context.Context) error {
	snap := &store.Snapshot{
		SessionID:    s.id,
		Subject:      s.meta.Subject,
		SessionIndex: s.meta.SessionIndex,
		Rep:          s.meta.Rep,
		Chain:        s.chain.State(),
		Ended:        s.ended,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.now(),
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("session %s: persist: %w", s.id, err)
	}
	return nil
}
