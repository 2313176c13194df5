package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"humansign/internal/chain"
	"humansign/internal/logging"
	"humansign/internal/metrics"
	"humansign/internal/seal"
	"humansign/internal/store"
	"humansign/internal/verify"
)

// Manager owns every live session, keyed by session ID.
type Manager struct {
	store    store.Store
	sealer   *seal.Sealer
	recorder *RecordingVerifier
	policy   Policy

	logger  *logging.Logger
	audit   *logging.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the block sealing policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAudit sets the audit logger.
func WithAudit(a *logging.AuditLogger) Option {
	return func(m *Manager) { m.audit = a }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the wall clock used for snapshots and token iat.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager that seals with key and persists to st.
// The verifier checks tokens against the public half of key.
func NewManager(st store.Store, key *rsa.PrivateKey, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, errors.New("session: store is required")
	}
	if key == nil {
		return nil, errors.New("session: signing key is required")
	}

	m := &Manager{
		store:    st,
		policy:   DefaultPolicy(),
		logger:   logging.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("session")
	m.sealer = seal.NewSealer(key, seal.WithClock(m.now))
	v := verify.New(&key.PublicKey, verify.WithLogger(m.logger), verify.WithClock(m.now))
	m.recorder = NewRecordingVerifier(v, m.audit, m.metrics)
	return m, nil
}

func (m *Manager) newSession(id string, meta seal.Metadata, c *chain.Chain, createdAt time.Time) *Session {
	return &Session{
		id:        id,
		policy:    m.policy,
		createdAt: createdAt,
		chain:     c,
		sealer:    m.sealer,
		store:     m.store,
		logger:    m.logger,
		audit:     m.audit,
		metrics:   m.metrics,
		now:       m.now,
		meta:      meta,
	}
}

// Start opens a new session with a fresh ID and persists its empty chain.
func (m *Manager) Start(ctx context.Context, meta seal.Metadata) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, store.ErrClosed
	}

	id := uuid.NewString()
	s := m.newSession(id, meta, chain.New(), m.now())

	s.mu.Lock()
	err := s.persistLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.sessions[id] = s
	m.metrics.SessionStarted()
	_ = m.audit.LogSessionStart(ctx, id, map[string]any{
		"subject":       meta.Subject,
		"session_index": meta.SessionIndex,
	})
	m.logger.InfoContext(ctx, "session started", "session_id", id, "subject", meta.Subject)
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Resume restores a session from its latest snapshot. A session that is
// already live is returned as is. An ended session is returned without
// rejoining the live set.
func (m *Manager) Resume(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, store.ErrClosed
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	snap, err := m.store.LoadSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}

	c, err := chain.FromState(snap.Chain)
	if err != nil {
		return nil, fmt.Errorf("session %s: restore chain: %w", id, err)
	}

	meta := seal.Metadata{
		Subject:      snap.Subject,
		SessionIndex: snap.SessionIndex,
		Rep:          snap.Rep,
	}
	s := m.newSession(id, meta, c, snap.CreatedAt)
	if snap.Ended {
		// Ended sessions stay out of the live set; callers get a read-only view.
		s.ended = true
		return s, nil
	}

	// Events pending at crash time get a fresh interval.
	if c.PendingCount() > 0 && m.policy.BlockInterval > 0 {
		s.mu.Lock()
		s.armTimerLocked()
		s.mu.Unlock()
	}

	m.sessions[id] = s
	m.metrics.SessionStarted()
	m.logger.InfoContext(ctx, "session resumed",
		"session_id", id,
		"events", c.TotalCount(),
		"blocks", c.BlockCount(),
	)
	return s, nil
}

// ResumeAll restores every stored session that has not ended. It returns
// the number of sessions resumed; ended sessions are skipped.
func (m *Manager) ResumeAll(ctx context.Context) (int, error) {
	ids, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		s, err := m.Resume(ctx, id)
		if err != nil {
			m.logger.WarnContext(ctx, "failed to resume session", "session_id", id, "error", err)
			continue
		}
		if !s.Ended() {
			n++
		}
	}
	return n, nil
}

// End seals any pending events, marks the session ended and drops it from
// the live set. Its snapshot and seals stay in the store.
func (m *Manager) End(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	wasEnded := s.Ended()
	if err := s.end(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if !wasEnded {
		m.metrics.SessionEnded()
		st := s.Status()
		_ = m.audit.LogSessionEnd(ctx, id, map[string]any{
			"events": st.EventCount,
			"blocks": st.BlockCount,
		})
		m.logger.InfoContext(ctx, "session ended", "session_id", id)
	}
	return nil
}

// SetPolicy changes the sealing policy for sessions started or resumed
// afterwards. Live sessions keep the policy they were created with.
func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Policy returns the policy applied to new sessions.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// Sessions returns the IDs of live sessions, sorted.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seals returns the archived seal records of a session.
func (m *Manager) Seals(ctx context.Context, id string) ([]store.SealRecord, error) {
	return m.store.ListSeals(ctx, id)
}

// Verify checks tok against the manager's public key. A nil document
// skips the document binding check.
func (m *Manager) Verify(ctx context.Context, tok string, document []byte) *verify.Result {
	return m.recorder.Verify(ctx, tok, document)
}

// Close stops every timer. Pending events stay in the persisted snapshots
// so Resume picks them up on the next start.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, s := range m.sessions {
		s.stop()
	}
	m.sessions = make(map[string]*Session)
	return nil
}
