package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StateChange describes one session's connection-lifecycle transition, as
// published on the Manager's aggregated notification channel.
type StateChange struct {
	SessionKey string
	OldState   State
	NewState   State
	Timestamp  time.Time
}

// notifyChSize bounds the aggregated state-change channel. Sized to absorb
// bursts across many sessions reconnecting at once without blocking a
// session's own processing goroutine.
const notifyChSize = 64

// Snapshot is a read-only view of one session's state at a point in time.
type Snapshot struct {
	Key              string
	State            State
	NextOutSeqNum    int64
	ExpectedInSeqNum int64
}

// MarshalJSON renders the state by name, so admin API consumers see
// "LoggedOn" rather than an opaque integer.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a state name produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []State{StateNotLoggedOn, StateLoggedOn, StateLogoutInProgress, StateDisconnected} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", name)
}

// Manager owns every FIX session this node drives, keyed by composite
// session key, and fans out connection-lifecycle state changes to external
// consumers through StateChanges.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	rawNotifyCh    chan StateChange
	publicNotifyCh chan StateChange

	logger     *slog.Logger
	metrics    MetricsReporter
	appHandler ApplicationHandler
	auth       Authenticator
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithManagerApplicationHandler installs the handler every Session the Manager
// creates will route application-layer (non-session) messages to.
func WithManagerApplicationHandler(h ApplicationHandler) ManagerOption {
	return func(m *Manager) { m.appHandler = h }
}

// WithManagerAuthenticator installs the credential check applied to inbound
// Logons on every acceptor Session the Manager creates.
func WithManagerAuthenticator(a Authenticator) ManagerOption {
	return func(m *Manager) { m.auth = a }
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger, metrics MetricsReporter, opts ...ManagerOption) *Manager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	m := &Manager{
		sessions:       make(map[string]*Session),
		rawNotifyCh:    make(chan StateChange, notifyChSize),
		publicNotifyCh: make(chan StateChange, notifyChSize),
		logger:         logger.With(slog.String("component", "session_manager")),
		metrics:        metrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.dispatchLoop()
	return m
}

// CreateSession constructs and registers a new Session for cfg. It is an
// error to create two sessions with the same composite key.
func (m *Manager) CreateSession(ctx context.Context, cfg Config, proxy SessionProxy, now time.Time) (*Session, error) {
	key := cfg.Key()

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, ErrDuplicateSession)
	}
	sessOpts := []Option{WithMetrics(m.metrics), withStateNotifier(func(sc StateChange) {
		select {
		case m.rawNotifyCh <- sc:
		default:
			m.logger.Warn("dropping state change, raw channel full", slog.String("session", sc.SessionKey))
		}
	})}
	if m.appHandler != nil {
		sessOpts = append(sessOpts, WithApplicationHandler(m.appHandler))
	}
	if m.auth != nil {
		sessOpts = append(sessOpts, WithAuthenticator(m.auth))
	}
	sess := New(cfg, proxy, m.logger, sessOpts...)
	m.sessions[key] = sess
	m.mu.Unlock()

	if err := sess.Start(ctx, now); err != nil {
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		return nil, fmt.Errorf("start session %s: %w", key, err)
	}

	return sess, nil
}

// DestroySession stops and removes the session identified by key.
func (m *Manager) DestroySession(ctx context.Context, key string, now time.Time) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(m.sessions, key)
	m.mu.Unlock()

	return sess.Stop(ctx, now, "session removed")
}

// Lookup returns the session for key, if any.
func (m *Manager) Lookup(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[key]
	return sess, ok
}

// Sessions returns a snapshot of every registered session.
func (m *Manager) Sessions() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.sessions))
	for key, sess := range m.sessions {
		out = append(out, Snapshot{
			Key:              key,
			State:            sess.State(),
			NextOutSeqNum:    sess.nextOutSeqNum.Load(),
			ExpectedInSeqNum: sess.expectedInSeqNum.Load(),
		})
	}
	return out
}

// PollAll drives Poll(now) across every registered session and returns the
// total work performed. Intended to be called from an agent's poll
// callback (see the agent package) rather than a dedicated goroutine.
func (m *Manager) PollAll(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	work := 0
	for _, sess := range sessions {
		work += sess.Poll(ctx, now)
	}
	return work
}

// StateChanges returns the channel external consumers should read
// published StateChange events from.
func (m *Manager) StateChanges() <-chan StateChange {
	return m.publicNotifyCh
}

// dispatchLoop forwards raw state-change notifications to the public
// channel, dropping (and logging) if the consumer is not keeping up rather
// than blocking session processing.
func (m *Manager) dispatchLoop() {
	for sc := range m.rawNotifyCh {
		select {
		case m.publicNotifyCh <- sc:
		default:
			m.logger.Warn("dropping state change, consumer channel full",
				slog.String("session", sc.SessionKey))
		}
	}
}

// Close stops accepting new notifications and releases the Manager's
// background goroutine.
func (m *Manager) Close() {
	close(m.rawNotifyCh)
}
