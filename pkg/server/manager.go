package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edelvalle/djhtmx/pkg/component"
	"github.com/edelvalle/djhtmx/pkg/dispatch"
	"github.com/edelvalle/djhtmx/pkg/protocol"
	"github.com/edelvalle/djhtmx/pkg/registry"
	"github.com/edelvalle/djhtmx/pkg/render"
	"github.com/edelvalle/djhtmx/pkg/signal"
	"github.com/edelvalle/djhtmx/pkg/store"
)

// Manager owns the live sessions of one application: it upgrades
// connections, enforces limits, reaps idle sessions, persists detached
// state and fans mutation topics out to every session's router.
type Manager struct {
	types    *component.TypeRegistry
	renderer render.Renderer
	store    store.Store
	signer   *protocol.Signer
	notifier signal.Notifier
	config   *Config
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithRegisterer sets the Prometheus registerer for server metrics.
func WithRegisterer(reg prometheus.Registerer) ManagerOption {
	return func(m *Manager) { m.metrics = NewMetrics(reg) }
}

// WithNotifier replaces the default topic expansion.
func WithNotifier(n signal.Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// NewManager creates a Manager and starts its idle-session reaper. The
// store holds detached session snapshots; pass a MemoryStore for
// single-process deployments.
func NewManager(types *component.TypeRegistry, renderer render.Renderer, st store.Store, config *Config, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Manager{
		types:    types,
		renderer: renderer,
		store:    st,
		signer:   protocol.NewSigner([]byte(config.SigningKey)),
		notifier: signal.TopicsFor{},
		config:   config,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     config.CheckOrigin,
	}
	if config.SigningKey == "" {
		m.logger.Warn("signing key is empty; state blobs are forgeable across restarts")
	}

	go m.reapLoop()
	return m
}

// Signer returns the state signer, shared with page rendering so initial
// markup can embed signed states.
func (m *Manager) Signer() *protocol.Signer { return m.signer }

// Connect upgrades an HTTP request to a WebSocket session. A "session"
// query parameter reattaches saved state from the store.
func (m *Manager) Connect(w http.ResponseWriter, r *http.Request) (*Session, error) {
	sessionID := r.URL.Query().Get("session")

	if m.config.MaxSessions > 0 && m.Len() >= m.config.MaxSessions {
		if sessionID != "" {
			// A refused reconnect keeps its detached snapshot alive for
			// the retry.
			m.touch(r.Context(), sessionID)
		}
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return nil, ErrMaxSessionsReached
	}

	if sessionID == "" {
		sessionID = generateSessionID()
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, NewSessionError(sessionID, "upgrade", err)
	}

	reg := registry.New()
	m.restore(r.Context(), sessionID, reg)

	d := dispatch.New(m.types, reg, m.renderer, m.signer, dispatch.WithLogger(m.logger))
	sess := newSession(sessionID, conn, d, m.config, m.logger, m.metrics)
	sess.onClose = m.detach

	m.mu.Lock()
	if old, ok := m.sessions[sessionID]; ok {
		// A reconnect raced the old connection's teardown.
		old.onClose = nil
		go old.Close()
	}
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	m.metrics.ActiveSessions.Inc()
	m.metrics.SessionsTotal.Inc()
	m.logger.Info("session connected", "session_id", sessionID)

	sess.Start()
	return sess, nil
}

// restore folds a saved snapshot back into a fresh registry.
func (m *Manager) restore(ctx context.Context, sessionID string, reg *registry.Registry) {
	data, err := m.store.Load(ctx, sessionID)
	if err != nil {
		m.logger.Warn("session restore failed", "session_id", sessionID, "error", err)
		return
	}
	if data == nil {
		return
	}
	snap, err := store.DecodeSnapshot(data)
	if err != nil {
		m.logger.Warn("session snapshot corrupt", "session_id", sessionID, "error", err)
		return
	}
	reg.Restore(snap)
	m.store.Delete(ctx, sessionID)
	m.logger.Info("session restored", "session_id", sessionID, "components", reg.Len())
}

// touch extends a detached snapshot's expiry. Touching an unknown session
// is a no-op in every backend.
func (m *Manager) touch(ctx context.Context, sessionID string) {
	if err := m.store.Touch(ctx, sessionID, time.Now().Add(m.config.IdleTimeout)); err != nil {
		m.logger.Warn("session touch failed", "session_id", sessionID, "error", err)
	}
}

// detach runs when a session closes: the registry snapshot is saved so a
// reconnect within the idle window resumes where it left off.
func (m *Manager) detach(sess *Session) {
	m.mu.Lock()
	if m.sessions[sess.ID] == sess {
		delete(m.sessions, sess.ID)
	}
	m.mu.Unlock()
	m.metrics.ActiveSessions.Dec()

	snap := sess.dispatcher.Registry().Snapshot()
	if len(snap.States) == 0 {
		return
	}
	data, err := store.EncodeSnapshot(snap)
	if err != nil {
		m.logger.Error("session snapshot failed", "session_id", sess.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, sess.ID, data, time.Now().Add(m.config.IdleTimeout)); err != nil {
		m.logger.Error("session save failed", "session_id", sess.ID, "error", err)
		return
	}
	m.logger.Info("session detached", "session_id", sess.ID, "components", len(snap.States))
}

// Get returns a connected session by id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// Len returns the number of connected sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast expands one entity mutation into its topic set and notifies
// every connected session. This is the hook data stores call after a
// commit.
func (m *Manager) Broadcast(entity, instanceID string, action signal.Action, related ...signal.Relation) {
	m.Notify(m.notifier.TopicsFor(entity, instanceID, action, related...))
}

// Notify fans a pre-expanded topic set out to every session's router.
// Sessions whose queues are full are skipped; their state self-heals on
// the next event.
func (m *Manager) Notify(topics []string) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if err := sess.Router().Notify(topics); err != nil {
			m.logger.Warn("signal delivery failed", "session_id", sess.ID, "error", err)
		}
	}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) reap() {
	cutoff := time.Now().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	var idle []*Session
	for _, sess := range m.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range idle {
		m.logger.Info("reaping idle session", "session_id", sess.ID)
		sess.Close()
	}
}

// Shutdown closes every session, saving their state through the detach
// hook. The store itself is not closed; it may be shared.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sess.Close()
	}
	return nil
}

// generateSessionID returns a cryptographically random session id.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
