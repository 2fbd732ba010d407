package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edelvalle/djhtmx/pkg/component"
	"github.com/edelvalle/djhtmx/pkg/dispatch"
	"github.com/edelvalle/djhtmx/pkg/protocol"
	"github.com/edelvalle/djhtmx/pkg/signal"
)

// Session is one persistent WebSocket connection and the component state
// behind it. All state access happens on the event loop goroutine; the
// read and write loops only move bytes.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn   *websocket.Conn
	mu     sync.Mutex // protects conn writes
	closed atomic.Bool

	dispatcher *dispatch.Dispatcher
	router     *signal.Router

	// queue is the single ordered stream the event loop drains: user
	// events, mount-diff updates and signal evaluations alike. One channel
	// keeps their relative order exactly as they arrived.
	queue chan func()
	done  chan struct{}

	lastActive atomic.Int64

	config  *Config
	logger  *slog.Logger
	metrics *Metrics

	// onClose is the manager's detach hook.
	onClose func(*Session)
}

func newSession(id string, conn *websocket.Conn, d *dispatch.Dispatcher, config *Config, logger *slog.Logger, metrics *Metrics) *Session {
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		conn:       conn,
		dispatcher: d,
		queue:      make(chan func(), config.MaxEventQueue),
		done:       make(chan struct{}),
		config:     config,
		logger:     logger.With("session_id", id),
		metrics:    metrics,
	}
	s.router = signal.NewRouter(d.Registry(), s, s.evaluateSignals)
	s.touch()
	return s
}

// Router returns the session's signal router.
func (s *Session) Router() *signal.Router { return s.router }

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Schedule places a closure onto the event loop. It implements
// signal.Scheduler; signal evaluations and mount-diff updates go through
// here so they serialize with user events.
func (s *Session) Schedule(fn func()) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.queue <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrEventQueueFull
	}
}

// Start launches the session's goroutines.
func (s *Session) Start() {
	go s.ReadLoop()
	go s.WriteLoop()
	go s.EventLoop()
}

// ReadLoop reads and decodes client messages until the connection closes.
// Events go to the event queue; mount-diff messages are scheduled onto the
// event loop directly.
func (s *Session) ReadLoop() {
	defer s.Close()

	if s.config.Limits.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(int64(s.config.Limits.MaxMessageBytes))
	}
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}
		s.touch()

		msg, err := protocol.DecodeClientMessage(data, s.config.Limits)
		if err != nil {
			// Malformed input is dropped; the connection stays up.
			s.logger.Warn("dropping message", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeEvent:
			m := msg
			if err := s.Schedule(func() { s.handleEvent(m) }); err != nil {
				s.metrics.EventsTotal.WithLabelValues(ResultDropped).Inc()
				s.logger.Warn("event dropped",
					"component_id", msg.ComponentID,
					"handler", msg.Handler,
					"error", err)
			}

		case protocol.TypeAdded:
			m := msg
			if err := s.Schedule(func() { s.handleAdded(m) }); err != nil {
				s.logger.Warn("added message dropped", "error", err)
			}

		case protocol.TypeRemoved:
			m := msg
			if err := s.Schedule(func() { s.dispatcher.RemoveStates(m.ComponentIDs) }); err != nil {
				s.logger.Warn("removed message dropped", "error", err)
			}
		}
	}
}

// WriteLoop sends heartbeat pings until the session closes.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sendPing(); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// EventLoop is the single goroutine that owns the session's component
// state. It drains the queue in arrival order until the session closes.
func (s *Session) EventLoop() {
	for {
		select {
		case fn := <-s.queue:
			s.runScheduled(fn)

		case <-s.done:
			return
		}
	}
}

func (s *Session) runScheduled(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled closure panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (s *Session) handleEvent(msg *protocol.ClientMessage) {
	typeName := ""
	if in, ok := s.dispatcher.Registry().Get(msg.ComponentID); ok {
		typeName = in.Type
	}

	ev := dispatch.Event{
		ComponentID: msg.ComponentID,
		Handler:     msg.Handler,
		Params:      component.Params(msg.Params),
		Fingerprint: msg.Fingerprint,
	}

	start := time.Now()
	cmds, err := s.dispatcher.Dispatch(context.Background(), ev)
	if typeName != "" {
		s.metrics.EventDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
	}
	s.metrics.EventsTotal.WithLabelValues(eventResult(err)).Inc()

	if err != nil && !errors.Is(err, dispatch.ErrIntegrity) {
		var herr *dispatch.HandlerError
		if errors.As(err, &herr) {
			s.logger.Error("handler failed", "error", herr)
		} else {
			s.logger.Warn("event rejected",
				"component_id", msg.ComponentID,
				"handler", msg.Handler,
				"error", err)
		}
	}

	// Resync and unhandled-error frames ride along even on failure.
	if len(cmds) > 0 {
		s.writeCommands(cmds)
	}
}

func eventResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, dispatch.ErrIntegrity):
		return ResultStale
	case errors.Is(err, dispatch.ErrBadParams):
		return ResultRejected
	default:
		return ResultError
	}
}

// handleAdded folds freshly mounted components into the registry.
func (s *Session) handleAdded(msg *protocol.ClientMessage) {
	if err := s.dispatcher.AddStates(msg.States, msg.Subscriptions); err != nil {
		s.logger.Warn("rejected added states", "error", err)
	}
}

// evaluateSignals applies a planned signal batch. It runs on the event
// loop, scheduled by the router.
func (s *Session) evaluateSignals(evals []signal.Evaluation) {
	s.metrics.SignalBatches.Inc()

	cmds, err := s.dispatcher.EvaluateBatch(context.Background(), evals)
	if err != nil {
		s.logger.Error("signal evaluation failed", "error", err)
	}
	if len(cmds) > 0 {
		s.writeCommands(cmds)
	}
}

// writeCommands sends one command batch as a single text message.
func (s *Session) writeCommands(cmds []protocol.Command) {
	data, err := json.Marshal(cmds)
	if err != nil {
		s.logger.Error("command encode failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("write error", "error", err)
		// ReadLoop notices the dead connection and closes the session.
		s.conn.Close()
		return
	}
	for _, c := range cmds {
		s.metrics.CommandsTotal.WithLabelValues(c.Command).Inc()
	}
}

func (s *Session) sendPing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last client activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close shuts the session down once. The manager's detach hook runs
// after the connection is closed.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
}
