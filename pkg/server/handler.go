package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edelvalle/djhtmx/pkg/component"
	"github.com/edelvalle/djhtmx/pkg/dispatch"
	"github.com/edelvalle/djhtmx/pkg/protocol"
	"github.com/edelvalle/djhtmx/pkg/registry"
)

// Reserved form fields on the stateless channel. Everything else in the
// form is treated as an implicit parameter.
const (
	fieldStates        = "__states__"
	fieldSubscriptions = "__subscriptions__"
	fieldFingerprint   = "__fingerprint__"
	fieldParams        = "__params__"
)

// Routes returns the HTTP surface: the WebSocket endpoint and the
// stateless event endpoint.
//
//	GET  /ws                      upgrade to a live session
//	POST /{component}/{handler}   one-shot event over HTTP
func (m *Manager) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", m.handleWS)
	r.Post("/{component}/{handler}", m.handleHTTPEvent)
	return r
}

func (m *Manager) handleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := m.Connect(w, r); err != nil {
		m.logger.Warn("websocket connect failed", "error", err)
	}
}

// handleHTTPEvent serves the stateless channel: the request carries the
// full component state as signed blobs, a throwaway session is built from
// them, the event runs, and the response returns the command batch plus
// fresh state blobs for the client cache. Nothing survives the request.
func (m *Manager) handleHTTPEvent(w http.ResponseWriter, r *http.Request) {
	componentID := chi.URLParam(r, "component")
	handler := chi.URLParam(r, "handler")

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	states := r.PostForm[fieldStates]
	if m.config.Limits.MaxComponents > 0 && len(states) > m.config.Limits.MaxComponents {
		http.Error(w, "too many states", http.StatusRequestEntityTooLarge)
		return
	}

	subscriptions := map[string]string{}
	if raw := r.PostForm.Get(fieldSubscriptions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &subscriptions); err != nil {
			http.Error(w, "bad subscriptions", http.StatusBadRequest)
			return
		}
	}

	params := component.Params{}
	if raw := r.PostForm.Get(fieldParams); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
	}

	implicit := component.Params{}
	for key, values := range r.PostForm {
		if strings.HasPrefix(key, "__") || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			implicit[key] = values[0]
		} else {
			implicit[key] = values
		}
	}

	reg := registry.New()
	d := dispatch.New(m.types, reg, m.renderer, m.signer, dispatch.WithLogger(m.logger))
	if err := d.AddStates(states, subscriptions); err != nil {
		m.logger.Warn("rejected stateless states", "error", err)
		http.Error(w, "bad state", http.StatusBadRequest)
		return
	}

	cmds, err := d.Dispatch(r.Context(), dispatch.Event{
		ComponentID: componentID,
		Handler:     handler,
		Params:      params,
		Implicit:    implicit,
		Fingerprint: r.PostForm.Get(fieldFingerprint),
	})
	m.metrics.EventsTotal.WithLabelValues(eventResult(err)).Inc()

	status := http.StatusOK
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrIntegrity):
			status = http.StatusConflict
		case errors.Is(err, dispatch.ErrBadParams):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case errors.Is(err, dispatch.ErrUnknownHandler), errors.Is(err, component.ErrTypeNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		default:
			status = http.StatusInternalServerError
		}
	}

	// The client owns all state on this channel; refresh its cache for
	// every surviving component.
	cmds = append(cmds, m.stateFrames(reg)...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(cmds)
}

// stateFrames signs every registered component's committed state.
func (m *Manager) stateFrames(reg *registry.Registry) []protocol.Command {
	var frames []protocol.Command
	for _, id := range reg.IDs() {
		in, ok := reg.Get(id)
		if !ok {
			continue
		}
		blob, err := m.signer.SignState(in.ID, in.Type, in.State)
		if err != nil {
			m.logger.Error("state signing failed", "component_id", in.ID, "error", err)
			continue
		}
		frames = append(frames, protocol.Command{
			Command:     protocol.CmdSendState,
			ComponentID: in.ID,
			State:       blob,
			Fingerprint: in.Fingerprint,
		})
	}
	return frames
}
