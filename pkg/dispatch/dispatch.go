package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edelvalle/djhtmx/pkg/component"
	"github.com/edelvalle/djhtmx/pkg/protocol"
	"github.com/edelvalle/djhtmx/pkg/registry"
	"github.com/edelvalle/djhtmx/pkg/render"
	"github.com/edelvalle/djhtmx/pkg/signal"
)

// UnhandledErrorEvent is the application event emitted when a handler
// fails. Error-reporting components can listen for it; its payload carries
// component_id, component_type, handler and error.
const UnhandledErrorEvent = "djhtmx.unhandled_error"

// maxEmitGeneration caps chained Emit processing so mutually-triggering
// listeners cannot loop forever.
const maxEmitGeneration = 50

// Event is one inbound handler invocation.
type Event struct {
	ComponentID string

	// Handler is the name registered in the component type's handler
	// table.
	Handler string

	// Params are the explicit parameters declared at the call site.
	Params component.Params

	// Implicit are values harvested from named inputs inside the acting
	// element's component boundary. Explicit parameters win on conflict.
	Implicit component.Params

	// Fingerprint is the client's view of the component state. It must
	// match the committed fingerprint or the event is rejected.
	Fingerprint string
}

// Dispatcher executes events against a session's registry and interprets
// the resulting command sequences.
type Dispatcher struct {
	types    *component.TypeRegistry
	reg      *registry.Registry
	renderer render.Renderer
	signer   *protocol.Signer
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithTracer sets the otel tracer used for dispatch and render spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// New creates a Dispatcher over one session's registry.
func New(types *component.TypeRegistry, reg *registry.Registry, renderer render.Renderer, signer *protocol.Signer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		types:    types,
		reg:      reg,
		renderer: renderer,
		signer:   signer,
		logger:   slog.Default(),
		tracer:   otel.Tracer("djhtmx"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry this dispatcher operates on.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// Dispatch resolves and executes one event.
//
// Unknown component ids are an expected race and return (nil, nil). A
// fingerprint mismatch returns ErrIntegrity together with a send_state
// command so the client can resynchronize. Coercion failures return
// ErrBadParams with nothing mutated. A handler failure returns a
// HandlerError: the working copy is discarded, the committed state is
// untouched, and the only commands returned come from listeners of the
// unhandled-error event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]protocol.Command, error) {
	in, ok := d.reg.Get(ev.ComponentID)
	if !ok {
		d.logger.Debug("event for unknown component", "component_id", ev.ComponentID, "handler", ev.Handler)
		return nil, nil
	}

	ctx, span := d.tracer.Start(ctx, "djhtmx.dispatch", trace.WithAttributes(
		attribute.String("component.type", in.Type),
		attribute.String("component.handler", ev.Handler),
	))
	defer span.End()

	if in.Fingerprint != ev.Fingerprint {
		d.logger.Warn("stale fingerprint",
			"component_id", ev.ComponentID,
			"type", in.Type,
			"handler", ev.Handler)
		resync, err := d.sendStateFrame(in.ID)
		if err != nil {
			return nil, err
		}
		return []protocol.Command{resync}, fmt.Errorf("%w: %s", ErrIntegrity, ev.ComponentID)
	}

	def, err := d.types.Get(in.Type)
	if err != nil {
		return nil, err
	}
	handler, err := def.Handler(ev.Handler)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownHandler, in.Type, ev.Handler)
	}

	comp, err := def.Materialize(in.State)
	if err != nil {
		return nil, err
	}

	cmds, err := invoke(handler, comp, ev.Implicit.Merge(ev.Params))
	if err != nil {
		if errors.Is(err, component.ErrCoerce) {
			return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
		}
		herr := asHandlerError(in, ev.Handler, err)
		d.logger.Error("handler failed", "error", herr)
		out, _ := d.runUnhandledError(ctx, herr)
		return out, herr
	}

	q := newCommandQueue()
	d.settle(comp, cmds, q)
	return d.run(ctx, q)
}

// EvaluateBatch applies a planned signal batch: destructions first, then
// re-renders, all through the same command loop as user events.
func (d *Dispatcher) EvaluateBatch(ctx context.Context, evals []signal.Evaluation) ([]protocol.Command, error) {
	q := newCommandQueue()
	for _, ev := range evals {
		if ev.Destroy {
			q.push(component.Destroy{ComponentID: ev.ComponentID})
		} else {
			q.push(component.Render{ComponentID: ev.ComponentID})
		}
	}
	return d.run(ctx, q)
}

// AddStates folds client-supplied signed states into the registry, as sent
// in an addition message. States of unknown or private types are rejected.
func (d *Dispatcher) AddStates(states []string, subscriptions map[string]string) error {
	for _, blob := range states {
		id, typeName, state, err := d.signer.UnsignState(blob)
		if err != nil {
			return err
		}
		def, err := d.types.Get(typeName)
		if err != nil {
			return err
		}
		if !def.Public {
			return fmt.Errorf("%w: %q is private", component.ErrTypeNotFound, typeName)
		}
		var subs []string
		if descriptor := subscriptions[id]; descriptor != "" {
			subs = strings.Split(descriptor, ",")
		}
		d.reg.Register(id, typeName, state, "", subs)
	}
	return nil
}

// RemoveStates detaches unmounted components from the signal router. State
// is retained for reattachment; only the subscriptions go.
func (d *Dispatcher) RemoveStates(ids []string) {
	d.reg.DropSubscriptions(ids...)
}

// settle commits a component's post-handler state and queues its commands,
// appending the implicit default render when the handler produced neither a
// render nor a skip for its own id.
func (d *Dispatcher) settle(c component.Component, cmds []component.Command, q *commandQueue) {
	id := c.ComponentID()
	cmds = normalize(id, cmds)

	rendered := false
	for _, cmd := range cmds {
		switch v := cmd.(type) {
		case component.Render:
			rendered = rendered || v.ComponentID == id
		case component.SkipRender:
			rendered = rendered || v.ComponentID == id
		}
	}
	if !rendered {
		cmds = append(cmds, component.Render{ComponentID: id})
	}

	state, err := component.Serialize(c)
	if err != nil {
		d.logger.Error("serialize failed", "component_id", id, "error", err)
		return
	}
	d.reg.Commit(id, state, c.Subscriptions())
	q.push(cmds...)
}

// normalize fills the invoking component's id into self-targeting commands
// that left it empty.
func normalize(id string, cmds []component.Command) []component.Command {
	out := make([]component.Command, len(cmds))
	for i, cmd := range cmds {
		switch v := cmd.(type) {
		case component.Render:
			if v.ComponentID == "" {
				v.ComponentID = id
			}
			out[i] = v
		case component.SkipRender:
			if v.ComponentID == "" {
				v.ComponentID = id
			}
			out[i] = v
		case component.Destroy:
			if v.ComponentID == "" {
				v.ComponentID = id
			}
			out[i] = v
		case component.SendState:
			if v.ComponentID == "" {
				v.ComponentID = id
			}
			out[i] = v
		default:
			out[i] = cmd
		}
	}
	return out
}

// run drains the queue, translating each command into its wire form.
func (d *Dispatcher) run(ctx context.Context, q *commandQueue) ([]protocol.Command, error) {
	var out []protocol.Command
	generation := 0

	for !q.empty() {
		switch c := q.pop().(type) {
		case component.Emit:
			generation++
			if generation > maxEmitGeneration {
				return out, ErrEmitCycle
			}
			d.processEmit(ctx, c, q)

		case component.Destroy:
			d.reg.Unregister(c.ComponentID)
			out = append(out, protocol.Command{Command: protocol.CmdDestroy, ComponentID: c.ComponentID})

		case component.SkipRender:
			// state already committed, nothing for the client

		case component.Render:
			frame, ok, err := d.renderFrame(ctx, c)
			if err != nil {
				return out, err
			}
			if ok {
				out = append(out, frame)
			}

		case component.BuildAndRender:
			frame, err := d.buildAndRender(ctx, c)
			if err != nil {
				return out, err
			}
			out = append(out, frame)

		case component.SendState:
			frame, err := d.sendStateFrame(c.ComponentID)
			if err != nil {
				return out, err
			}
			if frame.Command != "" {
				out = append(out, frame)
			}

		case component.Redirect:
			out = append(out, protocol.Command{Command: protocol.CmdRedirect, URL: c.URL})

		case component.Open:
			out = append(out, protocol.Command{
				Command:      protocol.CmdOpen,
				URL:          c.URL,
				WindowTarget: c.Target,
				WindowName:   c.Name,
			})

		case component.Focus:
			out = append(out, protocol.Command{Command: protocol.CmdFocus, Selector: c.Selector})

		case component.ScrollIntoView:
			out = append(out, protocol.Command{
				Command:  protocol.CmdScrollIntoView,
				Selector: c.Selector,
				Behavior: c.Behavior,
				Block:    c.Block,
			})

		case component.PushURL:
			out = append(out, protocol.Command{Command: protocol.CmdPushURL, URL: c.URL})

		case component.ReplaceURL:
			out = append(out, protocol.Command{Command: protocol.CmdReplaceURL, URL: c.URL})

		case component.DispatchDOMEvent:
			out = append(out, protocol.Command{
				Command:    protocol.CmdDispatchEvent,
				Target:     c.Target,
				Event:      c.Event,
				Detail:     c.Detail,
				Bubbles:    c.Bubbles,
				Cancelable: c.Cancelable,
				Composed:   c.Composed,
			})
		}
	}
	return out, nil
}

// processEmit wakes every component whose type listens for the event.
func (d *Dispatcher) processEmit(ctx context.Context, emit component.Emit, q *commandQueue) {
	for _, typeName := range d.types.Names() {
		def, err := d.types.Get(typeName)
		if err != nil {
			continue
		}
		listener, ok := def.Listener(emit.Event)
		if !ok {
			continue
		}
		for _, in := range d.reg.ByType(typeName) {
			comp, err := def.Materialize(in.State)
			if err != nil {
				d.logger.Error("materialize failed", "component_id", in.ID, "error", err)
				continue
			}
			cmds, err := invokeListener(listener, comp, emit.Payload)
			if err != nil {
				d.logger.Error("listener failed",
					"component_id", in.ID,
					"event", emit.Event,
					"error", err)
				// A failing unhandled-error listener must not spiral.
				if emit.Event != UnhandledErrorEvent {
					q.push(component.Emit{
						Event: UnhandledErrorEvent,
						Payload: map[string]any{
							"component_id":   in.ID,
							"component_type": in.Type,
							"handler":        emit.Event,
							"error":          err.Error(),
						},
					})
				}
				continue
			}
			d.settle(comp, cmds, q)
		}
	}
}

// runUnhandledError routes a handler failure through the unhandled-error
// event so reporting components can react.
func (d *Dispatcher) runUnhandledError(ctx context.Context, herr *HandlerError) ([]protocol.Command, error) {
	q := newCommandQueue()
	q.push(component.Emit{
		Event: UnhandledErrorEvent,
		Payload: map[string]any{
			"component_id":   herr.ComponentID,
			"component_type": herr.Type,
			"handler":        herr.Handler,
			"error":          herr.Error(),
		},
	})
	return d.run(ctx, q)
}

// renderFrame renders a component's committed state into a render command.
// A component destroyed since the render was queued is silently skipped.
func (d *Dispatcher) renderFrame(ctx context.Context, cmd component.Render) (protocol.Command, bool, error) {
	in, ok := d.reg.Get(cmd.ComponentID)
	if !ok {
		return protocol.Command{}, false, nil
	}

	ctx, span := d.tracer.Start(ctx, "djhtmx.render", trace.WithAttributes(
		attribute.String("component.type", in.Type),
	))
	defer span.End()

	opts := render.Options{Template: cmd.Template, Context: cmd.Context}
	if opts.Template == "" {
		if def, err := d.types.Get(in.Type); err == nil {
			opts.Template = def.Template
		}
	}
	html, err := d.renderer.Render(ctx, in.Type, in.State, opts)
	if err != nil {
		// Committed state stays committed; rendering is a read.
		return protocol.Command{}, false, fmt.Errorf("dispatch: render %s (%s): %w", in.Type, in.ID, err)
	}
	return protocol.Command{
		Command:     protocol.CmdRender,
		ComponentID: in.ID,
		HTML:        html,
		Target:      cmd.OOB,
	}, true, nil
}

// buildAndRender instantiates a new component, registers it under its
// parent and renders its initial markup for insertion at the target.
func (d *Dispatcher) buildAndRender(ctx context.Context, cmd component.BuildAndRender) (protocol.Command, error) {
	def, err := d.types.Get(cmd.TypeName)
	if err != nil {
		return protocol.Command{}, err
	}
	initial, err := json.Marshal(cmd.State)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("dispatch: build %s: %w", cmd.TypeName, err)
	}
	comp, err := def.Materialize(initial)
	if err != nil {
		return protocol.Command{}, err
	}
	state, err := component.Serialize(comp)
	if err != nil {
		return protocol.Command{}, err
	}
	id := comp.ComponentID()
	d.reg.Register(id, cmd.TypeName, state, cmd.ParentID, comp.Subscriptions())

	html, err := d.renderer.Render(ctx, cmd.TypeName, state, render.Options{Template: def.Template})
	if err != nil {
		return protocol.Command{}, fmt.Errorf("dispatch: render %s (%s): %w", cmd.TypeName, id, err)
	}
	return protocol.Command{
		Command:     protocol.CmdBuildAndRender,
		ComponentID: id,
		ParentID:    cmd.ParentID,
		Target:      cmd.Target,
		HTML:        html,
	}, nil
}

// sendStateFrame signs a component's committed state for the client cache.
// A missing component yields a zero command.
func (d *Dispatcher) sendStateFrame(id string) (protocol.Command, error) {
	in, ok := d.reg.Get(id)
	if !ok {
		return protocol.Command{}, nil
	}
	blob, err := d.signer.SignState(in.ID, in.Type, in.State)
	if err != nil {
		return protocol.Command{}, err
	}
	return protocol.Command{
		Command:     protocol.CmdSendState,
		ComponentID: in.ID,
		State:       blob,
		Fingerprint: in.Fingerprint,
	}, nil
}

// invoke runs a handler, converting panics into errors.
func invoke(h component.HandlerFunc, c component.Component, p component.Params) (cmds []component.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r, stack: debug.Stack()}
		}
	}()
	return h(c, p)
}

// invokeListener runs a listener, converting panics into errors.
func invokeListener(l component.ListenerFunc, c component.Component, payload map[string]any) (cmds []component.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r, stack: debug.Stack()}
		}
	}()
	return l(c, payload)
}

type panicError struct {
	val   any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }

func asHandlerError(in *registry.Instance, handler string, err error) *HandlerError {
	herr := &HandlerError{
		ComponentID: in.ID,
		Type:        in.Type,
		Handler:     handler,
		Err:         err,
	}
	var pe *panicError
	if errors.As(err, &pe) {
		herr.Panic = pe.val
		herr.Stack = pe.stack
		herr.Err = nil
	}
	return herr
}
