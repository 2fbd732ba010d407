package client

import (
	"github.com/edelvalle/djhtmx/pkg/protocol"
)

// CachedState is the client's copy of one component's server state: the
// signed blob played back on the stateless channel and the fingerprint
// attached to every event.
type CachedState struct {
	State       string
	Fingerprint string
}

// Interpreter applies server commands to the document and the local
// tracking state. It is a fixed consumer loop over the command sequence; a
// command's kind fully determines its effect.
type Interpreter struct {
	doc     Document
	tracker *MountTracker
	states  map[string]CachedState

	// deferred holds dispatch_event commands until the next scheduling
	// turn. Firing them synchronously from inside a handler could be
	// caught by a handler that dispatches again, recursing unbounded on
	// one call stack; deferral breaks that chain.
	deferred []protocol.Command
}

// NewInterpreter creates an Interpreter over a document and tracker.
func NewInterpreter(doc Document, tracker *MountTracker) *Interpreter {
	return &Interpreter{
		doc:     doc,
		tracker: tracker,
		states:  make(map[string]CachedState),
	}
}

// Tracker returns the mount tracker.
func (it *Interpreter) Tracker() *MountTracker { return it.tracker }

// State returns the cached state for a component id.
func (it *Interpreter) State(id string) (CachedState, bool) {
	s, ok := it.states[id]
	return s, ok
}

// SetState seeds the cache, as done on initial page delivery.
func (it *Interpreter) SetState(id string, s CachedState) {
	it.states[id] = s
}

// Apply applies one batch of commands in order. DOM-event dispatches are
// queued, not fired; call Settle on the next scheduling turn to flush
// them.
func (it *Interpreter) Apply(cmds []protocol.Command) {
	for _, cmd := range cmds {
		it.apply(cmd)
	}
}

func (it *Interpreter) apply(cmd protocol.Command) {
	switch cmd.Command {
	case protocol.CmdRender:
		active := it.doc.ActiveElement()
		var swapped bool
		if cmd.Target != "" {
			swapped = it.doc.InsertAt(cmd.Target, cmd.HTML)
		} else {
			swapped = it.doc.Replace(cmd.ComponentID, cmd.HTML)
		}
		if swapped && active != "" {
			// Preserve focus across the swap; an explicit focus command
			// later in the sequence still wins.
			it.doc.Focus(active)
		}

	case protocol.CmdDestroy:
		it.doc.Remove(cmd.ComponentID)
		it.tracker.Forget(cmd.ComponentID)
		delete(it.states, cmd.ComponentID)

	case protocol.CmdFocus:
		it.doc.Focus(cmd.Selector)

	case protocol.CmdScrollIntoView:
		it.doc.ScrollIntoView(cmd.Selector, cmd.Behavior, cmd.Block)

	case protocol.CmdRedirect:
		it.doc.Navigate(cmd.URL)

	case protocol.CmdOpen:
		it.doc.OpenWindow(cmd.URL, cmd.WindowTarget, cmd.WindowName)

	case protocol.CmdPushURL:
		it.doc.PushURL(cmd.URL)

	case protocol.CmdReplaceURL:
		it.doc.ReplaceURL(cmd.URL)

	case protocol.CmdDispatchEvent:
		it.deferred = append(it.deferred, cmd)

	case protocol.CmdSendState:
		it.states[cmd.ComponentID] = CachedState{
			State:       cmd.State,
			Fingerprint: cmd.Fingerprint,
		}

	case protocol.CmdBuildAndRender:
		if it.doc.InsertAt(cmd.Target, cmd.HTML) {
			it.tracker.Track(cmd.ComponentID)
		}
	}
}

// Settle fires the DOM events deferred by the last Apply. Dispatches
// queued by handlers running during Settle wait for the next turn.
func (it *Interpreter) Settle() {
	pending := it.deferred
	it.deferred = nil
	for _, cmd := range pending {
		it.doc.DispatchEvent(cmd.Target, cmd.Event, cmd.Detail, cmd.Bubbles, cmd.Cancelable, cmd.Composed)
	}
}

// PendingDispatches reports how many DOM events await the next turn.
func (it *Interpreter) PendingDispatches() int { return len(it.deferred) }
