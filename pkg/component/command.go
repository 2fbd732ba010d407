package component

import "encoding/json"

// Command is a client-visible effect produced by a handler invocation.
// It is a closed sum: the variants below are the only implementations.
//
// Handlers return an ordered []Command. Returning none is equivalent to
// returning a single Render of the invoking component.
type Command interface {
	isCommand()
}

// Render replaces the markup of a component's subtree.
//
// Template selects a partial template override; empty means the component
// type's default template. OOB targets the fragment at an element other than
// the component's own node using an htmx-style swap spec such as
// "beforeend:#list" ("true" replaces the matching node itself). Context
// entries override the render context for this render only.
type Render struct {
	ComponentID string
	Template    string
	OOB         string
	Context     map[string]any
}

// SkipRender commits state without touching the DOM. It suppresses the
// implicit default render of the invoking component.
type SkipRender struct {
	ComponentID string
}

// Destroy removes a component and, transitively, all its descendants.
// A Destroy of the invoking component suppresses its implicit render and
// any command scheduled after it for the same id.
type Destroy struct {
	ComponentID string
}

// Redirect navigates the current page to URL.
type Redirect struct {
	URL string
}

// Open opens URL in a new browsing context.
type Open struct {
	URL    string
	Target string
	Name   string
}

// Focus focuses the first element matching Selector, if present.
type Focus struct {
	Selector string
}

// ScrollIntoView scrolls the first element matching Selector into view.
// Behavior and Block follow the DOM scrollIntoView options.
type ScrollIntoView struct {
	Selector string
	Behavior string
	Block    string
}

// PushURL pushes URL onto the browser history without navigating.
type PushURL struct {
	URL string
}

// ReplaceURL replaces the current history entry with URL without navigating.
type ReplaceURL struct {
	URL string
}

// DispatchDOMEvent fires a custom DOM event on the elements matching Target.
// Application on the client is deferred to the next scheduling turn so a
// handler's own dispatch can never recurse on the same call stack.
type DispatchDOMEvent struct {
	Target     string
	Event      string
	Detail     any
	Bubbles    bool
	Cancelable bool
	Composed   bool
}

// Emit publishes an application event to every component type that
// registered a listener for it. Listeners run inside the same command loop
// and their commands are appended to the sequence.
type Emit struct {
	Event   string
	Payload map[string]any
}

// BuildAndRender instantiates a new component of the named type with the
// given initial state and inserts its markup at Target. ParentID, when not
// empty, links the new instance under an existing one so it is destroyed
// with its ancestor.
type BuildAndRender struct {
	Target   string
	TypeName string
	State    map[string]any
	ParentID string
}

// SendState refreshes the client's cached state and fingerprint for a
// component without any visual change.
type SendState struct {
	ComponentID string
	State       json.RawMessage
}

func (Render) isCommand()           {}
func (SkipRender) isCommand()       {}
func (Destroy) isCommand()          {}
func (Redirect) isCommand()         {}
func (Open) isCommand()             {}
func (Focus) isCommand()            {}
func (ScrollIntoView) isCommand()   {}
func (PushURL) isCommand()          {}
func (ReplaceURL) isCommand()       {}
func (DispatchDOMEvent) isCommand() {}
func (Emit) isCommand()             {}
func (BuildAndRender) isCommand()   {}
func (SendState) isCommand()        {}
