package component

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for type registry lookups.
var (
	// ErrTypeNotFound is returned when a component type name is not
	// registered.
	ErrTypeNotFound = errors.New("component: type not found")

	// ErrHandlerNotFound is returned when a component type has no handler
	// with the requested name.
	ErrHandlerNotFound = errors.New("component: handler not found")
)

// HandlerFunc is the type-erased form of a registered handler. The adapter
// asserting the concrete component type is built once at registration time.
type HandlerFunc func(c Component, p Params) ([]Command, error)

// ListenerFunc handles an application event published with Emit.
type ListenerFunc func(c Component, payload map[string]any) ([]Command, error)

// TypeDef describes one registered component type: its factory, default
// template, and handler and listener tables.
type TypeDef struct {
	Name     string
	Template string

	// Public types may be instantiated from client-supplied payloads
	// (mount additions, BuildAndRender). Private types can only be built
	// server-side.
	Public bool

	factory   func() Component
	handlers  map[string]HandlerFunc
	listeners map[string]ListenerFunc
}

// Handler returns the named handler, or ErrHandlerNotFound.
func (d *TypeDef) Handler(name string) (HandlerFunc, error) {
	h, ok := d.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrHandlerNotFound, d.Name, name)
	}
	return h, nil
}

// Listener returns the listener for the named application event and whether
// one is registered.
func (d *TypeDef) Listener(event string) (ListenerFunc, bool) {
	l, ok := d.listeners[event]
	return l, ok
}

// New returns a zero-value instance of the type.
func (d *TypeDef) New() Component { return d.factory() }

// Materialize builds an instance of the type from serialized state. A state
// without an id gets a fresh one assigned.
func (d *TypeDef) Materialize(state json.RawMessage) (Component, error) {
	c := d.factory()
	if len(state) > 0 {
		if err := json.Unmarshal(state, c); err != nil {
			return nil, fmt.Errorf("component: materialize %s: %w", d.Name, err)
		}
	}
	if c.ComponentID() == "" {
		c.setID(NewID())
	}
	return c, nil
}

// TypeRegistry maps component type names to their definitions. It is
// constructed at startup, populated by Register calls, and then treated as
// read-only; it is threaded through the dispatcher and transport as an
// explicit dependency rather than living in package-level state.
type TypeRegistry struct {
	types map[string]*TypeDef
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]*TypeDef)}
}

// Get returns the definition for name, or ErrTypeNotFound.
func (r *TypeRegistry) Get(name string) (*TypeDef, error) {
	d, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, name)
	}
	return d, nil
}

// Names returns the registered type names.
func (r *TypeRegistry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// Type is the registration builder for a concrete component type T.
type Type[T Component] struct {
	def *TypeDef
}

// Register adds a component type to the registry under name. The factory
// must return a fresh zero-value instance. Registering the same name twice
// panics; registration is a startup-time operation.
func Register[T Component](r *TypeRegistry, name string, factory func() T) *Type[T] {
	if _, dup := r.types[name]; dup {
		panic(fmt.Sprintf("component: type %q registered twice", name))
	}
	def := &TypeDef{
		Name:      name,
		Public:    true,
		factory:   func() Component { return factory() },
		handlers:  make(map[string]HandlerFunc),
		listeners: make(map[string]ListenerFunc),
	}
	r.types[name] = def
	return &Type[T]{def: def}
}

// Template sets the default template name used by the renderer collaborator.
func (t *Type[T]) Template(name string) *Type[T] {
	t.def.Template = name
	return t
}

// Private excludes the type from client-side instantiation.
func (t *Type[T]) Private() *Type[T] {
	t.def.Public = false
	return t
}

// Handler registers a handler taking the raw parameter map.
func (t *Type[T]) Handler(name string, fn func(c T, p Params) ([]Command, error)) *Type[T] {
	t.def.handlers[name] = func(c Component, p Params) ([]Command, error) {
		tc, ok := c.(T)
		if !ok {
			return nil, fmt.Errorf("component: handler %s.%s: wrong receiver %T", t.def.Name, name, c)
		}
		return fn(tc, p)
	}
	return t
}

// HandlerP registers a handler with a declared parameter shape P. The event
// parameters are coerced into P before the handler runs; coercion failure
// rejects the event without invoking it.
func HandlerP[T Component, P any](t *Type[T], name string, fn func(c T, p P) ([]Command, error)) *Type[T] {
	t.def.handlers[name] = func(c Component, p Params) ([]Command, error) {
		tc, ok := c.(T)
		if !ok {
			return nil, fmt.Errorf("component: handler %s.%s: wrong receiver %T", t.def.Name, name, c)
		}
		var params P
		if err := decodeParams(p, &params); err != nil {
			return nil, err
		}
		return fn(tc, params)
	}
	return t
}

// Listen registers a listener for an application event published with Emit.
func (t *Type[T]) Listen(event string, fn func(c T, payload map[string]any) ([]Command, error)) *Type[T] {
	t.def.listeners[event] = func(c Component, payload map[string]any) ([]Command, error) {
		tc, ok := c.(T)
		if !ok {
			return nil, fmt.Errorf("component: listener %s/%s: wrong receiver %T", t.def.Name, event, c)
		}
		return fn(tc, payload)
	}
	return t
}

// Serialize returns the canonical JSON state of a component instance.
func Serialize(c Component) (json.RawMessage, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("component: serialize %s: %w", c.ComponentID(), err)
	}
	return raw, nil
}
