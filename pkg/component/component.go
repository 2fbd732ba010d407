package component

import (
	"strings"

	"github.com/google/uuid"
)

// Component is the interface user component types implement.
//
// A component is a unit of UI state with its own handlers and
// subscriptions. Its exported fields are the serialized state; they must
// round-trip through JSON. The embedded Base supplies the identity.
type Component interface {
	// ComponentID returns the instance id, stable across re-renders of the
	// same logical instance.
	ComponentID() string

	// Subscriptions returns the set of topics this instance wants mutation
	// notifications for. It is re-read after every successful handler run
	// and diffed against the previous set.
	Subscriptions() []string

	setID(id string)
}

// Base carries the component identity. Embed it by value in component
// structs:
//
//	type Counter struct {
//	    component.Base
//	    Count int `json:"count"`
//	}
type Base struct {
	ID string `json:"id"`
}

// ComponentID returns the instance id.
func (b *Base) ComponentID() string { return b.ID }

// Subscriptions returns no topics. Override on the component type to
// subscribe to mutation notifications.
func (b *Base) Subscriptions() []string { return nil }

func (b *Base) setID(id string) { b.ID = id }

// NewID returns a fresh component id. Ids are prefixed so they are valid
// HTML element ids and recognizable in the document.
func NewID() string {
	return "hx-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
