package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/a-h/templ"
)

// TemplFactory builds the templ component rendering one instance from its
// committed serialized state. The options carry the partial-template
// override and per-render context entries.
type TemplFactory func(state json.RawMessage, opts Options) (templ.Component, error)

// TemplRenderer renders components through a-h/templ. A factory is
// registered per component type; it typically decodes the state into the
// type's view model and returns the generated templ component.
type TemplRenderer struct {
	mu        sync.RWMutex
	factories map[string]TemplFactory
}

// NewTemplRenderer creates an empty TemplRenderer.
func NewTemplRenderer() *TemplRenderer {
	return &TemplRenderer{factories: make(map[string]TemplFactory)}
}

// Register sets the factory for a component type.
func (r *TemplRenderer) Register(typeName string, factory TemplFactory) {
	r.mu.Lock()
	r.factories[typeName] = factory
	r.mu.Unlock()
}

// Render implements Renderer.
func (r *TemplRenderer) Render(ctx context.Context, typeName string, state json.RawMessage, opts Options) (string, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoTemplate, typeName)
	}

	c, err := factory(state, opts)
	if err != nil {
		return "", fmt.Errorf("render: %s: %w", typeName, err)
	}

	var buf strings.Builder
	if err := c.Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render: %s: %w", typeName, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
