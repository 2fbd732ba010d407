package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoTemplate is returned when neither the component type nor the render
// options name a template the adapter knows.
var ErrNoTemplate = errors.New("render: no template for component type")

// Options tune a single render without touching the component's defaults.
type Options struct {
	// Template overrides the component type's default template (a partial
	// re-render of one section of the component).
	Template string

	// Context entries are layered over the state-derived render context.
	Context map[string]any
}

// Renderer turns a component type plus serialized state into markup.
//
// Implementations must be idempotent in (typeName, state, opts): the
// dispatcher may re-render the same committed state any number of times and
// expects identical markup each time.
type Renderer interface {
	Render(ctx context.Context, typeName string, state json.RawMessage, opts Options) (string, error)
}

// Func adapts a function to the Renderer interface.
type Func func(ctx context.Context, typeName string, state json.RawMessage, opts Options) (string, error)

func (f Func) Render(ctx context.Context, typeName string, state json.RawMessage, opts Options) (string, error) {
	return f(ctx, typeName, state, opts)
}

// buildContext decodes the state into the render context and layers the
// per-render overrides on top. The raw state document stays available to
// templates under "this".
func buildContext(state json.RawMessage, opts Options) (map[string]any, error) {
	data := make(map[string]any)
	if len(state) > 0 {
		if err := json.Unmarshal(state, &data); err != nil {
			return nil, fmt.Errorf("render: decode state: %w", err)
		}
	}
	ctx := map[string]any{"this": data}
	for k, v := range data {
		ctx[k] = v
	}
	for k, v := range opts.Context {
		ctx[k] = v
	}
	return ctx, nil
}
