package render

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"sync"
)

// TemplateRenderer renders components through html/template. Templates are
// registered per component type name; a render option naming a template
// selects any other template defined in the same set.
type TemplateRenderer struct {
	mu   sync.RWMutex
	sets map[string]*template.Template
}

// NewTemplateRenderer creates an empty TemplateRenderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{sets: make(map[string]*template.Template)}
}

// Register parses src as the template set for the component type. The set's
// root template renders the whole component; defined sub-templates serve as
// partial overrides.
func (r *TemplateRenderer) Register(typeName, src string) error {
	t, err := template.New(typeName).Parse(src)
	if err != nil {
		return fmt.Errorf("render: parse template for %s: %w", typeName, err)
	}
	r.mu.Lock()
	r.sets[typeName] = t
	r.mu.Unlock()
	return nil
}

// MustRegister is Register that panics on parse errors, for startup wiring.
func (r *TemplateRenderer) MustRegister(typeName, src string) {
	if err := r.Register(typeName, src); err != nil {
		panic(err)
	}
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(_ context.Context, typeName string, state json.RawMessage, opts Options) (string, error) {
	r.mu.RLock()
	set, ok := r.sets[typeName]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoTemplate, typeName)
	}

	data, err := buildContext(state, opts)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if opts.Template != "" {
		err = set.ExecuteTemplate(&buf, opts.Template, data)
	} else {
		err = set.Execute(&buf, data)
	}
	if err != nil {
		return "", fmt.Errorf("render: %s: %w", typeName, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
