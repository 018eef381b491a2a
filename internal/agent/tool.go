package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/mrtian2016/flowpilot/pkg/models"
)

// Tool is the contract every agent capability implements. Execute
// receives the model-emitted arguments already normalized to plain Go
// values; it returns a structured result, or an error only for faults
// the executor should surface as an error outcome on the tool's
// behalf. Policy enforcement happens inside Execute, not around it.
type Tool interface {
	// Name returns the identifier the model calls the tool by.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema object describing the arguments.
	Schema() json.RawMessage

	// Execute runs the tool. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

// toolNameRe is the shape all registered tool names must have.
var toolNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry holds the bounded tool catalog. Registration order is
// preserved because it is the order tools are presented to the model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names and names that are not valid
// identifiers are rejected so a misconfigured catalog fails at wiring
// time instead of mid-session.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("invalid tool name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static catalogs assembled at startup.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions returns the provider-neutral catalog in registration
// order, ready for conversion to a vendor wire format.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}
