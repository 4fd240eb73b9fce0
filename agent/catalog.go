package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAgentNotFound is returned when a definition id is unknown.
var ErrAgentNotFound = errors.New("agent not found")

// DefaultMaxIterations bounds model/tool round trips per run.
const DefaultMaxIterations = 5

// Definition describes an agent a thread can talk to.
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	// Prompt is sent as the system prompt.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`
	// Model overrides the provider default model.
	Model string `json:"model,omitempty" yaml:"model"`
	// Provider names a configured provider ("anthropic", "openai"); empty uses the default.
	Provider      string   `json:"provider,omitempty" yaml:"provider"`
	Tools         []string `json:"tools,omitempty" yaml:"tools"`
	MaxIterations int      `json:"maxIterations,omitempty" yaml:"maxIterations"`
}

func (d Definition) maxIterations() int {
	if d.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return d.MaxIterations
}

// Catalog holds agent definitions keyed by ID.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog builds a catalog from defs.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a definition. IDs must be unique and non-empty.
func (c *Catalog) Add(d Definition) error {
	if d.ID == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[d.ID]; exists {
		return fmt.Errorf("agent %s already defined", d.ID)
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	c.defs[d.ID] = d
	return nil
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	return d, nil
}

// List returns all definitions sorted by ID.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
