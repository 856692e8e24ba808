// Package config defines the startup description the runtime consumes: a
// scope tree enumerating every actor with its serialized payload, and the
// list of contexts the actors are partitioned across. A collaborator (the
// dytord daemon, or test code) produces the Config value; the runtime only
// validates and consumes it.
package config

import (
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/fn/v2"
	"gopkg.in/yaml.v3"
)

// ContextID identifies a single-threaded execution domain. Valid IDs form
// the dense range 1..=N for a run with N contexts; zero is never a valid ID.
type ContextID uint32

// Index returns the zero-based slice index for the ID.
func (id ContextID) Index() int {
	return int(id) - 1
}

// ActorConfig names one actor instance: the registered type that backs it,
// the opaque serialized payload its deserializer will consume, and the
// context it is scheduled on.
type ActorConfig struct {
	// Typename must resolve to a registered actor type.
	Typename string `yaml:"typename"`

	// Config is the actor's payload, left undecoded until the owning
	// context deserializes it through the type's registered decoder.
	Config yaml.Node `yaml:"config"`

	// Context is the 1-based ID of the context the actor runs on.
	Context ContextID `yaml:"context"`
}

// Scope is one node of the configuration namespace tree. Namespaces are
// reserved but unimplemented: the runtime rejects any scope with children or
// imported scopes.
type Scope struct {
	// Name optionally labels the scope.
	Name string `yaml:"name,omitempty"`

	// Children holds nested scopes by name. Must be empty.
	Children map[string]Scope `yaml:"children,omitempty"`

	// Actors lists the actor instances declared directly in this scope,
	// in declaration order. Declaration order is load-bearing: it fixes
	// actor IDs and every enumeration the lookup layer produces.
	Actors []ActorConfig `yaml:"actors"`

	// ImportedScopes names scopes spliced in by reference. Must be empty.
	ImportedScopes []string `yaml:"imported_scopes,omitempty"`
}

// NameOpt returns the scope's name as an option.
func (s *Scope) NameOpt() fn.Option[string] {
	if s.Name == "" {
		return fn.None[string]()
	}
	return fn.Some(s.Name)
}

// Context declares one execution domain.
type Context struct {
	// ID is the 1-based context identifier. Contexts must be declared in
	// ID order: contexts[i].ID == i+1.
	ID ContextID `yaml:"id"`

	// ThreadAffinity optionally pins the context's worker thread to the
	// given CPU indices. Advisory: failures to apply it are logged, never
	// fatal.
	ThreadAffinity []int `yaml:"thread_affinity,omitempty"`
}

// AffinityOpt returns the declared CPU set as an option.
func (c *Context) AffinityOpt() fn.Option[[]int] {
	if len(c.ThreadAffinity) == 0 {
		return fn.None[[]int]()
	}
	return fn.Some(c.ThreadAffinity)
}

// Config is the complete startup description.
type Config struct {
	// Root is the top of the scope tree.
	Root Scope `yaml:"root"`

	// Contexts lists every execution domain, in ID order.
	Contexts []Context `yaml:"contexts"`
}

// Parse decodes a YAML document into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// Load reads and decodes the YAML config at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return Parse(data)
}

// Validate applies the structural checks that do not require the registry:
// the namespace tree must be trivial and context IDs must form 1..=N.
// Typename resolution is checked later, by the runtime, against the frozen
// registry.
func (c *Config) Validate() error {
	if len(c.Root.Children) != 0 {
		return fmt.Errorf("config: namespaces not implemented " +
			"(root.children must be empty)")
	}
	if len(c.Root.ImportedScopes) != 0 {
		return fmt.Errorf("config: namespaces not implemented " +
			"(root.imported_scopes must be empty)")
	}
	if len(c.Contexts) == 0 {
		return fmt.Errorf("config: at least one context is required")
	}

	for i, ctx := range c.Contexts {
		if ctx.ID.Index() != i {
			return fmt.Errorf("config: contexts are not named "+
				"1..=%d: position %d has id %d",
				len(c.Contexts), i, ctx.ID)
		}
	}

	n := ContextID(len(c.Contexts))
	for i, a := range c.Root.Actors {
		if a.Typename == "" {
			return fmt.Errorf("config: actor %d has no typename", i)
		}
		if a.Context < 1 || a.Context > n {
			return fmt.Errorf("config: actor %q targets unknown "+
				"context %d", a.Typename, a.Context)
		}
	}

	return nil
}
