// Package slashcmd implements the Slash-command Registry of spec.md
// §4.6: a catalog of commands classified by source (built-in, cli,
// skill) and routing category (consumer, passthrough), shared across
// every session and guarded by a lock since CLI-reported commands can
// arrive concurrently from multiple sessions (spec.md §9).
package slashcmd

import "sync"

// Source classifies where a command entry came from.
type Source string

const (
	SourceBuiltin Source = "built-in"
	SourceCLI     Source = "cli"
	SourceSkill   Source = "skill"
)

// Routing classifies how a command is serviced.
type Routing string

const (
	// RoutingConsumer is handled locally without touching the backend.
	RoutingConsumer Routing = "consumer"
	// RoutingPassthrough is forwarded to the backend as a user message.
	RoutingPassthrough Routing = "passthrough"
)

// Command is one registry entry.
type Command struct {
	Name        string
	Description string
	Source      Source
	Routing     Routing
}

// Registry is the shared, concurrency-safe slash-command catalog.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry seeds the built-in command set.
func NewRegistry() *Registry {
	r := &Registry{commands: make(map[string]*Command)}
	for _, c := range builtins() {
		cp := c
		r.commands[c.Name] = &cp
	}
	return r
}

func builtins() []Command {
	return []Command{
		{Name: "/help", Description: "List available commands", Source: SourceBuiltin, Routing: RoutingConsumer},
		{Name: "/clear", Description: "Clear the conversation", Source: SourceBuiltin, Routing: RoutingConsumer},
		{Name: "/context", Description: "Show context window usage", Source: SourceBuiltin, Routing: RoutingPassthrough},
		{Name: "/compact", Description: "Compact the conversation history", Source: SourceBuiltin, Routing: RoutingPassthrough},
	}
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// List returns a snapshot of every registered command.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	return out
}

// RegisterFromCLI enriches built-ins' descriptions and adds any command
// the CLI reports that the registry doesn't already know about, as
// source cli (spec.md §4.6). Commands new to the registry default to
// passthrough routing: the registry has no local implementation for
// something it just learned about from the backend.
func (r *Registry) RegisterFromCLI(commands map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, description := range commands {
		if existing, ok := r.commands[name]; ok {
			if description != "" {
				existing.Description = description
			}
			continue
		}
		r.commands[name] = &Command{
			Name:        name,
			Description: description,
			Source:      SourceCLI,
			Routing:     RoutingPassthrough,
		}
	}
}

// RegisterSkills promotes existing cli entries to skill and inserts any
// name not yet known, as consumer-routed (a skill executes locally
// against session state rather than round-tripping the backend).
func (r *Registry) RegisterSkills(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if existing, ok := r.commands[name]; ok {
			if existing.Source == SourceCLI {
				existing.Source = SourceSkill
			}
			continue
		}
		r.commands[name] = &Command{
			Name:    name,
			Source:  SourceSkill,
			Routing: RoutingConsumer,
		}
	}
}

// ClearDynamic removes every non-built-in entry. The registry is shared
// across every concurrently-live session (spec.md §9), so this is only
// safe to call when no session's backend is still connected; a single
// session's disconnect should use UnregisterNames instead.
func (r *Registry) ClearDynamic() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.commands {
		if c.Source != SourceBuiltin {
			delete(r.commands, name)
		}
	}
}

// UnregisterNames removes exactly the named non-built-in entries, e.g.
// on one session's backend disconnect, without disturbing commands a
// different, still-connected session registered under the same shared
// registry.
func (r *Registry) UnregisterNames(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if c, ok := r.commands[name]; ok && c.Source != SourceBuiltin {
			delete(r.commands, name)
		}
	}
}
