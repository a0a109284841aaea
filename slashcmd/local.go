package slashcmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultLocalExecutor implements LocalExecutor for the built-in,
// consumer-routed commands (spec.md §4.6: "/help", "/clear"). It holds
// no session state of its own — /clear's effect is the broadcast the
// consumer renders on receipt of its "emulated" result, not a mutation
// made here.
type DefaultLocalExecutor struct {
	Registry *Registry
}

func (e DefaultLocalExecutor) Execute(ctx context.Context, command string) (string, error) {
	switch command {
	case "/help":
		return e.renderHelp(), nil
	case "/clear":
		return "conversation cleared", nil
	default:
		return "", fmt.Errorf("slashcmd: no local implementation for %q", command)
	}
}

func (e DefaultLocalExecutor) renderHelp() string {
	commands := e.Registry.List()
	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })

	var b strings.Builder
	for i, c := range commands {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" — ")
			b.WriteString(c.Description)
		}
	}
	return b.String()
}

var _ LocalExecutor = DefaultLocalExecutor{}
