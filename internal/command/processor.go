// Package command parses, validates and executes the @agent command grammar
// against the data store's registry.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/basket/agentdeck/internal/otel"
	"github.com/basket/agentdeck/internal/remote"
	"github.com/basket/agentdeck/internal/store"
)

// Validation failures. These surface as user-facing messages, never as
// fatal faults.
var (
	ErrInvalidSyntax = errors.New("invalid command syntax")
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrInvalidAction = errors.New("invalid action for agent")
)

// Validation is the outcome of validating a parsed command.
type Validation struct {
	Valid   bool
	Message string
	Err     error // one of the sentinel errors above when Valid is false
}

// Result is the outcome of an executed command.
type Result struct {
	Output string
	Entry  store.HistoryEntry // the history entry appended at call time
}

// Processor validates commands against the agent registry and executes them
// through the simulated remote boundary.
type Processor struct {
	store   *store.Store
	remote  remote.Remote
	logger  *slog.Logger
	metrics *otel.Metrics

	// SyncNow, when set, is invoked by "@system sync". The console wires it
	// to the synchronization manager so the processor stays decoupled.
	SyncNow func()
}

// New creates a Processor. metrics may be nil.
func New(s *store.Store, r remote.Remote, logger *slog.Logger, metrics *otel.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: s, remote: r, logger: logger, metrics: metrics}
}

// Parse wraps the package-level Parse for callers holding a Processor.
func (p *Processor) Parse(input string) *Command {
	return Parse(input)
}

// Validate checks a parsed command against the registry and the static
// action tables.
func (p *Processor) Validate(cmd *Command) Validation {
	if cmd == nil {
		return Validation{Message: "invalid command syntax, expected @<agent> <action> [params]", Err: ErrInvalidSyntax}
	}
	actions, known := p.actionsFor(cmd.Agent)
	if !known {
		if p.metrics != nil {
			p.metrics.CommandsRejected.Add(context.Background(), 1)
		}
		return Validation{
			Message: fmt.Sprintf("unknown agent %q", cmd.Agent),
			Err:     ErrUnknownAgent,
		}
	}
	if !contains(actions, cmd.Action) {
		if p.metrics != nil {
			p.metrics.CommandsRejected.Add(context.Background(), 1)
		}
		return Validation{
			Message: fmt.Sprintf("agent %q does not accept action %q (try: %s)",
				cmd.Agent, cmd.Action, strings.Join(actions, ", ")),
			Err: ErrInvalidAction,
		}
	}
	return Validation{Valid: true, Message: "ok"}
}

// Execute appends the raw command to history synchronously, then completes
// the simulated round trip on a separate goroutine. Execution has no
// failure path once validated; the remote boundary only contributes
// latency here.
func (p *Processor) Execute(ctx context.Context, cmd *Command) <-chan Result {
	entry := p.store.AddHistory(ctx, cmd.Raw)

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		if p.remote != nil {
			if err := p.remote.Roundtrip(ctx, "command."+cmd.Action); err != nil &&
				!errors.Is(err, remote.ErrNetwork) {
				// Context cancellation still yields a result; the command
				// was already recorded.
				p.logger.Debug("command round trip interrupted", "command", cmd.Raw, "error", err)
			}
		}
		output := p.run(ctx, cmd)
		if p.metrics != nil {
			p.metrics.CommandsExecuted.Add(context.Background(), 1)
		}
		p.logger.Info("command executed", "agent", cmd.Agent, "action", cmd.Action)
		out <- Result{Output: output, Entry: entry}
	}()
	return out
}

// run produces the human-readable result for a validated command.
func (p *Processor) run(ctx context.Context, cmd *Command) string {
	switch cmd.Agent {
	case TargetAll:
		return p.runBroadcast(cmd)
	case TargetSystem:
		return p.runSystem(ctx, cmd)
	}

	agent, ok := p.store.Agent(cmd.Agent)
	if !ok {
		// The agent was removed between validation and completion; report
		// rather than fail.
		return fmt.Sprintf("%s: agent no longer registered", cmd.Agent)
	}
	if cmd.Params != "" {
		return fmt.Sprintf("%s completed %q on %q", agent.Name, cmd.Action, cmd.Params)
	}
	return fmt.Sprintf("%s completed %q", agent.Name, cmd.Action)
}

func (p *Processor) runBroadcast(cmd *Command) string {
	agents := p.store.Agents()
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	switch cmd.Action {
	case "status":
		if len(agents) == 0 {
			return "no agents registered"
		}
		lines := make([]string, 0, len(agents))
		for _, a := range agents {
			lines = append(lines, fmt.Sprintf("%s (%s): %s", a.Name, a.ID, a.Status))
		}
		return strings.Join(lines, "\n")
	case "pause", "resume":
		return fmt.Sprintf("broadcast %q acknowledged by %d agents", cmd.Action, len(agents))
	case "help":
		return "broadcast actions: " + strings.Join(allActions, ", ")
	}
	return fmt.Sprintf("broadcast %q acknowledged", cmd.Action)
}

func (p *Processor) runSystem(ctx context.Context, cmd *Command) string {
	switch cmd.Action {
	case "settings":
		settings := p.store.SettingsSnapshot()
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("settings: %d keys (%s)", len(keys), strings.Join(keys, ", "))
	case "clear":
		p.store.ClearHistory(ctx)
		return "command history cleared"
	case "sync":
		if p.SyncNow != nil {
			p.SyncNow()
			return "synchronization triggered"
		}
		p.store.Synchronize(ctx)
		return "synchronization stamped"
	case "help":
		return "system actions: " + strings.Join(systemActions, ", ")
	}
	return fmt.Sprintf("system %q acknowledged", cmd.Action)
}

// Suggest returns completion candidates for a partial input. Four levels,
// all prefix or exact matches, no fuzzy scoring:
//
//  1. bare "@"                -> every agent id plus the reserved ids
//  2. "@agent" (id complete)  -> that target's allowed actions
//  3. "@agent action" (valid) -> example full commands for that agent
//  4. anything else           -> history entries starting with the input
func (p *Processor) Suggest(partial string) []string {
	trimmed := strings.TrimSpace(partial)

	if trimmed == "@" {
		ids := p.targetIDs()
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, "@"+id)
		}
		return out
	}

	if target, ok := bareTarget(trimmed); ok {
		// "@agent" with a complete id and nothing after it.
		if actions, known := p.actionsFor(target); known {
			out := make([]string, 0, len(actions))
			for _, a := range actions {
				out = append(out, fmt.Sprintf("@%s %s", target, a))
			}
			return out
		}
	}

	if cmd := Parse(trimmed); cmd != nil && cmd.Params == "" {
		// "@agent action" fully typed: offer example full commands.
		if actions, ok := p.actionsFor(cmd.Agent); ok && contains(actions, cmd.Action) {
			example := actionExamples[cmd.Action]
			if example == "" {
				return []string{fmt.Sprintf("@%s %s", cmd.Agent, cmd.Action)}
			}
			return []string{fmt.Sprintf("@%s %s %s", cmd.Agent, cmd.Action, example)}
		}
	}

	// Fall back to history prefix matches, newest first.
	var out []string
	for _, entry := range p.store.History(maxSuggestions) {
		if strings.HasPrefix(entry.Text, trimmed) {
			out = append(out, entry.Text)
		}
	}
	return out
}

const maxSuggestions = 10

// History returns recent commands, newest first. A non-positive limit uses
// the store default.
func (p *Processor) History(limit int) []store.HistoryEntry {
	return p.store.History(limit)
}

// bareTarget reports whether input is exactly "@<ident>" with no action yet.
func bareTarget(input string) (string, bool) {
	if len(input) < 2 || input[0] != '@' {
		return "", false
	}
	id := input[1:]
	for _, r := range id {
		if !isIdentChar(r) {
			return "", false
		}
	}
	return id, true
}

func (p *Processor) targetIDs() []string {
	agents := p.store.Agents()
	ids := make([]string, 0, len(agents)+2)
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return append(ids, TargetAll, TargetSystem)
}
