package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/basket/agentdeck/internal/command"
	"github.com/basket/agentdeck/internal/notify"
	"github.com/basket/agentdeck/internal/store"
	"github.com/basket/agentdeck/internal/syncer"
)

// Console is the interactive stdin loop. Lines starting with "/" are console
// directives; everything else goes through the command processor.
type Console struct {
	Processor *command.Processor
	Manager   *syncer.Manager
	Deliverer *notify.Deliverer
	Store     *store.Store
	Logger    *slog.Logger
}

const consoleHelp = `commands:
  @<agent-id> <action> [params]   run an agent command (try: @research_1 search solar panels)
  /agents                         list registered agents
  /suggest <partial>              show completions for a partial command
  /notify <json>                  deliver a notification request
  /history [n]                    show recent commands (newest first)
  /offline  /online               toggle simulated connectivity
  /sync                           trigger a sync cycle now
  /quit                           exit`

// Run reads input until EOF, /quit or context cancellation. It returns the
// last successfully executed command for the shutdown snapshot.
func (c *Console) Run(ctx context.Context) string {
	fmt.Printf("agentdeck %s. Type /help for commands.\n", Version)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var lastCommand string
	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return lastCommand
		case line, ok := <-lines:
			if !ok {
				return lastCommand
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if strings.HasPrefix(input, "/") {
				if c.directive(ctx, input) {
					return lastCommand
				}
				continue
			}
			if c.execute(ctx, input) {
				lastCommand = input
			}
		}
	}
}

// directive handles a "/" console directive. Returns true on /quit.
func (c *Console) directive(ctx context.Context, input string) bool {
	verb, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(consoleHelp)

	case "/agents":
		agents := c.Store.Agents()
		if len(agents) == 0 {
			fmt.Println("no agents registered")
			break
		}
		fmt.Print(formatAgents(agents))

	case "/suggest":
		suggestions := c.Processor.Suggest(rest)
		if len(suggestions) == 0 {
			fmt.Println("no suggestions")
			break
		}
		for _, s := range suggestions {
			fmt.Println("  " + s)
		}

	case "/notify":
		req, err := notify.ParseRequest([]byte(rest))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		id := c.Deliverer.Show(ctx, req)
		fmt.Printf("notification %s delivered\n", id)

	case "/history":
		limit := 0
		if rest != "" {
			n, err := strconv.Atoi(rest)
			if err != nil {
				fmt.Println("usage: /history [n]")
				break
			}
			limit = n
		}
		entries := c.Processor.History(limit)
		if len(entries) == 0 {
			fmt.Println("no history")
			break
		}
		for _, e := range entries {
			fmt.Printf("  %s  %s\n", e.CreatedAt.Format("15:04:05"), e.Text)
		}

	case "/offline":
		c.Manager.SetOffline()
		fmt.Println("offline: changes will be queued")

	case "/online":
		c.Manager.SetOnline(ctx)
		fmt.Printf("online: %d queued change(s) reconciled\n", c.Manager.PendingCount())

	case "/sync":
		if !c.Manager.Online() {
			fmt.Println("offline: cannot sync")
			break
		}
		c.Manager.SyncNow(ctx)
		st := c.Manager.State()
		fmt.Printf("sync %s (last success %s)\n", st.Status, formatTime(st.LastSuccess))

	default:
		fmt.Printf("unknown directive %s (try /help)\n", verb)
	}
	return false
}

// execute runs one agent command line. Returns true when the command was
// accepted.
func (c *Console) execute(ctx context.Context, input string) bool {
	cmd := command.Parse(input)
	if cmd == nil {
		fmt.Println("error: invalid command syntax, expected @<agent-id> <action> [params]")
		return false
	}
	if v := c.Processor.Validate(cmd); !v.Valid {
		fmt.Printf("error: %s\n", v.Message)
		return false
	}

	if !c.Manager.Online() {
		c.Manager.QueueChange(ctx, input)
		fmt.Printf("offline: queued (%d pending)\n", c.Manager.PendingCount())
		return true
	}

	result := <-c.Processor.Execute(ctx, cmd)
	fmt.Println(result.Output)
	return true
}

// formatAgents renders the registry one agent per line, sorted by id.
func formatAgents(agents []store.AgentRecord) string {
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	var b strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&b, "  @%-14s %-20s %-10s %s\n", a.ID, a.Name, a.Type, a.Status)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("15:04:05")
}
