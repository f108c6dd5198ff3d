package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/remote"
	"github.com/basket/agentdeck/internal/storage"
	"github.com/basket/agentdeck/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()
	s := store.New(storage.NewMemory(), bus.New(), nil)
	p := New(s, &remote.Scripted{}, nil, nil)
	return p, s
}

func seedAgents(ctx context.Context, s *store.Store) {
	s.SaveAgent(ctx, store.AgentRecord{
		ID: "research", Name: "Research Agent",
		Type: store.AgentTypeResearch, Status: store.AgentActive,
	})
	s.SaveAgent(ctx, store.AgentRecord{
		ID: "coder", Name: "Code Agent",
		Type: store.AgentTypeCode, Status: store.AgentIdle,
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  *Command
	}{
		{"@research search solar panels", &Command{Agent: "research", Action: "search", Params: "solar panels"}},
		{"@all status", &Command{Agent: "all", Action: "status"}},
		{"  @system clear  ", &Command{Agent: "system", Action: "clear"}},
		{"@agent_2 ask  double  spaced ", &Command{Agent: "agent_2", Action: "ask", Params: "double  spaced"}},
		{"research search", nil},  // missing @
		{"@research", nil},        // missing action
		{"@", nil},                // bare sigil
		{"@bad-id search x", nil}, // hyphen not in grammar
		{"@agent! go", nil},
		{"hello @research search", nil}, // must start with the mention
		{"", nil},
	}

	for _, tt := range tests {
		got := Parse(tt.input)
		if tt.want == nil {
			if got != nil {
				t.Fatalf("Parse(%q) = %+v, want nil", tt.input, got)
			}
			continue
		}
		if got == nil {
			t.Fatalf("Parse(%q) = nil, want %+v", tt.input, tt.want)
		}
		if got.Agent != tt.want.Agent || got.Action != tt.want.Action || got.Params != tt.want.Params {
			t.Fatalf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestValidate_RegisteredAgents(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)

	// Every action in an agent's allow-list validates.
	for _, action := range []string{"search", "summarize", "cite", "status", "pause", "resume"} {
		cmd := Parse("@research " + action + " anything")
		v := p.Validate(cmd)
		if !v.Valid {
			t.Fatalf("validate(@research %s) = %q, want valid", action, v.Message)
		}
	}

	// An action outside the type table fails with InvalidActionForAgent.
	v := p.Validate(Parse("@research refactor storage"))
	if v.Valid || !errors.Is(v.Err, ErrInvalidAction) {
		t.Fatalf("validate = %+v, want ErrInvalidAction", v)
	}

	// But that same action is fine on a code agent.
	v = p.Validate(Parse("@coder refactor storage"))
	if !v.Valid {
		t.Fatalf("validate(@coder refactor) = %q, want valid", v.Message)
	}
}

func TestValidate_UnknownAgent(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)

	v := p.Validate(Parse("@ghost status"))
	if v.Valid {
		t.Fatal("unknown agent validated")
	}
	if !errors.Is(v.Err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", v.Err)
	}
	if !strings.Contains(v.Message, "ghost") {
		t.Fatalf("message %q should identify the agent", v.Message)
	}
}

func TestValidate_ReservedIdentifiers(t *testing.T) {
	p, _ := newTestProcessor(t)

	for _, ok := range []string{"@all status", "@all pause", "@all resume", "@all help",
		"@system settings", "@system help", "@system clear", "@system sync"} {
		if v := p.Validate(Parse(ok)); !v.Valid {
			t.Fatalf("validate(%q) = %q, want valid", ok, v.Message)
		}
	}
	for _, bad := range []string{"@all search x", "@system pause", "@all settings"} {
		v := p.Validate(Parse(bad))
		if v.Valid || !errors.Is(v.Err, ErrInvalidAction) {
			t.Fatalf("validate(%q) = %+v, want ErrInvalidAction", bad, v)
		}
	}
}

func TestValidate_NilCommand(t *testing.T) {
	p, _ := newTestProcessor(t)
	v := p.Validate(nil)
	if v.Valid || !errors.Is(v.Err, ErrInvalidSyntax) {
		t.Fatalf("validate(nil) = %+v, want ErrInvalidSyntax", v)
	}
}

func TestExecute_AppendsHistoryThenCompletes(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)

	cmd := Parse("@research search solar panels")
	if v := p.Validate(cmd); !v.Valid {
		t.Fatalf("validate: %q", v.Message)
	}

	resultCh := p.Execute(ctx, cmd)

	// History is appended synchronously at call time, before completion.
	h := s.History(1)
	if len(h) != 1 || h[0].Text != "@research search solar panels" {
		t.Fatalf("history = %+v, want the raw command as newest entry", h)
	}

	select {
	case res := <-resultCh:
		if !strings.Contains(res.Output, "Research Agent") {
			t.Fatalf("output = %q, want agent name", res.Output)
		}
		if !strings.Contains(res.Output, "solar panels") {
			t.Fatalf("output = %q, want params echoed", res.Output)
		}
		if res.Entry.Text != cmd.Raw {
			t.Fatalf("entry text = %q, want %q", res.Entry.Text, cmd.Raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for execution result")
	}
}

func TestExecute_HistoryInCallOrder(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)

	var results []<-chan Result
	inputs := []string{"@research search a", "@research search b", "@research search c"}
	for _, in := range inputs {
		results = append(results, p.Execute(ctx, Parse(in)))
	}
	for _, ch := range results {
		<-ch
	}

	h := s.History(3)
	// Newest first: c, b, a.
	for i, want := range []string{"@research search c", "@research search b", "@research search a"} {
		if h[i].Text != want {
			t.Fatalf("history[%d] = %q, want %q", i, h[i].Text, want)
		}
	}
}

func TestExecute_BroadcastStatus(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)

	res := <-p.Execute(ctx, Parse("@all status"))
	lines := strings.Split(res.Output, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want one per registered agent (2):\n%s", len(lines), res.Output)
	}
	if !strings.Contains(lines[0], "coder") || !strings.Contains(lines[0], string(store.AgentIdle)) {
		t.Fatalf("line 0 = %q, want coder with status idle", lines[0])
	}
	if !strings.Contains(lines[1], "research") || !strings.Contains(lines[1], string(store.AgentActive)) {
		t.Fatalf("line 1 = %q, want research with status active", lines[1])
	}
}

func TestExecute_SystemClearAndSync(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)

	s.AddHistory(ctx, "@all status")
	res := <-p.Execute(ctx, Parse("@system clear"))
	if !strings.Contains(res.Output, "cleared") {
		t.Fatalf("output = %q", res.Output)
	}
	// Clear drops everything issued before it; the clear command itself was
	// recorded first, then the collection was cleared during completion.
	if h := s.History(10); len(h) != 0 {
		t.Fatalf("history after clear = %+v, want empty", h)
	}

	triggered := false
	p.SyncNow = func() { triggered = true }
	res = <-p.Execute(ctx, Parse("@system sync"))
	if !triggered {
		t.Fatal("@system sync did not invoke the sync hook")
	}
	if !strings.Contains(res.Output, "triggered") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestSuggest_Levels(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)

	// Level 1: bare @ lists every agent plus reserved ids.
	got := p.Suggest("@")
	want := []string{"@coder", "@research", "@all", "@system"}
	if len(got) != len(want) {
		t.Fatalf("Suggest(@) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Suggest(@)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Level 2: complete agent id lists its actions.
	got = p.Suggest("@research")
	if len(got) == 0 || got[0] != "@research search" {
		t.Fatalf("Suggest(@research) = %v, want research actions", got)
	}
	for _, sug := range got {
		if !strings.HasPrefix(sug, "@research ") {
			t.Fatalf("suggestion %q not scoped to agent", sug)
		}
	}

	// Reserved id gets its fixed list.
	got = p.Suggest("@system")
	if len(got) != len(systemActions) {
		t.Fatalf("Suggest(@system) = %v, want %d entries", got, len(systemActions))
	}

	// Level 3: agent plus valid action yields an example full command.
	got = p.Suggest("@research search")
	if len(got) != 1 || got[0] != "@research search solar panels" {
		t.Fatalf("Suggest(@research search) = %v", got)
	}

	// Level 4: anything else prefix-matches history.
	s.AddHistory(ctx, "@research summarize latest findings")
	s.AddHistory(ctx, "@coder review open pull requests")
	got = p.Suggest("@research summarize latest")
	if len(got) != 1 || got[0] != "@research summarize latest findings" {
		t.Fatalf("history suggestions = %v", got)
	}

	// No fuzzy matching: a non-prefix fragment yields nothing.
	if got = p.Suggest("latest findings"); len(got) != 0 {
		t.Fatalf("non-prefix input suggested %v, want none", got)
	}
}

func TestSuggest_UnknownPartialFallsToHistory(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	seedAgents(ctx, s)
	s.AddHistory(ctx, "@research search solar panels")

	got := p.Suggest("@res")
	if len(got) != 1 || got[0] != "@research search solar panels" {
		t.Fatalf("Suggest(@res) = %v, want history prefix match", got)
	}
}
