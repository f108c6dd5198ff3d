package command

import "github.com/basket/agentdeck/internal/store"

// Action allow-lists for the reserved identifiers.
var (
	allActions    = []string{"status", "pause", "resume", "help"}
	systemActions = []string{"settings", "help", "clear", "sync"}
)

// typeActions maps an agent type to the actions its agents accept. The
// table is static; unknown types accept nothing.
var typeActions = map[store.AgentType][]string{
	store.AgentTypeResearch:  {"search", "summarize", "cite", "status", "pause", "resume"},
	store.AgentTypeAssistant: {"ask", "remind", "schedule", "status", "pause", "resume"},
	store.AgentTypeAnalysis:  {"analyze", "chart", "forecast", "status", "pause", "resume"},
	store.AgentTypeCreative:  {"draft", "brainstorm", "rewrite", "status", "pause", "resume"},
	store.AgentTypeCode:      {"review", "generate", "refactor", "test", "status", "pause", "resume"},
}

// actionExamples provides example parameter text per action, used by the
// third suggestion level to offer full command strings.
var actionExamples = map[string]string{
	"search":     "solar panels",
	"summarize":  "latest findings",
	"cite":       "sources for current report",
	"ask":        "what is on my calendar",
	"remind":     "standup at 9am",
	"schedule":   "review meeting tomorrow",
	"analyze":    "q3 sales data",
	"chart":      "revenue by month",
	"forecast":   "next quarter demand",
	"draft":      "launch announcement",
	"brainstorm": "campaign ideas",
	"rewrite":    "intro paragraph",
	"review":     "open pull requests",
	"generate":   "unit tests for parser",
	"refactor":   "storage layer",
	"test":       "sync manager",
}

// actionsFor returns the allow-list for a target: reserved identifiers get
// their fixed lists, registered agents the list for their type.
func (p *Processor) actionsFor(target string) ([]string, bool) {
	switch target {
	case TargetAll:
		return allActions, true
	case TargetSystem:
		return systemActions, true
	}
	agent, ok := p.store.Agent(target)
	if !ok {
		return nil, false
	}
	return typeActions[agent.Type], true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
