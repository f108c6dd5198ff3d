package command

import "strings"

// Command is a parsed @agent invocation.
type Command struct {
	Agent  string // target agent id, or a reserved identifier
	Action string // first token after the agent id
	Params string // remaining free text, may be empty
	Raw    string // the original input, trimmed
}

// Reserved identifiers that are valid targets without a registry entry.
const (
	TargetAll    = "all"    // broadcast to every registered agent
	TargetSystem = "system" // meta-operations
)

// Parse extracts a Command from input of the form
//
//	@<agent-id> <action> [<free-text parameters>]
//
// Agent ids are alphanumeric/underscore. Returns nil unless the whole input
// matches the grammar; there are no partial matches.
func Parse(input string) *Command {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "@") {
		return nil
	}

	rest := input[1:]
	id, tail := extractIdent(rest)
	if id == "" {
		return nil
	}

	tail = strings.TrimLeft(tail, " \t")
	if tail == "" {
		return nil // action is mandatory
	}

	action := tail
	params := ""
	if i := strings.IndexAny(tail, " \t"); i >= 0 {
		action = tail[:i]
		params = strings.TrimSpace(tail[i:])
	}

	return &Command{
		Agent:  id,
		Action: action,
		Params: params,
		Raw:    input,
	}
}

// extractIdent pulls an agent id token from the start of text. The token
// ends at the first whitespace; any other character invalidates the match.
func extractIdent(text string) (id string, rest string) {
	if text == "" {
		return "", text
	}
	for i, r := range text {
		if r == ' ' || r == '\t' {
			return text[:i], text[i:]
		}
		if !isIdentChar(r) {
			return "", text
		}
	}
	return text, ""
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}
