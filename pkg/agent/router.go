package agent

// Decision is the router's verdict after an assistant turn.
type Decision int

const (
	Halt Decision = iota
	ContinueToRetrieval
)

func (d Decision) String() string {
	if d == ContinueToRetrieval {
		return "retrieval"
	}
	return "halt"
}

// Route inspects only the immediately-preceding assistant delta: continue to
// retrieval iff it carries a GenerateDataQuestions tool call AND the
// resulting question list is non-empty. Anything else halts, including the
// no-tool-call case that covers both genuine text answers and degraded model
// failures.
func Route(d Delta) Decision {
	if d.DataQuestions == nil || len(*d.DataQuestions) == 0 {
		return Halt
	}
	for _, m := range d.Messages {
		if m.Role != RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			if call.Name == ToolGenerateDataQuestions {
				return ContinueToRetrieval
			}
		}
	}
	return Halt
}
