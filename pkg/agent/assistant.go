package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssistantNode calls the model with the current state rendered as context
// plus the fixed tool set, and interprets the reply into a state delta.
type AssistantNode struct {
	Model   ModelClient
	Timeout time.Duration
	Logger  *slog.Logger
}

const defaultModelTimeout = 90 * time.Second

// Run produces the assistant's delta for the current state. It never returns
// a Go error: a failed model call degrades into a synthetic assistant message
// plus a log entry, and the router will halt on the missing tool call. The
// caller distinguishes the two cases by inspecting the log.
func (n *AssistantNode) Run(ctx context.Context, s State) Delta {
	logger := n.logger()

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := append([]Message{n.systemFraming(s)}, s.Messages...)

	reply, err := n.Model.Invoke(ctx, messages, AssistantTools())
	if err != nil {
		logger.Error("Model call failed", "error", err)
		return Delta{
			Messages: []Message{{
				ID:      uuid.NewString(),
				Role:    RoleAssistant,
				Content: "I ran into a problem reaching the model and could not continue. Please try again.",
			}},
			Logs: []LogEntry{{Message: fmt.Sprintf("Model call failed: %v", err), Done: true}},
		}
	}

	assistantMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   reply.Content,
		ToolCalls: reply.ToolCalls,
	}
	delta := Delta{Messages: []Message{assistantMsg}}

	for _, call := range reply.ToolCalls {
		switch call.Name {
		case ToolSetResearchQuestion:
			q := stringArg(call.Args, "question")
			delta.ResearchQuestion = &q
			delta.Logs = append(delta.Logs, LogEntry{Message: "Research question set: " + q, Done: true})
			delta.Messages = append(delta.Messages, toolResult(call.ID, "Research question set."))
			logger.Info("Research question set", "question", q)

		case ToolGenerateDataQuestions:
			qs := questionList(call.Args["questions"])
			delta.DataQuestions = &qs
			delta.Logs = append(delta.Logs, LogEntry{Message: fmt.Sprintf("Generated %d data questions", len(qs)), Done: true})
			// No tool result here: the retrieval node answers this call
			// with the search outcome.
			logger.Info("Generated data questions", "count", len(qs))

		case ToolWriteReport:
			r := stringArg(call.Args, "report")
			delta.Report = &r
			delta.Logs = append(delta.Logs, LogEntry{Message: "Report draft created", Done: true})
			delta.Messages = append(delta.Messages, toolResult(call.ID,
				"Report written. Send a brief follow-up asking if the user wants changes; do not repeat the report."))
			logger.Info("Report draft created", "length", len(r))

		default:
			logger.Warn("Model invoked unknown tool", "tool", call.Name)
			delta.Logs = append(delta.Logs, LogEntry{Message: "Ignored unknown tool call: " + call.Name, Done: true})
			delta.Messages = append(delta.Messages, toolResult(call.ID, "Unknown tool: "+call.Name))
		}
	}

	return delta
}

func (n *AssistantNode) systemFraming(s State) Message {
	var b strings.Builder
	b.WriteString("You are a research assistant. You help the user research a topic and write a report backed by evidence.\n\n")
	b.WriteString("WORKFLOW:\n")
	b.WriteString("1. Use SetResearchQuestion to capture the user's research intent. Never ask for it again once set.\n")
	b.WriteString("2. Use GenerateDataQuestions to create 3-5 specific data questions; they drive chart and web searches.\n")
	b.WriteString("3. Once evidence is gathered, use WriteReport. Never reply with the report as chat text.\n\n")

	if s.ResearchQuestion != "" {
		b.WriteString("Research question: " + s.ResearchQuestion + "\n\n")
	}
	if s.Report != "" {
		b.WriteString("Current report draft:\n" + s.Report + "\n\n")
	}
	if len(s.Resources) > 0 {
		b.WriteString("Available resources:\n")
		for _, r := range s.Resources {
			b.WriteString(fmt.Sprintf("- [%s] %s: %s\n", r.Kind, r.Title, r.Description))
		}
	}

	return Message{Role: RoleSystem, Content: b.String()}
}

func (n *AssistantNode) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

func toolResult(callID, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}

// questionList accepts either plain strings or objects carrying a "question"
// field, since models are loose about the schema here.
func questionList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch q := item.(type) {
		case string:
			if q != "" {
				out = append(out, q)
			}
		case map[string]any:
			if s, _ := q["question"].(string); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
