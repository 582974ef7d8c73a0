package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAssistantSetResearchQuestion(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{{
		ToolCalls: []ToolCall{call(ToolSetResearchQuestion, map[string]any{"question": "Compare X vs Y"})},
	}}}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})

	if d.ResearchQuestion == nil || *d.ResearchQuestion != "Compare X vs Y" {
		t.Fatalf("ResearchQuestion = %v, want Compare X vs Y", d.ResearchQuestion)
	}
	if len(d.Logs) != 1 || !strings.Contains(d.Logs[0].Message, "Research question set") {
		t.Errorf("logs = %+v, want research-question entry", d.Logs)
	}
	// Assistant message plus the tool result acknowledging the call.
	if len(d.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(d.Messages))
	}
	if d.Messages[1].Role != RoleTool || d.Messages[1].ToolCallID != "call-"+ToolSetResearchQuestion {
		t.Errorf("ack message = %+v", d.Messages[1])
	}
}

func TestAssistantGenerateDataQuestions(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{{
		ToolCalls: []ToolCall{call(ToolGenerateDataQuestions, map[string]any{
			"questions": []any{"X market size", "Y market size"},
		})},
	}}}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})

	if d.DataQuestions == nil || len(*d.DataQuestions) != 2 {
		t.Fatalf("DataQuestions = %v, want 2 questions", d.DataQuestions)
	}
	if Route(d) != ContinueToRetrieval {
		t.Errorf("Route() = halt, want continue")
	}
	// The tool result is deferred to the retrieval node.
	for _, m := range d.Messages {
		if m.Role == RoleTool {
			t.Errorf("unexpected tool result before retrieval ran: %+v", m)
		}
	}
	if len(d.Logs) != 1 || !strings.Contains(d.Logs[0].Message, "Generated 2 data questions") {
		t.Errorf("logs = %+v", d.Logs)
	}
}

func TestAssistantAcceptsQuestionObjects(t *testing.T) {
	// Models sometimes return structured question objects instead of strings.
	model := &scriptedModel{turns: []ModelReply{{
		ToolCalls: []ToolCall{call(ToolGenerateDataQuestions, map[string]any{
			"questions": []any{
				map[string]any{"question": "China GDP since 1960"},
				"Compare exports of east asian countries",
			},
		})},
	}}}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})
	want := []string{"China GDP since 1960", "Compare exports of east asian countries"}
	if d.DataQuestions == nil || len(*d.DataQuestions) != 2 {
		t.Fatalf("DataQuestions = %v", d.DataQuestions)
	}
	for i, q := range *d.DataQuestions {
		if q != want[i] {
			t.Errorf("question[%d] = %q, want %q", i, q, want[i])
		}
	}
}

func TestAssistantWriteReport(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{{
		ToolCalls: []ToolCall{call(ToolWriteReport, map[string]any{"report": "# Findings\n..."})},
	}}}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})

	if d.Report == nil || *d.Report != "# Findings\n..." {
		t.Fatalf("Report = %v", d.Report)
	}
	if len(d.Logs) != 1 || d.Logs[0].Message != "Report draft created" {
		t.Errorf("logs = %+v", d.Logs)
	}
	if Route(d) != Halt {
		t.Errorf("Route() = continue, want halt")
	}
}

func TestAssistantMultipleToolCallsInOrder(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{{
		ToolCalls: []ToolCall{
			call(ToolSetResearchQuestion, map[string]any{"question": "Q"}),
			call(ToolGenerateDataQuestions, map[string]any{"questions": []any{"dq"}}),
		},
	}}}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})

	if d.ResearchQuestion == nil || *d.ResearchQuestion != "Q" {
		t.Errorf("ResearchQuestion = %v", d.ResearchQuestion)
	}
	if d.DataQuestions == nil || len(*d.DataQuestions) != 1 {
		t.Errorf("DataQuestions = %v", d.DataQuestions)
	}
	if len(d.Logs) != 2 || !strings.Contains(d.Logs[0].Message, "Research question") {
		t.Errorf("log order = %+v", d.Logs)
	}
	if Route(d) != ContinueToRetrieval {
		t.Errorf("Route() = halt, want continue")
	}
}

func TestAssistantPlainTextReply(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{{Content: "Here is a direct answer."}}}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})

	if len(d.Messages) != 1 || d.Messages[0].Content != "Here is a direct answer." {
		t.Fatalf("messages = %+v", d.Messages)
	}
	if len(d.Logs) != 0 {
		t.Errorf("logs = %+v, want none", d.Logs)
	}
	if Route(d) != Halt {
		t.Errorf("Route() = continue, want halt")
	}
}

func TestAssistantModelFailureDegrades(t *testing.T) {
	model := &scriptedModel{
		turns: []ModelReply{{}},
		errs:  []error{errors.New("upstream timeout")},
	}
	node := &AssistantNode{Model: model}

	d := node.Run(context.Background(), State{})

	// The conversation still advances with a visible assistant message.
	if len(d.Messages) != 1 || d.Messages[0].Role != RoleAssistant {
		t.Fatalf("messages = %+v", d.Messages)
	}
	if len(d.Logs) != 1 || !strings.Contains(d.Logs[0].Message, "Model call failed") {
		t.Errorf("logs = %+v, want failure entry", d.Logs)
	}
	// Indistinguishable from a plain text reply at the routing level.
	if Route(d) != Halt {
		t.Errorf("Route() = continue, want halt")
	}
}
