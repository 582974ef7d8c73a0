package agent

import (
	"context"
	"strings"
	"testing"
)

// TestRunnerFullResearchTurn walks a complete turn: the assistant sets the
// research question, generates data questions, the fan-out gathers evidence
// for both, and the assistant writes the report once results are back.
func TestRunnerFullResearchTurn(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{
		{ToolCalls: []ToolCall{
			call(ToolSetResearchQuestion, map[string]any{"question": "Compare X vs Y"}),
			call(ToolGenerateDataQuestions, map[string]any{
				"questions": []any{"X market size", "Y market size"},
			}),
		}},
		{ToolCalls: []ToolCall{
			call(ToolWriteReport, map[string]any{"report": "# X vs Y\nBoth markets are growing."}),
		}},
	}}
	web := &fakeWeb{results: map[string][]WebResult{
		"X market size": {webHit("x")},
		"Y market size": {webHit("y")},
	}}
	charts := &fakeCharts{results: map[string][]ChartResult{
		"X market size": {chartHit("x")},
		"Y market size": {chartHit("y")},
	}}

	var snapshots []State
	r := &Runner{
		Assistant:  &AssistantNode{Model: model},
		Retrieval:  &FanoutNode{Web: web, Charts: charts},
		OnSnapshot: func(s State) { snapshots = append(snapshots, s) },
	}

	got, err := r.Run(context.Background(), State{}, "Research X vs Y for me")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got.ResearchQuestion != "Compare X vs Y" {
		t.Errorf("ResearchQuestion = %q", got.ResearchQuestion)
	}
	if len(got.Resources) != 4 {
		t.Errorf("len(Resources) = %d, want 2 charts + 2 web hits", len(got.Resources))
	}
	if !strings.Contains(got.Report, "X vs Y") {
		t.Errorf("Report = %q", got.Report)
	}
	if got.Messages[0].Role != RoleUser || got.Messages[0].Content != "Research X vs Y for me" {
		t.Errorf("first message = %+v", got.Messages[0])
	}
	// Every log entry settles once the run halts.
	for i, l := range got.Logs {
		if !l.Done {
			t.Errorf("log[%d] %q still pending after halt", i, l.Message)
		}
	}

	// Snapshots arrive strictly post-merge: each one extends the last.
	if len(snapshots) < 4 {
		t.Fatalf("len(snapshots) = %d, want user turn + nodes + progress", len(snapshots))
	}
	for i := 1; i < len(snapshots); i++ {
		if len(snapshots[i].Messages) < len(snapshots[i-1].Messages) {
			t.Errorf("snapshot %d lost messages", i)
		}
	}
	last := snapshots[len(snapshots)-1]
	if last.Report != got.Report || len(last.Resources) != len(got.Resources) {
		t.Errorf("final snapshot diverges from returned state")
	}

	// The tool protocol stays consistent: the data-questions call got its
	// result from retrieval, not from the assistant node.
	var answered bool
	for _, m := range got.Messages {
		if m.Role == RoleTool && strings.Contains(m.Content, "Search completed") {
			answered = true
		}
	}
	if !answered {
		t.Errorf("retrieval result message missing from transcript")
	}
}

func TestRunnerLogsResetOnNewUserTurn(t *testing.T) {
	model := &scriptedModel{turns: []ModelReply{{Content: "Sure."}}}
	r := &Runner{Assistant: &AssistantNode{Model: model}, Retrieval: &FanoutNode{}}

	prior := State{Logs: []LogEntry{{Message: "Search for old", Done: true}}}
	got, err := r.Run(context.Background(), prior, "new question")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, l := range got.Logs {
		if l.Message == "Search for old" {
			t.Errorf("previous turn's log survived the reset: %+v", got.Logs)
		}
	}
}

func TestRunnerStepBudgetTruncates(t *testing.T) {
	// The assistant keeps asking for more searches forever.
	model := &scriptedModel{
		turns: []ModelReply{{ToolCalls: []ToolCall{
			call(ToolGenerateDataQuestions, map[string]any{"questions": []any{"again"}}),
		}}},
		repeatLast: true,
	}
	web := &fakeWeb{results: map[string][]WebResult{}}

	r := &Runner{
		Assistant: &AssistantNode{Model: model},
		Retrieval: &FanoutNode{Web: web, Charts: &fakeCharts{}},
		MaxSteps:  2,
	}

	got, err := r.Run(context.Background(), State{}, "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v, want graceful truncation", err)
	}
	if model.calls != 3 {
		t.Errorf("model calls = %d, want 3 (two full rounds plus the truncated one)", model.calls)
	}
	var truncated bool
	for _, l := range got.Logs {
		if strings.Contains(l.Message, "truncated after 2 search rounds") {
			truncated = true
			if !l.Done {
				t.Errorf("truncation entry not done: %+v", l)
			}
		}
	}
	if !truncated {
		t.Errorf("no truncation log entry: %+v", got.Logs)
	}
}

func TestRunnerModelFailureHaltsGracefully(t *testing.T) {
	model := &scriptedModel{
		turns: []ModelReply{{}},
		errs:  []error{context.DeadlineExceeded},
	}
	r := &Runner{Assistant: &AssistantNode{Model: model}, Retrieval: &FanoutNode{}}

	got, err := r.Run(context.Background(), State{}, "hello")
	if err != nil {
		t.Fatalf("Run() error = %v, want graceful halt", err)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != RoleAssistant || last.Content == "" {
		t.Errorf("no visible assistant message after model failure: %+v", last)
	}
	var logged bool
	for _, l := range got.Logs {
		logged = logged || strings.Contains(l.Message, "Model call failed")
	}
	if !logged {
		t.Errorf("failure not surfaced in logs: %+v", got.Logs)
	}
}

func TestRunnerReducerViolationFailsWithLastGoodState(t *testing.T) {
	// A resource without an identity key violates the reducer contract, so
	// committing the retrieval delta must fail the run.
	model := &scriptedModel{turns: []ModelReply{{ToolCalls: []ToolCall{
		call(ToolSetResearchQuestion, map[string]any{"question": "Q"}),
		call(ToolGenerateDataQuestions, map[string]any{"questions": []any{"dq"}}),
	}}}}
	bad := retrievalFunc(func(ctx context.Context, s State, emit func(Delta) error) (Delta, error) {
		return Delta{Resources: []Resource{{Kind: ResourceWeb, Title: "hit with no url"}}}, nil
	})

	var snapshots []State
	r := &Runner{
		Assistant:  &AssistantNode{Model: model},
		Retrieval:  bad,
		OnSnapshot: func(s State) { snapshots = append(snapshots, s) },
	}

	got, err := r.Run(context.Background(), State{}, "go")
	if err == nil {
		t.Fatalf("Run() error = nil, want reducer violation")
	}
	if !strings.Contains(err.Error(), "research run failed") {
		t.Errorf("error = %v, want wrapped run failure", err)
	}
	// The last good state survives: the assistant's work is intact even
	// though the retrieval delta was rejected.
	if got.ResearchQuestion != "Q" {
		t.Errorf("ResearchQuestion = %q, want last good state preserved", got.ResearchQuestion)
	}
	if len(got.Resources) != 0 {
		t.Errorf("rejected delta leaked resources: %+v", got.Resources)
	}
	if len(snapshots) == 0 {
		t.Fatalf("no snapshots emitted")
	}
	final := snapshots[len(snapshots)-1]
	if final.ResearchQuestion != got.ResearchQuestion || len(final.Resources) != len(got.Resources) {
		t.Errorf("failure snapshot diverges from returned state")
	}
}

func TestRunnerEmptyUserMessageResumes(t *testing.T) {
	// Resuming without new input must not reset the log or add a message.
	model := &scriptedModel{turns: []ModelReply{{Content: "Continuing."}}}
	r := &Runner{Assistant: &AssistantNode{Model: model}, Retrieval: &FanoutNode{}}

	prior := State{
		Messages: []Message{{ID: "u1", Role: RoleUser, Content: "earlier"}},
		Logs:     []LogEntry{{Message: "Search for earlier", Done: true}},
	}
	got, err := r.Run(context.Background(), prior, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got.Logs) == 0 || got.Logs[0].Message != "Search for earlier" {
		t.Errorf("logs = %+v, want prior log untouched", got.Logs)
	}
	if got.Messages[0].ID != "u1" || got.Messages[1].Role != RoleAssistant {
		t.Errorf("messages = %+v", got.Messages)
	}
}
