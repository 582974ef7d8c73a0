package agent

import "context"

// Tool names the model may invoke.
const (
	ToolSetResearchQuestion   = "SetResearchQuestion"
	ToolGenerateDataQuestions = "GenerateDataQuestions"
	ToolWriteReport           = "WriteReport"
	ToolExtractResources      = "ExtractResources"
)

// ToolSpec describes one tool offered to the model. Parameters is a JSON
// schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelReply is the model's answer: free text, zero or more tool calls, or
// both. Tool calls are processed in the order returned.
type ModelReply struct {
	Content   string
	ToolCalls []ToolCall
}

// ModelClient abstracts the language-model provider. Implementations live
// outside this package (see pkg/clients).
type ModelClient interface {
	Invoke(ctx context.Context, messages []Message, tools []ToolSpec) (ModelReply, error)
}

// AssistantTools returns the fixed tool set offered on every assistant turn.
func AssistantTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolSetResearchQuestion,
			Description: "Set the core research question distilled from the user's request.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The research question",
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        ToolGenerateDataQuestions,
			Description: "Generate 3-5 data-focused questions to search for charts and web evidence.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"questions": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "3-5 specific, answerable data questions",
					},
				},
				"required": []string{"questions"},
			},
		},
		{
			Name:        ToolWriteReport,
			Description: "Write the research report. Always use this tool, never reply with the report as chat text.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"report": map[string]any{
						"type":        "string",
						"description": "The full markdown report",
					},
				},
				"required": []string{"report"},
			},
		},
	}
}

// ExtractResourcesTool is the single tool bound during the post-search
// resource selection round trip.
func ExtractResourcesTool() ToolSpec {
	return ToolSpec{
		Name:        ToolExtractResources,
		Description: "Extract the 3-5 most relevant web resources from the search results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resources": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"url":         map[string]any{"type": "string"},
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
						},
						"required": []string{"url"},
					},
				},
			},
			"required": []string{"resources"},
		},
	}
}
