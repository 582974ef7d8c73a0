package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-canvas/pkg/agent"
)

// LangChainModel adapts any langchaingo model to the agent's ModelClient
// interface, translating the message transcript and tool specs both ways.
type LangChainModel struct {
	LLM llms.Model
}

func NewLangChainModel(llm llms.Model) *LangChainModel {
	return &LangChainModel{LLM: llm}
}

func (m *LangChainModel) Invoke(ctx context.Context, messages []agent.Message, tools []agent.ToolSpec) (agent.ModelReply, error) {
	prompts, err := toMessageContent(messages)
	if err != nil {
		return agent.ModelReply{}, err
	}

	var opts []llms.CallOption
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(toLLMTools(tools)))
	}

	resp, err := m.LLM.GenerateContent(ctx, prompts, opts...)
	if err != nil {
		return agent.ModelReply{}, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return agent.ModelReply{}, fmt.Errorf("model returned no choices")
	}

	choice := resp.Choices[0]
	reply := agent.ModelReply{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := map[string]any{}
		if tc.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
				return agent.ModelReply{}, fmt.Errorf("decoding %s arguments: %w", tc.FunctionCall.Name, err)
			}
		}
		id := tc.ID
		if id == "" {
			// Gemini omits tool call ids; mint one so results can refer back.
			id = uuid.NewString()
		}
		reply.ToolCalls = append(reply.ToolCalls, agent.ToolCall{
			ID:   id,
			Name: tc.FunctionCall.Name,
			Args: args,
		})
	}
	return reply, nil
}

func toMessageContent(messages []agent.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))

		case agent.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))

		case agent.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("encoding %s arguments: %w", tc.Name, err)
				}
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			if len(mc.Parts) == 0 {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: ""})
			}
			out = append(out, mc)

		case agent.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       toolNameFor(messages, m.ToolCallID),
					Content:    m.Content,
				}},
			})

		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return out, nil
}

// toolNameFor recovers the tool name for a result message; some providers
// require it on the response part.
func toolNameFor(messages []agent.Message, callID string) string {
	if callID == "" {
		return ""
	}
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	return ""
}

func toLLMTools(tools []agent.ToolSpec) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
