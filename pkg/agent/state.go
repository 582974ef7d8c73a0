package agent

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleSystem is used only for the framing message rendered per call; it
	// is never appended to the persisted conversation.
	RoleSystem Role = "system"
)

// ToolCall is a structured request emitted by the model in lieu of free text.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is a single entry in the conversation history.
// Assistant messages may carry tool calls; tool messages answer one of them
// via ToolCallID.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ResourceKind distinguishes web pages from chart evidence.
type ResourceKind string

const (
	ResourceWeb   ResourceKind = "web"
	ResourceChart ResourceKind = "chart"
)

// Resource is one piece of gathered evidence. Immutable once created.
type Resource struct {
	URL         string       `json:"url"`
	Kind        ResourceKind `json:"kind"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Source      string       `json:"source,omitempty"`
	CardID      string       `json:"card_id,omitempty"`
	EmbedHTML   string       `json:"embed_html,omitempty"`
}

// IdentityKey is the deduplication key: the URL for web resources, a
// card-id-derived key for charts. Charts and web pages never collide.
func (r Resource) IdentityKey() string {
	if r.Kind == ResourceChart {
		if r.CardID == "" {
			return ""
		}
		return "chart:" + r.CardID
	}
	return r.URL
}

// LogEntry reports progress of one sub-task to the UI. Done flips in place,
// matched by position in the log slice, never by content.
type LogEntry struct {
	Message string `json:"message"`
	Done    bool   `json:"done"`
}

// State is the shared research state. It is owned by exactly one Runner.Run
// invocation and mutated only through Apply.
type State struct {
	Messages         []Message  `json:"messages"`
	ResearchQuestion string     `json:"research_question"`
	DataQuestions    []string   `json:"data_questions,omitempty"`
	Resources        []Resource `json:"resources"`
	Report           string     `json:"report"`
	Logs             []LogEntry `json:"logs"`
}

// Clone returns a deep copy so that snapshots handed to callers cannot alias
// the state a later reducer application will build on.
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.DataQuestions = append([]string(nil), s.DataQuestions...)
	out.Resources = append([]Resource(nil), s.Resources...)
	out.Logs = append([]LogEntry(nil), s.Logs...)
	return out
}

// HasResource reports whether evidence with the given identity key exists.
func (s State) HasResource(key string) bool {
	for _, r := range s.Resources {
		if r.IdentityKey() == key {
			return true
		}
	}
	return false
}

// Delta is a partial state update produced by one node. Fields left at their
// zero value (nil pointers, empty slices) are untouched by Apply. Pointer
// fields distinguish "replace with empty" from "not present".
type Delta struct {
	Messages         []Message
	ResearchQuestion *string
	DataQuestions    *[]string
	Resources        []Resource
	Report           *string
	Logs             []LogEntry
	// ResetLogs replaces the log with Logs (possibly empty) instead of
	// appending. Marks the start of a new phase.
	ResetLogs bool
	// DoneIndexes flips Done on the log entries at these positions, after
	// any append/reset has been applied.
	DoneIndexes []int
}

// Empty reports whether applying the delta would be a no-op.
func (d Delta) Empty() bool {
	return len(d.Messages) == 0 &&
		d.ResearchQuestion == nil &&
		d.DataQuestions == nil &&
		len(d.Resources) == 0 &&
		d.Report == nil &&
		len(d.Logs) == 0 &&
		!d.ResetLogs &&
		len(d.DoneIndexes) == 0
}
