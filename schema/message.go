package schema

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role defines message roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation transcript.
// Tool messages carry the originating call id in Metadata under "call_id".
type Message struct {
	ID                string          `json:"id"`
	Role              Role            `json:"role"`
	Content           string          `json:"content"`
	ToolCalls         []ToolCall      `json:"tool_calls,omitempty"`
	StructuredContent json.RawMessage `json:"structured_content,omitempty"`
	Source            string          `json:"source,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// HasToolCalls reports whether tool calls are present.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// CallID returns the tool call id for tool messages, or "".
func (m Message) CallID() string {
	if id, ok := m.Metadata["call_id"].(string); ok {
		return id
	}
	return ""
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message { return newMessage(RoleSystem, content) }

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message { return newMessage(RoleUser, content) }

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message { return newMessage(RoleAssistant, content) }

// NewToolMessage creates a tool message for the given call id.
func NewToolMessage(callID, content string, success bool) Message {
	m := newMessage(RoleTool, content)
	m.Metadata = map[string]any{"call_id": callID, "success": success}
	return m
}

// ToolCall represents a tool invocation request from the LLM.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult represents a tool execution outcome.
// Execution failures are recorded here, not returned as errors.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Message converts the result into a tool message for the transcript.
func (r ToolResult) Message() Message {
	content := r.Content
	if !r.Success && content == "" {
		content = r.Error
	}
	m := NewToolMessage(r.CallID, content, r.Success)
	if r.Error != "" {
		m.Metadata["error"] = r.Error
	}
	return m
}
