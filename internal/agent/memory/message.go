package memory

import "time"

// Role 消息角色
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleTool   Role = "tool"
)

// ToolCall 模型请求的一次工具调用
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message 对话中的一条消息，追加到 Buffer 后不再修改
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`  // RoleAgent 请求的工具调用
	ToolCallID string     `json:"tool_call_id,omitempty"` // RoleTool 对应的调用
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewMessage 创建带当前时间戳的消息
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}
