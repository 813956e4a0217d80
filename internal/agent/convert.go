package agent

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"fleet-copilot/internal/agent/memory"
)

// toSchemaMessages 将会话消息转换为推理模型的输入
func toSchemaMessages(msgs []memory.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toSchemaMessage(m))
	}
	return out
}

func toSchemaMessage(m memory.Message) *schema.Message {
	switch m.Role {
	case memory.RoleSystem:
		return schema.SystemMessage(m.Content)
	case memory.RoleAgent:
		var calls []schema.ToolCall
		for _, tc := range m.ToolCalls {
			calls = append(calls, schema.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		return schema.AssistantMessage(m.Content, calls)
	case memory.RoleTool:
		return schema.ToolMessage(m.Content, m.ToolCallID, schema.WithToolName(m.ToolName))
	default:
		return schema.UserMessage(m.Content)
	}
}

// trimWindow 去掉窗口开头调用请求已被淘汰的工具结果；其余消息（包括上一轮的回答）全部保留
func trimWindow(msgs []memory.Message) []memory.Message {
	for i, m := range msgs {
		if m.Role != memory.RoleTool {
			return msgs[i:]
		}
	}
	return nil
}

// transcript 将一轮消息格式化为情景总结的输入
func transcript(msgs []memory.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case memory.RoleAgent:
			if m.Content != "" {
				fmt.Fprintf(&b, "agent: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "agent called tool %s with arguments %s\n", tc.Name, tc.Arguments)
			}
		case memory.RoleTool:
			fmt.Fprintf(&b, "tool %s returned: %s\n", m.ToolName, m.Content)
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
