package agent

import (
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"fleet-copilot/internal/agent/memory"
)

// errMalformedResponse 模型既没有给出文本也没有请求工具
var errMalformedResponse = errors.New("malformed model response")

// Decision 模型一次回复的解释结果：FinalAnswer 或 ToolCalls
type Decision interface {
	decision()
}

// FinalAnswer 最终回答
type FinalAnswer struct {
	Text string
}

// ToolCalls 一个或多个工具调用请求；Text 为模型随调用给出的说明（可为空）
type ToolCalls struct {
	Text  string
	Calls []memory.ToolCall
}

func (FinalAnswer) decision() {}
func (ToolCalls) decision()   {}

// decide 将模型回复解码为 Decision
func decide(msg *schema.Message) (Decision, error) {
	if msg == nil {
		return nil, errMalformedResponse
	}
	if len(msg.ToolCalls) > 0 {
		calls := make([]memory.ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if tc.Function.Name == "" {
				return nil, errMalformedResponse
			}
			id := tc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			calls = append(calls, memory.ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return ToolCalls{Text: msg.Content, Calls: calls}, nil
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, errMalformedResponse
	}
	return FinalAnswer{Text: msg.Content}, nil
}
