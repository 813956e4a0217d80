package agent

// State 编排循环状态
type State int32

const (
	StateIdle State = iota
	StateReasoning
	StateToolExecution
	StateFinalAnswer
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReasoning:
		return "reasoning"
	case StateToolExecution:
		return "tool_execution"
	case StateFinalAnswer:
		return "final_answer"
	default:
		return "unknown"
	}
}

// Mode 运行模式
type Mode int

const (
	// ModeChat 交互对话：检索长期记忆，暴露记忆工具，成功的工具调用过程记为情景记忆
	ModeChat Mode = iota
	// ModePoll 轮询：只用节点工具，检索长期记忆但不写入
	ModePoll
)

func (m Mode) String() string {
	if m == ModePoll {
		return "poll"
	}
	return "chat"
}
