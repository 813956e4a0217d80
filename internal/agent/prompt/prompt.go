package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Greeting 交互会话开场指令
	Greeting = "Welcome the user and introduce yourself. Let the user know what database and cell nodes you have access to."
	// UnsuccessfulEpisode 情景总结认为本轮无价值时的固定输出
	UnsuccessfulEpisode = "Unsuccessful episode."
	// NoMemoryFound 删除记忆时没有匹配候选的固定输出
	NoMemoryFound = "Error: No memory found."
	// IncompleteNotice 达到轮次上限时附加在回答前的提示
	IncompleteNotice = "[Incomplete: the tool-calling limit for this request was reached. The answer below may be partial.]"
	// BestEffort 达到轮次上限后要求模型不再调用工具、直接回答
	BestEffort = "You have reached the maximum number of tool calls for this request. Do not call any more tools. Using only the information gathered so far, give the best answer you can and state clearly what remains unfinished."
)

// Fleet 提示词中呈现的节点清单与时区
type Fleet struct {
	AgentName string
	Username  string
	DBNodes   []string
	CellNodes []string
	Location  *time.Location
}

// Chat 交互对话的系统提示词；memories、episodes 为检索到的语义记忆和情景记忆文本
func Chat(f Fleet, now time.Time, memories, episodes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an assistant designed to help a user administer a fleet of database and storage servers.\n", f.Name())
	fmt.Fprintf(&b, "The user's name is %s. ", f.Username)
	fmt.Fprintf(&b, "The user's fleet includes the following database (DB) nodes/servers: %s. ", strings.Join(f.DBNodes, ", "))
	fmt.Fprintf(&b, "The user's fleet includes the following cell/storage nodes/servers: %s.\n", strings.Join(f.CellNodes, ", "))
	b.WriteString("The nodes in the user's fleet are the only nodes you have access to. You can respond to queries about the fleet, using tools as you see fit. When describing a long tool output, summarize concisely.\n")
	writeToolRules(&b)
	writeTime(&b, f, now)
	b.WriteString("\nIf the user asks about conversation history, respond to the best of your ability. If appropriate, let the user know you only have access to recent messages and relevant memories.\n")
	b.WriteString("If the user asks you to save a memory or remember something, save it to your long-term memory using the save_memory tool.\n")
	b.WriteString("If the user asks you to delete a memory or forget something, remove it from your long-term memory using the delete_memory tool.\n")
	b.WriteString("Do not use tools to recall memories; relevant memories are automatically provided to you.\n")

	writeMemories(&b, memories, episodes)
	return b.String()
}

// Poll 轮询回答节点问题时的系统提示词；只附带长期记忆，不涉及会话历史
func Poll(f Fleet, now time.Time, memories, episodes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an assistant designed to respond to queries about a given fleet of database and storage servers.\n", f.Name())
	fmt.Fprintf(&b, "The fleet includes the following database (DB) nodes/servers: %s. ", strings.Join(f.DBNodes, ", "))
	fmt.Fprintf(&b, "The fleet includes the following cell/storage nodes/servers: %s.\n", strings.Join(f.CellNodes, ", "))
	b.WriteString("The nodes in the fleet are the only nodes you have access to. You can respond to queries about the fleet, using tools as you see fit.\n")
	writeToolRules(&b)
	writeTime(&b, f, now)
	writeMemories(&b, memories, episodes)
	return b.String()
}

// Episode 请求采样模型判断并总结一次工具调用过程
func Episode(transcript string) string {
	return `Look at the sequence of actions below. Was it successful or useful to the user?
If so, please summarize this sequence of actions from the perspective of the agent in 2-5 sentences.
If not, output only the sentence: "` + UnsuccessfulEpisode + `"

` + transcript
}

// Candidate 待删除记忆的候选项
type Candidate struct {
	ID   string
	Text string
}

// DeleteMemory 请求采样模型从候选中选出要删除的记忆 ID
func DeleteMemory(description string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("You will receive the description of a memory the user wants to delete, along with several candidate memories.\n")
	b.WriteString("If the description fits one of the candidate memories, output only the ID of the best memory to delete.\n")
	fmt.Fprintf(&b, "Otherwise, output only the sentence: %q\n\n", NoMemoryFound)
	fmt.Fprintf(&b, "Description: %s\n\nCandidate memories:\n", description)
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "ID: %s\nMemory: %s", c.ID, c.Text)
	}
	return b.String()
}

// CurrentTime 当前时间（ISO 8601，精确到秒）
func CurrentTime(loc *time.Location, now time.Time) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.Format(time.RFC3339)
}

// UTCOffsetHours 时区相对 UTC 的小时偏移
func UTCOffsetHours(loc *time.Location, now time.Time) float64 {
	if loc == nil {
		return 0
	}
	_, offset := now.In(loc).Zone()
	return float64(offset) / 3600
}

// Name agent 名称，未配置时为 FleetCopilot
func (f Fleet) Name() string {
	if f.AgentName == "" {
		return "FleetCopilot"
	}
	return f.AgentName
}

func writeToolRules(b *strings.Builder) {
	b.WriteString("Only use a tool if it makes sense to do so in response to a query. If you cannot complete a request, say so.\n")
	b.WriteString("Make sure you provide all of the appropriate arguments when calling tools. Do not call tools without the appropriate arguments.\n")
}

func writeMemories(b *strings.Builder, memories, episodes []string) {
	if len(memories) > 0 {
		b.WriteString("\nBelow are memories that you have saved from the user.")
		for _, m := range memories {
			fmt.Fprintf(b, "\n\nMemory: %s", m)
		}
		b.WriteString("\n")
	}
	if len(episodes) > 0 {
		b.WriteString("\nBelow are episodes that describe how you responded to past queries. To find out about the current state of your fleet, do not rely on these episodes; execute the appropriate tool.")
		for _, e := range episodes {
			fmt.Fprintf(b, "\n\nEpisode: %s", e)
		}
		b.WriteString("\n")
	}
}

func writeTime(b *strings.Builder, f Fleet, now time.Time) {
	zone := "UTC"
	if f.Location != nil {
		zone = f.Location.String()
	}
	fmt.Fprintf(b, "The time zone is %s, which is offset from UTC by %s. The current time is %s. Keep the time in mind when executing tools.\n",
		zone, strconv.FormatFloat(UTCOffsetHours(f.Location, now), 'f', 1, 64), CurrentTime(f.Location, now))
}
