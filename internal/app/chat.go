package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"fleet-copilot/internal/agent"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
)

// QuitCommand 结束交互会话的输入
const QuitCommand = "quit"

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusFaint = lipgloss.NewStyle().Faint(true)
)

// Turner 交互会话使用的编排循环
type Turner interface {
	Turn(ctx context.Context, input string) (*agent.TurnResult, error)
	Greet(ctx context.Context) (*agent.TurnResult, error)
}

// Chat 终端交互会话：读取一行输入，交给编排循环，打印回答
type Chat struct {
	agent     Turner
	in        io.Reader
	out       io.Writer
	username  string
	agentName string
	greet     bool
	logger    *log.Logger
}

// NewChat 创建交互会话
func NewChat(a Turner, in io.Reader, out io.Writer, username, agentName string, greet bool, logger *log.Logger) *Chat {
	if logger == nil {
		logger = log.Discard()
	}
	return &Chat{agent: a, in: in, out: out, username: username, agentName: agentName, greet: greet, logger: logger}
}

// Run 运行交互循环，直到输入 quit、输入结束或 ctx 取消。
// ctx 取消时进行中的一轮被中止，短期记忆保持本轮开始前的状态
func (c *Chat) Run(ctx context.Context) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	if c.greet {
		res, err := c.agent.Greet(ctx)
		c.report(ctx, res, err)
	}

	for {
		fmt.Fprint(c.out, promptStyle.Render(c.username+":")+" ")
		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}
		if strings.EqualFold(input, QuitCommand) {
			return nil
		}
		res, err := c.agent.Turn(ctx, input)
		c.report(ctx, res, err)
	}
}

// report 打印一轮结果；LLM 失败只结束本轮
func (c *Chat) report(ctx context.Context, res *agent.TurnResult, err error) {
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("本轮对话失败", "error", err)
		msg := "The request failed: " + err.Error()
		if errors.Is(err, apperrors.ErrBackendUnavailable) {
			msg = "The language model is unavailable right now. Please try again."
		}
		fmt.Fprintln(c.out, errorStyle.Render(msg))
		return
	}
	fmt.Fprintf(c.out, "\n%s %s\n", agentStyle.Render(c.agentName+":"), res.Answer)
	if res.Incomplete {
		fmt.Fprintln(c.out, noticeStyle.Render("(stopped after the tool-call limit)"))
	}
	c.logger.Debug("本轮完成", "rounds", res.Rounds, "tool_calls", res.ToolCalls, "duration", res.Duration)
	if res.ToolCalls > 0 {
		fmt.Fprintln(c.out, statusFaint.Render(fmt.Sprintf("%d tool call(s), %s", res.ToolCalls, res.Duration.Round(time.Millisecond))))
	}
	fmt.Fprintln(c.out)
}
