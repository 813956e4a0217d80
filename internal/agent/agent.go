package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"fleet-copilot/internal/agent/dispatch"
	"fleet-copilot/internal/agent/memory"
	"fleet-copilot/internal/agent/prompt"
	"fleet-copilot/internal/agent/tools"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
	"fleet-copilot/pkg/metrics"
	"fleet-copilot/pkg/tracing"
)

const (
	DefaultMaxRounds = 8
	DefaultTopK      = 3
	DefaultRetries   = 3
	DefaultBackoff   = 500 * time.Millisecond
)

// TurnResult 一轮对话的结果
type TurnResult struct {
	Answer     string        `json:"answer"`
	Rounds     int           `json:"rounds"`
	ToolCalls  int           `json:"tool_calls"`
	Incomplete bool          `json:"incomplete"`
	Duration   time.Duration `json:"duration"`
}

// Deps Agent 的依赖；同一进程内的多个 Agent 共享 Registry、Dispatcher 与长期记忆
type Deps struct {
	Model      model.ToolCallingChatModel
	Registry   *tools.Registry
	Dispatcher *dispatch.Dispatcher
	// Memory 为 nil 时只使用短期记忆
	Memory *memory.LongTerm
	// Sampler 用于总结情景记忆；为 nil 时不记录
	Sampler tools.Sampler
	Fleet   prompt.Fleet
	Logger  *log.Logger
}

// Agent 编排循环：推理 -> 工具调用 -> 推理 ... -> 最终回答。
// 每个 Agent 持有自己的短期记忆，同一时刻只执行一轮
type Agent struct {
	mode       Mode
	model      model.ToolCallingChatModel
	bound      model.ToolCallingChatModel
	dispatcher *dispatch.Dispatcher
	longTerm   *memory.LongTerm
	sampler    tools.Sampler
	fleet      prompt.Fleet
	buffer     *memory.Buffer
	logger     *log.Logger

	maxRounds int
	topK      int
	retries   int
	backoff   time.Duration
	episodes  bool
	sessionID string
	now       func() time.Time

	turnMu sync.Mutex
	state  atomic.Int32
}

// Option 可选配置
type Option func(*Agent)

// WithMaxRounds 设置单轮对话中工具调用的最大轮数
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithBuffer 使用指定的短期记忆
func WithBuffer(b *memory.Buffer) Option {
	return func(a *Agent) {
		if b != nil {
			a.buffer = b
		}
	}
}

// WithTopK 每类长期记忆检索条数
func WithTopK(k int) Option {
	return func(a *Agent) {
		if k >= 0 {
			a.topK = k
		}
	}
}

// WithRetry LLM 调用失败时的重试次数与初始退避
func WithRetry(retries int, initial time.Duration) Option {
	return func(a *Agent) {
		if retries >= 0 {
			a.retries = retries
		}
		if initial > 0 {
			a.backoff = initial
		}
	}
}

// WithEpisodes 是否记录情景记忆（交互模式默认开启）
func WithEpisodes(enable bool) Option {
	return func(a *Agent) { a.episodes = enable }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithSessionID 指定会话 ID
func WithSessionID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.sessionID = id
		}
	}
}

// New 创建 Agent，并把当前模式可用的工具绑定到推理模型
func New(mode Mode, deps Deps, opts ...Option) (*Agent, error) {
	if deps.Model == nil || deps.Registry == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("agent: %w: model, registry and dispatcher are required", apperrors.ErrInvalidArg)
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	dispatcher := deps.Dispatcher
	if mode == ModePoll {
		dispatcher = dispatcher.WithoutChatOnly()
	}
	a := &Agent{
		mode:       mode,
		model:      deps.Model,
		dispatcher: dispatcher,
		longTerm:   deps.Memory,
		sampler:    deps.Sampler,
		fleet:      deps.Fleet,
		buffer:     memory.NewBuffer(memory.DefaultBufferSize),
		maxRounds:  DefaultMaxRounds,
		topK:       DefaultTopK,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		episodes:   mode == ModeChat,
		sessionID:  uuid.NewString(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = logger.With("component", "agent", "mode", mode.String(), "session", a.sessionID)

	infos := deps.Registry.ToolInfos(dispatcher.Allows)
	a.bound = deps.Model
	if len(infos) > 0 {
		bound, err := deps.Model.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("agent: bind tools: %w", err)
		}
		a.bound = bound
	}
	return a, nil
}

// State 当前状态
func (a *Agent) State() State { return State(a.state.Load()) }

// Buffer 短期记忆
func (a *Agent) Buffer() *memory.Buffer { return a.buffer }

// SessionID 会话 ID
func (a *Agent) SessionID() string { return a.sessionID }

// Mode 运行模式
func (a *Agent) Mode() Mode { return a.mode }

// Turn 处理一条用户输入并返回最终回答。
// 本轮产生的消息只在得到最终回答后一次性写入短期记忆；LLM 失败或 ctx 取消时丢弃
func (a *Agent) Turn(ctx context.Context, input string) (*TurnResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("turn: %w: empty input", apperrors.ErrInvalidArg)
	}
	return a.turn(ctx, memory.NewMessage(memory.RoleUser, input))
}

// Greet 开场：让模型自我介绍并列出可访问的节点
func (a *Agent) Greet(ctx context.Context) (*TurnResult, error) {
	return a.turn(ctx, memory.NewMessage(memory.RoleSystem, prompt.Greeting))
}

func (a *Agent) turn(ctx context.Context, in memory.Message) (result *TurnResult, err error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	start := time.Now()
	ctx, span := tracing.StartTurnSpan(ctx, a.mode.String(), a.sessionID)
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case result.Incomplete:
			outcome = "incomplete"
		}
		metrics.TurnDuration.WithLabelValues(a.mode.String()).Observe(time.Since(start).Seconds())
		metrics.TurnTotal.WithLabelValues(a.mode.String(), outcome).Inc()
		tracing.EndSpan(span, err)
		a.setState(StateIdle)
	}()

	a.setState(StateReasoning)
	system := schema.SystemMessage(a.systemPrompt(ctx, in.Content))
	history := trimWindow(a.buffer.Window())
	staged := []memory.Message{in}
	result = &TurnResult{}

	for round := 1; round <= a.maxRounds; round++ {
		result.Rounds = round
		a.setState(StateReasoning)
		d, err := a.generate(ctx, a.bound, a.input(system, history, staged), "chat", round)
		if err != nil {
			return nil, err
		}

		switch d := d.(type) {
		case FinalAnswer:
			a.setState(StateFinalAnswer)
			staged = append(staged, memory.NewMessage(memory.RoleAgent, d.Text))
			result.Answer = d.Text
			result.Duration = time.Since(start)
			a.commit(ctx, staged, result)
			return result, nil

		case ToolCalls:
			a.setState(StateToolExecution)
			call := memory.NewMessage(memory.RoleAgent, d.Text)
			call.ToolCalls = d.Calls
			staged = append(staged, call)
			for _, tc := range d.Calls {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				res := a.dispatcher.Dispatch(ctx, dispatch.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
				msg := memory.NewMessage(memory.RoleTool, res.Content)
				msg.ToolCallID = tc.ID
				msg.ToolName = tc.Name
				msg.IsError = res.Failed()
				staged = append(staged, msg)
				result.ToolCalls++
			}
		}
	}

	a.logger.Warn("达到工具调用轮数上限，请求尽力回答", "rounds", a.maxRounds, "tool_calls", result.ToolCalls)
	a.setState(StateReasoning)
	input := append(a.input(system, history, staged), schema.SystemMessage(prompt.BestEffort))
	d, err := a.generate(ctx, a.model, input, "best_effort", a.maxRounds+1)
	if err != nil {
		return nil, err
	}
	text := ""
	switch d := d.(type) {
	case FinalAnswer:
		text = d.Text
	case ToolCalls:
		text = d.Text
	}
	answer := prompt.IncompleteNotice
	if strings.TrimSpace(text) != "" {
		answer += "\n\n" + text
	}
	a.setState(StateFinalAnswer)
	staged = append(staged, memory.NewMessage(memory.RoleAgent, answer))
	result.Answer = answer
	result.Incomplete = true
	result.Duration = time.Since(start)
	a.commit(ctx, staged, result)
	return result, nil
}

func (a *Agent) input(system *schema.Message, history, staged []memory.Message) []*schema.Message {
	out := make([]*schema.Message, 0, 1+len(history)+len(staged))
	out = append(out, system)
	out = append(out, toSchemaMessages(history)...)
	return append(out, toSchemaMessages(staged)...)
}

// generate 调用推理模型并解码；失败按指数退避重试，用尽后返回 ErrBackendUnavailable
func (a *Agent) generate(ctx context.Context, m model.BaseChatModel, input []*schema.Message, kind string, round int) (Decision, error) {
	var d Decision
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		lctx, span := tracing.StartLLMSpan(ctx, kind, round)
		msg, err := m.Generate(lctx, input)
		if err == nil {
			d, err = decide(msg)
		}
		tracing.EndSpan(span, err)
		if err != nil {
			metrics.LLMRequestTotal.WithLabelValues(kind, "error").Inc()
			if cerr := ctx.Err(); cerr != nil {
				return backoff.Permanent(cerr)
			}
			return err
		}
		metrics.LLMRequestTotal.WithLabelValues(kind, "ok").Inc()
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.backoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.retries)), ctx)
	notify := func(err error, wait time.Duration) {
		metrics.LLMRetryTotal.WithLabelValues(kind).Inc()
		a.logger.Warn("LLM 调用失败，准备重试", "kind", kind, "round", round, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		a.logger.Error("LLM 调用重试耗尽", "kind", kind, "round", round, "error", err)
		return nil, apperrors.Mark(apperrors.ErrBackendUnavailable, err)
	}
	return d, nil
}

// systemPrompt 组装系统提示词，附带按输入检索到的长期记忆
func (a *Agent) systemPrompt(ctx context.Context, query string) string {
	now := a.now()
	var memories, episodes []string
	if a.longTerm != nil && a.topK > 0 {
		memories = a.recall(ctx, query, memory.KindSemantic)
		episodes = a.recall(ctx, query, memory.KindEpisodic)
	}
	if a.mode == ModePoll {
		return prompt.Poll(a.fleet, now, memories, episodes)
	}
	return prompt.Chat(a.fleet, now, memories, episodes)
}

// recall 检索长期记忆；失败时降级为只用短期记忆
func (a *Agent) recall(ctx context.Context, query string, kind memory.Kind) []string {
	recs, err := a.longTerm.Retrieve(ctx, query, a.topK, kind)
	if err != nil {
		a.logger.Warn("长期记忆不可用，仅使用短期记忆", "kind", kind, "error", err)
		return nil
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Text)
	}
	return out
}

// commit 将本轮消息写入短期记忆，并在调用过工具时记录情景记忆
func (a *Agent) commit(ctx context.Context, staged []memory.Message, result *TurnResult) {
	a.buffer.AppendAll(staged...)
	a.logger.Debug("本轮完成", "rounds", result.Rounds, "tool_calls", result.ToolCalls, "incomplete", result.Incomplete)
	if a.episodes && result.ToolCalls > 0 {
		a.recordEpisode(ctx, staged)
	}
}

// recordEpisode 通过采样模型总结本轮工具调用过程并保存为情景记忆；失败只记录日志
func (a *Agent) recordEpisode(ctx context.Context, staged []memory.Message) {
	if a.longTerm == nil || a.sampler == nil {
		return
	}
	summary, err := a.sampler.Sample(ctx, prompt.Episode(transcript(staged)))
	if err != nil {
		a.logger.Warn("情景总结失败", "error", err)
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" || summary == prompt.UnsuccessfulEpisode {
		a.logger.Debug("本轮不记录情景记忆")
		return
	}
	if _, err := a.longTerm.Save(ctx, summary, memory.KindEpisodic, memory.ProvenanceAgent); err != nil {
		a.logger.Warn("情景记忆保存失败", "error", err)
	}
}

func (a *Agent) setState(s State) {
	if old := State(a.state.Swap(int32(s))); old != s {
		a.logger.Debug("状态切换", "from", old.String(), "to", s.String())
	}
}
