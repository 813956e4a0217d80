package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-copilot/internal/agent/dispatch"
	"fleet-copilot/internal/agent/memory"
	"fleet-copilot/internal/agent/prompt"
	"fleet-copilot/internal/agent/tools"
	"fleet-copilot/internal/model/embedding"
	apperrors "fleet-copilot/pkg/errors"
)

// step 脚本化模型的一次回复
type step struct {
	msg *schema.Message
	err error
}

// scriptedModel 按顺序返回预设回复的推理模型
type scriptedModel struct {
	mu     sync.Mutex
	steps  []step
	inputs [][]*schema.Message
	bound  []*schema.ToolInfo
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	if len(m.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s.msg, s.err
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.bound = infos
	m.mu.Unlock()
	return m, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func final(text string) step { return step{msg: schema.AssistantMessage(text, nil)} }

func toolCall(id, name, args string) step {
	return step{msg: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})}
}

type fixture struct {
	model    *scriptedModel
	registry *tools.Registry
	longTerm *memory.LongTerm
	samples  []string
	handled  []string
}

func newFixture(t *testing.T, steps ...step) *fixture {
	t.Helper()
	f := &fixture{model: &scriptedModel{steps: steps}}

	b, err := memory.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	f.longTerm = memory.NewLongTerm(b, embedding.NewHashEmbedder(64), "alice", nil)
	require.NoError(t, f.longTerm.Load(context.Background()))

	f.registry = tools.NewRegistry()
	f.registry.MustRegister(
		tools.Descriptor{
			Name:     "get_node_info",
			ReadOnly: true,
			Params:   map[string]*tools.Param{"nodes": {Type: tools.TypeString, Required: true}},
			Handler: func(_ context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				f.handled = append(f.handled, "get_node_info:"+args.String("nodes"))
				return args.String("nodes") + ": status normal", nil
			},
		},
		tools.Descriptor{
			Name: "alter_node_services",
			Handler: func(_ context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				f.handled = append(f.handled, "alter_node_services")
				return "", errors.New("cel09: ssh: no route to host")
			},
		},
	)
	f.registry.MustRegister(tools.MemoryTools(f.longTerm)...)
	f.registry.Seal()
	return f
}

func (f *fixture) sampler(reply string) tools.Sampler {
	return tools.SamplerFunc(func(_ context.Context, p string) (string, error) {
		f.samples = append(f.samples, p)
		return reply, nil
	})
}

func (f *fixture) agent(t *testing.T, mode Mode, readOnly bool, sampler tools.Sampler, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithRetry(2, time.Millisecond)}, opts...)
	a, err := New(mode, Deps{
		Model:      f.model,
		Registry:   f.registry,
		Dispatcher: dispatch.New(f.registry, sampler, readOnly, nil),
		Memory:     f.longTerm,
		Sampler:    sampler,
		Fleet:      prompt.Fleet{Username: "alice", DBNodes: []string{"db01"}, CellNodes: []string{"cel01"}},
	}, opts...)
	require.NoError(t, err)
	return a
}

func TestTurn_DirectAnswer(t *testing.T) {
	f := newFixture(t, final("Hello alice."))
	a := f.agent(t, ModeChat, false, f.sampler(prompt.UnsuccessfulEpisode))

	res, err := a.Turn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello alice.", res.Answer)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 0, res.ToolCalls)
	assert.False(t, res.Incomplete)
	assert.Equal(t, StateIdle, a.State())

	win := a.Buffer().Window()
	require.Len(t, win, 2)
	assert.Equal(t, memory.RoleUser, win[0].Role)
	assert.Equal(t, memory.RoleAgent, win[1].Role)
	assert.Empty(t, f.samples, "no episode without tool calls")

	// system prompt 在首位，包含节点清单
	first := f.model.inputs[0]
	assert.Equal(t, schema.System, first[0].Role)
	assert.Contains(t, first[0].Content, "cel01")
}

func TestTurn_ToolCallThenAnswer(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", "get_node_info", `{"nodes":"cel01"}`),
		final("cel01 is healthy."),
	)
	a := f.agent(t, ModeChat, false, f.sampler("Checked cel01 with get_node_info and reported it healthy."))

	res, err := a.Turn(context.Background(), "is cel01 ok?")
	require.NoError(t, err)
	assert.Equal(t, "cel01 is healthy.", res.Answer)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, []string{"get_node_info:cel01"}, f.handled)

	// 第二次推理的输入末尾是工具结果
	second := f.model.inputs[1]
	last := second[len(second)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "cel01: status normal", last.Content)

	win := a.Buffer().Window()
	require.Len(t, win, 4)
	assert.Equal(t, []memory.Role{memory.RoleUser, memory.RoleAgent, memory.RoleTool, memory.RoleAgent},
		[]memory.Role{win[0].Role, win[1].Role, win[2].Role, win[3].Role})

	// 情景记忆
	require.Len(t, f.samples, 1)
	assert.Contains(t, f.samples[0], "agent called tool get_node_info")
	assert.Equal(t, 1, f.longTerm.Len(memory.KindEpisodic))
}

func TestTurn_UnsuccessfulEpisodeNotSaved(t *testing.T) {
	f := newFixture(t, toolCall("c1", "get_node_info", `{"nodes":"db01"}`), final("done"))
	a := f.agent(t, ModeChat, false, f.sampler(prompt.UnsuccessfulEpisode))
	_, err := a.Turn(context.Background(), "check db01")
	require.NoError(t, err)
	assert.Equal(t, 0, f.longTerm.Len(memory.KindEpisodic))
}

func TestTurn_ToolErrorIsContent(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", "alter_node_services", `{}`),
		final("I could not restart services: cel09 is unreachable."),
	)
	a := f.agent(t, ModeChat, false, f.sampler(prompt.UnsuccessfulEpisode))

	res, err := a.Turn(context.Background(), "restart ms on cel09")
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "unreachable")

	win := a.Buffer().Window()
	require.Len(t, win, 4)
	assert.True(t, win[2].IsError)
	assert.True(t, strings.HasPrefix(win[2].Content, "Error: "))
}

func TestTurn_ReadOnlyRejectsAndHidesMutatingTools(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", "alter_node_services", `{}`),
		final("Read-only mode prevents restarting services."),
	)
	a := f.agent(t, ModeChat, true, f.sampler(prompt.UnsuccessfulEpisode))

	for _, info := range f.model.bound {
		assert.NotEqual(t, "alter_node_services", info.Name)
	}
	_, err := a.Turn(context.Background(), "restart ms")
	require.NoError(t, err)
	assert.Empty(t, f.handled, "mutating handler must not run")
	win := a.Buffer().Window()
	assert.Contains(t, win[2].Content, "read-only")
}

func TestTurn_PollModeHidesMemoryTools(t *testing.T) {
	f := newFixture(t, final("All nodes are healthy."))
	a := f.agent(t, ModePoll, false, nil)

	var names []string
	for _, info := range f.model.bound {
		names = append(names, info.Name)
	}
	assert.NotContains(t, names, tools.SaveMemoryTool)
	assert.Contains(t, names, "get_node_info")

	_, err := a.Turn(context.Background(), "how are the nodes?")
	require.NoError(t, err)
	assert.NotContains(t, f.model.inputs[0][0].Content, "save_memory")
}

func TestTurn_IterationCap(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", "get_node_info", `{"nodes":"cel01"}`),
		toolCall("c2", "get_node_info", `{"nodes":"cel01"}`),
		final("cel01 looks fine so far."),
	)
	a := f.agent(t, ModeChat, false, f.sampler(prompt.UnsuccessfulEpisode), WithMaxRounds(2))

	res, err := a.Turn(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 2, res.ToolCalls)
	assert.True(t, strings.HasPrefix(res.Answer, prompt.IncompleteNotice))
	assert.Contains(t, res.Answer, "cel01 looks fine so far.")

	// 尽力回答请求的最后一条是不再调用工具的指令
	last := f.model.inputs[2]
	assert.Equal(t, prompt.BestEffort, last[len(last)-1].Content)
}

func TestTurn_RetryThenSucceed(t *testing.T) {
	f := newFixture(t,
		step{err: errors.New("503 service unavailable")},
		step{msg: schema.AssistantMessage("", nil)}, // 空回复视为格式错误
		final("recovered"),
	)
	a := f.agent(t, ModeChat, false, nil)
	res, err := a.Turn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Answer)
	assert.Equal(t, 3, f.model.calls())
}

func TestTurn_BackendExhaustedLeavesBufferUntouched(t *testing.T) {
	f := newFixture(t, final("first answer"))
	a := f.agent(t, ModeChat, false, nil)
	_, err := a.Turn(context.Background(), "first")
	require.NoError(t, err)
	before := a.Buffer().Window()

	f.model.steps = []step{
		toolCall("c1", "get_node_info", `{"nodes":"cel01"}`),
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
	}
	_, err = a.Turn(context.Background(), "second")
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	assert.Equal(t, before, a.Buffer().Window())
	assert.Equal(t, StateIdle, a.State())
}

func TestTurn_CancelledDiscardsStaged(t *testing.T) {
	f := newFixture(t)
	a := f.agent(t, ModeChat, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Turn(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.Buffer().Len())
}

func TestTurn_MemoriesInPromptAndDegradation(t *testing.T) {
	f := newFixture(t, final("ok"), final("ok"))
	_, err := f.longTerm.Save(context.Background(), "alice prefers answers as tables", memory.KindSemantic, memory.ProvenanceUser)
	require.NoError(t, err)

	a := f.agent(t, ModeChat, false, nil)
	_, err = a.Turn(context.Background(), "alice prefers answers as tables")
	require.NoError(t, err)
	assert.Contains(t, f.model.inputs[0][0].Content, "Memory: alice prefers answers as tables")

	// 向量服务宕机时检索失败，对话降级为只用短期记忆
	broken := memory.NewLongTerm(brokenBackend{}, brokenEmbedder{}, "alice", nil)
	require.NoError(t, broken.Load(context.Background()))
	a2, err := New(ModeChat, Deps{
		Model:      f.model,
		Registry:   f.registry,
		Dispatcher: dispatch.New(f.registry, nil, false, nil),
		Memory:     broken,
	}, WithRetry(0, time.Millisecond))
	require.NoError(t, err)
	res, err := a2.Turn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)
	assert.NotContains(t, f.model.inputs[1][0].Content, "Below are memories")
}

func TestGreet(t *testing.T) {
	f := newFixture(t, final("Hi alice, I can reach db01 and cel01."), final("sure"))
	a := f.agent(t, ModeChat, false, nil)

	res, err := a.Greet(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "db01")
	win := a.Buffer().Window()
	require.Len(t, win, 2)
	assert.Equal(t, memory.RoleSystem, win[0].Role)
	assert.Equal(t, prompt.Greeting, win[0].Content)

	_, err = a.Turn(context.Background(), "thanks")
	require.NoError(t, err)
	assert.Equal(t, 4, a.Buffer().Len())
}

func TestTurn_EmptyInput(t *testing.T) {
	f := newFixture(t)
	a := f.agent(t, ModeChat, false, nil)
	_, err := a.Turn(context.Background(), "   ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArg)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(ModeChat, Deps{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArg)
}

func TestTrimWindow(t *testing.T) {
	msgs := []memory.Message{
		{Role: memory.RoleTool, Content: "orphan"},
		{Role: memory.RoleAgent, Content: "tail"},
		{Role: memory.RoleUser, Content: "q"},
		{Role: memory.RoleAgent, Content: "a"},
	}
	got := trimWindow(msgs)
	require.Len(t, got, 3)
	assert.Equal(t, "tail", got[0].Content)
	assert.Nil(t, trimWindow(msgs[:1]))
}

func TestTurn_HistoryKeptAfterLongToolTurn(t *testing.T) {
	steps := make([]step, 0, 7)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		steps = append(steps, toolCall(id, "get_node_info", `{"nodes":"cel01"}`))
	}
	steps = append(steps, final("all nodes normal"), final("yes, still normal"))
	f := newFixture(t, steps...)
	a := f.agent(t, ModeChat, false, f.sampler(prompt.UnsuccessfulEpisode))

	_, err := a.Turn(context.Background(), "check every node")
	require.NoError(t, err)
	require.Equal(t, memory.DefaultBufferSize, a.Buffer().Len())
	assert.NotEqual(t, memory.RoleUser, a.Buffer().Window()[0].Role, "user message evicted")

	_, err = a.Turn(context.Background(), "still normal?")
	require.NoError(t, err)

	next := f.model.inputs[len(f.model.inputs)-1]
	assert.Greater(t, len(next), 2)
	assert.NotEqual(t, schema.Tool, next[1].Role, "orphan tool result dropped")
	var contents []string
	for _, m := range next {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "all nodes normal")
}

func TestTurn_PollModeRecallsLongTermMemory(t *testing.T) {
	f := newFixture(t, final("Bob handles them."))
	_, err := f.longTerm.Save(context.Background(), "cel01 disk alerts are handled by Bob", memory.KindSemantic, memory.ProvenanceUser)
	require.NoError(t, err)

	a := f.agent(t, ModePoll, false, nil)
	_, err = a.Turn(context.Background(), "who handles cel01 disk alerts")
	require.NoError(t, err)
	system := f.model.inputs[0][0].Content
	assert.Contains(t, system, "Memory: cel01 disk alerts are handled by Bob")
	assert.NotContains(t, system, "save_memory")
	assert.Equal(t, 0, f.longTerm.Len(memory.KindEpisodic))
}

func TestTurn_PollModeRejectsChatOnlyTool(t *testing.T) {
	f := newFixture(t,
		toolCall("c1", tools.SaveMemoryTool, `{"memory":"remember me"}`),
		final("I cannot save memories here."),
	)
	a := f.agent(t, ModePoll, false, nil)

	_, err := a.Turn(context.Background(), "remember that cel01 is mine")
	require.NoError(t, err)
	assert.Equal(t, 0, f.longTerm.Len(memory.KindSemantic))
	win := a.Buffer().Window()
	require.Len(t, win, 4)
	assert.True(t, win[2].IsError)
	assert.Contains(t, win[2].Content, "not available")
}

func TestDecide(t *testing.T) {
	_, err := decide(nil)
	assert.Error(t, err)

	d, err := decide(schema.AssistantMessage("", []schema.ToolCall{{Function: schema.FunctionCall{Name: "x", Arguments: "{}"}}}))
	require.NoError(t, err)
	calls := d.(ToolCalls).Calls
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"), "missing ids are generated")

	d, err = decide(schema.AssistantMessage("done", nil))
	require.NoError(t, err)
	assert.Equal(t, FinalAnswer{Text: "done"}, d)
}

// brokenBackend 返回一条已带向量的记录，写入总是失败
type brokenBackend struct{}

func (brokenBackend) Put(context.Context, *memory.Record) error            { return errors.New("disk full") }
func (brokenBackend) Delete(context.Context, memory.Kind, ...string) error { return errors.New("disk full") }
func (brokenBackend) List(context.Context, string) ([]*memory.Record, error) {
	return []*memory.Record{{
		ID:         "m1",
		Kind:       memory.KindSemantic,
		Text:       "alice prefers tables",
		Embedding:  []float64{1, 0, 0, 0},
		CreatedAt:  time.Now(),
		Provenance: memory.ProvenanceUser,
		Owner:      "alice",
	}}, nil
}
func (brokenBackend) Name() string { return "broken" }
func (brokenBackend) Close() error { return nil }

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("embedding endpoint: connection refused")
}
func (brokenEmbedder) Dimension() int { return 4 }
