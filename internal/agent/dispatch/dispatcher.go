package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleet-copilot/internal/agent/tools"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
	"fleet-copilot/pkg/metrics"
	"fleet-copilot/pkg/tracing"
)

// Call 模型请求的一次工具调用
type Call struct {
	ID        string
	Name      string
	Arguments string // JSON 对象
}

// Result 工具调用结果；Err 非 nil 时 Content 为交给模型的错误描述
type Result struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

// Failed 调用是否失败
func (r Result) Failed() bool { return r.Err != nil }

// Dispatcher 按名称查找工具、校验参数、执行只读限制并调用 handler
type Dispatcher struct {
	registry *tools.Registry
	sampler  tools.Sampler
	readOnly bool
	// noChat 拒绝 ChatOnly 工具（轮询使用）
	noChat bool
	logger *log.Logger
}

// New 创建 Dispatcher；readOnly 在进程启动时确定，之后不变
func New(registry *tools.Registry, sampler tools.Sampler, readOnly bool, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Discard()
	}
	return &Dispatcher{
		registry: registry,
		sampler:  sampler,
		readOnly: readOnly,
		logger:   logger.With("component", "dispatcher"),
	}
}

// ReadOnly 是否只读模式
func (d *Dispatcher) ReadOnly() bool { return d.readOnly }

// WithoutChatOnly 返回拒绝 ChatOnly 工具的副本，共享工具表与采样器
func (d *Dispatcher) WithoutChatOnly() *Dispatcher {
	cp := *d
	cp.noChat = true
	return &cp
}

// Allows 工具在当前分发器下是否可用，用于决定向模型暴露哪些工具
func (d *Dispatcher) Allows(desc *tools.Descriptor) bool {
	if d.noChat && desc.ChatOnly {
		return false
	}
	return !d.readOnly || desc.ReadOnly
}

// Dispatch 执行一次工具调用。任何失败都体现在 Result.Err 中，不会返回给调用方 panic
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Result {
	start := time.Now()
	ctx, span := tracing.StartToolSpan(ctx, call.Name, call.ID)

	res := d.dispatch(ctx, call)

	outcome := "ok"
	switch {
	case res.Err == nil:
	case apperrors.Is(res.Err, apperrors.ErrUnknownTool):
		outcome = "unknown"
	case apperrors.Is(res.Err, apperrors.ErrToolRejectedReadOnly):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	metrics.ToolTotal.WithLabelValues(call.Name, outcome).Inc()
	tracing.EndSpan(span, res.Err)

	if res.Err != nil {
		d.logger.Warn("工具调用失败", "tool", call.Name, "call_id", call.ID, "outcome", outcome, "error", res.Err)
	} else {
		d.logger.Debug("工具调用完成", "tool", call.Name, "call_id", call.ID, "duration", time.Since(start))
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) Result {
	res := Result{CallID: call.ID, Name: call.Name}
	fail := func(err error) Result {
		res.Err = err
		res.Content = "Error: " + err.Error()
		return res
	}

	desc, ok := d.registry.Get(call.Name)
	if !ok {
		return fail(fmt.Errorf("%w: %s", apperrors.ErrUnknownTool, call.Name))
	}
	if d.noChat && desc.ChatOnly {
		return fail(fmt.Errorf("%w: %s is not available when answering node questions", apperrors.ErrUnknownTool, call.Name))
	}
	if d.readOnly && !desc.ReadOnly {
		return fail(fmt.Errorf("%w: %s modifies node state", apperrors.ErrToolRejectedReadOnly, call.Name))
	}

	args, err := DecodeArgs(call.Arguments)
	if err != nil {
		return fail(apperrors.Mark(apperrors.ErrToolExecutionFailed, err))
	}
	if err := desc.Validate(args); err != nil {
		return fail(apperrors.Mark(apperrors.ErrToolExecutionFailed, err))
	}

	out, err := d.invoke(ctx, desc, args)
	if err != nil {
		return fail(apperrors.Mark(apperrors.ErrToolExecutionFailed, err))
	}
	res.Content = out
	return res
}

// invoke 调用 handler；handler panic 转换为错误
func (d *Dispatcher) invoke(ctx context.Context, desc *tools.Descriptor, args tools.Args) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panic: %v", p)
		}
	}()
	return desc.Handler(ctx, args, d.sampler)
}

// DecodeArgs 解析模型给出的 JSON 参数；空串视为无参数
func DecodeArgs(raw string) (tools.Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return tools.Args{}, nil
	}
	var args tools.Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	if args == nil {
		args = tools.Args{}
	}
	return args, nil
}
