package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 copilot 与监控端点注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TurnDuration, TurnTotal,
		ToolDuration, ToolTotal,
		LLMRequestTotal, LLMRetryTotal, RateLimitWaitSeconds,
		MemoryOpTotal,
		PollCycleTotal, PollNodeTotal,
	)
}

// TurnDuration 单轮对话耗时（秒）
var TurnDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "copilot_turn_duration_seconds",
		Help:    "单轮对话耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"mode"}, // chat | poll
)

// TurnTotal 对话轮次总数（按结果）
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_turn_total",
		Help: "对话轮次总数（按结果）",
	},
	[]string{"mode", "outcome"}, // answered | incomplete | failed | cancelled
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "copilot_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolTotal 工具调用总数（按结果）
var ToolTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_tool_total",
		Help: "工具调用总数",
	},
	[]string{"tool", "outcome"}, // ok | unknown | read_only | failed
)

// LLMRequestTotal LLM 调用总数
var LLMRequestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_llm_request_total",
		Help: "LLM 调用总数",
	},
	[]string{"kind", "outcome"}, // kind: reasoning | sampling
)

// LLMRetryTotal LLM 调用重试次数
var LLMRetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_llm_retry_total",
		Help: "LLM 调用重试次数",
	},
	[]string{"kind"},
)

// RateLimitWaitSeconds 限流等待耗时
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "copilot_rate_limit_wait_seconds",
		Help:    "限流等待耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "provider"},
)

// MemoryOpTotal 长期记忆操作总数
var MemoryOpTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_memory_op_total",
		Help: "长期记忆操作总数",
	},
	[]string{"op", "kind", "outcome"}, // op: retrieve | save | delete
)

// PollCycleTotal 轮询周期总数
var PollCycleTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "copilot_poll_cycle_total",
		Help: "轮询周期总数",
	},
)

// PollNodeTotal 节点轮询结果
var PollNodeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copilot_poll_node_total",
		Help: "节点轮询结果总数",
	},
	[]string{"node", "outcome"}, // idle | answered | unreachable | failed
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
