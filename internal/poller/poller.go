// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-copilot/internal/agent"
	"fleet-copilot/internal/fleet"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
	"fleet-copilot/pkg/metrics"
	"fleet-copilot/pkg/tracing"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultConcurrency = 4
)

// QuestionAnswerer 节点问答属性的读写
type QuestionAnswerer interface {
	Question(ctx context.Context, n fleet.Node) (string, error)
	Answer(ctx context.Context, n fleet.Node) (string, error)
	SetAnswer(ctx context.Context, n fleet.Node, answer string) error
	Supported(ctx context.Context, f *fleet.Fleet) (bool, error)
}

// Turner 执行一轮问答
type Turner interface {
	Turn(ctx context.Context, input string) (*agent.TurnResult, error)
}

// NewTurnerFunc 为一个节点创建全新的编排循环（空短期记忆，共享长期记忆与工具）
type NewTurnerFunc func(n fleet.Node) (Turner, error)

// Config 轮询配置
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// Poller 周期性检查每个节点上待回答的问题，交给独立的编排循环作答并写回节点
type Poller struct {
	fleet    *fleet.Fleet
	qa       QuestionAnswerer
	newTurn  NewTurnerFunc
	recorder Recorder
	config   Config
	logger   *log.Logger

	mu   sync.Mutex
	last map[string]string // 节点 -> 最近一次已回答的问题
}

// Outcome 单个节点一次轮询的结果
type Outcome string

const (
	OutcomeIdle        Outcome = "idle"
	OutcomeAnswered    Outcome = "answered"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeFailed      Outcome = "failed"
)

// New 创建 Poller
func New(f *fleet.Fleet, qa QuestionAnswerer, newTurn NewTurnerFunc, recorder Recorder, config Config, logger *log.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Poller{
		fleet:    f,
		qa:       qa,
		newTurn:  newTurn,
		recorder: recorder,
		config:   config,
		logger:   logger.With("component", "poller"),
		last:     make(map[string]string),
	}
}

// Supported 启动探测：节点上是否有问答属性
func (p *Poller) Supported(ctx context.Context) (bool, error) {
	return p.qa.Supported(ctx, p.fleet)
}

// Run 按固定间隔执行轮询直到 ctx 取消；进行中的周期会先完成节点写入再返回
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("轮询启动", "interval", p.config.Interval, "concurrency", p.config.Concurrency, "nodes", len(p.fleet.Nodes()))
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		p.Cycle(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("轮询停止")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle 对所有节点执行一次轮询；节点之间互不影响，返回每个节点的结果
func (p *Poller) Cycle(ctx context.Context) map[string]Outcome {
	metrics.PollCycleTotal.Inc()
	nodes := p.fleet.Nodes()
	outcomes := make(map[string]Outcome, len(nodes))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(p.config.Concurrency)
	for _, n := range nodes {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := p.pollNode(ctx, n)
			metrics.PollNodeTotal.WithLabelValues(n.Name, string(out)).Inc()
			mu.Lock()
			outcomes[n.Name] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Poller) pollNode(ctx context.Context, n fleet.Node) (out Outcome) {
	ctx, span := tracing.StartNodeSpan(ctx, n.Name, string(n.Type))
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := p.logger.With("node", n.Name)

	question, err := p.qa.Question(ctx, n)
	if err != nil {
		logger.Warn("读取问题失败", "error", err)
		return failure(err)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return OutcomeIdle
	}
	answer, err := p.qa.Answer(ctx, n)
	if err != nil {
		logger.Warn("读取回答失败", "error", err)
		return failure(err)
	}
	if !p.pending(n.Name, question, answer) {
		return OutcomeIdle
	}

	logger.Info("收到节点问题", "question", question)
	turner, err := p.newTurn(n)
	if err != nil {
		logger.Error("创建编排循环失败", "error", err)
		return OutcomeFailed
	}
	res, err := turner.Turn(ctx, question)
	if err != nil {
		logger.Warn("节点问题作答失败", "error", err)
		return failure(err)
	}

	// 写回节点与追加记录成对完成，不受关闭信号打断
	wctx := context.WithoutCancel(ctx)
	if err = p.qa.SetAnswer(wctx, n, res.Answer); err != nil {
		logger.Warn("写回答失败", "error", err)
		return failure(err)
	}
	p.markAnswered(n.Name, question)
	if p.recorder != nil {
		if rerr := p.recorder.Append(n, question, res.Answer); rerr != nil {
			logger.Error("追加问答记录失败", "error", rerr)
		}
	}
	logger.Info("节点问题已回答", "rounds", res.Rounds, "tool_calls", res.ToolCalls, "duration", res.Duration)
	return OutcomeAnswered
}

// pending 问题需要处理：节点回答为空（新问题会清空旧回答），或问题不同于本进程上次回答过的问题
func (p *Poller) pending(node, question, answer string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(answer) == "" {
		return true
	}
	last, seen := p.last[node]
	return seen && last != question
}

func (p *Poller) markAnswered(node, question string) {
	p.mu.Lock()
	p.last[node] = question
	p.mu.Unlock()
}

// LastAnswered 本进程内节点最近一次回答过的问题
func (p *Poller) LastAnswered(node string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.last[node]
	return q, ok
}

func failure(err error) Outcome {
	if errors.Is(err, apperrors.ErrNodeUnreachable) {
		return OutcomeUnreachable
	}
	return OutcomeFailed
}

// String 便于日志输出
func (o Outcome) String() string { return string(o) }
