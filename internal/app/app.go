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

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-copilot/internal/agent"
	"fleet-copilot/internal/fleet"
	"fleet-copilot/internal/poller"
	"fleet-copilot/pkg/tracing"
)

// App 进程级编排：交互会话、节点轮询与监控端点并发运行
type App struct {
	boot    *Bootstrap
	chat    *Chat
	poller  *poller.Poller
	monitor *Monitor
}

// NewApp 根据 Bootstrap 组装交互会话与可选的轮询、监控
func NewApp(ctx context.Context, b *Bootstrap, in io.Reader, out io.Writer) (*App, error) {
	cfg := b.Config
	a := &App{boot: b}

	chatAgent, err := b.NewAgent(agent.ModeChat)
	if err != nil {
		return nil, fmt.Errorf("创建交互会话失败: %w", err)
	}
	a.chat = NewChat(chatAgent, in, out, cfg.Agent.Username, b.PromptFleet().Name(), cfg.Agent.Greet, b.Logger)

	if cfg.Polling.Enable {
		a.poller, err = a.newPoller(ctx)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Monitoring.Prometheus.Enable {
		a.monitor = NewMonitor(cfg.Monitoring.Prometheus, b.Logger, a.health)
	}
	return a, nil
}

// newPoller 创建轮询器；节点不支持问答属性时返回 nil，进程继续以交互模式运行
func (a *App) newPoller(ctx context.Context) (*poller.Poller, error) {
	b := a.boot
	cfg := b.Config
	recorder, err := poller.NewFileRecorder(cfg.Polling.QAPath, b.PromptFleet().Name())
	if err != nil {
		return nil, err
	}
	p := poller.New(b.Fleet, b.Attributes, func(fleet.Node) (poller.Turner, error) {
		return b.NewAgent(agent.ModePoll)
	}, recorder, poller.Config{
		Interval:    cfg.Polling.Interval,
		Concurrency: cfg.Polling.Concurrency,
	}, b.Logger)

	ok, err := p.Supported(ctx)
	if err != nil {
		b.Logger.Warn("轮询探测失败，不启用轮询", "error", err)
		return nil, nil
	}
	if !ok {
		b.Logger.Warn("节点不支持问答属性，不启用轮询")
		return nil, nil
	}
	return p, nil
}

func (a *App) health() map[string]any {
	return map[string]any{
		"tools":            a.boot.Registry.Len(),
		"read_only":        a.boot.Config.ReadOnly,
		"polling":          a.poller != nil,
		"long_term_memory": a.boot.Memory != nil,
	}
}

// Run 运行直到交互会话结束或 ctx 取消；返回前等待轮询完成进行中的节点写入
func (a *App) Run(ctx context.Context) error {
	if tc := a.boot.Config.Monitoring.Tracing; tc.Enable && tc.ExportEndpoint != "" {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    tc.ServiceName,
			ExportEndpoint: tc.ExportEndpoint,
			Insecure:       tc.Insecure,
		})
		if err != nil {
			a.boot.Logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(sctx)
			}()
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.monitor != nil {
		g.Go(func() error {
			if err := a.monitor.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.boot.Logger.Error("监控服务异常退出", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return a.monitor.Shutdown(sctx)
		})
	}
	if a.poller != nil {
		g.Go(func() error { return a.poller.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return a.chat.Run(gctx)
	})
	return g.Wait()
}

// Close 释放资源
func (a *App) Close() error {
	return a.boot.Close()
}
