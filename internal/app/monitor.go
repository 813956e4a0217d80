package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzslog "github.com/hertz-contrib/logger/slog"

	"fleet-copilot/pkg/config"
	"fleet-copilot/pkg/log"
	"fleet-copilot/pkg/metrics"
)

const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

// HealthFunc 返回 /healthz 附带的状态字段
type HealthFunc func() map[string]any

// Monitor 指标与健康检查端点（/metrics、/healthz）
type Monitor struct {
	hertz   *server.Hertz
	addr    string
	started time.Time
	health  HealthFunc
}

// NewMonitor 创建监控服务；Hertz 日志与应用日志共用输出与级别
func NewMonitor(cfg config.PrometheusConfig, logger *log.Logger, health HealthFunc) *Monitor {
	if logger != nil {
		hlog.SetLogger(hertzslog.NewLogger(
			hertzslog.WithOutput(logger.Output()),
			hertzslog.WithLevel(logger.LevelVar()),
		))
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	m := &Monitor{
		hertz:   server.New(server.WithHostPorts(addr), server.WithExitWaitTime(time.Second)),
		addr:    addr,
		started: time.Now(),
		health:  health,
	}
	m.hertz.GET("/metrics", m.handleMetrics)
	m.hertz.GET("/healthz", m.handleHealth)
	return m
}

// Addr 监听地址
func (m *Monitor) Addr() string { return m.addr }

// Engine 返回底层 Hertz 实例（测试使用）
func (m *Monitor) Engine() *server.Hertz { return m.hertz }

// Run 启动服务并阻塞
func (m *Monitor) Run() error {
	return m.hertz.Run()
}

// Shutdown 优雅关闭
func (m *Monitor) Shutdown(ctx context.Context) error {
	return m.hertz.Shutdown(ctx)
}

func (m *Monitor) handleMetrics(_ context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.String(consts.StatusInternalServerError, err.Error())
		return
	}
	c.Data(consts.StatusOK, prometheusContentType, buf.Bytes())
}

func (m *Monitor) handleHealth(_ context.Context, c *app.RequestContext) {
	body := utils.H{
		"status": "ok",
		"uptime": time.Since(m.started).Round(time.Second).String(),
	}
	if m.health != nil {
		for k, v := range m.health() {
			body[k] = v
		}
	}
	c.JSON(consts.StatusOK, body)
}
