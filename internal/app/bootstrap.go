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
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"

	"fleet-copilot/internal/agent"
	"fleet-copilot/internal/agent/dispatch"
	"fleet-copilot/internal/agent/memory"
	"fleet-copilot/internal/agent/prompt"
	"fleet-copilot/internal/agent/tools"
	"fleet-copilot/internal/fleet"
	"fleet-copilot/internal/model/embedding"
	"fleet-copilot/internal/model/llm"
	"fleet-copilot/internal/storage/cache"
	"fleet-copilot/pkg/config"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
)

// Bootstrap 统一初始化：交互对话与节点轮询共享同一份工具表、分发器与长期记忆
type Bootstrap struct {
	Config     *config.Config
	Logger     *log.Logger
	Location   *time.Location
	Fleet      *fleet.Fleet
	Runner     fleet.Runner
	Attributes *fleet.Attributes
	ChatModel  model.ToolCallingChatModel
	Sampler    tools.Sampler
	// Memory 长期记忆不可用时为 nil，此时只使用短期记忆
	Memory     *memory.LongTerm
	Registry   *tools.Registry
	Dispatcher *dispatch.Dispatcher
}

// BootstrapOption 替换默认创建的组件（测试或嵌入使用）
type BootstrapOption func(*bootstrapOptions)

type bootstrapOptions struct {
	logger    *log.Logger
	chatModel model.ToolCallingChatModel
	sampler   tools.Sampler
	embedder  embedding.Embedder
	backend   memory.Backend
	runner    fleet.Runner
	now       func() time.Time
}

// WithLogger 使用指定 Logger
func WithLogger(l *log.Logger) BootstrapOption {
	return func(o *bootstrapOptions) { o.logger = l }
}

// WithChatModel 使用指定推理模型
func WithChatModel(m model.ToolCallingChatModel) BootstrapOption {
	return func(o *bootstrapOptions) { o.chatModel = m }
}

// WithSampler 使用指定采样器
func WithSampler(s tools.Sampler) BootstrapOption {
	return func(o *bootstrapOptions) { o.sampler = s }
}

// WithEmbedder 使用指定 Embedder
func WithEmbedder(e embedding.Embedder) BootstrapOption {
	return func(o *bootstrapOptions) { o.embedder = e }
}

// WithMemoryBackend 使用指定长期记忆后端
func WithMemoryBackend(b memory.Backend) BootstrapOption {
	return func(o *bootstrapOptions) { o.backend = b }
}

// WithRunner 使用指定节点命令执行器
func WithRunner(r fleet.Runner) BootstrapOption {
	return func(o *bootstrapOptions) { o.runner = r }
}

// WithClock 固定时钟
func WithClock(now func() time.Time) BootstrapOption {
	return func(o *bootstrapOptions) { o.now = now }
}

// NewBootstrap 根据配置创建 Bootstrap（Logger/Models/Memory/Tools）
func NewBootstrap(ctx context.Context, cfg *config.Config, opts ...BootstrapOption) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: %w: config is nil", apperrors.ErrInvalidArg)
	}
	var o bootstrapOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = log.NewLogger(&log.Config{
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
			File:    cfg.Log.File,
			Verbose: cfg.Log.Verbose,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化日志失败: %w", err)
		}
	}

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %q 失败: %w", cfg.Agent.Timezone, err)
	}

	b := &Bootstrap{
		Config:   cfg,
		Logger:   logger,
		Location: loc,
		Fleet:    fleet.New(cfg.Fleet.DBNodes, cfg.Fleet.CellNodes),
		Runner:   o.runner,
		Registry: tools.NewRegistry(),
	}
	if b.Runner == nil {
		b.Runner = fleet.NewDCLIRunner(cfg.Fleet, logger)
	}
	b.Attributes = fleet.NewAttributes(b.Runner)

	b.ChatModel = o.chatModel
	if b.ChatModel == nil {
		if b.ChatModel, err = llm.NewChatModel(ctx, cfg.Model.Chat); err != nil {
			return nil, fmt.Errorf("初始化推理模型失败: %w", err)
		}
	}
	b.Sampler = o.sampler
	if b.Sampler == nil {
		client, err := NewSamplerClientFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("初始化采样模型失败: %w", err)
		}
		b.Sampler = llm.NewSampler(client, cfg.Model.Sampling.MaxTokens)
	}

	b.Memory = openMemory(ctx, cfg, o, logger)

	b.Registry.MustRegister(fleet.Tools(b.Fleet, b.Runner, fleet.ToolOptions{
		Location: loc,
		Now:      o.now,
		Cache:    cache.NewMemoryStore(),
	})...)
	if b.Memory != nil {
		b.Registry.MustRegister(tools.MemoryTools(b.Memory)...)
	}
	b.Registry.Seal()
	b.Dispatcher = dispatch.New(b.Registry, b.Sampler, cfg.ReadOnly, logger)

	logger.Info("初始化完成",
		"db_nodes", len(b.Fleet.DB),
		"cell_nodes", len(b.Fleet.Cell),
		"tools", b.Registry.Len(),
		"read_only", cfg.ReadOnly,
		"long_term_memory", b.Memory != nil,
	)
	return b, nil
}

// openMemory 打开长期记忆；后端或向量模型不可用时降级为只用短期记忆
func openMemory(ctx context.Context, cfg *config.Config, o bootstrapOptions, logger *log.Logger) *memory.LongTerm {
	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedderFromConfig(cfg); err != nil {
			logger.Warn("长期记忆不可用，仅使用短期记忆", "error", err)
			return nil
		}
	}
	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = memory.OpenBackend(ctx, cfg.Memory); err != nil {
			logger.Warn("长期记忆不可用，仅使用短期记忆", "backend", cfg.Memory.Backend(), "error", err)
			return nil
		}
	}
	lt := memory.NewLongTerm(backend, embedder, cfg.Agent.Username, logger)
	if err := lt.Load(ctx); err != nil {
		logger.Warn("加载长期记忆失败，仅使用短期记忆", "backend", backend.Name(), "error", err)
		_ = backend.Close()
		return nil
	}
	return lt
}

// PromptFleet 系统提示词中的身份与节点信息
func (b *Bootstrap) PromptFleet() prompt.Fleet {
	return prompt.Fleet{
		AgentName: b.Config.Agent.Name,
		Username:  b.Config.Agent.Username,
		DBNodes:   b.Fleet.DB,
		CellNodes: b.Fleet.Cell,
		Location:  b.Location,
	}
}

// NewAgent 创建编排循环；每次调用都有独立的短期记忆
func (b *Bootstrap) NewAgent(mode agent.Mode, opts ...agent.Option) (*agent.Agent, error) {
	ac := b.Config.Agent
	base := []agent.Option{
		agent.WithMaxRounds(ac.MaxRounds),
		agent.WithBuffer(memory.NewBuffer(ac.ShortTermMessages)),
		agent.WithTopK(ac.MemoryTopK),
		agent.WithRetry(ac.LLMRetries, ac.LLMBackoff),
	}
	return agent.New(mode, agent.Deps{
		Model:      b.ChatModel,
		Registry:   b.Registry,
		Dispatcher: b.Dispatcher,
		Memory:     b.Memory,
		Sampler:    b.Sampler,
		Fleet:      b.PromptFleet(),
		Logger:     b.Logger,
	}, append(base, opts...)...)
}

// Close 释放长期记忆后端
func (b *Bootstrap) Close() error {
	if b.Memory != nil {
		return b.Memory.Close()
	}
	return nil
}
