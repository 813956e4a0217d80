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

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger 简单封装，供 internal 使用
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	out   io.Writer
}

// Config 日志配置（可与 config 包对接）
type Config struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	File    string `mapstructure:"file"`
	Verbose bool   `mapstructure:"verbose"` // --verbose：强制 debug，打印 agent 每一步
}

// ParseLevel 将字符串级别转为 slog.Level，未知值返回 info
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 根据配置创建 Logger，cfg 可为 nil 使用默认。
// 交互式终端与日志共用 stdout 会互相干扰，因此配置了 File 时只写文件。
func NewLogger(cfg *Config) (*Logger, error) {
	levelVar := &slog.LevelVar{}
	var out io.Writer = os.Stdout
	format := "json"
	if cfg != nil {
		levelVar.Set(ParseLevel(cfg.Level))
		if cfg.Verbose {
			levelVar.Set(slog.LevelDebug)
		}
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("打开日志文件失败: %w", err)
			}
			out = f
		}
		if cfg.Format != "" {
			format = cfg.Format
		}
	}
	return newWithWriter(out, format, levelVar), nil
}

// NewWithWriter 写入指定 writer 的 Logger（测试与嵌入使用）
func NewWithWriter(w io.Writer, level string) *Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(ParseLevel(level))
	return newWithWriter(w, "text", levelVar)
}

// Discard 丢弃所有输出的 Logger
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error")
}

func newWithWriter(w io.Writer, format string, levelVar *slog.LevelVar) *Logger {
	opts := &slog.HandlerOptions{Level: levelVar}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h), level: levelVar, out: w}
}

// LevelVar 返回可动态调整的级别（供 hertz 等组件共享）
func (l *Logger) LevelVar() *slog.LevelVar {
	return l.level
}

// Output 返回日志输出目标
func (l *Logger) Output() io.Writer {
	return l.out
}

// With 返回附带属性的子 Logger
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level, out: l.out}
}
