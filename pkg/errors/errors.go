// Package errors 提供统一错误辅助与 copilot 的错误分类，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")
)

// 错误分类：单次工具调用、单个节点、记忆存储的失败均可恢复；LLM 失败仅中止当前轮次
var (
	// ErrBackendUnavailable LLM 或 embedding 服务不可达（已按退避重试后仍失败）
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrUnknownTool 请求的工具未注册
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolRejectedReadOnly 只读模式下请求了会修改节点状态的工具
	ErrToolRejectedReadOnly = errors.New("tool rejected in read-only mode")
	// ErrToolExecutionFailed 工具 handler 内部失败
	ErrToolExecutionFailed = errors.New("tool execution failed")
	// ErrNodeUnreachable 轮询时节点不可达或属性读写失败
	ErrNodeUnreachable = errors.New("node unreachable")
	// ErrMemoryStoreUnavailable 长期记忆存储不可用
	ErrMemoryStoreUnavailable = errors.New("memory store unavailable")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Mark 将 cause 归入 kind 分类，errors.Is 同时匹配 kind 与 cause
func Mark(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// IsRecoverable 判断错误是否应转为可恢复内容（工具错误、节点错误、记忆存储错误）而非中止轮次
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrUnknownTool),
		errors.Is(err, ErrToolRejectedReadOnly),
		errors.Is(err, ErrToolExecutionFailed),
		errors.Is(err, ErrNodeUnreachable),
		errors.Is(err, ErrMemoryStoreUnavailable):
		return true
	default:
		return false
	}
}

// Is 同标准库 errors.Is
func Is(err, target error) bool { return errors.Is(err, target) }

// As 同标准库 errors.As
func As(err error, target any) bool { return errors.As(err, target) }
