package fleet

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"fleet-copilot/pkg/config"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
)

// InvalidSyntax cellcli/dbmcli 对无法解析的命令给出的错误
const InvalidSyntax = "01504: Invalid command syntax."

// EmptyOutput 远程命令没有输出时返回给模型的文本
const EmptyOutput = "Output is empty."

// IsInvalidSyntax 输出中是否包含语法错误
func IsInvalidSyntax(out string) bool {
	return strings.Contains(out, InvalidSyntax)
}

// Runner 在一组节点上执行命令，返回按节点前缀的合并输出（"node: line"）
type Runner interface {
	Run(ctx context.Context, nodes []string, command string) (string, error)
}

// DCLIRunner 通过 dcli 在节点上执行命令
type DCLIRunner struct {
	path    string
	user    string
	timeout time.Duration
	logger  *log.Logger
}

// NewDCLIRunner 创建 dcli 执行器
func NewDCLIRunner(cfg config.FleetConfig, logger *log.Logger) *DCLIRunner {
	if logger == nil {
		logger = log.Discard()
	}
	path := cfg.DCLIPath
	if path == "" {
		path = "dcli"
	}
	user := cfg.User
	if user == "" {
		user = "root"
	}
	return &DCLIRunner{path: path, user: user, timeout: cfg.Timeout, logger: logger.With("component", "dcli")}
}

// Run 执行 dcli -l <user> -c <nodes> '<command>'
func (r *DCLIRunner) Run(ctx context.Context, nodes []string, command string) (string, error) {
	if len(nodes) == 0 {
		return "", fmt.Errorf("dcli: %w: no nodes", apperrors.ErrInvalidArg)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	target := strings.Join(nodes, ",")
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, "-l", r.user, "-c", target, command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("dcli 命令完成", "nodes", target, "command", command, "duration", time.Since(start), "error", err)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.Mark(apperrors.ErrNodeUnreachable, fmt.Errorf("dcli on %s: %w", target, ctx.Err()))
		}
		// 远程命令失败时 dcli 仍会打印各节点输出，交给调用方判断
		if stdout.Len() > 0 {
			return stdout.String(), nil
		}
		return "", apperrors.Mark(apperrors.ErrNodeUnreachable,
			fmt.Errorf("dcli on %s: %w (stderr: %s)", target, err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

// NodeValues 解析 dcli 输出中每个节点的值（"node: value"），同一节点多行时按行拼接
func NodeValues(out string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		node, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		node = strings.TrimSpace(node)
		if node == "" || strings.ContainsAny(node, " \t") {
			continue
		}
		value = strings.TrimSpace(value)
		if prev, seen := values[node]; seen && prev != "" {
			values[node] = prev + "\n" + value
		} else {
			values[node] = value
		}
	}
	return values
}
