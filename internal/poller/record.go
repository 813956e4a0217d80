package poller

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fleet-copilot/internal/fleet"
)

// Recorder 问答记录的追加写入
type Recorder interface {
	Append(node fleet.Node, question, answer string) error
}

// FileRecorder 把问答对追加到文本文件，文件只追加不改写
type FileRecorder struct {
	mu        sync.Mutex
	path      string
	agentName string
}

// NewFileRecorder 创建文件记录器；目录不存在时创建
func NewFileRecorder(path, agentName string) (*FileRecorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("qa record: %w", err)
		}
	}
	return &FileRecorder{path: path, agentName: agentName}, nil
}

// Path 记录文件路径
func (r *FileRecorder) Path() string { return r.path }

// Append 追加一条问答；每条一次 write 调用并 fsync
func (r *FileRecorder) Append(node fleet.Node, question, answer string) error {
	entry := FormatRecord(node, question, r.agentName, answer)

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("qa record: %w", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return fmt.Errorf("qa record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("qa record: %w", err)
	}
	return f.Close()
}

// FormatRecord 问答记录格式：
//
//	<空行>
//	cel01 (cell node): <question>
//	<空行>
//	FleetCopilot: <answer>
func FormatRecord(node fleet.Node, question, agentName, answer string) string {
	return fmt.Sprintf("\n%s (%s node): %s\n\n%s: %s\n", node.Name, node.Type.Label(), question, agentName, answer)
}
