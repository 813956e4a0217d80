package memory

import (
	"sync"
)

// DefaultBufferSize 默认短期记忆条数
const DefaultBufferSize = 10

// Buffer 单个对话的短期记忆：有界、按到达顺序保存，超出上限时丢弃最旧的消息
type Buffer struct {
	mu       sync.RWMutex
	messages []Message
	max      int
}

// NewBuffer 创建短期记忆，max <= 0 时使用 DefaultBufferSize
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferSize
	}
	return &Buffer{max: max}
}

// Append 追加一条消息
func (b *Buffer) Append(msg Message) {
	b.AppendAll(msg)
}

// AppendAll 一次性追加多条消息（同一轮对话的提交），超出上限时从最旧处淘汰
func (b *Buffer) AppendAll(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.messages = append(b.messages, m.clone())
	}
	if over := len(b.messages) - b.max; over > 0 {
		kept := make([]Message, b.max)
		copy(kept, b.messages[over:])
		b.messages = kept
	}
}

// Window 返回当前窗口内消息的副本
func (b *Buffer) Window() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.messages) == 0 {
		return nil
	}
	out := make([]Message, len(b.messages))
	for i, m := range b.messages {
		out[i] = m.clone()
	}
	return out
}

// Len 当前消息数
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Cap 窗口上限
func (b *Buffer) Cap() int {
	return b.max
}

// Reset 清空
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}
