package memory

import (
	"context"
	"time"
)

// 线程标签。
const (
	ThreadDialog = "T1"
	ThreadAudit  = "T2"
	ThreadGraph  = "G"
)

// 角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MetaCorrID 是元数据中关联 ID 的键。
const MetaCorrID = "corr_id"

// Entry 是写入某个线程的一条记忆。
type Entry struct {
	Thread    string            `json:"thread"`
	Role      string            `json:"role"`
	Name      string            `json:"name,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// RecallOptions 控制回忆时包含哪些来源。
type RecallOptions struct {
	IncludeRecent bool
	IncludeGraph  bool
}

// Recaller 返回可读的上下文文本。
type Recaller interface {
	Recall(ctx context.Context, opts RecallOptions) (string, error)
}

// Appender 追加一条记忆。实现必须支持并发调用。
type Appender interface {
	Append(ctx context.Context, entry Entry) error
}

// Store 是底层持久化后端。Recent 按写入顺序返回线程中最新的 limit 条记录（旧在前）。
type Store interface {
	Appender
	Recent(ctx context.Context, thread string, limit int) ([]Entry, error)
	Close() error
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func stamp(entry Entry) Entry {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().UnixMilli()
	}
	entry.Metadata = cloneMetadata(entry.Metadata)
	return entry
}
