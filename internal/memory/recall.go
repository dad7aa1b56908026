package memory

import (
	"context"
	"sort"
	"strings"

	xerrors "GatewayHMA/internal/errors"
)

const (
	defaultRecentLimit = 12
	defaultGraphLimit  = 20
	defaultSearchLimit = 5
	searchWindow       = 200
)

// Memory 在 Store 之上提供回忆渲染与检索。
type Memory struct {
	store         Store
	dialogThreads []string
	recentLimit   int
	graphLimit    int
}

// Option 定义可选配置。
type Option func(*Memory)

// WithRecentLimit 设置回忆最近对话的条数。
func WithRecentLimit(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.recentLimit = n
		}
	}
}

// WithGraphLimit 设置回忆事实的条数。
func WithGraphLimit(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.graphLimit = n
		}
	}
}

// WithDialogThreads 设置参与“最近对话”回忆的线程。
func WithDialogThreads(threads ...string) Option {
	return func(m *Memory) {
		if len(threads) > 0 {
			m.dialogThreads = append([]string(nil), threads...)
		}
	}
}

// New 创建 Memory。
func New(store Store, opts ...Option) *Memory {
	m := &Memory{
		store:         store,
		dialogThreads: []string{ThreadDialog, ThreadAudit},
		recentLimit:   defaultRecentLimit,
		graphLimit:    defaultGraphLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Append 校验后写入底层存储。
func (m *Memory) Append(ctx context.Context, entry Entry) error {
	if m == nil || m.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置记忆存储")
	}
	if strings.TrimSpace(entry.Thread) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "线程标签不能为空")
	}
	if err := m.store.Append(ctx, stamp(entry)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入记忆失败", xerrors.WithMetadata("thread", entry.Thread))
	}
	return nil
}

// Recall 渲染最近对话与事实。两者都为空时返回空字符串。
func (m *Memory) Recall(ctx context.Context, opts RecallOptions) (string, error) {
	if m == nil || m.store == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置记忆存储")
	}

	var sections []string
	if opts.IncludeRecent {
		recent, err := m.recentDialog(ctx)
		if err != nil {
			return "", err
		}
		if block := renderDialog(recent); block != "" {
			sections = append(sections, block)
		}
	}
	if opts.IncludeGraph {
		facts, err := m.store.Recent(ctx, ThreadGraph, m.graphLimit)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取事实失败")
		}
		if block := renderFacts(facts); block != "" {
			sections = append(sections, block)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// Search 在事实与最近对话中做大小写不敏感的关键词匹配，返回最新的若干条。
func (m *Memory) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if m == nil || m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置记忆存储")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "检索关键词不能为空")
	}

	threads := append([]string{ThreadGraph}, m.dialogThreads...)
	var pool []Entry
	for _, thread := range threads {
		entries, err := m.store.Recent(ctx, thread, searchWindow)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检索记忆失败", xerrors.WithMetadata("thread", thread))
		}
		pool = append(pool, entries...)
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].CreatedAt > pool[j].CreatedAt })

	var hits []Entry
	for _, entry := range pool {
		text := strings.ToLower(entry.Text)
		for _, term := range terms {
			if strings.Contains(text, term) {
				hits = append(hits, entry)
				break
			}
		}
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// Close 关闭底层存储。
func (m *Memory) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

func (m *Memory) recentDialog(ctx context.Context) ([]Entry, error) {
	var merged []Entry
	for _, thread := range m.dialogThreads {
		entries, err := m.store.Recent(ctx, thread, m.recentLimit)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取最近对话失败", xerrors.WithMetadata("thread", thread))
		}
		merged = append(merged, entries...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt < merged[j].CreatedAt })
	if len(merged) > m.recentLimit {
		merged = merged[len(merged)-m.recentLimit:]
	}
	return merged, nil
}

// renderDialog 每条记录以二级标题开头，保证内部的一级标题区块能被准确截断。
func renderDialog(entries []Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("# Verlauf\n")
		} else {
			b.WriteString("\n")
		}
		speaker := entry.Name
		if speaker == "" {
			speaker = entry.Role
		}
		b.WriteString("## [" + entry.Thread + "] " + speaker + "\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func renderFacts(entries []Entry) string {
	var lines []string
	for _, entry := range entries {
		text := strings.Join(strings.Fields(entry.Text), " ")
		if text == "" {
			continue
		}
		lines = append(lines, "- "+text)
	}
	if len(lines) == 0 {
		return ""
	}
	return "# Fakten\n" + strings.Join(lines, "\n")
}

var (
	_ Recaller = (*Memory)(nil)
	_ Appender = (*Memory)(nil)
)
