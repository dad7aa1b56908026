package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"GatewayHMA/internal/memory"
)

// Tool 是子智能体可以通过 JSON 协议调用的工具。
type Tool interface {
	Name() string
	Call(ctx context.Context, args map[string]any) (string, error)
}

type toolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// parseToolCall 仅当整段输出恰好是一个带 tool 字段的 JSON 对象时才视为工具调用。
func parseToolCall(text string) (toolCall, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return toolCall{}, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return toolCall{}, false
	}
	nameRaw, ok := raw["tool"]
	if !ok {
		return toolCall{}, false
	}
	var call toolCall
	if err := json.Unmarshal(nameRaw, &call.Tool); err != nil || strings.TrimSpace(call.Tool) == "" {
		return toolCall{}, false
	}
	if argsRaw, ok := raw["args"]; ok {
		_ = json.Unmarshal(argsRaw, &call.Args)
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return call, true
}

// Searcher 在持久化记忆中检索。
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]memory.Entry, error)
}

// SearchMemory 是 search_memory 工具。
type SearchMemory struct {
	Searcher Searcher
}

// Name 实现 Tool 接口。
func (SearchMemory) Name() string { return "search_memory" }

// Call 参数：query（必填），limit（可选）。
func (t SearchMemory) Call(ctx context.Context, args map[string]any) (string, error) {
	if t.Searcher == nil {
		return "", fmt.Errorf("未配置记忆检索")
	}
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("缺少参数 query")
	}
	limit := 5
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	hits, err := t.Searcher.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "(keine Treffer)", nil
	}
	lines := make([]string, 0, len(hits))
	for _, hit := range hits {
		lines = append(lines, fmt.Sprintf("- [%s] %s", hit.Thread, strings.Join(strings.Fields(hit.Text), " ")))
	}
	return strings.Join(lines, "\n"), nil
}

// RememberFact 是 remember_fact 工具，把事实写入图线程。
type RememberFact struct {
	Appender memory.Appender
}

// Name 实现 Tool 接口。
func (RememberFact) Name() string { return "remember_fact" }

// Call 参数：fact（也接受 text 或 data）。
func (t RememberFact) Call(ctx context.Context, args map[string]any) (string, error) {
	if t.Appender == nil {
		return "", fmt.Errorf("未配置记忆存储")
	}
	fact := stringArg(args, "fact", "text", "data")
	if fact == "" {
		return "", fmt.Errorf("缺少参数 fact")
	}
	err := t.Appender.Append(ctx, memory.Entry{
		Thread: memory.ThreadGraph,
		Role:   memory.RoleSystem,
		Name:   t.Name(),
		Text:   fact,
	})
	if err != nil {
		return "", err
	}
	return "gespeichert: " + fact, nil
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

var (
	_ Tool = SearchMemory{}
	_ Tool = RememberFact{}
)
