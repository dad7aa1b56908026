package delivery

import (
	"unicode/utf8"

	"GatewayHMA/internal/route"
)

// Speaker 是最终答案的发言者标签。
const Speaker = "SOM"

// InnerAgent 是审计记录在响应列表中的标签。
const InnerAgent = "SOM:INNER"

// maxInnerRunes 是响应列表中审计记录的最大长度。
const maxInnerRunes = 4000

// Item 是一条可展示的响应。
type Item struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// Envelope 是一次编排周期返回给调用方的结果。
type Envelope struct {
	OK              bool           `json:"ok"`
	Final           bool           `json:"final"`
	DeliverTo       route.Target   `json:"deliver_to"`
	DeliverToThread string         `json:"deliver_to_thread"`
	RouteArgs       map[string]any `json:"route_args"`
	Speaker         string         `json:"speaker"`
	CorrID          *string        `json:"corr_id"`
	Responses       []Item         `json:"responses"`
}

// Answer 返回标记为目标展示名称的最终答案，没有时返回空字符串。
func (e *Envelope) Answer() string {
	if e == nil {
		return ""
	}
	for _, item := range e.Responses {
		if item.Agent != InnerAgent {
			return item.Content
		}
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

func corrPtr(corrID string) *string {
	if corrID == "" {
		return nil
	}
	return &corrID
}
