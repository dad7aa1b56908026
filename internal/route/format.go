package route

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	markerPair  = regexp.MustCompile(`(?s)<<<ROUTE>>>.*?<<<END>>>`)
	strayMarker = regexp.MustCompile(`<<<(?:ROUTE|END)>>>`)
	emptyFence  = regexp.MustCompile("(?i)```(?:json)?\\s*```")
)

// Format 生成一行线路指令，供提示词示例与测试使用。
// 经 Parse 往返后参数按 JSON 解码规则归一化：数字变为 float64，
// 含有 ``` 的字符串值会被代码块剥离改写。
func Format(target Target, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(struct {
		DeliverTo Target         `json:"deliver_to"`
		Args      map[string]any `json:"args"`
	}{DeliverTo: target, Args: args})
	if err != nil {
		payload = []byte(`{"deliver_to":"user","args":{}}`)
	}
	return MarkerStart + " " + string(payload) + " " + MarkerEnd
}

// StripMarkers 删除所有线路标记片段以及因此留下的空代码块。
// 反复应用直到文本不再变化，因此对自身幂等。
func StripMarkers(s string) string {
	for {
		next := stripOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func stripOnce(s string) string {
	out := markerPair.ReplaceAllString(s, "")
	out = strayMarker.ReplaceAllString(out, "")
	out = emptyFence.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
