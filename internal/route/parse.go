package route

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	xerrors "GatewayHMA/internal/errors"
)

// 线路标记。
const (
	MarkerStart = "<<<ROUTE>>>"
	MarkerEnd   = "<<<END>>>"
)

// CodeDirectiveMalformed 表示路由指令缺失或无法解析，周期回退到 user。
const CodeDirectiveMalformed xerrors.Code = "ROUTE_DIRECTIVE_MALFORMED"

// ErrNoDirective 表示输出中没有找到路由指令。
var ErrNoDirective = xerrors.New(CodeDirectiveMalformed, "输出中没有路由指令")

func init() {
	xerrors.Register(CodeDirectiveMalformed, xerrors.Attributes{
		Message:     "route directive malformed",
		Severity:    xerrors.SeverityInfo,
		Recoverable: true,
	})
}

var (
	markerLine = regexp.MustCompile(`(?s)<<<ROUTE>>>\s*(\{.*?\})\s*<<<END>>>`)
	codeFence  = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
)

// Parse 从合成智能体的原始输出中提取路由指令。
// 该函数对任意输入都是全函数：永远不会 panic，永远返回有效目标。
func Parse(raw string) Route {
	r, _ := Inspect(raw)
	return r
}

// Inspect 与 Parse 行为一致，另外返回回退到默认值的原因。
// 返回的 Route 始终可用；错误仅供记录。
func Inspect(raw string) (r Route, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = Default()
			err = xerrors.New(CodeDirectiveMalformed, fmt.Sprintf("解析路由指令时发生 panic: %v", rec))
		}
	}()

	payload, ok := extractPayload(raw)
	if !ok {
		return Default(), ErrNoDirective
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return Default(), xerrors.Wrap(CodeDirectiveMalformed, err, "路由指令不是合法的 JSON 对象")
	}
	if decoded == nil {
		return Default(), ErrNoDirective
	}
	r = validate(decoded)
	if raw, ok := firstString(decoded, "deliver_to", "target"); ok && !Target(raw).Valid() {
		return r, xerrors.New(CodeDirectiveMalformed, "未知的投递目标", xerrors.WithMetadata("deliver_to", raw))
	}
	return r, nil
}

// FromMap 校验一个已解码的指令对象。
func FromMap(decoded map[string]any) Route {
	if decoded == nil {
		return Default()
	}
	return validate(decoded)
}

func extractPayload(raw string) (string, bool) {
	text := strings.TrimSpace(stripCodeFences(raw))
	if text == "" {
		return "", false
	}
	if m := markerLine.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return lastDirectiveObject(text)
}

func stripCodeFences(text string) string {
	return codeFence.ReplaceAllString(text, "$1")
}

// lastDirectiveObject 返回文本中最后一个包含 deliver_to 键的顶层 JSON 对象。
func lastDirectiveObject(text string) (string, bool) {
	candidates := jsonObjects(text)
	for i := len(candidates) - 1; i >= 0; i-- {
		if strings.Contains(candidates[i], `"deliver_to"`) {
			return candidates[i], true
		}
	}
	return "", false
}

// jsonObjects 扫描所有括号平衡的顶层对象，跳过字符串内部的括号。
func jsonObjects(s string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escape   bool
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

func validate(decoded map[string]any) Route {
	target := TargetUser
	if raw, ok := firstString(decoded, "deliver_to", "target"); ok {
		if t := Target(raw); t.Valid() {
			target = t
		}
	}

	args := map[string]any{}
	if v, ok := decoded["args"]; ok && v != nil {
		if m, ok := v.(map[string]any); ok {
			args = m
		}
	}
	return Route{Target: target, Args: args}
}

// firstString 返回第一个非空字符串值，模拟 "deliver_to or target" 的取值顺序。
func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
