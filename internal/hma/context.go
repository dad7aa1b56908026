package hma

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/memory"
)

var (
	innerHeader = regexp.MustCompile(`(?im)^[ \t]*#[ \t]*interner[ \t]+zwischenstand\b.*$`)
	selfHeader  = regexp.MustCompile(`(?im)^[ \t]*#[ \t]*ich\b.*$`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// BuildContext 合并调用方提供的外部上下文与回忆得到的记忆上下文。
// 回忆失败时返回外部上下文以及一个可恢复错误，调用方只需记录该错误。
func BuildContext(ctx context.Context, external string, r memory.Recaller, opts memory.RecallOptions) (string, error) {
	external = strings.TrimSpace(external)
	if r == nil {
		return external, nil
	}

	recalled, err := safeRecall(ctx, r, opts)
	if err != nil {
		return external, xerrors.Wrap(CodeContextRecall, err, "回忆上下文失败")
	}
	recalled = StripSelfVoice(recalled)

	switch {
	case external != "" && recalled != "":
		return external + "\n\n" + recalled, nil
	case external != "":
		return external, nil
	default:
		return recalled, nil
	}
}

func safeRecall(ctx context.Context, r memory.Recaller, opts memory.RecallOptions) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.Recall(ctx, opts)
}

// StripSelfVoice 删除记忆中此前周期写入的内心独白区块：
// 从内部状态标题开始，经过下一个自我回答标题，直到再下一个标题行或文本末尾。
// 没有自我回答标题跟随的内部状态标题保持原样。
func StripSelfVoice(text string) string {
	var b strings.Builder
	rest := text
	for {
		inner := innerHeader.FindStringIndex(rest)
		if inner == nil {
			break
		}
		self := selfHeader.FindStringIndex(rest[inner[1]:])
		if self == nil {
			break
		}
		end := nextHeaderLine(rest, inner[1]+self[1])
		b.WriteString(rest[:inner[0]])
		rest = rest[end:]
	}
	b.WriteString(rest)
	return strings.TrimSpace(blankRuns.ReplaceAllString(b.String(), "\n\n"))
}

// nextHeaderLine 返回 from 之后第一个以 # 开头的行的起始位置，找不到时返回 len(s)。
func nextHeaderLine(s string, from int) int {
	i := from
	for {
		nl := strings.IndexByte(s[i:], '\n')
		if nl < 0 {
			return len(s)
		}
		i += nl + 1
		if strings.HasPrefix(strings.TrimLeft(s[i:], " \t"), "#") {
			return i
		}
	}
}
