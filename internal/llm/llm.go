package llm

import (
	"context"
	"strings"
)

// Client 定义了调用补全模型的统一接口。
// 所有提供方都只返回 (文本, 错误)，调用方无需探测返回值形态。
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ClientFunc 允许普通函数充当 Client。
type ClientFunc func(ctx context.Context, system, prompt string) (string, error)

// Complete 实现 Client 接口。
func (f ClientFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// Echo 是离线调试用的补全客户端，原样回显提示词的最后一段。
type Echo struct{}

// Complete 返回提示词中最后一个非空段落。
func (Echo) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parts := strings.Split(strings.TrimSpace(prompt), "\n\n")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p, nil
		}
	}
	return "", nil
}

var _ Client = Echo{}
