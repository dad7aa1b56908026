package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/llm"
)

// SubAgent 是参与扇出的子智能体。
type SubAgent interface {
	Name() string
	Run(ctx context.Context, userText, contextText string) (string, error)
}

// Acceptor 是可选接口，子智能体借此声明自己是否愿意处理本轮输入。
type Acceptor interface {
	Accept(userText, contextText string) (bool, error)
}

// Specialist 是由补全模型驱动的子智能体。
type Specialist struct {
	name       string
	system     string
	client     llm.Client
	keywords   []string
	tools      map[string]Tool
	llmTimeout time.Duration
}

// Option 定义可选的 Specialist 配置。
type Option func(*Specialist)

// WithSystemPrompt 设置系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(s *Specialist) {
		s.system = strings.TrimSpace(prompt)
	}
}

// WithAcceptKeywords 设置触发 Accept 的关键词。
func WithAcceptKeywords(keywords ...string) Option {
	return func(s *Specialist) {
		for _, k := range keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				s.keywords = append(s.keywords, k)
			}
		}
	}
}

// WithTools 注册可被调用的工具。
func WithTools(tools ...Tool) Option {
	return func(s *Specialist) {
		for _, tool := range tools {
			if tool == nil {
				continue
			}
			if s.tools == nil {
				s.tools = make(map[string]Tool)
			}
			s.tools[tool.Name()] = tool
		}
	}
}

// WithLLMTimeout 设置单次补全的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(s *Specialist) {
		if timeout <= 0 {
			s.llmTimeout = 0
			return
		}
		s.llmTimeout = timeout
	}
}

// NewSpecialist 创建一个 Specialist。
func NewSpecialist(name string, client llm.Client, opts ...Option) *Specialist {
	s := &Specialist{name: strings.TrimSpace(name), client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Name 实现 SubAgent 接口。
func (s *Specialist) Name() string { return s.name }

// Accept 在用户输入或上下文包含任一关键词时返回 true。
func (s *Specialist) Accept(userText, contextText string) (bool, error) {
	if len(s.keywords) == 0 {
		return false, nil
	}
	haystack := strings.ToLower(userText + "\n" + contextText)
	for _, k := range s.keywords {
		if strings.Contains(haystack, k) {
			return true, nil
		}
	}
	return false, nil
}

// Run 执行至多两轮补全：首轮若返回工具调用，则执行工具并把结果交给第二轮总结。
func (s *Specialist) Run(ctx context.Context, userText, contextText string) (string, error) {
	if s.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置补全客户端", xerrors.WithMetadata("agent", s.name))
	}

	base := basePrompt(userText, contextText, len(s.tools) > 0)
	first, err := s.complete(ctx, base)
	if err != nil {
		return "", err
	}

	call, ok := parseToolCall(first)
	if !ok || len(s.tools) == 0 {
		return first, nil
	}

	result := s.invoke(ctx, call)
	second, err := s.complete(ctx, followupPrompt(userText, contextText, result))
	if err != nil {
		return "", err
	}
	return second, nil
}

func (s *Specialist) complete(ctx context.Context, prompt string) (string, error) {
	callCtx := ctx
	if s.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		defer cancel()
	}
	out, err := s.client.Complete(callCtx, s.system, prompt)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "子智能体推理超时", xerrors.WithMetadata("agent", s.name))
		}
		return "", fmt.Errorf("子智能体 %s 推理失败: %w", s.name, err)
	}
	return strings.TrimSpace(out), nil
}

// invoke 执行工具并把结果或失败原因渲染为文本，工具中的 panic 同样被转换为失败文本。
func (s *Specialist) invoke(ctx context.Context, call toolCall) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fmt.Sprintf("Tool-Aufruf %s ist fehlgeschlagen: %v", call.Tool, r)
		}
	}()
	tool, ok := s.tools[call.Tool]
	if !ok {
		return fmt.Sprintf("Tool-Aufruf %s ist fehlgeschlagen: unbekanntes Tool", call.Tool)
	}
	out, err := tool.Call(ctx, call.Args)
	if err != nil {
		return fmt.Sprintf("Tool-Aufruf %s ist fehlgeschlagen: %v", call.Tool, err)
	}
	return fmt.Sprintf("Tool %s Ergebnis:\n%s", call.Tool, out)
}

var (
	_ SubAgent = (*Specialist)(nil)
	_ Acceptor = (*Specialist)(nil)
)
