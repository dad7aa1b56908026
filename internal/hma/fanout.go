package hma

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"GatewayHMA/internal/agent"
	xerrors "GatewayHMA/internal/errors"
)

// DefaultMaxParallel 是扇出的默认并发上限。
const DefaultMaxParallel = 3

const tracerName = "GatewayHMA/internal/hma"

// Contribution 是一个子智能体在本轮的输出。Err 非空时 Text 为空。
type Contribution struct {
	Index int
	Name  string
	Text  string
	Err   error
}

// FanoutOptions 控制扇出行为。
type FanoutOptions struct {
	// Limit 是同时运行的子智能体数量上限，<=0 时使用 DefaultMaxParallel。
	Limit int
	// Timeout 是单个子智能体的可选超时，超时按该智能体失败处理。
	Timeout time.Duration
	// OnFailure 在子智能体失败时被调用，可能并发调用。
	OnFailure func(Contribution)
}

// Fanout 在信号量约束下并发执行子智能体，按原始顺序返回非空贡献。
// 只有在周期上下文结束导致无法继续派发时才返回错误；已派发的单元会先全部结束。
func Fanout(ctx context.Context, agents []agent.SubAgent, userText, contextText string, opts FanoutOptions) ([]Contribution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultMaxParallel
	}

	sem := semaphore.NewWeighted(int64(limit))
	results := make([]Contribution, len(agents))
	var (
		g        errgroup.Group
		schedErr error
	)

	for i, a := range agents {
		if err := sem.Acquire(ctx, 1); err != nil {
			schedErr = xerrors.Wrap(CodeCycleScheduling, err, "无法派发子智能体",
				xerrors.WithMetadata("admitted", fmt.Sprintf("%d/%d", i, len(agents))))
			break
		}
		i, a := i, a
		g.Go(func() error {
			defer sem.Release(1)
			c := runUnit(ctx, i, a, userText, contextText, opts.Timeout)
			if c.Err != nil && opts.OnFailure != nil {
				opts.OnFailure(c)
			}
			results[i] = c
			return nil
		})
	}
	_ = g.Wait()

	if schedErr != nil {
		return nil, schedErr
	}

	out := make([]Contribution, 0, len(results))
	for _, c := range results {
		if c.Err != nil || c.Text == "" {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func runUnit(ctx context.Context, index int, a agent.SubAgent, userText, contextText string, timeout time.Duration) (c Contribution) {
	name := agentName(a)
	c = Contribution{Index: index, Name: name}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "hma.subagent",
		trace.WithAttributes(attribute.String("hma.agent", name), attribute.Int("hma.index", index)))
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if c.Err != nil {
			c.Text = ""
			span.RecordError(c.Err)
			span.SetStatus(codes.Error, c.Err.Error())
		}
	}()

	if a == nil {
		c.Err = xerrors.New(CodeSubAgentExecution, "子智能体为空")
		return c
	}

	// 缓冲为 1，超时后被放弃的单元仍能写入并退出。
	done := make(chan runResult, 1)
	go func() {
		done <- callAgent(ctx, a, userText, contextText)
	}()

	var res runResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = runResult{err: ctx.Err()}
	}

	if res.err != nil {
		reason := "error"
		switch {
		case res.panicked:
			reason = "panic"
		case stdErrors.Is(res.err, context.DeadlineExceeded):
			reason = "timeout"
		case stdErrors.Is(res.err, context.Canceled):
			reason = "canceled"
		}
		c.Err = xerrors.Wrap(CodeSubAgentExecution, res.err, "子智能体执行失败",
			xerrors.WithMetadata("agent", name), xerrors.WithMetadata("reason", reason))
		return c
	}
	c.Text = strings.TrimSpace(res.text)
	return c
}

type runResult struct {
	text     string
	err      error
	panicked bool
}

func callAgent(ctx context.Context, a agent.SubAgent, userText, contextText string) (res runResult) {
	defer func() {
		if r := recover(); r != nil {
			res = runResult{err: fmt.Errorf("panic: %v", r), panicked: true}
		}
	}()
	text, err := a.Run(ctx, userText, contextText)
	return runResult{text: text, err: err}
}

func agentName(a agent.SubAgent) (name string) {
	defer func() {
		if recover() != nil {
			name = "unknown"
		}
	}()
	if a == nil {
		return "unknown"
	}
	return a.Name()
}
