package hma

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"GatewayHMA/internal/agent"
	"GatewayHMA/internal/delivery"
	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/knowledge"
	"GatewayHMA/internal/llm"
	"GatewayHMA/internal/memory"
	"GatewayHMA/internal/observability/metrics"
	"GatewayHMA/internal/route"
	"GatewayHMA/pkg/logger"
)

// Memory 是编排周期使用的持久记忆。
type Memory interface {
	memory.Recaller
	memory.Appender
}

// Runtime 聚合一次进程生命周期内共享的协作者，启动时构建一次。
type Runtime struct {
	Memory  Memory
	Roster  []agent.SubAgent
	Catalog *knowledge.Catalog
	Client  llm.Client
	Router  *delivery.Router
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Config 控制编排周期的行为。
type Config struct {
	Baseline          string
	MaxParallel       int
	AgentTimeout      time.Duration
	CompletionTimeout time.Duration
	IncludeRecent     bool
	IncludeGraph      bool
	RecordUserTurn    bool
	SystemPrompt      string
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Baseline:       DefaultBaseline,
		MaxParallel:    DefaultMaxParallel,
		IncludeRecent:  true,
		RecordUserTurn: true,
	}
}

// Option 定义 Orchestrator 的可选配置。
type Option func(*Orchestrator)

// WithConfig 替换周期配置。
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithClaimMatcher 替换聚合时使用的断言匹配器。
func WithClaimMatcher(m ClaimMatcher) Option {
	return func(o *Orchestrator) { o.aggregator.Matcher = m }
}

// Request 是一次编排周期的输入。
type Request struct {
	UserText string
	Context  string
	CorrID   string
}

// Orchestrator 驱动单轮编排周期。
type Orchestrator struct {
	rt         Runtime
	cfg        Config
	aggregator Aggregator
	logger     *slog.Logger
}

// New 创建 Orchestrator。
func New(rt Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{rt: rt, cfg: DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.rt.Catalog == nil {
		o.rt.Catalog = knowledge.DefaultCatalog()
	}
	if o.rt.Router == nil {
		o.rt.Router = delivery.NewRouter()
	}
	o.logger = rt.Logger
	if o.logger == nil {
		o.logger = logger.Named("hma")
	}
	return o
}

// Run 执行一次完整的编排周期。除调度失败外，所有错误都会被记录并恢复，
// 因此正常情况下总是返回一个信封。
func (o *Orchestrator) Run(ctx context.Context, req Request) (*delivery.Envelope, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "hma.cycle",
		trace.WithAttributes(attribute.String("hma.corr_id", req.CorrID)))
	defer span.End()

	var recaller memory.Recaller
	if o.rt.Memory != nil {
		recaller = o.rt.Memory
	}
	contextText, err := BuildContext(ctx, req.Context, recaller, memory.RecallOptions{
		IncludeRecent: o.cfg.IncludeRecent,
		IncludeGraph:  o.cfg.IncludeGraph,
	})
	if err != nil {
		o.recover(ctx, err)
	}

	o.recordUserTurn(ctx, req)

	selector := Selector{Baseline: o.cfg.Baseline, Buckets: o.rt.Catalog.Buckets}
	chosen, faults := selector.Select(req.UserText, contextText, o.rt.Roster)
	for _, fault := range faults {
		o.recover(ctx, fault)
	}
	span.SetAttributes(attribute.Int("hma.agents", len(chosen)))

	contribs, err := Fanout(ctx, chosen, req.UserText, contextText, FanoutOptions{
		Limit:   o.cfg.MaxParallel,
		Timeout: o.cfg.AgentTimeout,
		OnFailure: func(c Contribution) {
			o.rt.Metrics.SubAgentFailed(c.Name)
			o.recover(ctx, c.Err)
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Log(ctx, xerrors.SeverityOf(err).Level(), "编排周期调度失败",
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("corr_id", req.CorrID),
			slog.String("error", err.Error()),
		)
		o.rt.Metrics.CycleFailed(string(xerrors.CodeOf(err)), time.Since(start))
		return nil, err
	}

	inner := o.aggregator.Aggregate(contribs)

	synth := Synthesizer{
		Client:       o.rt.Client,
		SystemPrompt: o.cfg.SystemPrompt,
		Capabilities: o.rt.Catalog.RenderCapabilities(),
		Timeout:      o.cfg.CompletionTimeout,
	}
	raw, err := synth.Synthesize(ctx, req.UserText, contextText, inner)
	if err != nil {
		o.recover(ctx, err)
	}

	r, err := route.Inspect(raw)
	if err != nil {
		o.recover(ctx, err)
	}

	env := o.rt.Router.Deliver(ctx, delivery.Input{
		Raw:    raw,
		Inner:  inner,
		Route:  r,
		CorrID: req.CorrID,
	})

	span.SetAttributes(attribute.String("hma.deliver_to", string(env.DeliverTo)))
	o.rt.Metrics.CycleCompleted(string(env.DeliverTo), time.Since(start))
	o.logger.Info("编排周期完成",
		slog.String("corr_id", req.CorrID),
		slog.String("deliver_to", string(env.DeliverTo)),
		slog.Int("contributions", len(contribs)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return env, nil
}

func (o *Orchestrator) recordUserTurn(ctx context.Context, req Request) {
	if !o.cfg.RecordUserTurn || o.rt.Memory == nil || strings.TrimSpace(req.UserText) == "" {
		return
	}
	var meta map[string]string
	if req.CorrID != "" {
		meta = map[string]string{memory.MetaCorrID: req.CorrID}
	}
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return o.rt.Memory.Append(ctx, memory.Entry{
			Thread:   memory.ThreadDialog,
			Role:     memory.RoleUser,
			Name:     memory.RoleUser,
			Text:     req.UserText,
			Metadata: meta,
		})
	}()
	if err != nil {
		o.recover(ctx, xerrors.Wrap(delivery.CodePersistence, err, "记录用户输入失败",
			xerrors.WithMetadata("thread", memory.ThreadDialog)))
	}
}

// recover 记录可恢复错误并计数，周期继续执行。
func (o *Orchestrator) recover(ctx context.Context, err error) {
	if err == nil {
		return
	}
	code := xerrors.CodeOf(err)
	attrs := []any{slog.String("code", string(code)), slog.String("error", err.Error())}
	if e, ok := xerrors.From(err); ok {
		for k, v := range e.Metadata() {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	o.logger.Log(ctx, xerrors.SeverityOf(err).Level(), "编排周期已恢复错误", attrs...)
	o.rt.Metrics.ErrorRecovered(string(code))
}
