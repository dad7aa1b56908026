package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"GatewayHMA/internal/dispatch"
	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/memory"
	"GatewayHMA/internal/route"
	"GatewayHMA/pkg/logger"
)

// 审计记录的组成部分。
const (
	innerHeader      = "# Interner Zwischenstand"
	selfHeader       = "# Ich"
	innerPlaceholder = "(keine internen Notizen)"
	auditName        = "SOM:inner"
	auditKind        = "inner_combined"
)

// ErrorCounter 统计被恢复的错误。
type ErrorCounter interface {
	ErrorRecovered(code string)
}

// Input 是一次投递所需的全部材料。
type Input struct {
	// Raw 是合成智能体的原始输出，可能带有路由标记。
	Raw string
	// Inner 是聚合后的内部材料。
	Inner  string
	Route  route.Route
	CorrID string
}

// Router 负责审计、持久化、快照与分发，所有副作用互不影响。
type Router struct {
	meta      route.MetaTable
	store     memory.Appender
	transport dispatch.Publisher
	snapshots *SnapshotWriter
	logger    *slog.Logger
	audit     *slog.Logger
	counter   ErrorCounter
}

// Option 定义 Router 的可选配置。
type Option func(*Router)

// WithMetaTable 替换目标映射表。
func WithMetaTable(meta route.MetaTable) Option {
	return func(r *Router) {
		if len(meta) > 0 {
			r.meta = meta
		}
	}
}

// WithStore 设置记忆写入端。
func WithStore(store memory.Appender) Option {
	return func(r *Router) { r.store = store }
}

// WithTransport 设置分发传输。
func WithTransport(t dispatch.Publisher) Option {
	return func(r *Router) { r.transport = t }
}

// WithSnapshots 启用快照文件。
func WithSnapshots(w *SnapshotWriter) Option {
	return func(r *Router) { r.snapshots = w }
}

// WithLogger 设置运行日志。
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditLogger 设置审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.audit = l
		}
	}
}

// WithErrorCounter 设置错误计数器。
func WithErrorCounter(c ErrorCounter) Option {
	return func(r *Router) { r.counter = c }
}

// NewRouter 创建投递路由器。
func NewRouter(opts ...Option) *Router {
	r := &Router{
		meta:   route.DefaultMetaTable(),
		logger: logger.Named("delivery"),
		audit:  logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Deliver 投递一个周期的结果并返回响应信封，从不失败。
func (r *Router) Deliver(ctx context.Context, in Input) *Envelope {
	target := in.Route.Target
	if !target.Valid() {
		target = route.TargetUser
	}
	args := in.Route.Args
	if args == nil {
		args = map[string]any{}
	}

	innerClean := route.StripMarkers(in.Inner)
	answerClean := route.StripMarkers(in.Raw)

	var auditRecord string
	if innerClean != "" || answerClean != "" {
		auditRecord = buildAuditRecord(innerClean, answerClean)
		r.persist(ctx, memory.Entry{
			Thread: route.AuditThread,
			Role:   memory.RoleAssistant,
			Name:   auditName,
			Text:   auditRecord,
			Metadata: withCorrID(map[string]string{"kind": auditKind}, in.CorrID),
		})
	}

	meta := r.meta.Resolve(target)

	if answerClean != "" {
		if r.snapshots != nil {
			err := guard(func() error {
				_, err := r.snapshots.Write(in.CorrID, string(target), answerClean)
				return err
			})
			if err != nil {
				r.report(ctx, xerrors.Wrap(CodePersistence, err, "写入快照失败", xerrors.WithMetadata("target", string(target))))
			}
		}
		r.persist(ctx, memory.Entry{
			Thread: meta.Thread,
			Role:   memory.RoleAssistant,
			Name:   meta.DisplayName,
			Text:   answerClean,
			Metadata: withCorrID(map[string]string{
				"thread": meta.Thread,
				"target": string(target),
			}, in.CorrID),
		})
		r.dispatch(ctx, dispatch.NewMessage(string(target), meta.Thread, meta.DisplayName, in.CorrID, answerClean, args))
	}

	items := make([]Item, 0, 2)
	if auditRecord != "" {
		items = append(items, Item{Agent: InnerAgent, Content: truncateRunes(auditRecord, maxInnerRunes)})
	}
	if answerClean != "" {
		items = append(items, Item{Agent: meta.DisplayName, Content: answerClean})
	}

	r.audit.Info("cycle delivered",
		slog.String("corr_id", in.CorrID),
		slog.String("deliver_to", string(target)),
		slog.String("thread", meta.Thread),
		slog.Bool("answered", answerClean != ""),
	)

	return &Envelope{
		OK:              true,
		Final:           true,
		DeliverTo:       target,
		DeliverToThread: meta.Thread,
		RouteArgs:       args,
		Speaker:         Speaker,
		CorrID:          corrPtr(in.CorrID),
		Responses:       items,
	}
}

func buildAuditRecord(inner, answer string) string {
	if inner == "" {
		inner = innerPlaceholder
	}
	return innerHeader + "\n" + inner + "\n\n" + selfHeader + "\n" + answer
}

func (r *Router) persist(ctx context.Context, entry memory.Entry) {
	if r.store == nil {
		return
	}
	if err := guard(func() error { return r.store.Append(ctx, entry) }); err != nil {
		r.report(ctx, xerrors.Wrap(CodePersistence, err, "写入记忆失败", xerrors.WithMetadata("thread", entry.Thread)))
	}
}

func (r *Router) dispatch(ctx context.Context, msg dispatch.Message) {
	if r.transport == nil {
		return
	}
	if err := guard(func() error { return r.transport.Publish(ctx, msg) }); err != nil {
		r.report(ctx, xerrors.Wrap(CodeDispatch, err, "分发答案失败", xerrors.WithMetadata("target", msg.Target)))
	}
}

// guard 执行副作用，把 panic 转成普通错误。
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func withCorrID(md map[string]string, corrID string) map[string]string {
	if corrID != "" {
		md[memory.MetaCorrID] = corrID
	}
	return md
}

// report 记录可恢复的投递错误并计数。
func (r *Router) report(ctx context.Context, err error) {
	code := xerrors.CodeOf(err)
	attrs := []any{slog.String("code", string(code)), slog.String("error", err.Error())}
	if e, ok := xerrors.From(err); ok {
		for k, v := range e.Metadata() {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	r.logger.Log(ctx, xerrors.SeverityOf(err).Level(), "投递副作用失败", attrs...)
	if r.counter != nil {
		r.counter.ErrorRecovered(string(code))
	}
}
