package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Router 按目标选择传输，未配置的目标使用回退传输。
type Router struct {
	routes   map[string]Transport
	fallback Transport
}

// NewRouter 创建 Router。fallback 可以为 nil，此时未配置的目标直接跳过。
func NewRouter(fallback Transport, routes map[string]Transport) *Router {
	copied := make(map[string]Transport, len(routes))
	for target, transport := range routes {
		if transport != nil {
			copied[target] = transport
		}
	}
	return &Router{routes: copied, fallback: fallback}
}

func (r *Router) pick(target string) Transport {
	if t, ok := r.routes[target]; ok {
		return t
	}
	return r.fallback
}

// Publish 实现 Publisher 接口。
func (r *Router) Publish(ctx context.Context, msg Message) error {
	t := r.pick(msg.Target)
	if t == nil {
		return nil
	}
	if err := t.Publish(ctx, msg); err != nil {
		return fmt.Errorf("投递到 %s 失败: %w", msg.Target, err)
	}
	return nil
}

// Consume 实现 Consumer 接口。
func (r *Router) Consume(ctx context.Context, target string, workerCount int, handler Handler) error {
	t := r.pick(target)
	if t == nil {
		return fmt.Errorf("目标 %s 没有配置传输", target)
	}
	return t.Consume(ctx, target, workerCount, handler)
}

// Close 关闭所有不同的传输。
func (r *Router) Close() error {
	seen := make(map[Transport]struct{})
	var errs []error
	closeOnce := func(t Transport) {
		if t == nil {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range r.routes {
		closeOnce(t)
	}
	closeOnce(r.fallback)
	return errors.Join(errs...)
}

var _ Transport = (*Router)(nil)
