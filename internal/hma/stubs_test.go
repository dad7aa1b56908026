package hma

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"GatewayHMA/internal/agent"
)

type stubAgent struct {
	name      string
	reply     string
	err       error
	panicWith any
	delay     time.Duration
	waitCtx   bool
	calls     atomic.Int32
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Run(ctx context.Context, _, _ string) (string, error) {
	s.calls.Add(1)
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.waitCtx {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

type acceptingAgent struct {
	stubAgent
	accept      bool
	acceptErr   error
	acceptPanic bool
}

func (a *acceptingAgent) Accept(_, _ string) (bool, error) {
	if a.acceptPanic {
		panic("predicate exploded")
	}
	return a.accept, a.acceptErr
}

var errBoom = errors.New("boom")

func names(agents []agent.SubAgent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name()
	}
	return out
}

// concurrencyProbe 记录同时运行的最大单元数。
type concurrencyProbe struct {
	mu      sync.Mutex
	current int
	max     int
}

func (p *concurrencyProbe) enter() {
	p.mu.Lock()
	p.current++
	if p.current > p.max {
		p.max = p.current
	}
	p.mu.Unlock()
}

func (p *concurrencyProbe) leave() {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
}

type probedAgent struct {
	name  string
	probe *concurrencyProbe
}

func (p *probedAgent) Name() string { return p.name }

func (p *probedAgent) Run(ctx context.Context, _, _ string) (string, error) {
	p.probe.enter()
	defer p.probe.leave()
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.name + " fertig", nil
}

// stubbornAgent blocks for sleep without looking at its context.
type stubbornAgent struct {
	name     string
	sleep    time.Duration
	finished chan struct{}
}

func (s *stubbornAgent) Name() string { return s.name }

func (s *stubbornAgent) Run(context.Context, string, string) (string, error) {
	defer close(s.finished)
	time.Sleep(s.sleep)
	return "spaet", nil
}
