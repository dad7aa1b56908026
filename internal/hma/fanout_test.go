package hma

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"GatewayHMA/internal/agent"
	xerrors "GatewayHMA/internal/errors"
)

func TestFanoutPreservesOriginalOrder(t *testing.T) {
	agents := []agent.SubAgent{
		&stubAgent{name: "slow", reply: "langsam", delay: 40 * time.Millisecond},
		&stubAgent{name: "medium", reply: "mittel", delay: 20 * time.Millisecond},
		&stubAgent{name: "fast", reply: "schnell"},
	}

	got, err := Fanout(context.Background(), agents, "frage", "", FanoutOptions{Limit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Contribution{
		{Index: 0, Name: "slow", Text: "langsam"},
		{Index: 1, Name: "medium", Text: "mittel"},
		{Index: 2, Name: "fast", Text: "schnell"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Contribution{}, "Err")); diff != "" {
		t.Fatalf("contributions mismatch (-want +got):\n%s", diff)
	}
}

func TestFanoutIsolatesFailures(t *testing.T) {
	agents := []agent.SubAgent{
		&stubAgent{name: "broken", err: errBoom},
		&stubAgent{name: "panicky", panicWith: "kaputt"},
		&stubAgent{name: "blank", reply: "   \n"},
		&stubAgent{name: "healthy", reply: "  alles gut  "},
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	got, err := Fanout(context.Background(), agents, "frage", "", FanoutOptions{
		OnFailure: func(c Contribution) {
			mu.Lock()
			defer mu.Unlock()
			if xerrors.CodeOf(c.Err) != CodeSubAgentExecution {
				t.Errorf("unexpected failure code %s", xerrors.CodeOf(c.Err))
			}
			failed = append(failed, c.Name)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "healthy" || got[0].Text != "alles gut" || got[0].Index != 3 {
		t.Fatalf("unexpected contributions: %+v", got)
	}
	if diff := cmp.Diff([]string{"broken", "panicky"}, failed, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("failure callbacks mismatch (-want +got):\n%s", diff)
	}
}

func TestFanoutTimeoutCountsAsFailure(t *testing.T) {
	agents := []agent.SubAgent{
		&stubAgent{name: "hanging", waitCtx: true},
		&stubAgent{name: "quick", reply: "ok"},
	}

	var reason string
	got, err := Fanout(context.Background(), agents, "frage", "", FanoutOptions{
		Timeout: 20 * time.Millisecond,
		OnFailure: func(c Contribution) {
			if e, ok := xerrors.From(c.Err); ok {
				reason = e.Metadata()["reason"]
			}
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "quick" {
		t.Fatalf("unexpected contributions: %+v", got)
	}
	if reason != "timeout" {
		t.Fatalf("expected timeout reason, got %q", reason)
	}
}

func TestFanoutTimeoutDropsAgentIgnoringContext(t *testing.T) {
	stubborn := &stubbornAgent{name: "stubborn", sleep: 200 * time.Millisecond, finished: make(chan struct{})}
	agents := []agent.SubAgent{stubborn, &stubAgent{name: "quick", reply: "ok"}}

	var reason string
	start := time.Now()
	got, err := Fanout(context.Background(), agents, "frage", "", FanoutOptions{
		Timeout: 10 * time.Millisecond,
		OnFailure: func(c Contribution) {
			if e, ok := xerrors.From(c.Err); ok {
				reason = e.Metadata()["reason"]
			}
		},
	})
	elapsed := time.Since(start)
	<-stubborn.finished

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed >= 150*time.Millisecond {
		t.Fatalf("fanout waited for the stubborn agent: %v", elapsed)
	}
	if len(got) != 1 || got[0].Name != "quick" {
		t.Fatalf("late text must be discarded, got %+v", got)
	}
	if reason != "timeout" {
		t.Fatalf("expected timeout reason, got %q", reason)
	}
}

func TestFanoutRespectsLimit(t *testing.T) {
	probe := &concurrencyProbe{}
	var agents []agent.SubAgent
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		agents = append(agents, &probedAgent{name: name, probe: probe})
	}

	got, err := Fanout(context.Background(), agents, "frage", "", FanoutOptions{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(agents) {
		t.Fatalf("expected %d contributions, got %d", len(agents), len(got))
	}
	if probe.max > 2 {
		t.Fatalf("expected at most 2 concurrent units, observed %d", probe.max)
	}
}

func TestFanoutSchedulingFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := &stubAgent{name: "first", reply: "x"}
	got, err := Fanout(ctx, []agent.SubAgent{first}, "frage", "", FanoutOptions{})
	if err == nil {
		t.Fatalf("expected scheduling error")
	}
	if xerrors.CodeOf(err) != CodeCycleScheduling {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
	if xerrors.IsRecoverable(err) {
		t.Fatalf("scheduling failures must not be recoverable")
	}
	if got != nil {
		t.Fatalf("expected nil contributions, got %+v", got)
	}
	if first.calls.Load() != 0 {
		t.Fatalf("no unit should have been admitted")
	}
}

func TestFanoutEmptyInput(t *testing.T) {
	got, err := Fanout(context.Background(), nil, "frage", "", FanoutOptions{})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %+v (%v)", got, err)
	}
}
