package hma

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"GatewayHMA/internal/agent"
	"GatewayHMA/internal/delivery"
	"GatewayHMA/internal/knowledge"
	"GatewayHMA/internal/llm"
	"GatewayHMA/internal/memory"
	"GatewayHMA/internal/observability/metrics"
	"GatewayHMA/internal/route"
	"GatewayHMA/pkg/logger"
)

type fixture struct {
	store   *memory.MapStore
	metrics *metrics.Metrics
	orch    *Orchestrator
}

func newFixture(t *testing.T, roster []agent.SubAgent, client llm.Client, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewMapStore()
	m := metrics.New()
	router := delivery.NewRouter(
		delivery.WithStore(store),
		delivery.WithLogger(logger.Discard()),
		delivery.WithAuditLogger(logger.Discard()),
		delivery.WithErrorCounter(m),
	)
	orch := New(Runtime{
		Memory:  memory.New(store),
		Roster:  roster,
		Catalog: &knowledge.Catalog{},
		Client:  client,
		Router:  router,
		Metrics: m,
		Logger:  logger.Discard(),
	}, opts...)
	return &fixture{store: store, metrics: m, orch: orch}
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func fixedReply(text string) llm.Client {
	return llm.ClientFunc(func(context.Context, string, string) (string, error) { return text, nil })
}

func TestRunHappyPath(t *testing.T) {
	baseline := &stubAgent{name: "PersonalAgent", reply: "Ich merke mir deinen Namen."}
	raw := "Ich merke mir deinen Namen.\n<<<ROUTE>>> {\"deliver_to\":\"user\",\"args\":{}} <<<END>>>"

	var prompt string
	client := llm.ClientFunc(func(_ context.Context, _, p string) (string, error) {
		prompt = p
		return raw, nil
	})
	f := newFixture(t, []agent.SubAgent{baseline}, client)

	env, err := f.orch.Run(context.Background(), Request{UserText: "mein Name ist Aaron", CorrID: "c-42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.DeliverTo != route.TargetUser || env.DeliverToThread != "T1" {
		t.Fatalf("unexpected target %s/%s", env.DeliverTo, env.DeliverToThread)
	}
	if env.Answer() != "Ich merke mir deinen Namen." {
		t.Fatalf("unexpected answer %q", env.Answer())
	}
	if !strings.Contains(prompt, "## PersonalAgent\nIch merke mir deinen Namen.") {
		t.Fatalf("synthesizer did not see the contribution:\n%s", prompt)
	}
	if !strings.HasPrefix(prompt, "mein Name ist Aaron\n\n# Kontext") {
		t.Fatalf("prompt must start with the user text:\n%s", prompt)
	}

	dialog := f.store.Thread(memory.ThreadDialog)
	if len(dialog) != 2 || dialog[0].Role != memory.RoleUser || dialog[1].Name != "SOM" {
		t.Fatalf("unexpected dialog thread: %+v", dialog)
	}
	if !strings.Contains(f.scrape(t), `gateway_hma_cycles_total{target="user"} 1`) {
		t.Fatalf("cycle metric missing")
	}
}

func TestRunFencedDirective(t *testing.T) {
	raw := "Ich kümmere mich darum.\n```json\n{\"deliver_to\": \"lib\", \"args\": {\"topic\": \"go\"}}\n```"
	f := newFixture(t, []agent.SubAgent{&stubAgent{name: "PersonalAgent", reply: "ok"}}, fixedReply(raw))

	env, err := f.orch.Run(context.Background(), Request{UserText: "Recherchiere Go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.DeliverTo != route.TargetLib || env.RouteArgs["topic"] != "go" {
		t.Fatalf("unexpected route %s %v", env.DeliverTo, env.RouteArgs)
	}
}

func TestRunNonUserTarget(t *testing.T) {
	raw := "Ich lege eine Aufgabe an.\n" + route.Format(route.TargetTask, nil)
	f := newFixture(t, []agent.SubAgent{&stubAgent{name: "PersonalAgent", reply: "ok"}}, fixedReply(raw))

	env, err := f.orch.Run(context.Background(), Request{UserText: "Erstelle eine Aufgabe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := route.DefaultMetaTable()[route.TargetTask]
	if env.DeliverToThread != meta.Thread {
		t.Fatalf("expected thread %s, got %s", meta.Thread, env.DeliverToThread)
	}
	last := env.Responses[len(env.Responses)-1]
	if last.Agent != meta.DisplayName || last.Agent == "SOM" {
		t.Fatalf("unexpected display label %q", last.Agent)
	}
	if len(f.store.Thread(meta.Thread)) != 1 {
		t.Fatalf("answer not persisted to %s", meta.Thread)
	}
}

func TestRunSurvivesTotalFailure(t *testing.T) {
	failing := llm.ClientFunc(func(context.Context, string, string) (string, error) { return "", errBoom })
	roster := []agent.SubAgent{
		&stubAgent{name: "PersonalAgent", err: errBoom},
		&stubAgent{name: "DemoCritic", panicWith: "kaputt"},
	}
	f := newFixture(t, roster, failing)

	env, err := f.orch.Run(context.Background(), Request{UserText: "hallo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !env.OK || !env.Final || env.DeliverTo != route.TargetUser || len(env.RouteArgs) != 0 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Answer() != "" {
		t.Fatalf("expected no answer, got %q", env.Answer())
	}

	body := f.scrape(t)
	for _, want := range []string{
		`gateway_hma_subagent_failures_total{agent="PersonalAgent"} 1`,
		`gateway_hma_recovered_errors_total{code="COMPLETION_PROVIDER_FAILED"} 1`,
		`gateway_hma_recovered_errors_total{code="ROUTE_DIRECTIVE_MALFORMED"} 1`,
		`gateway_hma_recovered_errors_total{code="SUBAGENT_EXECUTION_FAILED"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestRunSelectsWholeRosterWithoutBaseline(t *testing.T) {
	a := &stubAgent{name: "A", reply: "a"}
	b := &acceptingAgent{stubAgent: stubAgent{name: "B", reply: "b"}}
	f := newFixture(t, []agent.SubAgent{a, b}, fixedReply("ok"))

	if _, err := f.orch.Run(context.Background(), Request{UserText: "hallo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Fatalf("expected every agent to run, got %d/%d", a.calls.Load(), b.calls.Load())
	}
}

func TestRunSchedulingFailureReturnsNoEnvelope(t *testing.T) {
	f := newFixture(t, []agent.SubAgent{&stubAgent{name: "PersonalAgent", reply: "x"}}, fixedReply("ok"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, err := f.orch.Run(ctx, Request{UserText: "hallo"})
	if err == nil || env != nil {
		t.Fatalf("expected scheduling failure, got %+v (%v)", env, err)
	}
	if !strings.Contains(f.scrape(t), `gateway_hma_cycle_failures_total{code="CYCLE_SCHEDULING_FAILED"} 1`) {
		t.Fatalf("failure metric missing")
	}
}

func TestRunFeedsRecalledDialogWithoutSelfVoice(t *testing.T) {
	var prompts []string
	client := llm.ClientFunc(func(_ context.Context, _, p string) (string, error) {
		prompts = append(prompts, p)
		return "Antwort " + string(rune('0'+len(prompts))), nil
	})
	f := newFixture(t, []agent.SubAgent{&stubAgent{name: "PersonalAgent", reply: "notiz"}}, client,
		WithConfig(Config{Baseline: "PersonalAgent", IncludeRecent: true, RecordUserTurn: true}))

	for _, text := range []string{"erste Frage", "zweite Frage"} {
		if _, err := f.orch.Run(context.Background(), Request{UserText: text}); err != nil {
			t.Fatalf("run %q: %v", text, err)
		}
	}
	second := prompts[1]
	ctxStart := strings.Index(second, "# Kontext\n")
	ctxEnd := strings.Index(second, "# Fähigkeiten")
	recalled := second[ctxStart:ctxEnd]
	if !strings.Contains(recalled, "erste Frage") || !strings.Contains(recalled, "Antwort 1") {
		t.Fatalf("expected previous dialog in context:\n%s", recalled)
	}
	if strings.Contains(recalled, "# Interner Zwischenstand") {
		t.Fatalf("self voice leaked into context:\n%s", recalled)
	}
	if strings.Contains(recalled, "zweite Frage") {
		t.Fatalf("current turn must not be part of its own context:\n%s", recalled)
	}
}

type explodingMemory struct{}

func (explodingMemory) Recall(context.Context, memory.RecallOptions) (string, error) {
	panic("recall exploded")
}

func (explodingMemory) Append(context.Context, memory.Entry) error {
	panic("append exploded")
}

func TestRunContainsPanickingMemory(t *testing.T) {
	m := metrics.New()
	router := delivery.NewRouter(
		delivery.WithStore(explodingMemory{}),
		delivery.WithLogger(logger.Discard()),
		delivery.WithAuditLogger(logger.Discard()),
		delivery.WithErrorCounter(m),
	)
	orch := New(Runtime{
		Memory:  explodingMemory{},
		Roster:  []agent.SubAgent{&stubAgent{name: "PersonalAgent", reply: "notiz"}},
		Catalog: &knowledge.Catalog{},
		Client:  fixedReply("Alles klar."),
		Router:  router,
		Metrics: m,
		Logger:  logger.Discard(),
	})
	f := &fixture{metrics: m, orch: orch}

	env, err := orch.Run(context.Background(), Request{UserText: "hallo", CorrID: "c-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !env.OK || env.Answer() != "Alles klar." {
		t.Fatalf("unexpected envelope %+v", env)
	}
	body := f.scrape(t)
	for _, want := range []string{
		`gateway_hma_recovered_errors_total{code="CONTEXT_RECALL_FAILED"} 1`,
		`gateway_hma_recovered_errors_total{code="PERSISTENCE_FAILED"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q in\n%s", want, body)
		}
	}
}
