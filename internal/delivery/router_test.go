package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"GatewayHMA/internal/dispatch"
	"GatewayHMA/internal/memory"
	"GatewayHMA/internal/route"
	"GatewayHMA/pkg/logger"
)

type failingStore struct{}

func (failingStore) Append(context.Context, memory.Entry) error {
	return errors.New("disk full")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, dispatch.Message) error {
	return errors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

type panickingStore struct{}

func (panickingStore) Append(context.Context, memory.Entry) error {
	panic("store exploded")
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, dispatch.Message) error {
	panic("send on closed channel")
}

func (panickingPublisher) Close() error { return nil }

type countingRecorder struct {
	mu    sync.Mutex
	codes []string
}

func (c *countingRecorder) ErrorRecovered(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

func quietRouter(opts ...Option) *Router {
	base := []Option{WithLogger(logger.Discard()), WithAuditLogger(logger.Discard())}
	return NewRouter(append(base, opts...)...)
}

func TestDeliverTaskRoute(t *testing.T) {
	store := memory.NewMapStore()
	transport := dispatch.NewMemoryTransport(4)
	defer transport.Close()
	router := quietRouter(WithStore(store), WithTransport(transport))

	env := router.Deliver(context.Background(), Input{
		Raw:    "Ich lege die Aufgabe an.\n" + route.Format(route.TargetTask, map[string]any{"priority": "high"}),
		Inner:  "## PersonalAgent\nAufgabe erkannt",
		Route:  route.Route{Target: route.TargetTask, Args: map[string]any{"priority": "high"}},
		CorrID: "c-1",
	})

	if !env.OK || !env.Final {
		t.Fatalf("expected ok/final envelope, got %+v", env)
	}
	if env.DeliverTo != route.TargetTask || env.DeliverToThread != "T5" {
		t.Fatalf("unexpected target %s/%s", env.DeliverTo, env.DeliverToThread)
	}
	if env.CorrID == nil || *env.CorrID != "c-1" {
		t.Fatalf("unexpected corr id %v", env.CorrID)
	}
	wantItems := []Item{
		{Agent: InnerAgent, Content: "# Interner Zwischenstand\n## PersonalAgent\nAufgabe erkannt\n\n# Ich\nIch lege die Aufgabe an."},
		{Agent: "HMA→TASK", Content: "Ich lege die Aufgabe an."},
	}
	if diff := cmp.Diff(wantItems, env.Responses); diff != "" {
		t.Fatalf("responses mismatch (-want +got):\n%s", diff)
	}

	task := store.Thread("T5")
	if len(task) != 1 || task[0].Name != "HMA→TASK" || task[0].Role != memory.RoleAssistant {
		t.Fatalf("unexpected task thread: %+v", task)
	}
	if task[0].Metadata["target"] != "task" || task[0].Metadata[memory.MetaCorrID] != "c-1" {
		t.Fatalf("unexpected task metadata: %+v", task[0].Metadata)
	}
	audit := store.Thread(route.AuditThread)
	if len(audit) != 1 || audit[0].Name != "SOM:inner" || audit[0].Metadata["kind"] != "inner_combined" {
		t.Fatalf("unexpected audit thread: %+v", audit)
	}
	if len(store.Thread("T1")) != 0 {
		t.Fatalf("user thread must stay untouched")
	}
	if transport.Pending("task") != 1 {
		t.Fatalf("expected one dispatched task message, got %d", transport.Pending("task"))
	}
}

func TestDeliverWithoutAnswerOnlyAudits(t *testing.T) {
	store := memory.NewMapStore()
	router := quietRouter(WithStore(store))

	env := router.Deliver(context.Background(), Input{
		Raw:   route.Format(route.TargetUser, nil),
		Inner: "(keine internen Beiträge)",
		Route: route.Default(),
	})

	if len(env.Responses) != 1 || env.Responses[0].Agent != InnerAgent {
		t.Fatalf("expected only the audit item, got %+v", env.Responses)
	}
	if !strings.HasSuffix(env.Responses[0].Content, "# Ich\n") {
		t.Fatalf("audit record should end with an empty answer section: %q", env.Responses[0].Content)
	}
	if env.CorrID != nil {
		t.Fatalf("empty corr id should serialize as null")
	}
	if len(store.Thread("T1")) != 0 {
		t.Fatalf("no answer must not be persisted")
	}
	if env.Answer() != "" {
		t.Fatalf("expected empty answer")
	}
}

func TestDeliverNothingYieldsEmptyResponses(t *testing.T) {
	store := memory.NewMapStore()
	env := quietRouter(WithStore(store)).Deliver(context.Background(), Input{Route: route.Default()})
	if len(env.Responses) != 0 {
		t.Fatalf("expected no responses, got %+v", env.Responses)
	}
	if len(store.Thread(route.AuditThread)) != 0 {
		t.Fatalf("no audit record expected")
	}
	if env.RouteArgs == nil {
		t.Fatalf("route args must never be nil")
	}
}

func TestDeliverSurvivesSideEffectFailures(t *testing.T) {
	recorder := &countingRecorder{}
	router := quietRouter(
		WithStore(failingStore{}),
		WithTransport(failingPublisher{}),
		WithErrorCounter(recorder),
	)

	env := router.Deliver(context.Background(), Input{
		Raw:   "Erledigt.",
		Route: route.Route{Target: route.TargetLib, Args: map[string]any{}},
	})

	if env.Answer() != "Erledigt." || env.DeliverToThread != "T4" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	want := []string{"PERSISTENCE_FAILED", "PERSISTENCE_FAILED", "DISPATCH_FAILED"}
	if diff := cmp.Diff(want, recorder.codes); diff != "" {
		t.Fatalf("recovered codes mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverRecoversPanickingSideEffects(t *testing.T) {
	recorder := &countingRecorder{}
	router := quietRouter(
		WithStore(panickingStore{}),
		WithTransport(panickingPublisher{}),
		WithErrorCounter(recorder),
	)

	env := router.Deliver(context.Background(), Input{
		Raw:   "Erledigt.",
		Route: route.Route{Target: route.TargetTask, Args: map[string]any{}},
	})

	if env == nil || !env.OK || env.Answer() != "Erledigt." {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	want := []string{"PERSISTENCE_FAILED", "PERSISTENCE_FAILED", "DISPATCH_FAILED"}
	if diff := cmp.Diff(want, recorder.codes); diff != "" {
		t.Fatalf("recovered codes mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverOmitsEmptyCorrID(t *testing.T) {
	store := memory.NewMapStore()
	quietRouter(WithStore(store)).Deliver(context.Background(), Input{
		Raw:   "Antwort",
		Inner: "notiz",
		Route: route.Default(),
	})

	for _, thread := range []string{route.AuditThread, "T1"} {
		entries := store.Thread(thread)
		if len(entries) != 1 {
			t.Fatalf("expected one entry in %s, got %d", thread, len(entries))
		}
		if _, ok := entries[0].Metadata[memory.MetaCorrID]; ok {
			t.Fatalf("%s entry must not carry an empty corr id: %+v", thread, entries[0].Metadata)
		}
	}
}

func TestDeliverTruncatesLongAuditItem(t *testing.T) {
	inner := strings.Repeat("ä", 5000)
	env := quietRouter().Deliver(context.Background(), Input{Inner: inner, Route: route.Default()})
	content := env.Responses[0].Content
	if got := len([]rune(content)); got != maxInnerRunes+1 {
		t.Fatalf("expected %d runes, got %d", maxInnerRunes+1, got)
	}
	if !strings.HasSuffix(content, "…") {
		t.Fatalf("expected ellipsis suffix")
	}
}

func TestDeliverStripsMarkers(t *testing.T) {
	env := quietRouter().Deliver(context.Background(), Input{
		Raw:   "Antwort\n```json\n<<<ROUTE>>> {\"deliver_to\":\"user\",\"args\":{}} <<<END>>>\n```",
		Inner: "notiz <<<END>>>",
		Route: route.Default(),
	})
	for _, item := range env.Responses {
		if strings.Contains(item.Content, "<<<") || strings.Contains(item.Content, "```") {
			t.Fatalf("markers left in %q", item.Content)
		}
	}
	if env.Answer() != "Antwort" {
		t.Fatalf("unexpected answer %q", env.Answer())
	}
}

func TestDeliverWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewSnapshotWriter(dir)
	if err != nil {
		t.Fatalf("snapshot writer: %v", err)
	}
	quietRouter(WithSnapshots(writer)).Deliver(context.Background(), Input{
		Raw:    "Trainingsnotiz",
		Route:  route.Route{Target: route.TargetTrn},
		CorrID: "abc/1",
	})

	files, err := filepath.Glob(filepath.Join(dir, "abc_1_*_trn.txt"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one snapshot, got %v (%v)", files, err)
	}
	body, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(body) != "Trainingsnotiz" {
		t.Fatalf("unexpected snapshot body %q", body)
	}
}

func TestEnvelopeJSONFields(t *testing.T) {
	env := quietRouter().Deliver(context.Background(), Input{Raw: "Hallo", Route: route.Default(), CorrID: "x"})
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"ok", "final", "deliver_to", "deliver_to_thread", "route_args", "speaker", "corr_id", "responses"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %s in %s", key, raw)
		}
	}
	if decoded["speaker"] != "SOM" || decoded["deliver_to_thread"] != "T1" {
		t.Fatalf("unexpected envelope %s", raw)
	}
}
