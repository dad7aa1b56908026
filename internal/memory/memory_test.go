package memory

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryRecallRendersDialogAndFacts(t *testing.T) {
	store := NewMapStore()
	mem := New(store)
	ctx := context.Background()

	entries := []Entry{
		{Thread: ThreadDialog, Role: RoleUser, Text: "Ich heiße Lena", CreatedAt: 1},
		{Thread: ThreadAudit, Role: RoleAssistant, Name: "SOM:inner", Text: "# Interner Zwischenstand\nnotiz\n\n# Ich\nHallo Lena", CreatedAt: 2},
		{Thread: ThreadDialog, Role: RoleAssistant, Name: "SOM", Text: "Hallo Lena", CreatedAt: 3},
		{Thread: ThreadGraph, Role: RoleSystem, Text: "Lena  wohnt\nin Berlin", CreatedAt: 4},
	}
	for _, e := range entries {
		if err := mem.Append(ctx, e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := mem.Recall(ctx, RecallOptions{IncludeRecent: true, IncludeGraph: true})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	want := strings.Join([]string{
		"# Verlauf",
		"## [T1] user",
		"Ich heiße Lena",
		"",
		"## [T2] SOM:inner",
		"# Interner Zwischenstand",
		"notiz",
		"",
		"# Ich",
		"Hallo Lena",
		"",
		"## [T1] SOM",
		"Hallo Lena",
		"",
		"# Fakten",
		"- Lena wohnt in Berlin",
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recall mismatch (-want +got):\n%s", diff)
	}

	onlyRecent, err := mem.Recall(ctx, RecallOptions{IncludeRecent: true})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if strings.Contains(onlyRecent, "# Fakten") {
		t.Fatalf("graph facts must not be included: %q", onlyRecent)
	}

	none, err := mem.Recall(ctx, RecallOptions{})
	if err != nil || none != "" {
		t.Fatalf("expected empty recall, got %q, %v", none, err)
	}
}

func TestMemoryRecentLimit(t *testing.T) {
	mem := New(NewMapStore(), WithRecentLimit(2))
	ctx := context.Background()
	for i, text := range []string{"eins", "zwei", "drei"} {
		if err := mem.Append(ctx, Entry{Thread: ThreadDialog, Role: RoleUser, Text: text, CreatedAt: int64(i + 1)}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	got, err := mem.Recall(ctx, RecallOptions{IncludeRecent: true})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if strings.Contains(got, "eins") || !strings.Contains(got, "zwei") || !strings.Contains(got, "drei") {
		t.Fatalf("unexpected recall window: %q", got)
	}
}

func TestMemoryAppendValidation(t *testing.T) {
	mem := New(NewMapStore())
	if err := mem.Append(context.Background(), Entry{Text: "x"}); err == nil {
		t.Fatalf("expected error for missing thread")
	}
	var nilMem *Memory
	if _, err := nilMem.Recall(context.Background(), RecallOptions{IncludeRecent: true}); err == nil {
		t.Fatalf("expected error for nil memory")
	}
}

func TestMemorySearch(t *testing.T) {
	mem := New(NewMapStore())
	ctx := context.Background()
	_ = mem.Append(ctx, Entry{Thread: ThreadGraph, Role: RoleSystem, Text: "Lena mag Kaffee", CreatedAt: 1})
	_ = mem.Append(ctx, Entry{Thread: ThreadDialog, Role: RoleUser, Text: "Was trinke ich gern?", CreatedAt: 2})
	_ = mem.Append(ctx, Entry{Thread: ThreadGraph, Role: RoleSystem, Text: "Lena wohnt in Berlin", CreatedAt: 3})

	hits, err := mem.Search(ctx, "KAFFEE berlin", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 || hits[0].Text != "Lena wohnt in Berlin" || hits[1].Text != "Lena mag Kaffee" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if _, err := mem.Search(ctx, "   ", 5); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestFileStoreReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Append(ctx, Entry{Thread: ThreadAudit, Role: RoleAssistant, Text: "audit"}); err != nil {
				t.Errorf("append failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := store.Append(ctx, Entry{Thread: ThreadDialog, Role: RoleUser, Text: "hallo", Metadata: map[string]string{MetaCorrID: "c-1"}}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen file store: %v", err)
	}
	audit, _ := reopened.Recent(ctx, ThreadAudit, 0)
	if len(audit) != 20 {
		t.Fatalf("expected 20 audit entries after replay, got %d", len(audit))
	}
	dialog, _ := reopened.Recent(ctx, ThreadDialog, 5)
	if len(dialog) != 1 || dialog[0].Metadata[MetaCorrID] != "c-1" || dialog[0].CreatedAt == 0 {
		t.Fatalf("unexpected dialog entries: %+v", dialog)
	}
}

func TestSQLStoreSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLStore(ctx, SQLConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer store.Close()

	// 重复迁移应当是空操作。
	if err := store.runMigrations(ctx); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}

	for i, text := range []string{"a", "b", "c"} {
		err := store.Append(ctx, Entry{
			Thread:    ThreadDialog,
			Role:      RoleUser,
			Text:      text,
			Metadata:  map[string]string{MetaCorrID: "corr-" + text},
			CreatedAt: int64(i + 1),
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	recent, err := store.Recent(ctx, ThreadDialog, 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	var texts []string
	for _, e := range recent {
		texts = append(texts, e.Text)
	}
	if diff := cmp.Diff([]string{"b", "c"}, texts); diff != "" {
		t.Fatalf("recent order mismatch (-want +got):\n%s", diff)
	}

	byCorr, err := store.ByCorrID(ctx, "corr-a")
	if err != nil {
		t.Fatalf("by corr failed: %v", err)
	}
	if len(byCorr) != 1 || byCorr[0].Text != "a" || byCorr[0].Metadata[MetaCorrID] != "corr-a" {
		t.Fatalf("unexpected corr lookup: %+v", byCorr)
	}
}

func TestSQLStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewSQLStore(context.Background(), SQLConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\n ; CREATE INDEX i ON a (id);")
	want := []string{"CREATE TABLE a (id INT)", "CREATE INDEX i ON a (id)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("split mismatch (-want +got):\n%s", diff)
	}
	if v := parseMigrationVersion("0002_memory_corr_id.sql"); v != "0002" {
		t.Fatalf("unexpected version %q", v)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("GATEWAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GATEWAY_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Address: addr, KeyPrefix: "gateway:test:" + t.Name(), MaxPerThread: 2})
	if err != nil {
		t.Fatalf("failed to connect redis: %v", err)
	}
	defer store.Close()
	defer store.client.Del(ctx, store.key(ThreadDialog))

	for _, text := range []string{"a", "b", "c"} {
		if err := store.Append(ctx, Entry{Thread: ThreadDialog, Role: RoleUser, Text: text}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	recent, err := store.Recent(ctx, ThreadDialog, 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "b" || recent[1].Text != "c" {
		t.Fatalf("unexpected trimmed list: %+v", recent)
	}
}
