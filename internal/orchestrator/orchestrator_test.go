package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestExecuteDeduplicates(t *testing.T) {
	db := openTestDB(t)

	o, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	calls := 0
	fn := func(ctx context.Context, prompt string, params map[string]string) (string, error) {
		calls++
		return "answer", nil
	}

	params := map[string]string{"window": "2h", "source": "slack"}
	out1, err := o.Execute(context.Background(), "query", "query", "what happened", params, fn)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	out2, err := o.Execute(context.Background(), "query", "query", "what happened", params, fn)
	if err != nil {
		t.Fatalf("second execute failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected agent invoked once, got %d", calls)
	}
	if out1 != "answer" || out2 != "answer" {
		t.Errorf("unexpected outputs: %q, %q", out1, out2)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM agent_executions`).Scan(&count); err != nil {
		t.Fatalf("failed to count executions: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 persisted execution, got %d", count)
	}
}

func TestExecuteDistinctParamsNotDeduplicated(t *testing.T) {
	db := openTestDB(t)

	o, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	calls := 0
	fn := func(ctx context.Context, prompt string, params map[string]string) (string, error) {
		calls++
		return "answer", nil
	}

	ctx := context.Background()
	if _, err := o.Execute(ctx, "query", "query", "what happened", map[string]string{"source": "slack"}, fn); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if _, err := o.Execute(ctx, "query", "query", "what happened", map[string]string{"source": "telegram"}, fn); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 invocations for distinct params, got %d", calls)
	}
}

func TestExecuteFailureNotPersisted(t *testing.T) {
	db := openTestDB(t)

	o, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	boom := errors.New("agent blew up")
	fn := func(ctx context.Context, prompt string, params map[string]string) (string, error) {
		return "", boom
	}

	_, err = o.Execute(context.Background(), "task", "task", "extract tasks", nil, fn)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped agent error, got %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM agent_executions`).Scan(&count); err != nil {
		t.Fatalf("failed to count executions: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no persisted rows after failure, got %d", count)
	}
}

func TestGetAgentResultCrossesSessions(t *testing.T) {
	db := openTestDB(t)

	first, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	fn := func(ctx context.Context, prompt string, params map[string]string) (string, error) {
		return "summary of the week", nil
	}
	if _, err := first.Execute(context.Background(), "summarize", "summarize", "summarize slack", nil, fn); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	second, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create second orchestrator: %v", err)
	}
	if first.SessionID() == second.SessionID() {
		t.Fatal("expected distinct session ids")
	}

	// without a session id, results from other sessions are visible
	out, found, err := second.GetAgentResult("summarize", ResultQuery{})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !found || out != "summary of the week" {
		t.Errorf("expected cross-session result, found=%v out=%q", found, out)
	}

	// scoped to the second session, the first session's row is invisible
	_, found, err = second.GetAgentResult("summarize", ResultQuery{SessionID: second.SessionID()})
	if err != nil {
		t.Fatalf("scoped lookup failed: %v", err)
	}
	if found {
		t.Error("expected no result inside an empty session")
	}
}

func TestGetAgentResultScopedByOwner(t *testing.T) {
	db := openTestDB(t)

	mine, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	fn := func(ctx context.Context, prompt string, params map[string]string) (string, error) {
		return "private", nil
	}
	if _, err := mine.Execute(context.Background(), "query", "query", "q", nil, fn); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	theirs, err := New(db, "u2")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	_, found, err := theirs.GetAgentResult("query", ResultQuery{})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found {
		t.Error("expected no cross-owner visibility")
	}
}

func TestGetAgentResultAbsent(t *testing.T) {
	db := openTestDB(t)

	o, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	out, found, err := o.GetAgentResult("summarize", ResultQuery{WindowHours: 24})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found || out != "" {
		t.Errorf("expected absence, found=%v out=%q", found, out)
	}
}

func TestRecentExecutions(t *testing.T) {
	db := openTestDB(t)

	o, err := New(db, "u1")
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	fn := func(ctx context.Context, prompt string, params map[string]string) (string, error) {
		return "out", nil
	}
	ctx := context.Background()
	for _, name := range []string{"query", "summarize", "task"} {
		if _, err := o.Execute(ctx, name, name, "prompt for "+name, map[string]string{"k": "v"}, fn); err != nil {
			t.Fatalf("execute %s failed: %v", name, err)
		}
	}

	execs, err := o.RecentExecutions(nil, 0, 2)
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	if execs[0].AgentName != "task" {
		t.Errorf("expected newest first, got %s", execs[0].AgentName)
	}
	if execs[0].Params["k"] != "v" {
		t.Errorf("expected params round-trip, got %v", execs[0].Params)
	}
	if execs[0].CreatedAt.IsZero() {
		t.Error("expected created_at to survive the read")
	}

	named, err := o.RecentExecutions([]string{"query", "summarize"}, 0, 10)
	if err != nil {
		t.Fatalf("failed to list named executions: %v", err)
	}
	if len(named) != 2 {
		t.Fatalf("expected 2 named executions, got %d", len(named))
	}
	for _, e := range named {
		if e.AgentName == "task" {
			t.Errorf("name filter leaked %s", e.AgentName)
		}
	}

	windowed, err := o.RecentExecutions(nil, 24, 10)
	if err != nil {
		t.Fatalf("failed to list windowed executions: %v", err)
	}
	if len(windowed) != 3 {
		t.Fatalf("expected 3 executions inside the window, got %d", len(windowed))
	}
}

func TestCacheKeyStable(t *testing.T) {
	a := cacheKey("query", "p", map[string]string{"a": "1", "b": "2"})
	b := cacheKey("query", "p", map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Error("expected identical keys regardless of param order")
	}

	c := cacheKey("query", "p", map[string]string{"a": "1"})
	if a == c {
		t.Error("expected different params to produce different keys")
	}
}
