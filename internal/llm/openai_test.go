package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatRetriesTransportFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// drop the connection mid-flight so the client sees a
			// transport-level error, not a status code
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	model := newOpenAICompatible("key", srv.URL, "test-model")

	out, err := model.Chat(context.Background(), "", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if out != "ok" {
		t.Errorf("unexpected output: %q", out)
	}
	if calls != 2 {
		t.Errorf("expected a retry after the dropped connection, got %d calls", calls)
	}
}

func TestChatRetryableStatusThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"recovered"}}]}`)
	}))
	defer srv.Close()

	model := newOpenAICompatible("key", srv.URL, "test-model")

	out, err := model.Chat(context.Background(), "", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if out != "recovered" {
		t.Errorf("unexpected output: %q", out)
	}
	if calls != 2 {
		t.Errorf("expected one retry, got %d calls", calls)
	}
}
