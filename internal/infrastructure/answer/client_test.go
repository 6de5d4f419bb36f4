package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWrapper struct {
	polls      atomic.Int64
	deletes    atomic.Int64
	pollsUntil int64 // number of "processing" polls before completion
	finalBody  string
	failStatus string // if set, polls report this terminal status
}

func (f *fakeWrapper) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query_queue_async", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-1"})
	})
	mux.HandleFunc("/api/queue/result/req-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.deletes.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		n := f.polls.Add(1)
		switch {
		case f.failStatus != "":
			fmt.Fprintf(w, `{"status":%q,"error":"remote exploded"}`, f.failStatus)
		case n > f.pollsUntil:
			fmt.Fprintf(w, `{"status":"completed","result":%s}`, f.finalBody)
		default:
			fmt.Fprint(w, `{"status":"processing"}`)
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeWrapper, maxPolls int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, discardLogger(), WithPolling(time.Millisecond, maxPolls))
}

func waitForDeletes(t *testing.T, f *fakeWrapper, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.deletes.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d cleanup deletes, got %d", want, f.deletes.Load())
}

func TestQueryCompletesAfterProcessing(t *testing.T) {
	t.Parallel()

	f := &fakeWrapper{pollsUntil: 3, finalBody: `{"answer":"hello"}`}
	c := newTestClient(t, f, 150)

	got, err := c.Query(context.Background(), "anything", ports.QueryOptions{AccountName: "acct", Mode: "auto", Sources: "web"})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("answer = %q, want hello", got)
	}
	if polls := f.polls.Load(); polls != 4 {
		t.Fatalf("expected 4 polls, got %d", polls)
	}
	waitForDeletes(t, f, 1)
}

func TestQueryNormalizesNestedAnswer(t *testing.T) {
	t.Parallel()

	f := &fakeWrapper{finalBody: `{"data":{"answer":"nested"}}`}
	c := newTestClient(t, f, 10)

	got, err := c.Query(context.Background(), "q", ports.QueryOptions{})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if got != "nested" {
		t.Fatalf("answer = %q, want nested", got)
	}
}

func TestQueryTimesOutAtCeiling(t *testing.T) {
	t.Parallel()

	f := &fakeWrapper{pollsUntil: 1 << 30}
	c := newTestClient(t, f, 7)

	_, err := c.Query(context.Background(), "q", ports.QueryOptions{})
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if polls := f.polls.Load(); polls != 7 {
		t.Fatalf("expected exactly 7 polls, got %d", polls)
	}
}

func TestQueryRemoteFailure(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"failed", "not_found"} {
		f := &fakeWrapper{failStatus: status}
		c := newTestClient(t, f, 10)

		_, err := c.Query(context.Background(), "q", ports.QueryOptions{})
		if !errors.Is(err, domain.ErrRemoteFailed) {
			t.Fatalf("status %s: expected ErrRemoteFailed, got %v", status, err)
		}
	}
}

func TestQuerySubmissionWithoutRequestID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, discardLogger(), WithPolling(time.Millisecond, 5))
	_, err := c.Query(context.Background(), "q", ports.QueryOptions{})
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestQueryCancelledMidPoll(t *testing.T) {
	t.Parallel()

	f := &fakeWrapper{pollsUntil: 1 << 30}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, discardLogger(), WithPolling(50*time.Millisecond, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(120 * time.Millisecond)
		cancel()
	}()

	_, err := c.Query(ctx, "q", ports.QueryOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Cleanup still fires best-effort after abandoning the poll loop.
	waitForDeletes(t, f, 1)
}

func TestDecodeJSONFences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
	}{
		{"json fence", "```json\n[{\"title\":\"a\"}]\n```"},
		{"bare fence", "```\n[{\"title\":\"a\"}]\n```"},
		{"no fence", `[{"title":"a"}]`},
		{"padded", "  [{\"title\":\"a\"}]  "},
	}

	for _, tc := range cases {
		var items []struct {
			Title string `json:"title"`
		}
		if err := DecodeJSON(tc.text, &items); err != nil {
			t.Fatalf("%s: DecodeJSON failed: %v", tc.name, err)
		}
		if len(items) != 1 || items[0].Title != "a" {
			t.Fatalf("%s: unexpected decode result %+v", tc.name, items)
		}
	}

	var v any
	err := DecodeJSON("the service replied in prose", &v)
	if !errors.Is(err, domain.ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
}
