package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureServer(t *testing.T, status int, body string, form *map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		captured := map[string]string{"_path": r.URL.Path}
		for key := range r.Form {
			captured[key] = r.FormValue(key)
		}
		*form = captured
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestPublishDigestSendsShapedMessage(t *testing.T) {
	t.Parallel()

	var form map[string]string
	srv := captureServer(t, http.StatusOK, `{"ok":true}`, &form)
	defer srv.Close()

	n := NewNotifier("token", "42")
	n.apiBase = srv.URL

	if err := n.PublishDigest(context.Background(), "- solar: 3 found, 2 new\n"); err != nil {
		t.Fatalf("PublishDigest: %v", err)
	}

	if form["_path"] != "/bottoken/sendMessage" {
		t.Fatalf("request path = %q", form["_path"])
	}
	if form["chat_id"] != "42" {
		t.Fatalf("chat_id = %q", form["chat_id"])
	}
	if !strings.HasPrefix(form["text"], digestHeader) {
		t.Fatalf("message missing header: %q", form["text"])
	}
	if !strings.Contains(form["text"], "solar: 3 found, 2 new") {
		t.Fatalf("message missing digest body: %q", form["text"])
	}
}

func TestPublishDigestSurfacesAPIError(t *testing.T) {
	t.Parallel()

	var form map[string]string
	srv := captureServer(t, http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`, &form)
	defer srv.Close()

	n := NewNotifier("token", "42")
	n.apiBase = srv.URL

	err := n.PublishDigest(context.Background(), "- solar: 1 found, 1 new\n")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected API description in error, got %v", err)
	}
}

func TestPublishDigestTruncatesLongMessages(t *testing.T) {
	t.Parallel()

	var form map[string]string
	srv := captureServer(t, http.StatusOK, `{"ok":true}`, &form)
	defer srv.Close()

	n := NewNotifier("token", "42")
	n.apiBase = srv.URL

	if err := n.PublishDigest(context.Background(), strings.Repeat("a", maxMessageLen+500)); err != nil {
		t.Fatalf("PublishDigest: %v", err)
	}
	if got := len([]rune(form["text"])); got > maxMessageLen {
		t.Fatalf("message length %d exceeds cap %d", got, maxMessageLen)
	}
	if !strings.HasSuffix(form["text"], "…") {
		t.Fatal("truncated message should end with an ellipsis")
	}
}

func TestPublishDigestRejectsMisconfiguration(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "").PublishDigest(context.Background(), "digest"); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
