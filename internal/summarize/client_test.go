package summarize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestSummarizer(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "bot-key", zerolog.Nop())
}

func TestSummarize_Success(t *testing.T) {
	c := newTestSummarizer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/summarize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("url"); got != "https://media.example/memo.ogg" {
			t.Errorf("url param = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bot bot-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"data":{"output":"First point. Second point. Third point."}}`))
	}))

	res := c.Summarize(context.Background(), "https://media.example/memo.ogg")
	if !res.Present {
		t.Fatal("expected a summary")
	}
	want := "First point. Second point.\n\nThird point."
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestSummarize_NeverFails(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server_error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed_json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{{{not json`))
		}},
		{"api_error_envelope", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"output":""},"error":[{"code":42,"msg":"no transcript available"}]}`))
		}},
		{"empty_output", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"output":""}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestSummarizer(t, tt.handler)
			res := c.Summarize(context.Background(), "https://x/y")
			if res.Present {
				t.Errorf("Present = true, want absent summary on %s", tt.name)
			}
			if res.Text != "" {
				t.Errorf("Text = %q, want empty", res.Text)
			}
		})
	}
}

func TestSummarize_UnreachableBackend(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k", zerolog.Nop())
	res := c.Summarize(context.Background(), "https://x/y")
	if res.Present {
		t.Error("unreachable backend must degrade to an absent summary")
	}
}
