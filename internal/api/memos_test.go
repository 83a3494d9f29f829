package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/onewave/voicememo/internal/database"
	"github.com/onewave/voicememo/internal/pipeline"
	"github.com/onewave/voicememo/internal/storage"
	"github.com/onewave/voicememo/internal/transcribe"
	"github.com/rs/zerolog"
)

// mockRunner implements MemoRunner for handler tests.
type mockRunner struct {
	lastReq pipeline.Request
	result  pipeline.Result
}

func (m *mockRunner) Run(ctx context.Context, req pipeline.Request) pipeline.Result {
	m.lastReq = req
	return m.result
}

type mockLister struct {
	memos []database.MemoAPI
	err   error
}

func (m *mockLister) ListMemos(ctx context.Context, userID string, limit, offset int) ([]database.MemoAPI, error) {
	return m.memos, m.err
}

func newTestHandler(t *testing.T, runner *mockRunner, lister MemoLister) *MemoHandler {
	t.Helper()
	media, err := storage.NewMediaStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return NewMemoHandler(runner, lister, media, zerolog.Nop())
}

func TestSubmit_JSONBody(t *testing.T) {
	runner := &mockRunner{result: pipeline.Result{OK: true, Transcript: "Hello world", Inline: true}}
	h := newTestHandler(t, runner, nil)

	body := `{"user_id":"u1","audio_url":"https://media.example/m.ogg","duration_seconds":600}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/memos", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if runner.lastReq.Source != transcribe.SourceRemoteURL {
		t.Error("JSON submission should use the remote-URL source")
	}
	if runner.lastReq.AudioLocation != "https://media.example/m.ogg" {
		t.Errorf("AudioLocation = %q", runner.lastReq.AudioLocation)
	}
	if runner.lastReq.DurationSeconds != 600 {
		t.Errorf("DurationSeconds = %v, want 600", runner.lastReq.DurationSeconds)
	}

	var res pipeline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Transcript != "Hello world" || !res.Inline {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmit_MissingFields(t *testing.T) {
	h := newTestHandler(t, &mockRunner{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/memos", strings.NewReader(`{"user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	h.Submit(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSubmit_InsufficientBalanceMapsTo402(t *testing.T) {
	runner := &mockRunner{result: pipeline.Result{
		UserMessage: "Insufficient balance. Please send 74 ONE to one1abc and try again.",
	}}
	h := newTestHandler(t, runner, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/memos",
		strings.NewReader(`{"user_id":"u1","audio_url":"https://x/y"}`))
	req.Header.Set("Content-Type", "application/json")
	h.Submit(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
}

func TestSubmit_TranscriptionFailureMapsTo502(t *testing.T) {
	runner := &mockRunner{result: pipeline.Result{
		UserMessage: "Transcription is taking too long. Please try again later.",
	}}
	h := newTestHandler(t, runner, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/memos",
		strings.NewReader(`{"user_id":"u1","audio_url":"https://x/y"}`))
	req.Header.Set("Content-Type", "application/json")
	h.Submit(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestSubmit_MultipartUpload(t *testing.T) {
	runner := &mockRunner{result: pipeline.Result{OK: true, Transcript: "from upload"}}
	h := newTestHandler(t, runner, nil)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	w.WriteField("user_id", "u1")
	w.WriteField("duration_seconds", "120")
	part, err := w.CreateFormFile("audio", "memo.ogg")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("OggS fake audio"))
	w.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/memos", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if runner.lastReq.Source != transcribe.SourceLocalFile {
		t.Error("upload should use the local-file source")
	}
	if runner.lastReq.DurationSeconds != 120 {
		t.Errorf("DurationSeconds = %v, want 120", runner.lastReq.DurationSeconds)
	}
	// The staged file is removed once the run completes
	if _, err := os.Stat(runner.lastReq.AudioLocation); !os.IsNotExist(err) {
		t.Errorf("staged file %q should be removed after the run", runner.lastReq.AudioLocation)
	}
}

func TestList(t *testing.T) {
	t.Run("disabled_without_store", func(t *testing.T) {
		h := newTestHandler(t, &mockRunner{}, nil)
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest("GET", "/api/v1/memos", nil))
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", rec.Code)
		}
	})

	t.Run("returns_memos", func(t *testing.T) {
		lister := &mockLister{memos: []database.MemoAPI{{ID: 1, UserID: "u1", Transcript: "hi"}}}
		h := newTestHandler(t, &mockRunner{}, lister)
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest("GET", "/api/v1/memos?user_id=u1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var memos []database.MemoAPI
		if err := json.Unmarshal(rec.Body.Bytes(), &memos); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(memos) != 1 || memos[0].Transcript != "hi" {
			t.Errorf("memos = %+v", memos)
		}
	})

	t.Run("empty_list_is_json_array", func(t *testing.T) {
		h := newTestHandler(t, &mockRunner{}, &mockLister{})
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest("GET", "/api/v1/memos", nil))
		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Errorf("body = %q, want []", got)
		}
	})

	t.Run("invalid_limit_rejected", func(t *testing.T) {
		h := newTestHandler(t, &mockRunner{}, &mockLister{})
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest("GET", "/api/v1/memos?limit=zero", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
