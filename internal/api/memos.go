package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/onewave/voicememo/internal/database"
	"github.com/onewave/voicememo/internal/pipeline"
	"github.com/onewave/voicememo/internal/storage"
	"github.com/onewave/voicememo/internal/transcribe"
	"github.com/rs/zerolog"
)

// MemoRunner runs one memo through the pipeline.
type MemoRunner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
}

// MemoLister reads memo history.
type MemoLister interface {
	ListMemos(ctx context.Context, userID string, limit, offset int) ([]database.MemoAPI, error)
}

// MemoHandler serves memo submission and history.
type MemoHandler struct {
	runner MemoRunner
	lister MemoLister // nil when history is disabled
	media  *storage.MediaStore
	log    zerolog.Logger
}

func NewMemoHandler(runner MemoRunner, lister MemoLister, media *storage.MediaStore, log zerolog.Logger) *MemoHandler {
	return &MemoHandler{runner: runner, lister: lister, media: media, log: log}
}

// submitRequest is the JSON body for URL-sourced memos.
type submitRequest struct {
	UserID          string  `json:"user_id"`
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Submit handles POST /api/v1/memos. A JSON body references remote audio by
// URL; a multipart body uploads the file itself.
func (h *MemoHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		h.submitUpload(w, r)
		return
	}

	var body submitRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" || body.AudioURL == "" {
		WriteError(w, http.StatusBadRequest, "user_id and audio_url are required")
		return
	}

	res := h.runner.Run(r.Context(), pipeline.Request{
		UserID:          body.UserID,
		AudioLocation:   body.AudioURL,
		Source:          transcribe.SourceRemoteURL,
		DurationSeconds: body.DurationSeconds,
	})
	h.writeResult(w, res)
}

// submitUpload handles a multipart submission with an "audio" file part.
// The file is staged in the media store for the duration of the run.
func (h *MemoHandler) submitUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	userID := r.FormValue("user_id")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	duration, _ := strconv.ParseFloat(r.FormValue("duration_seconds"), 64)

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "audio file part is required")
		return
	}
	defer file.Close()

	path, err := h.media.Save(header.Filename, file)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to stage uploaded audio")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer h.media.Remove(path)

	res := h.runner.Run(r.Context(), pipeline.Request{
		UserID:          userID,
		AudioLocation:   path,
		Source:          transcribe.SourceLocalFile,
		DurationSeconds: duration,
	})
	h.writeResult(w, res)
}

// writeResult maps a pipeline result onto an HTTP status. Rejections and
// failures are 402/502 so callers can distinguish them without parsing text.
func (h *MemoHandler) writeResult(w http.ResponseWriter, res pipeline.Result) {
	switch {
	case res.OK:
		WriteJSON(w, http.StatusOK, res)
	case strings.Contains(res.UserMessage, "Insufficient balance"),
		strings.Contains(res.UserMessage, "Payment"):
		WriteJSON(w, http.StatusPaymentRequired, res)
	default:
		WriteJSON(w, http.StatusBadGateway, res)
	}
}

// List handles GET /api/v1/memos.
func (h *MemoHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		WriteError(w, http.StatusNotImplemented, "memo history is disabled")
		return
	}
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	memos, err := h.lister.ListMemos(r.Context(), r.URL.Query().Get("user_id"), p.Limit, p.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list memos")
		WriteError(w, http.StatusInternalServerError, "failed to list memos")
		return
	}
	if memos == nil {
		memos = []database.MemoAPI{}
	}
	WriteJSON(w, http.StatusOK, memos)
}
