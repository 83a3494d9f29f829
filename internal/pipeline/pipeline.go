// Package pipeline sequences one voice memo through admission control,
// transcription, and summary enrichment.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/onewave/voicememo/internal/billing"
	"github.com/onewave/voicememo/internal/database"
	"github.com/onewave/voicememo/internal/metrics"
	"github.com/onewave/voicememo/internal/pricing"
	"github.com/onewave/voicememo/internal/summarize"
	"github.com/onewave/voicememo/internal/transcribe"
	"github.com/rs/zerolog"
)

// Transcriber produces the primary deliverable.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (string, error)
}

// Summarizer produces the optional enrichment. Never returns an error.
type Summarizer interface {
	Summarize(ctx context.Context, audioURL string) summarize.Result
}

// Authorizer gates the work behind the balance check.
type Authorizer interface {
	Authorize(ctx context.Context, userID string, priceUSD float64) (billing.Authorization, error)
}

// Recorder persists completed memos. Optional.
type Recorder interface {
	InsertMemo(ctx context.Context, row *database.MemoRow) (int64, error)
}

// Request is one inbound memo. Each request runs as an independent pipeline
// instance; there is no shared in-process state between runs.
type Request struct {
	UserID          string
	AudioLocation   string
	Source          transcribe.SourceKind
	DurationSeconds float64

	// Allowlisted requests skip admission control entirely. The guard
	// additionally applies its own configured allow-list.
	Allowlisted bool
}

// Result is what the caller delivers back to the user.
type Result struct {
	OK         bool   `json:"ok"`
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`

	// Delivery policy for the messaging layer: inline text below the
	// configured threshold, otherwise a file with Caption.
	Inline  bool   `json:"inline"`
	Caption string `json:"caption,omitempty"`

	// Rejection or failure text intended for display.
	UserMessage string `json:"message,omitempty"`
}

// Options tune the coordinator.
type Options struct {
	// Upper bound on the summary branch, so a hung enrichment call can
	// never stall result assembly.
	SummaryTimeout time.Duration

	// Transcripts shorter than this are delivered inline.
	InlineLimit int
}

// Coordinator wires the three stages together. Construct one per process
// with explicit client handles; it is safe for concurrent use.
type Coordinator struct {
	auth  Authorizer
	stt   Transcriber
	sum   Summarizer
	store Recorder // nil disables history
	opts  Options
	log   zerolog.Logger
}

// New creates a pipeline coordinator. store may be nil.
func New(auth Authorizer, stt Transcriber, sum Summarizer, store Recorder, opts Options, log zerolog.Logger) *Coordinator {
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 90 * time.Second
	}
	if opts.InlineLimit <= 0 {
		opts.InlineLimit = 512
	}
	return &Coordinator{auth: auth, stt: stt, sum: sum, store: store, opts: opts, log: log}
}

// Run processes one memo end to end. Funds are reserved strictly before any
// transcription or summarization call is issued; a rejection stops the run
// with no work submitted. Transcription failure is fatal for the request,
// summarization failure only leaves the summary empty.
func (c *Coordinator) Run(ctx context.Context, req Request) Result {
	requestID := uuid.NewString()
	log := c.log.With().Str("request_id", requestID).Str("user_id", req.UserID).Logger()

	price := pricing.Estimate(req.DurationSeconds)
	log.Info().Float64("price_usd", price).Float64("duration_s", req.DurationSeconds).Msg("memo received")

	authz, err := c.authorize(ctx, req, price)
	if err != nil {
		log.Error().Err(err).Msg("authorization failed")
		return Result{UserMessage: "Payment check failed. Please try again later."}
	}
	if !authz.Proceed {
		log.Info().Str("reason", authz.Reason).Msg("request rejected")
		return Result{UserMessage: authz.Reason}
	}

	start := time.Now()

	// Both branches run concurrently and both are waited on: the summary
	// must never block or fail the transcript, but assembly joins rather
	// than races.
	var (
		wg         sync.WaitGroup
		transcript string
		terr       error
		summary    summarize.Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		transcript, terr = c.stt.Transcribe(ctx, transcribe.Request{
			AudioLocation: req.AudioLocation,
			Source:        req.Source,
		})
	}()
	go func() {
		defer wg.Done()
		// The summary provider fetches by URL; uploaded files have none.
		if req.Source != transcribe.SourceRemoteURL {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, c.opts.SummaryTimeout)
		defer cancel()
		summary = c.sum.Summarize(sctx, req.AudioLocation)
	}()
	wg.Wait()

	if terr != nil {
		return c.failureResult(log, terr)
	}

	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	res := Result{OK: true, Transcript: transcript, Summary: summary.Text}
	res.Inline, res.Caption = deliveryFor(transcript, summary.Text, c.opts.InlineLimit)

	c.record(ctx, log, requestID, req, price, res)
	return res
}

func (c *Coordinator) authorize(ctx context.Context, req Request, price float64) (billing.Authorization, error) {
	if req.Allowlisted {
		return billing.Authorization{Proceed: true}, nil
	}
	return c.auth.Authorize(ctx, req.UserID, price)
}

func (c *Coordinator) failureResult(log zerolog.Logger, terr error) Result {
	var se *transcribe.SubmissionError
	switch {
	case errors.Is(terr, transcribe.ErrPollTimeout):
		log.Warn().Err(terr).Msg("transcription timed out")
		metrics.TranscriptionFailuresTotal.WithLabelValues("timeout").Inc()
		return Result{UserMessage: "Transcription is taking too long. Please try again later."}
	case errors.As(terr, &se):
		log.Warn().Int("status", se.Status).Str("detail", se.Body).Msg("job submission rejected")
		metrics.TranscriptionFailuresTotal.WithLabelValues("submission").Inc()
		return Result{UserMessage: "The transcription service rejected this audio. Please try a different file."}
	default:
		log.Error().Err(terr).Msg("transcription failed")
		metrics.TranscriptionFailuresTotal.WithLabelValues("other").Inc()
		return Result{UserMessage: "Transcription failed. Please try again later."}
	}
}

// record persists the memo when a store is configured. Best effort: a
// storage failure is logged and never reaches the user.
func (c *Coordinator) record(ctx context.Context, log zerolog.Logger, requestID string, req Request, price float64, res Result) {
	if c.store == nil {
		return
	}
	_, err := c.store.InsertMemo(ctx, &database.MemoRow{
		RequestID:       requestID,
		UserID:          req.UserID,
		AudioLocation:   req.AudioLocation,
		DurationSeconds: req.DurationSeconds,
		PriceUSD:        price,
		Transcript:      res.Transcript,
		Summary:         res.Summary,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record memo")
	}
}

const captionLimit = 120

// deliveryFor decides inline vs file delivery and builds the file caption
// from the summary, falling back to a transcript excerpt.
func deliveryFor(transcript, summary string, inlineLimit int) (inline bool, caption string) {
	if len(transcript) < inlineLimit {
		return true, ""
	}
	if summary != "" {
		return false, summary
	}
	return false, excerpt(summarize.StripSpeakerLabels(transcript), captionLimit)
}

func excerpt(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if i := lastSpace(cut); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' || s[i] == '\n' {
			return i
		}
	}
	return -1
}
