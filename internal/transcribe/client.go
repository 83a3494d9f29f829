// Package transcribe implements the client side of the batch transcription
// service's submit-and-poll protocol.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onewave/voicememo/internal/metrics"
	"github.com/rs/zerolog"
)

// SourceKind says how the audio reaches the transcription service.
type SourceKind int

const (
	// SourceRemoteURL asks the service to fetch the audio itself.
	SourceRemoteURL SourceKind = iota
	// SourceLocalFile uploads the file bytes with the job submission.
	SourceLocalFile
)

// Request identifies the audio to transcribe. Immutable once created.
type Request struct {
	AudioLocation string // URL for SourceRemoteURL, local path for SourceLocalFile
	Source        SourceKind
}

// Options configure the job submission and the poll loop.
type Options struct {
	Language       string
	OperatingPoint string // "enhanced" or "standard"
	Diarization    string // empty disables diarization
	PollInterval   time.Duration
	PollAttempts   int
}

// ErrPollTimeout is returned when the poll attempt budget (or the context
// deadline) is exhausted before a transcript becomes available. Distinct
// from a SubmissionError: the job was accepted, the result never arrived.
var ErrPollTimeout = errors.New("transcription job: transcript not ready before poll budget exhausted")

// SubmissionError is a rejected job submission. The polling phase is never
// entered.
type SubmissionError struct {
	Status int
	Body   string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission rejected (status %d): %s", e.Status, e.Body)
}

// Client submits transcription jobs and long-polls for their transcripts.
type Client struct {
	baseURL string
	apiKey  string
	opts    Options
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a transcription service client. Zero-valued poll options
// get the service defaults (1s interval, 1800 attempts).
func NewClient(baseURL, apiKey string, opts Options, log zerolog.Logger) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 1800
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.OperatingPoint == "" {
		opts.OperatingPoint = "enhanced"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		opts:    opts,
		// Per-request timeout covers one submit or one poll, not the
		// whole long poll; the loop's budget lives in poll().
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Transcribe runs the full two-phase protocol and returns the plain-text
// transcript. Submission failures and poll exhaustion are distinguishable
// via errors.As / errors.Is. The context bounds total wall-clock time.
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	job, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	c.log.Info().Str("job_id", job.ID).Str("audio", req.AudioLocation).Msg("transcription job submitted")

	text, err := c.poll(ctx, job)
	if err != nil {
		return "", err
	}
	c.log.Info().Str("job_id", job.ID).Int("chars", len(text)).Msg("transcript ready")
	return text, nil
}

// jobConfig is the "config" part of the multipart submission body.
type jobConfig struct {
	Type                string              `json:"type"`
	FetchData           *fetchData          `json:"fetch_data,omitempty"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type fetchData struct {
	URL string `json:"url"`
}

type transcriptionConfig struct {
	OperatingPoint string `json:"operating_point"`
	Language       string `json:"language"`
	EnableEntities bool   `json:"enable_entities"`
	Diarization    string `json:"diarization,omitempty"`
}

func (c *Client) submit(ctx context.Context, req Request) (*Job, error) {
	cfg := jobConfig{
		Type: "transcription",
		TranscriptionConfig: transcriptionConfig{
			OperatingPoint: c.opts.OperatingPoint,
			Language:       c.opts.Language,
			EnableEntities: true,
			Diarization:    c.opts.Diarization,
		},
	}
	if req.Source == SourceRemoteURL {
		cfg.FetchData = &fetchData{URL: req.AudioLocation}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal job config: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("config", string(cfgJSON)); err != nil {
		return nil, fmt.Errorf("write config field: %w", err)
	}

	if req.Source == SourceLocalFile {
		f, err := os.Open(req.AudioLocation)
		if err != nil {
			return nil, fmt.Errorf("open audio file: %w", err)
		}
		defer f.Close()

		part, err := w.CreateFormFile("data_file", filepath.Base(req.AudioLocation))
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, fmt.Errorf("copy audio data: %w", err)
		}
	}
	w.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SubmissionError{Status: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("submit job: empty job id in response")
	}

	metrics.JobsSubmittedTotal.Inc()
	return newJob(result.ID), nil
}

// poll requests the transcript at a fixed interval until it is available or
// the attempt budget runs out. Individual poll failures are expected while
// the job is still running; they count against the budget and are otherwise
// swallowed.
func (c *Client) poll(ctx context.Context, job *Job) (string, error) {
	job.transition(StatePolling)

	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		text, err := c.fetchTranscript(ctx, job.ID)
		if err == nil {
			job.transition(StateSucceeded)
			return text, nil
		}
		c.log.Debug().Str("job_id", job.ID).Int("attempt", attempt).Err(err).Msg("transcript not ready")

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				job.transition(StateTimedOut)
				return "", ErrPollTimeout
			}
			job.transition(StateFailed)
			return "", ctx.Err()
		case <-time.After(c.opts.PollInterval):
		}
	}

	job.transition(StateTimedOut)
	return "", ErrPollTimeout
}

func (c *Client) fetchTranscript(ctx context.Context, jobID string) (string, error) {
	metrics.PollAttemptsTotal.Inc()

	url := fmt.Sprintf("%s/jobs/%s/transcript?format=txt", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript not available (status %d)", resp.StatusCode)
	}
	return string(body), nil
}
