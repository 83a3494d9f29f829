// Package summarize fetches a best-effort summary of the audio from the
// summarization service. Summaries enrich the transcript but never gate it:
// every failure here degrades to an absent summary.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onewave/voicememo/internal/metrics"
	"github.com/rs/zerolog"
)

// Result is the terminal value of a summarization attempt. Present=false is
// a valid outcome, not an error.
type Result struct {
	Text    string
	Present bool
}

// Client calls the summarization service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a summarization service client.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 2 * time.Minute},
		log:     log,
	}
}

// Summarize returns a reformatted summary of the audio at audioURL. It never
// returns an error: failures are logged and yield Result{Present: false}.
func (c *Client) Summarize(ctx context.Context, audioURL string) Result {
	raw, err := c.fetch(ctx, audioURL)
	if err != nil {
		c.log.Warn().Err(err).Str("audio_url", audioURL).Msg("summarization failed")
		metrics.SummaryFailuresTotal.Inc()
		return Result{}
	}
	if strings.TrimSpace(raw) == "" {
		return Result{}
	}
	return Result{Text: Format(raw), Present: true}
}

// summaryResponse is the service's JSON envelope.
type summaryResponse struct {
	Data struct {
		Output string `json:"output"`
	} `json:"data"`
	Error []struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func (c *Client) fetch(ctx context.Context, audioURL string) (string, error) {
	endpoint := c.baseURL + "/summarize?url=" + url.QueryEscape(audioURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bot "+c.apiKey)

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
		return "", fmt.Errorf("summary API error (status %d): %s", resp.StatusCode, body)
	}

	var result summaryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Error) > 0 {
		return "", fmt.Errorf("summary API error %d: %s", result.Error[0].Code, result.Error[0].Msg)
	}
	return result.Data.Output, nil
}
