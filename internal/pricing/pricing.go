// Package pricing estimates the cost of processing a voice memo before any
// work is submitted to the downstream services.
package pricing

// Hourly rates in USD for the downstream services. The transcription rate
// matches the enhanced operating point; summarization is priced by the
// summary provider per audio hour.
const (
	transcriptionRatePerHour = 0.5
	summaryRatePerHour       = 0.5

	// Used when the caller cannot determine the media duration.
	defaultDurationSeconds = 30 * 60
)

// Estimate returns the estimated USD cost for a memo of the given duration.
// Non-positive durations fall back to the 30-minute default rather than
// failing, so the estimate is total over all inputs.
func Estimate(durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		durationSeconds = defaultDurationSeconds
	}
	hours := durationSeconds / 3600
	return (transcriptionRatePerHour + summaryRatePerHour) * hours
}
