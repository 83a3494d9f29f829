package summarize

import (
	"regexp"
	"strings"
)

// The summary provider narrates in the third person about "the speaker";
// replies read better attributed to the author of the memo.
const (
	tonePhraseOld = "The speaker"
	tonePhraseNew = "The author"
)

// speakerLabelRE matches diarization labels like "Speaker: S1" on their own
// line, as emitted by the transcription service in diarization mode.
var speakerLabelRE = regexp.MustCompile(`(?i)Speaker: S[0-9]+\s*\n`)

// Format applies the display transform to a raw summary: the tone phrase
// replacement, then sentence re-pairing. Deterministic, no I/O.
func Format(raw string) string {
	return pairSentences(strings.ReplaceAll(raw, tonePhraseOld, tonePhraseNew))
}

// pairSentences splits the text on sentence-terminating periods and rejoins
// the sentences two at a time, separating pairs with a blank line. A
// trailing unpaired sentence stands alone; no separator follows the final
// pair.
func pairSentences(text string) string {
	var sentences []string
	for _, part := range strings.Split(text, ".") {
		part = strings.TrimSpace(part)
		if part != "" {
			sentences = append(sentences, part)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	pairs := make([]string, 0, (len(sentences)+1)/2)
	for i := 0; i < len(sentences); i += 2 {
		if i+1 < len(sentences) {
			pairs = append(pairs, sentences[i]+". "+sentences[i+1]+".")
		} else {
			pairs = append(pairs, sentences[i]+".")
		}
	}
	return strings.Join(pairs, "\n\n")
}

// StripSpeakerLabels removes diarization speaker labels from a transcript.
// Used when transcript text feeds back into display contexts (captions)
// where the labels are noise.
func StripSpeakerLabels(text string) string {
	return speakerLabelRE.ReplaceAllString(text, "")
}
