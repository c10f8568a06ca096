package transcribe

import "strings"

// Segment is one timed slice of a transcript. Segments are ordered ascending
// by Start and do not overlap. End is strictly greater than Start except in
// the degenerate single-segment case produced when a backend returns no
// timing information at all.
type Segment struct {
	// Start is the segment's start offset in seconds from the beginning of
	// the audio.
	Start float64 `json:"start"`

	// End is the segment's end offset in seconds.
	End float64 `json:"end"`

	// Text is the transcribed text of this segment.
	Text string `json:"text"`
}

// Result is the canonical normalized transcription shape all backends
// produce. Consumers depend on this contract and are oblivious to which
// backend produced it.
type Result struct {
	// Text is the full transcript.
	Text string `json:"text"`

	// Language identifies the spoken language as reported (or detected) by
	// the backend, or [LanguageUnknown].
	Language string `json:"language"`

	// Segments is the ordered timed breakdown of Text.
	Segments []Segment `json:"segments"`
}

// JoinSegments reconstructs a full transcript string by joining segment
// texts with single spaces, trimming leading and trailing whitespace from
// each piece. Backends use it when the upstream response carries segments
// but no combined text field.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}
