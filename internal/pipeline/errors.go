package pipeline

import (
	"errors"
	"strings"
)

// Sentinel errors classifying pipeline failures. Wrap with [classify] and
// match with errors.Is.
var (
	// ErrValidation marks a bad request: missing or unrecognized URL,
	// missing credential, unsupported mode or provider. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrResolution marks a metadata lookup failure.
	ErrResolution = errors.New("resolution error")

	// ErrFetch marks an audio download failure, including a missing
	// downloader binary.
	ErrFetch = errors.New("fetch error")

	// ErrTranscription marks any backend failure during transcription.
	ErrTranscription = errors.New("transcription error")

	// ErrLimitExceeded marks a video rejected before download: too long or
	// live.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// authIndicators are substrings of backend error text that signal a
// credential or quota problem rather than a transcription failure. Matched
// case-insensitively.
var authIndicators = []string{
	"401",
	"unauthorized",
	"invalid api key",
	"incorrect api key",
	"quota",
	"insufficient credit",
}

// Error is a classified pipeline failure. The message is the full
// human-readable text emitted to the caller; the kind is matchable with
// errors.Is against the sentinels above.
type Error struct {
	kind    error
	message string
	cause   error
}

// classify builds an Error of the given kind. When cause is non-nil its
// text is folded into the message.
func classify(kind error, message string, cause error) *Error {
	if cause != nil {
		if message == "" {
			message = cause.Error()
		} else {
			message = message + ": " + cause.Error()
		}
	}
	return &Error{kind: kind, message: message, cause: cause}
}

// transcriptionError classifies a backend failure, rewriting messages that
// look like credential or quota problems with an "Authentication Failed: "
// prefix.
func transcriptionError(cause error) *Error {
	msg := cause.Error()
	if hasAuthIndicator(msg) {
		msg = "Authentication Failed: " + msg
	}
	return &Error{kind: ErrTranscription, message: msg, cause: cause}
}

// hasAuthIndicator reports whether s contains any authentication or quota
// indicator, ignoring case.
func hasAuthIndicator(s string) bool {
	lower := strings.ToLower(s)
	for _, ind := range authIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// Error returns the human-readable message shown to the caller.
func (e *Error) Error() string {
	return e.message
}

// Is matches e against its kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.kind
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// userMessage extracts the text for a terminal error event. Classified
// errors carry their message verbatim; anything else falls back to
// err.Error().
func userMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.message
	}
	return err.Error()
}
