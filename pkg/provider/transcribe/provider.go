// Package transcribe defines the Provider interface for audio transcription
// backends.
//
// A transcription provider turns a finished audio file into a normalized
// [Result]: full text, a language code, and an ordered sequence of timed
// segments. The concrete backend may be a local recognizer process
// (whispercli), an in-process model (whispernative), or a remote speech API
// (openai, deepgram) — callers select one up front and depend only on this
// package afterwards.
//
// Implementations must be safe for concurrent use; a single Provider value
// may serve many requests at once, each with its own audio file.
package transcribe

import "context"

// LanguageAuto is the sentinel language value meaning "let the backend
// detect the language". It is never forwarded to an external tool or API as
// a literal code; providers elide the language parameter instead.
const LanguageAuto = "auto"

// LanguageUnknown is reported in [Result.Language] when the backend did not
// return a usable language identifier.
const LanguageUnknown = "unknown"

// Options carries per-request knobs for a transcription.
type Options struct {
	// Language is a hint for the spoken language (e.g., "en", "de").
	// [LanguageAuto] or empty requests auto-detection.
	Language string
}

// AutoDetect reports whether the options request language auto-detection.
func (o Options) AutoDetect() bool {
	return o.Language == "" || o.Language == LanguageAuto
}

// Provider is the abstraction over any transcription backend.
//
// Transcribe blocks until the backend has produced a complete result or
// failed. Cancelling ctx aborts in-flight subprocesses and HTTP calls.
type Provider interface {
	// Name returns the stable identifier of this backend (e.g., "whisper-cli",
	// "openai", "deepgram"), used in results and capability reporting.
	Name() string

	// Transcribe converts the audio file at audioPath into a normalized
	// Result. The file is read, never modified or deleted; byproduct files a
	// backend creates are its own responsibility to remove.
	Transcribe(ctx context.Context, audioPath string, opts Options) (Result, error)
}
