// Package summary condenses finished transcripts through an LLM provider.
//
// The provider is typically an LLM fallback chain (internal/resilience) so
// a dead or rate-limited primary degrades to the configured fallback
// instead of failing the request. The summarizer itself is
// provider-agnostic.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tubescribe/tubescribe/pkg/provider/llm"
)

// summaryPrompt is the system prompt sent with every summarization request.
const summaryPrompt = `Summarize the following YouTube video transcript.
Open with one sentence stating what the video is about, then give the key
points in the order they appear. Preserve names, numbers, and concrete
recommendations. Do not invent content that is not in the transcript; the
transcript may be cut off before the end of the video.`

const (
	// defaultMaxInputRunes bounds the transcript text sent to the model.
	// Three hours of speech stays well under it; anything longer is cut.
	defaultMaxInputRunes = 120000

	// summaryTemperature keeps the output factual rather than creative.
	summaryTemperature = 0.3
)

// Option is a functional option for configuring a Summarizer.
type Option func(*Summarizer)

// WithMaxInput caps the transcript length, in runes, sent to the model.
func WithMaxInput(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxInput = n
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) {
		if l != nil {
			s.log = l
		}
	}
}

// Summarizer produces transcript summaries through an llm.Provider. Safe
// for concurrent use.
type Summarizer struct {
	provider llm.Provider
	maxInput int
	log      *slog.Logger
}

// New returns a Summarizer backed by provider.
func New(provider llm.Provider, opts ...Option) (*Summarizer, error) {
	if provider == nil {
		return nil, errors.New("summary: provider must not be nil")
	}
	s := &Summarizer{
		provider: provider,
		maxInput: defaultMaxInputRunes,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Summarize condenses text into a short summary. language, when neither
// empty nor "auto", names the language the summary should be written in;
// otherwise the model follows the transcript's language.
func (s *Summarizer) Summarize(ctx context.Context, text, language string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("summary: transcript is empty")
	}
	if runes := []rune(text); len(runes) > s.maxInput {
		s.log.Warn("transcript truncated for summarization",
			"runes", len(runes), "limit", s.maxInput)
		text = string(runes[:s.maxInput])
	}

	prompt := summaryPrompt
	if language != "" && language != "auto" {
		prompt += fmt.Sprintf("\nWrite the summary in the language with code %q.", language)
	} else {
		prompt += "\nWrite the summary in the same language as the transcript."
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: text},
		},
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("summary: complete: %w", err)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", errors.New("summary: model returned an empty summary")
	}
	s.log.Debug("transcript summarized",
		"provider", s.provider.Name(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return out, nil
}
