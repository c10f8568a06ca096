// Package transcript post-processes finished transcripts.
//
// Recognizers reliably garble exactly the words a viewer most wants
// spelled right: the channel name and the proper nouns in the title. The
// corrector walks the transcript with n-gram windows and re-aligns tokens
// against a vocabulary drawn from the video's own metadata, so "rick
// astlee" becomes "Rick Astley" without any external dictionary.
//
// Correction is conservative: windows that already spell a vocabulary term
// are consumed untouched, and a lone token that merely equals one word of
// a multi-word term is never expanded into the full term.
package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tubescribe/tubescribe/internal/pipeline"
	"github.com/tubescribe/tubescribe/internal/transcript/phonetic"
	"github.com/tubescribe/tubescribe/internal/video"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

const (
	// minWindowLen is the shortest window, in characters, worth matching.
	// Anything shorter is a function word and never a name.
	minWindowLen = 3

	// anchoredConfidence is the bar for rewriting a window that already
	// contains one word of the term spelled right. "rick astlee" clears
	// it; "rick said" does not.
	anchoredConfidence = 0.90
)

// Matcher finds the vocabulary term closest to a phrase. The phonetic
// matcher is the standard implementation.
type Matcher interface {
	Match(phrase string, vocabulary []string) (term string, confidence float64, ok bool)
}

// Corrector repairs mis-heard vocabulary terms in a transcript. Safe for
// concurrent use; all state is read-only after construction.
type Corrector struct {
	matcher  Matcher
	maxTerms int
	log      *slog.Logger
}

var _ pipeline.Corrector = (*Corrector)(nil)

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m Matcher) Option {
	return func(c *Corrector) {
		if m != nil {
			c.matcher = m
		}
	}
}

// WithMaxTerms caps the vocabulary size drawn from video metadata.
// Default: 24.
func WithMaxTerms(n int) Option {
	return func(c *Corrector) {
		if n > 0 {
			c.maxTerms = n
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Corrector) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Corrector backed by the phonetic matcher.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		matcher:  phonetic.New(),
		maxTerms: defaultMaxTerms,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns res with mis-heard vocabulary terms repaired in the full
// text and in every segment. The input value is not modified. With no
// usable vocabulary or an empty transcript, res comes back unchanged.
func (c *Corrector) Correct(_ context.Context, res transcribe.Result, info video.Info) transcribe.Result {
	vocab := vocabulary(info, c.maxTerms)
	if len(vocab) == 0 || strings.TrimSpace(res.Text) == "" {
		return res
	}

	var applied int
	res.Text = c.correctText(res.Text, vocab, &applied)

	if len(res.Segments) > 0 {
		segments := make([]transcribe.Segment, len(res.Segments))
		copy(segments, res.Segments)
		for i := range segments {
			segments[i].Text = c.correctText(segments[i].Text, vocab, &applied)
		}
		res.Segments = segments
	}

	if applied > 0 {
		c.log.Debug("transcript corrected", "video_id", info.ID, "corrections", applied)
	}
	return res
}

// correctText runs the n-gram correction walk over one piece of text.
// At each token position windows are tried longest-first so multi-word
// terms take precedence over partial single-word matches. applied counts
// the replacements made.
func (c *Corrector) correctText(text string, vocab []string, applied *int) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}
	maxWords := maxTermWords(vocab)

	out := make([]string, 0, len(tokens))
	i := 0
	for i < len(tokens) {
		maxN := maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			lead, core, trail := splitPunct(window)
			if len(core) < minWindowLen {
				continue
			}
			term, conf, ok := c.matcher.Match(core, vocab)
			if !ok {
				continue
			}
			coreTokens := strings.Fields(core)
			if strings.EqualFold(core, term) ||
				(len(coreTokens) == 1 && sharesToken(term, core)) {
				// Already spelled right; consume without rewriting.
				out = append(out, tokens[i:i+n]...)
				i += n
				matched = true
				break
			}

			replacement := strings.Fields(term)
			// A replacement longer than the window would inject words
			// the speaker never said; one anchored on an already
			// correct word needs near certainty before the words
			// around it are rewritten.
			if len(replacement) == 0 || len(replacement) > len(coreTokens) {
				continue
			}
			if sharesToken(term, core) && conf < anchoredConfidence {
				continue
			}
			if len(replacement) < len(coreTokens) && c.coveredByShorter(coreTokens, term, conf, vocab) {
				continue
			}
			replacement[0] = lead + replacement[0]
			replacement[len(replacement)-1] += trail
			out = append(out, replacement...)
			*applied++
			i += n
			matched = true
			break
		}

		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " ")
}

// coveredByShorter reports whether the window minus one edge token still
// matches the same term at least as well. If it does, the dropped token
// was never part of the term and rewriting the full window would erase a
// spoken word. "veritaseum explains" is covered by "veritaseum"; "rick
// ass lee" is not covered by "rick ass".
func (c *Corrector) coveredByShorter(coreTokens []string, term string, conf float64, vocab []string) bool {
	for _, shorter := range []string{
		strings.Join(coreTokens[1:], " "),
		strings.Join(coreTokens[:len(coreTokens)-1], " "),
	} {
		probeTerm, probeConf, ok := c.matcher.Match(shorter, vocab)
		if ok && probeTerm == term && probeConf >= conf {
			return true
		}
	}
	return false
}

// sharesToken reports whether any word of the window already equals a
// word of the term, ignoring case.
func sharesToken(term, core string) bool {
	termTokens := strings.Fields(term)
	for _, ct := range strings.Fields(core) {
		for _, tt := range termTokens {
			if strings.EqualFold(tt, ct) {
				return true
			}
		}
	}
	return false
}

// maxTermWords returns the word count of the longest vocabulary term.
func maxTermWords(vocab []string) int {
	longest := 1
	for _, v := range vocab {
		if n := len(strings.Fields(v)); n > longest {
			longest = n
		}
	}
	return longest
}
