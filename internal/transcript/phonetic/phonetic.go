// Package phonetic matches mis-transcribed phrases against a known
// vocabulary using Double Metaphone codes ranked by Jaro-Winkler
// similarity.
//
// Speech recognizers rarely miss common words; what they miss are names.
// A transcript of a music video reads "rick ass lee" where the channel is
// "Rick Astley", or "veritaseum" where the title says "Veritasium". Both
// garblings sound like the real term, so phonetic codes recover them where
// plain string comparison would not.
//
// Matching proceeds in two passes:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for every
//     token of the input and of each vocabulary term. Any code overlap
//     makes the term a candidate.
//  2. Jaro-Winkler ranking: among candidates, the term with the highest
//     similarity to the input wins, provided it clears the phonetic
//     threshold. When no term overlaps phonetically, a stricter
//     pure-similarity fallback catches spelling-level variants.
//
// Multi-word terms are supported: codes are computed per token and the
// ranking considers full-string, concatenated, and best-pairwise-token
// similarity so that "rick ass lee" can still reach "Rick Astley".
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold overrides the score floor applied to candidates
// that overlap phonetically (default 0.70).
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold overrides the stricter score floor applied on the
// pure-similarity fallback path, when nothing overlaps phonetically
// (default 0.85).
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches phrases against a vocabulary. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the supplied options applied over the default
// thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the vocabulary term most phonetically similar to phrase.
// phrase may be a single word or a space-separated n-gram.
//
// When ok is false, term equals phrase unchanged and confidence is 0.
// Otherwise term carries the vocabulary's original casing.
func (m *Matcher) Match(phrase string, vocabulary []string) (term string, confidence float64, ok bool) {
	if len(vocabulary) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := codesFor(phraseTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, v := range vocabulary {
		vLower := strings.ToLower(strings.TrimSpace(v))
		if vLower == "" {
			continue
		}
		vTokens := strings.Fields(vLower)

		overlaps := sharesCode(phraseCodes, codesFor(vTokens))
		score := similarity(phraseTokens, vTokens, phraseLower, vLower)

		if overlaps {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: v, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{term: v, score: score, phonetic: false}
		}
	}

	if best.term == "" {
		return phrase, 0, false
	}
	return best.term, best.score, true
}

// codesFor returns the union of Double Metaphone codes over tokens. Codes
// the encoder leaves empty (very short or vowel-only tokens) are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

// sharesCode reports whether any Double Metaphone code appears in both sets.
func sharesCode(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for code := range small {
		if _, found := large[code]; found {
			return true
		}
	}
	return false
}

// similarity computes the highest Jaro-Winkler score between the phrase
// and the term across three comparisons:
//
//  1. Full strings ("rick ass lee" vs "rick astley").
//  2. Space-stripped strings ("rickasslee" vs "rickastley"), which absorbs
//     tokenization differences between what was said and what was heard.
//  3. Best per-token score against a single-token phrase, for lining a
//     lone mis-heard word up against one word of a longer term. For
//     multi-token phrases one good pair says nothing about the rest of
//     the phrase, so it is not considered there.
func similarity(phraseTokens, termTokens []string, phraseFull, termFull string) float64 {
	score := matchr.JaroWinkler(phraseFull, termFull, false)

	if len(phraseTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(phraseTokens, ""), strings.Join(termTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	if len(phraseTokens) == 1 {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(phraseTokens[0], tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
