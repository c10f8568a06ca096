package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tubescribe/tubescribe/internal/video"
)

const (
	// defaultMaxTerms caps the vocabulary built from video metadata.
	defaultMaxTerms = 24

	// minTermLen drops title tokens too short to be a recoverable name.
	minTermLen = 4
)

// stopwords are title filler that would pollute the vocabulary. All
// lowercase; matched after punctuation stripping.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "from": {}, "this": {}, "that": {},
	"official": {}, "video": {}, "audio": {}, "music": {}, "lyric": {},
	"lyrics": {}, "live": {}, "full": {}, "episode": {}, "part": {},
	"feat": {}, "featuring": {}, "remix": {}, "cover": {}, "trailer": {},
	"teaser": {}, "explained": {}, "review": {}, "reaction": {},
}

// vocabulary derives correction terms from video metadata: qualifying
// tokens of the channel name and title, bigrams of adjacent qualifying
// tokens so multi-word names like "Rick Astley" survive as a unit, and
// the channel name as given. Within each source, single tokens come
// before bigrams so that a tied match score picks the smallest rewrite.
// Deduplicated case-insensitively, capped at maxTerms.
func vocabulary(info video.Info, maxTerms int) []string {
	if maxTerms <= 0 {
		maxTerms = defaultMaxTerms
	}

	var terms []string
	seen := make(map[string]struct{})
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" || len(terms) >= maxTerms {
			return
		}
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}

	tokensAndBigrams := func(s string) {
		var kept []string
		for _, raw := range strings.Fields(s) {
			_, core, _ := splitPunct(raw)
			if !qualifies(core) {
				continue
			}
			kept = append(kept, core)
			add(core)
		}
		for i := 0; i+1 < len(kept); i++ {
			add(kept[i] + " " + kept[i+1])
		}
	}

	tokensAndBigrams(info.Channel)
	add(info.Channel)
	tokensAndBigrams(info.Title)

	return terms
}

// qualifies reports whether a punctuation-stripped title token is worth
// keeping as vocabulary.
func qualifies(core string) bool {
	if len(core) < minTermLen {
		return false
	}
	if _, stop := stopwords[strings.ToLower(core)]; stop {
		return false
	}
	return !allDigits(core)
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// splitPunct separates leading and trailing punctuation from a token so
// replacements can re-attach it. Apostrophes and hyphens inside the core
// stay put; only the outer shell is peeled.
func splitPunct(token string) (lead, core, trail string) {
	core = token
	start := strings.IndexFunc(core, isWordRune)
	if start < 0 {
		return "", "", token
	}
	lead, core = core[:start], core[start:]
	end := strings.LastIndexFunc(core, isWordRune)
	_, size := utf8.DecodeRuneInString(core[end:])
	core, trail = core[:end+size], core[end+size:]
	return lead, core, trail
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
