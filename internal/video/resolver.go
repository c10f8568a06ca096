package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strings"
)

// idPatterns is the ordered list of recognized YouTube URL shapes. Each
// pattern captures exactly the 11-character video ID; the first match wins.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:\?|&)v=([A-Za-z0-9_-]{11})(?:[&#]|$)`),
	regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})(?:[?&#]|$)`),
	regexp.MustCompile(`/embed/([A-Za-z0-9_-]{11})(?:[?&#]|$)`),
	regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{11})(?:[?&#]|$)`),
}

// validID re-checks an extracted ID for length and charset.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID pulls the 11-character video ID out of a YouTube URL.
// Recognized shapes are watch?v=, youtu.be/, /embed/, and /shorts/ links.
// No subprocess is spawned; this is safe to call on untrusted input.
func ExtractVideoID(rawURL string) (string, error) {
	for _, re := range idPatterns {
		m := re.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		if id := m[1]; validID.MatchString(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrBadURL, rawURL)
}

// ResolverOption is a functional option for configuring a Resolver.
type ResolverOption func(*Resolver)

// WithResolverBinary overrides the yt-dlp executable name or path.
func WithResolverBinary(bin string) ResolverOption {
	return func(r *Resolver) {
		if bin != "" {
			r.binary = bin
		}
	}
}

// Resolver looks up video metadata with `yt-dlp -j`. Safe for concurrent
// use.
type Resolver struct {
	binary string
}

// NewResolver creates a Resolver using the default yt-dlp binary unless
// overridden.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{binary: DefaultBinary}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LookPath reports whether the downloader executable is discoverable,
// wrapping ErrToolMissing when it is not.
func (r *Resolver) LookPath() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	return nil
}

// ytdlpMetadata is the subset of `yt-dlp -j` output this service consumes.
type ytdlpMetadata struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Channel   string  `json:"channel"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	IsLive    bool    `json:"is_live"`
}

// Resolve extracts the video ID from rawURL and fetches the video's
// metadata. It runs one subprocess and writes nothing to disk.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Info, error) {
	id, err := ExtractVideoID(rawURL)
	if err != nil {
		return Info{}, err
	}

	bin, err := exec.LookPath(r.binary)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	out, err := exec.CommandContext(ctx, bin, "-j", "--no-playlist", "--no-warnings", rawURL).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, fmt.Errorf("video: metadata lookup: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return Info{}, fmt.Errorf("video: metadata lookup failed: %s", tail(string(exitErr.Stderr), 500))
		}
		return Info{}, fmt.Errorf("video: metadata lookup failed: %w", err)
	}

	// yt-dlp can emit warning lines on stdout ahead of the JSON document
	// even with --no-warnings; decode from the first brace.
	raw := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(raw, '{'); idx > 0 {
		raw = raw[idx:]
	}

	var meta ytdlpMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Info{}, fmt.Errorf("video: unparsable metadata output: %w", err)
	}

	channel := meta.Channel
	if channel == "" {
		channel = meta.Uploader
	}
	if meta.ID == "" {
		meta.ID = id
	}

	return Info{
		ID:              meta.ID,
		Title:           meta.Title,
		Channel:         channel,
		DurationSeconds: int(math.Round(meta.Duration)),
		ThumbnailURL:    meta.Thumbnail,
		IsLive:          meta.IsLive,
	}, nil
}

// tail returns at most the last n bytes of s, trimmed of surrounding
// whitespace.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
