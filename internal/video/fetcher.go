package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultAudioQuality is the bitrate passed to yt-dlp's audio extraction.
const DefaultAudioQuality = "128K"

// progressRe matches yt-dlp's line-buffered download progress output,
// e.g. "[download]  42.7% of 3.21MiB at 1.05MiB/s".
var progressRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// ProgressFunc receives download progress as a percentage in [0, 100].
// Callbacks run on the fetch goroutine and must not block.
type ProgressFunc func(percent float64)

// FetcherOption is a functional option for configuring a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherBinary overrides the yt-dlp executable name or path.
func WithFetcherBinary(bin string) FetcherOption {
	return func(f *Fetcher) {
		if bin != "" {
			f.binary = bin
		}
	}
}

// WithFetcherQuality overrides the extraction bitrate (e.g. "192K").
func WithFetcherQuality(q string) FetcherOption {
	return func(f *Fetcher) {
		if q != "" {
			f.quality = q
		}
	}
}

// Fetcher downloads a video's audio track as MP3 into a scratch directory.
// Safe for concurrent use; concurrent fetches of distinct videos write to
// distinct paths.
type Fetcher struct {
	binary  string
	tempDir string
	quality string
}

// NewFetcher creates a Fetcher writing into tempDir. tempDir must not be
// empty.
func NewFetcher(tempDir string, opts ...FetcherOption) (*Fetcher, error) {
	if tempDir == "" {
		return nil, errors.New("video: tempDir must not be empty")
	}
	f := &Fetcher{
		binary:  DefaultBinary,
		tempDir: tempDir,
		quality: DefaultAudioQuality,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// LookPath reports whether the downloader executable is discoverable,
// wrapping ErrToolMissing when it is not.
func (f *Fetcher) LookPath() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	return nil
}

// OutputPath returns the path where Fetch will place the audio for videoID.
// It is known before the download starts, so callers can register cleanup
// up front. Post-processing of an already-mp3 source can additionally leave
// a file at OutputPath + ".mp3".
func (f *Fetcher) OutputPath(videoID string) string {
	return filepath.Join(f.tempDir, videoID+".mp3")
}

// Fetch downloads rawURL's audio track and returns the path of the
// extracted MP3. Download progress parsed from yt-dlp's output is reported
// through progress when non-nil; progress parsing is best-effort and never
// fails the fetch. The caller owns the returned file and is responsible
// for removing it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, videoID string, progress ProgressFunc) (string, error) {
	bin, err := exec.LookPath(f.binary)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	outTemplate := filepath.Join(f.tempDir, videoID+".%(ext)s")
	args := []string{
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", f.quality,
		"--no-playlist",
		"--newline",
		"-o", outTemplate,
		rawURL,
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("video: create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("video: create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("video: start download: %w", err)
	}

	// Keep the last non-empty stderr line for error reporting.
	errLine := make(chan string, 1)
	go func() {
		var last string
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				last = line
			}
		}
		errLine <- last
	}()

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		m := progressRe.FindStringSubmatch(sc.Text())
		if m == nil || progress == nil {
			continue
		}
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			progress(pct)
		}
	}

	lastErr := <-errLine
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("video: download audio: %w", ctxErr)
		}
		if lastErr != "" {
			return "", fmt.Errorf("video: download failed: %s", lastErr)
		}
		return "", fmt.Errorf("video: download failed: %w", err)
	}

	return f.locateOutput(videoID)
}

// locateOutput finds the file yt-dlp actually produced. The audio-format
// flag normally yields <id>.mp3, but post-processing of an already-mp3
// source can leave <id>.mp3.mp3.
func (f *Fetcher) locateOutput(videoID string) (string, error) {
	want := filepath.Join(f.tempDir, videoID+".mp3")
	candidates := []string{want, want + ".mp3"}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("video: download produced no audio file at %s", strings.Join(candidates, " or "))
}
