// Package video resolves YouTube URLs into metadata and fetches audio
// tracks, shelling out to the yt-dlp command line tool for both.
//
// The Resolver turns a watch URL into an Info snapshot (one `yt-dlp -j`
// subprocess, no filesystem writes); the Fetcher downloads and extracts the
// audio track as MP3 into a scratch directory. Both surface a missing
// yt-dlp executable as ErrToolMissing so callers can distinguish "install
// the tool" from transient download failures.
package video

import "errors"

// DefaultBinary is the downloader executable looked up on PATH.
const DefaultBinary = "yt-dlp"

// ErrToolMissing indicates the yt-dlp executable could not be found.
var ErrToolMissing = errors.New("video: yt-dlp not found on PATH")

// ErrBadURL indicates the input does not look like any recognized YouTube
// URL shape. Returned before any subprocess is spawned.
var ErrBadURL = errors.New("video: not a recognizable YouTube URL")

// Info describes a resolved video. Produced once per request by the
// Resolver; treated as immutable afterwards.
type Info struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Channel         string `json:"channel"`
	DurationSeconds int    `json:"duration"`
	ThumbnailURL    string `json:"thumbnail,omitempty"`
	IsLive          bool   `json:"is_live"`
}
