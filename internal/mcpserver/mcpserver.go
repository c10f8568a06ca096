// Package mcpserver exposes the transcription pipeline over the Model
// Context Protocol, so agent runtimes can pull transcripts the same way
// the browser extension does.
//
// Two tools are registered:
//   - "fetch_transcript" — resolves, downloads, and transcribes a video,
//     returning the finished transcript.
//   - "estimate_cost"    — prices a video before committing to it.
//
// Tool calls run the same pipeline as the HTTP endpoints; progress events
// are collected in memory and the terminal event becomes the tool result.
// The transport is streamable HTTP, mounted by the HTTP server at /mcp.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tubescribe/tubescribe/internal/costs"
	"github.com/tubescribe/tubescribe/internal/pipeline"
)

// Runner drives one transcription request, emitting progress onto the
// sink. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error
}

// Server registers the transcription tools on an MCP server and serves
// them over streamable HTTP.
type Server struct {
	runner      Runner
	resolver    pipeline.VideoResolver
	defaultMode string
	log         *slog.Logger

	handler http.Handler
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithDefaultMode sets the transcription mode used when a tool call names
// none. Default is local.
func WithDefaultMode(mode string) Option {
	return func(s *Server) {
		if mode != "" {
			s.defaultMode = mode
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a Server over the given runner and resolver. Both are
// required.
func New(runner Runner, resolver pipeline.VideoResolver, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("mcpserver: runner must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("mcpserver: resolver must not be nil")
	}
	s := &Server{
		runner:      runner,
		resolver:    resolver,
		defaultMode: pipeline.ModeLocal,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "tubescribe", Version: "1.0.0"}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fetch_transcript",
		Description: "Download a YouTube video's audio and transcribe it. Returns the full transcript text with video metadata. Long videos can take minutes.",
	}, s.fetchTranscript)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "estimate_cost",
		Description: "Estimate what transcribing a YouTube video would cost before fetching it. Local transcription is free; API transcription is billed per started minute.",
	}, s.estimateCost)

	s.handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	return s, nil
}

// Handler returns the streamable HTTP handler serving the MCP session
// endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ── fetch_transcript ──────────────────────────────────────────────────────────

type fetchArgs struct {
	URL      string `json:"url" jsonschema:"the YouTube video URL to transcribe"`
	Language string `json:"language,omitempty" jsonschema:"optional spoken-language hint such as en or de; empty lets the engine detect it"`
	Mode     string `json:"mode,omitempty" jsonschema:"transcription mode, local or api; empty uses the server default"`
}

// fetchOutput is the structured result of fetch_transcript. Segments are
// deliberately omitted; the text is what an agent consumes.
type fetchOutput struct {
	VideoID         string `json:"videoId"`
	Title           string `json:"title"`
	Channel         string `json:"channel"`
	DurationSeconds int    `json:"duration"`
	Language        string `json:"language"`
	Text            string `json:"text"`
}

func (s *Server) fetchTranscript(ctx context.Context, _ *mcp.CallToolRequest, args fetchArgs) (*mcp.CallToolResult, fetchOutput, error) {
	if strings.TrimSpace(args.URL) == "" {
		return errResult("url is required"), fetchOutput{}, nil
	}

	mode := args.Mode
	if mode == "" {
		mode = s.defaultMode
	}
	s.log.Info("mcp transcription requested", "mode", mode)

	sink := &pipeline.MemorySink{}
	runErr := s.runner.Run(ctx, pipeline.Request{
		URL:      args.URL,
		Language: args.Language,
		Mode:     mode,
	}, sink)
	if runErr != nil {
		// The terminal event carries the user-facing phrasing of the
		// failure; fall back to the raw error without one.
		msg := runErr.Error()
		if last, ok := sink.Last(); ok && last.Status == pipeline.StatusError && last.Error != "" {
			msg = last.Error
		}
		return errResult(msg), fetchOutput{}, nil
	}

	last, ok := sink.Last()
	if !ok || last.Status != pipeline.StatusComplete || last.Data == nil {
		return errResult("transcription finished without a result"), fetchOutput{}, nil
	}
	res := last.Data

	out := fetchOutput{
		VideoID:         res.VideoID,
		Title:           res.Title,
		Channel:         res.Channel,
		DurationSeconds: res.DurationSeconds,
		Language:        res.Language,
		Text:            res.Text,
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: res.Text}},
	}, out, nil
}

// ── estimate_cost ─────────────────────────────────────────────────────────────

type estimateArgs struct {
	URL string `json:"url" jsonschema:"the YouTube video URL to price"`
}

func (s *Server) estimateCost(ctx context.Context, _ *mcp.CallToolRequest, args estimateArgs) (*mcp.CallToolResult, costs.Estimate, error) {
	if strings.TrimSpace(args.URL) == "" {
		return errResult("url is required"), costs.Estimate{}, nil
	}

	info, err := s.resolver.Resolve(ctx, args.URL)
	if err != nil {
		return errResult(err.Error()), costs.Estimate{}, nil
	}
	est, err := costs.For(info.DurationSeconds, s.defaultMode)
	if err != nil {
		return errResult(err.Error()), costs.Estimate{}, nil
	}

	var text string
	if est.IsFree() {
		text = fmt.Sprintf("Transcribing %q (%d minutes) locally is free.", info.Title, est.Minutes)
	} else {
		text = fmt.Sprintf("Transcribing %q (%d minutes) via the %s provider costs about $%s.",
			info.Title, est.Minutes, est.Mode, est.FormattedCost)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, est, nil
}

// errResult wraps a user-facing failure as a tool error result. Transport
// stays healthy; the calling model sees the message.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
