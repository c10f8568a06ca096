// Package mock provides a test double for the transcribe.Provider interface.
//
// Use Provider to verify which audio paths and options the caller passed,
// and to feed controlled results or failures back to the code under test.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: transcribe.Result{Text: "hello", Language: "en"},
//	}
//	res, err := p.Transcribe(ctx, "/tmp/a.mp3", transcribe.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// AudioPath is the path passed to Transcribe.
	AudioPath string
	// Opts is the Options value passed to Transcribe.
	Opts transcribe.Options
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// Result is returned by Transcribe when TranscribeFunc and Err are unset.
	Result transcribe.Result

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// TranscribeFunc, if set, is invoked instead of returning Result/Err.
	TranscribeFunc func(ctx context.Context, audioPath string, opts transcribe.Options) (transcribe.Result, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Transcribe records the call and returns the configured result or error.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (transcribe.Result, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{AudioPath: audioPath, Opts: opts})
	fn := p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audioPath, opts)
	}
	if err != nil {
		return transcribe.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements transcribe.Provider at compile time.
var _ transcribe.Provider = (*Provider)(nil)
