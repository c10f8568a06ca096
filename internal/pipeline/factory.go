package pipeline

import (
	"fmt"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe/deepgram"
	"github.com/tubescribe/tubescribe/pkg/provider/transcribe/openai"
)

// BackendFactory selects and constructs the transcription backend for one
// request. Factories run during the validating stage, before any
// subprocess or network call, so a selection failure is a validation
// error and never costs the caller anything.
type BackendFactory interface {
	Backend(req Request) (transcribe.Provider, error)
}

// Factory is the standard BackendFactory: an explicit switch over the
// closed set of modes and providers. Local mode reuses one shared backend;
// api mode constructs a backend per request so the caller's credential can
// differ from the server's.
type Factory struct {
	local        transcribe.Provider
	openAIKey    string
	openAIOpts   []openai.Option
	deepgramKey  string
	deepgramOpts []deepgram.Option
}

var _ BackendFactory = (*Factory)(nil)

// FactoryOption is a functional option for configuring a Factory.
type FactoryOption func(*Factory)

// WithLocalBackend sets the provider serving local mode requests. Without
// it, local mode requests fail validation.
func WithLocalBackend(p transcribe.Provider) FactoryOption {
	return func(f *Factory) { f.local = p }
}

// WithOpenAIKey sets the server-configured OpenAI key used when a request
// carries no credential of its own.
func WithOpenAIKey(key string) FactoryOption {
	return func(f *Factory) { f.openAIKey = key }
}

// WithOpenAIOptions forwards provider options (endpoint, model) to every
// OpenAI backend the factory constructs.
func WithOpenAIOptions(opts ...openai.Option) FactoryOption {
	return func(f *Factory) { f.openAIOpts = opts }
}

// WithDeepgramKey sets the server-configured Deepgram key used when a
// request carries no credential of its own.
func WithDeepgramKey(key string) FactoryOption {
	return func(f *Factory) { f.deepgramKey = key }
}

// WithDeepgramOptions forwards provider options (endpoint) to every
// Deepgram backend the factory constructs.
func WithDeepgramOptions(opts ...deepgram.Option) FactoryOption {
	return func(f *Factory) { f.deepgramOpts = opts }
}

// NewFactory constructs a Factory. All configuration is optional; an
// unconfigured mode or provider is rejected at request time.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Backend returns the transcription backend for req. Errors are classified
// as validation failures.
func (f *Factory) Backend(req Request) (transcribe.Provider, error) {
	switch req.Mode {
	case ModeLocal:
		if f.local == nil {
			return nil, classify(ErrValidation, "local transcription is not configured on this server", nil)
		}
		return f.local, nil

	case ModeAPI:
		switch req.Provider {
		case ProviderOpenAI:
			key := req.Credential
			if key == "" {
				key = f.openAIKey
			}
			if key == "" {
				return nil, classify(ErrValidation, "missing API key: supply an X-API-Key header or configure a server key", nil)
			}
			p, err := openai.New(key, f.openAIOpts...)
			if err != nil {
				return nil, classify(ErrValidation, "openai backend", err)
			}
			return p, nil

		case ProviderDeepgram:
			key := req.Credential
			if key == "" {
				key = f.deepgramKey
			}
			if key == "" {
				return nil, classify(ErrValidation, "missing API key: supply an X-API-Key header or configure a server key", nil)
			}
			p, err := deepgram.New(key, f.deepgramOpts...)
			if err != nil {
				return nil, classify(ErrValidation, "deepgram backend", err)
			}
			return p, nil

		default:
			return nil, classify(ErrValidation, fmt.Sprintf("unsupported provider %q", req.Provider), nil)
		}

	default:
		return nil, classify(ErrValidation, fmt.Sprintf("unsupported mode %q", req.Mode), nil)
	}
}
