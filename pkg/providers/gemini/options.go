package gemini

import (
	"log/slog"

	"google.golang.org/genai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

const (
	DefaultTemperature = 0.1

	// defaultInputTokenLimit is assumed when the model reports no input limit
	defaultInputTokenLimit = 200000
)

type options struct {
	backend Backend

	vertexAI bool
	project  string
	location string

	generationConfig *llm.GenerationConfig
	cachedContent    string
	builtInTool      *genai.Tool
	temperature      float32

	isFunctionCallingModel bool
	contextWindow          int
	maxTokens              int

	logger *slog.Logger
}

// Option configures a Client
type Option func(*options)

// WithBackend replaces the genai models service, mostly for tests
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithVertexAI routes calls through Vertex AI
func WithVertexAI(project, location string) Option {
	return func(o *options) {
		o.vertexAI = true
		o.project = project
		o.location = location
	}
}

// WithGenerationConfig replaces the default generation config. Temperature
// and max tokens options are ignored when it is set.
func WithGenerationConfig(cfg llm.GenerationConfig) Option {
	return func(o *options) {
		c := cfg.Clone()
		o.generationConfig = &c
	}
}

// WithCachedContent references server-side cached context
func WithCachedContent(name string) Option {
	return func(o *options) { o.cachedContent = name }
}

// WithBuiltInTool attaches a provider tool such as search grounding or code
// execution to every call. It cannot be combined with custom tools.
func WithBuiltInTool(tool *genai.Tool) Option {
	return func(o *options) { o.builtInTool = tool }
}

// WithTemperature sets the default sampling temperature
func WithTemperature(t float32) Option {
	return func(o *options) { o.temperature = t }
}

// WithFunctionCalling marks whether the model supports native tool calling
func WithFunctionCalling(enabled bool) Option {
	return func(o *options) { o.isFunctionCallingModel = enabled }
}

// WithContextWindow overrides the reported context window
func WithContextWindow(n int) Option {
	return func(o *options) { o.contextWindow = n }
}

// WithMaxTokens sets the default output token limit
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// optionsFromConfig reads the provider keys of ClientConfig.Extra
func optionsFromConfig(config llm.ClientConfig) []Option {
	var opts []Option
	if config.ExtraBool(llm.ExtraVertexAI) {
		opts = append(opts, WithVertexAI(config.Extra[llm.ExtraProject], config.Extra[llm.ExtraLocation]))
	}
	return opts
}
