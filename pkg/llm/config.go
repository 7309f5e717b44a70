// Client configuration and generation parameters
package llm

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

const (
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultOpenAIModel = "gpt-4o-mini"

	// DefaultMaxRetries applies when configuration comes from the environment
	DefaultMaxRetries = 3
	DefaultTimeout    = 60 * time.Second
)

// Keys understood in ClientConfig.Extra
const (
	ExtraVertexAI       = "vertexai"
	ExtraProject        = "project"
	ExtraLocation       = "location"
	ExtraCompletionMode = "completion_mode"
)

// ClientConfig holds configuration for creating LLM clients
type ClientConfig struct {
	Provider string        `json:"provider" mapstructure:"provider"` // gemini, openai, mock
	Model    string        `json:"model" mapstructure:"model"`
	APIKey   string        `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string        `json:"base_url,omitempty" mapstructure:"base_url"`
	Timeout  time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`

	// MaxRetries bounds retries of non-streaming calls; 0 disables retrying
	MaxRetries int               `json:"max_retries,omitempty" mapstructure:"max_retries"`
	Extra      map[string]string `json:"extra,omitempty" mapstructure:"extra"` // Provider-specific configs
}

// ExtraBool reads a boolean provider option from Extra
func (c ClientConfig) ExtraBool(key string) bool {
	switch strings.ToLower(c.Extra[key]) {
	case "1", "t", "true", "yes":
		return true
	}
	return false
}

// GetLLMFromEnv picks a provider from the environment. Google credentials
// win over OpenAI ones; with neither set the mock provider is returned.
func GetLLMFromEnv() ClientConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("GEMINI_MODEL", DefaultGeminiModel)
	v.SetDefault("OPENAI_MODEL", DefaultOpenAIModel)
	v.SetDefault("LLM_TIMEOUT", DefaultTimeout)
	v.SetDefault("LLM_MAX_RETRIES", DefaultMaxRetries)

	base := ClientConfig{
		Timeout:    v.GetDuration("LLM_TIMEOUT"),
		MaxRetries: v.GetInt("LLM_MAX_RETRIES"),
	}

	googleKey := v.GetString("GOOGLE_API_KEY")
	if googleKey == "" {
		googleKey = v.GetString("GEMINI_API_KEY")
	}
	useVertex := v.GetBool("GOOGLE_GENAI_USE_VERTEXAI")

	switch {
	case googleKey != "" || useVertex:
		cfg := base
		cfg.Provider = "gemini"
		cfg.Model = v.GetString("GEMINI_MODEL")
		cfg.APIKey = googleKey
		if useVertex {
			cfg.Extra = map[string]string{
				ExtraVertexAI: "true",
				ExtraProject:  v.GetString("GOOGLE_CLOUD_PROJECT"),
				ExtraLocation: v.GetString("GOOGLE_CLOUD_LOCATION"),
			}
		}
		return cfg

	case v.GetString("OPENAI_API_KEY") != "":
		cfg := base
		cfg.Provider = "openai"
		cfg.Model = v.GetString("OPENAI_MODEL")
		cfg.APIKey = v.GetString("OPENAI_API_KEY")
		cfg.BaseURL = v.GetString("OPENAI_BASE_URL")
		return cfg
	}

	cfg := base
	cfg.Provider = "mock"
	cfg.Model = "mock-model"
	return cfg
}

// GenerationConfig holds sampling and output parameters. Nil pointers mean
// "use the provider default".
type GenerationConfig struct {
	Temperature      *float32       `json:"temperature,omitempty"`
	TopP             *float32       `json:"top_p,omitempty"`
	TopK             *float32       `json:"top_k,omitempty"`
	MaxOutputTokens  *int32         `json:"max_output_tokens,omitempty"`
	StopSequences    []string       `json:"stop_sequences,omitempty"`
	CachedContent    string         `json:"cached_content,omitempty"`
	ResponseMIMEType string         `json:"response_mime_type,omitempty"`
	ResponseSchema   any            `json:"response_schema,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy that shares no pointers, slices or maps with c
func (c GenerationConfig) Clone() GenerationConfig {
	cp := c
	cp.Temperature = clonePtr(c.Temperature)
	cp.TopP = clonePtr(c.TopP)
	cp.TopK = clonePtr(c.TopK)
	cp.MaxOutputTokens = clonePtr(c.MaxOutputTokens)
	cp.StopSequences = slices.Clone(c.StopSequences)
	cp.Extra = maps.Clone(c.Extra)
	return cp
}

// Merge returns a fresh config with the non-empty fields of each override
// applied in order. The receiver is never modified. Pointer fields are
// replaced whole, so an explicit zero override wins over a default.
func (c GenerationConfig) Merge(overrides ...GenerationConfig) (GenerationConfig, error) {
	merged := c.Clone()
	for _, o := range overrides {
		if err := mergo.Merge(&merged, o.Clone(), mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return GenerationConfig{}, fmt.Errorf("failed to merge generation config: %w", err)
		}
	}
	return merged, nil
}

// LogValue keeps request logs compact
func (c GenerationConfig) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 4)
	if c.Temperature != nil {
		attrs = append(attrs, slog.Float64("temperature", float64(*c.Temperature)))
	}
	if c.MaxOutputTokens != nil {
		attrs = append(attrs, slog.Int("max_output_tokens", int(*c.MaxOutputTokens)))
	}
	if c.ResponseMIMEType != "" {
		attrs = append(attrs, slog.String("response_mime_type", c.ResponseMIMEType))
	}
	if c.CachedContent != "" {
		attrs = append(attrs, slog.String("cached_content", c.CachedContent))
	}
	return slog.GroupValue(attrs...)
}

// Ptr returns a pointer to v, for filling optional config fields
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
