package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationConfigMerge(t *testing.T) {
	t.Parallel()

	base := GenerationConfig{
		Temperature:     Ptr[float32](0.7),
		MaxOutputTokens: Ptr[int32](100),
		StopSequences:   []string{"END"},
	}

	merged, err := base.Merge(
		GenerationConfig{Temperature: Ptr[float32](0)},
		GenerationConfig{ResponseMIMEType: "application/json"},
	)
	require.NoError(t, err)

	require.NotNil(t, merged.Temperature)
	assert.Equal(t, float32(0), *merged.Temperature, "an explicit zero wins over the default")
	assert.Equal(t, int32(100), *merged.MaxOutputTokens)
	assert.Equal(t, []string{"END"}, merged.StopSequences)
	assert.Equal(t, "application/json", merged.ResponseMIMEType)

	assert.Equal(t, float32(0.7), *base.Temperature, "receiver is untouched")
	assert.Empty(t, base.ResponseMIMEType)

	*merged.MaxOutputTokens = 5
	assert.Equal(t, int32(100), *base.MaxOutputTokens, "merged config shares no pointers")
}

func TestGenerationConfigClone(t *testing.T) {
	t.Parallel()

	orig := GenerationConfig{TopP: Ptr[float32](0.9), Extra: map[string]any{"seed": 1}}
	cp := orig.Clone()
	*cp.TopP = 0.1
	cp.Extra["seed"] = 2

	assert.Equal(t, float32(0.9), *orig.TopP)
	assert.Equal(t, 1, orig.Extra["seed"])
}

func TestClientConfigExtraBool(t *testing.T) {
	t.Parallel()

	cfg := ClientConfig{Extra: map[string]string{"a": "TRUE", "b": "1", "c": "no"}}
	assert.True(t, cfg.ExtraBool("a"))
	assert.True(t, cfg.ExtraBool("b"))
	assert.False(t, cfg.ExtraBool("c"))
	assert.False(t, cfg.ExtraBool("missing"))
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_API_KEY", "GEMINI_API_KEY", "GOOGLE_GENAI_USE_VERTEXAI",
		"GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION", "GEMINI_MODEL",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
		"LLM_TIMEOUT", "LLM_MAX_RETRIES",
	} {
		t.Setenv(key, "")
	}
}

func TestGetLLMFromEnv(t *testing.T) {
	t.Run("mock fallback", func(t *testing.T) {
		clearProviderEnv(t)

		cfg := GetLLMFromEnv()
		assert.Equal(t, "mock", cfg.Provider)
		assert.Equal(t, DefaultTimeout, cfg.Timeout)
		assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	})

	t.Run("gemini wins over openai", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("OPENAI_API_KEY", "o-key")

		cfg := GetLLMFromEnv()
		assert.Equal(t, "gemini", cfg.Provider)
		assert.Equal(t, DefaultGeminiModel, cfg.Model)
		assert.Equal(t, "g-key", cfg.APIKey)
		assert.Nil(t, cfg.Extra)
	})

	t.Run("vertex", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GOOGLE_GENAI_USE_VERTEXAI", "true")
		t.Setenv("GOOGLE_CLOUD_PROJECT", "proj")
		t.Setenv("GOOGLE_CLOUD_LOCATION", "us-central1")

		cfg := GetLLMFromEnv()
		assert.Equal(t, "gemini", cfg.Provider)
		assert.True(t, cfg.ExtraBool(ExtraVertexAI))
		assert.Equal(t, "proj", cfg.Extra[ExtraProject])
		assert.Equal(t, "us-central1", cfg.Extra[ExtraLocation])
	})

	t.Run("openai", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "o-key")
		t.Setenv("OPENAI_MODEL", "gpt-4o")
		t.Setenv("OPENAI_BASE_URL", "http://localhost:8080/v1")
		t.Setenv("LLM_TIMEOUT", "5s")
		t.Setenv("LLM_MAX_RETRIES", "1")

		cfg := GetLLMFromEnv()
		assert.Equal(t, "openai", cfg.Provider)
		assert.Equal(t, "gpt-4o", cfg.Model)
		assert.Equal(t, "o-key", cfg.APIKey)
		assert.Equal(t, "http://localhost:8080/v1", cfg.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
		assert.Equal(t, 1, cfg.MaxRetries)
	})
}
