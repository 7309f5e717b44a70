package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inercia/go-llmcore/pkg/llm"
)

func TestConvertError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode string
		wantType string
	}{
		{"api error", &openai.APIError{Code: "server_error", Message: "oops", HTTPStatusCode: 500}, "server_error", llm.ErrorTypeServer},
		{"numeric code", &openai.APIError{Code: 401.0, Message: "bad key", HTTPStatusCode: 401}, "401", llm.ErrorTypeAuthentication},
		{"request error", &openai.RequestError{HTTPStatusCode: http.StatusGatewayTimeout, Err: errors.New("gateway")}, "request_error", llm.ErrorTypeTimeout},
		{"deadline", context.DeadlineExceeded, "timeout", llm.ErrorTypeTimeout},
		{"other", errors.New("boom"), "unknown_error", llm.ErrorTypeAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var llmErr *llm.Error
			require.ErrorAs(t, convertError(tt.err), &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.wantType, llmErr.Type)
		})
	}

	assert.ErrorIs(t, convertError(context.Canceled), context.Canceled)
	assert.Same(t, llm.ErrEmptyMessages, convertError(llm.ErrEmptyMessages))
	assert.Nil(t, convertError(nil))
}
