package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// convertError converts genai errors to our internal error format, so the
// retry policy can tell transient failures apart
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var ourErr *llm.Error
	if errors.As(err, &ourErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Status
		if code == "" {
			code = strings.ReplaceAll(strings.ToLower(http.StatusText(apiErr.Code)), " ", "_")
		}
		return &llm.Error{
			Code:       code,
			Message:    apiErr.Message,
			Type:       errorTypeForStatus(apiErr.Code),
			StatusCode: apiErr.Code,
			Err:        err,
		}
	}

	errMsg := err.Error()
	lower := strings.ToLower(errMsg)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "deadline") || strings.Contains(lower, "timeout"):
		return &llm.Error{Code: "timeout", Message: errMsg, Type: llm.ErrorTypeTimeout, Err: err}
	case strings.Contains(lower, "rate limit") || strings.Contains(errMsg, "429"):
		return &llm.Error{Code: "rate_limit_error", Message: errMsg, Type: llm.ErrorTypeRateLimit, StatusCode: 429, Err: err}
	case strings.Contains(errMsg, "API key") || strings.Contains(lower, "unauthorized"):
		return &llm.Error{Code: "authentication_error", Message: errMsg, Type: llm.ErrorTypeAuthentication, StatusCode: 401, Err: err}
	}

	return &llm.Error{Code: "api_error", Message: errMsg, Type: llm.ErrorTypeAPI, Err: err}
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return llm.ErrorTypeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return llm.ErrorTypeTimeout
	case status >= 500:
		return llm.ErrorTypeServer
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llm.ErrorTypeAuthentication
	}
	return llm.ErrorTypeAPI
}
