package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/inercia/go-llmcore/pkg/llm"
)

// convertError converts OpenAI error to our format
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
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Code: "timeout", Message: err.Error(), Type: llm.ErrorTypeTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := "unknown"
		switch c := apiErr.Code.(type) {
		case string:
			code = c
		case float64:
			code = fmt.Sprintf("%d", int(c))
		}
		return &llm.Error{
			Code:       code,
			Message:    apiErr.Message,
			Type:       errorTypeForStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.Error{
			Code:       "request_error",
			Message:    reqErr.Error(),
			Type:       errorTypeForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}

	return &llm.Error{
		Code:    "unknown_error",
		Message: err.Error(),
		Type:    llm.ErrorTypeAPI,
		Err:     err,
	}
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
