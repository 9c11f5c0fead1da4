package client

import (
	"errors"
	"testing"

	"portfolio_tracker/internal/domain/entity"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected entity.FetchErrorKind
	}{
		{
			name:     "proxy auth required counts against the proxy",
			err:      &httpStatusError{status: 407, url: "http://api.example/x"},
			expected: entity.FetchErrorProxy,
		},
		{
			name:     "forbidden counts against the proxy",
			err:      &httpStatusError{status: 403, url: "http://api.example/x"},
			expected: entity.FetchErrorProxy,
		},
		{
			name:     "rate limited counts against the proxy",
			err:      &httpStatusError{status: 429, url: "http://api.example/x"},
			expected: entity.FetchErrorProxy,
		},
		{
			name:     "server error is transient",
			err:      &httpStatusError{status: 502, url: "http://api.example/x"},
			expected: entity.FetchErrorTransient,
		},
		{
			name:     "not found is transient",
			err:      &httpStatusError{status: 404, url: "http://api.example/x"},
			expected: entity.FetchErrorTransient,
		},
		{
			name:     "connection refused is a proxy problem",
			err:      errors.New("request failed: dial tcp 10.0.0.1:3128: connection refused"),
			expected: entity.FetchErrorProxy,
		},
		{
			name:     "tunnel failure is a proxy problem",
			err:      errors.New("could not establish tunnel to remote"),
			expected: entity.FetchErrorProxy,
		},
		{
			name:     "timeout is transient",
			err:      errors.New("timeout exceeded while reading body"),
			expected: entity.FetchErrorTransient,
		},
		{
			name:     "malformed body is transient",
			err:      errors.New("failed to unmarshal response"),
			expected: entity.FetchErrorTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyHTTPError(tt.err))
		})
	}
}

func TestClassifyHTTPErrorWrapped(t *testing.T) {
	inner := &httpStatusError{status: 407, url: "http://api.example/x"}
	wrapped := errors.Join(errors.New("outer"), inner)
	assert.Equal(t, entity.FetchErrorProxy, classifyHTTPError(wrapped))
}
