// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"fmt"
	"net/http"
	"time"
)

// ModelConfig is the per-provider configuration. One ModelConfig produces
// one Provider in the pool; the same vendor may appear several times with
// different models and priorities.
type ModelConfig struct {
	// Name uniquely identifies the provider entry (e.g. "openai-gpt4o").
	Name string `json:"name"`

	// APIKey authenticates against the vendor API. Empty disables the entry
	// except for local backends (Ollama).
	APIKey string `json:"-"`

	// BaseURL overrides the vendor default endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Model is the vendor-side model identifier.
	Model string `json:"model"`

	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`

	// Timeout is the per-call wall-clock budget for this entry.
	Timeout time.Duration `json:"timeout"`

	// RetryCount is the number of in-adapter retries on transient errors.
	RetryCount int `json:"retry_count"`

	// Priority orders pool iteration, 1-10, higher first.
	Priority int `json:"priority"`

	// CostPerToken is the vendor cost in USD per token, informational.
	CostPerToken float64 `json:"cost_per_token"`

	Enabled    bool `json:"enabled"`
	Multimodal bool `json:"multimodal"`
}

// Prediction is the uniform result of a provider call.
type Prediction struct {
	// Model is the pool entry name that produced the response.
	Model string `json:"model"`

	// Content is the raw text returned by the provider.
	Content string `json:"content"`

	// TokensUsed is the vendor-reported total token usage, or an estimate
	// when the vendor does not report usage.
	TokensUsed int `json:"tokens_used"`
}

// ImageInput is one decoded image attached to a multimodal call.
type ImageInput struct {
	MimeType string
	Data     []byte
}

// HTTPClient is the minimal HTTP surface adapters depend on.
// It allows injecting a mock client in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider error codes.
const (
	ErrCodeAuth            = "AUTH_FAILED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeInvalidResponse = "INVALID_RESPONSE"
	ErrCodeAPIError        = "API_ERROR"
	ErrCodeDisabled        = "PROVIDER_DISABLED"
	ErrCodeExhausted       = "ALL_PROVIDERS_EXHAUSTED"
)

// ProviderError is a structured error emitted by adapters and the pool.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether iterating to the next provider makes sense.
// Auth failures are retryable at pool level (the next vendor has its own
// credentials) even though they are not retryable against the same vendor.
func (e *ProviderError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimited, ErrCodeTimeout, ErrCodeAPIError, ErrCodeInvalidResponse, ErrCodeAuth:
		return true
	}
	return false
}

func newProviderError(provider, code, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message, Cause: cause}
}

// classifyStatus maps an HTTP status to a provider error code.
func classifyStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeAuth
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status >= 500:
		return ErrCodeAPIError
	default:
		return ErrCodeAPIError
	}
}

// EstimateTokens approximates usage when the vendor reports none:
// one token per four characters, floored at 10 for the prompt and 5 for
// the completion.
func EstimateTokens(prompt, content string) int {
	promptTokens := len(prompt) / 4
	if promptTokens < 10 {
		promptTokens = 10
	}
	completionTokens := len(content) / 4
	if completionTokens < 5 {
		completionTokens = 5
	}
	return promptTokens + completionTokens
}
