// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ollamaProvider speaks the Ollama generate protocol against a self-hosted
// instance. Ollama reports no billable usage, so token counts are always
// estimated.
type ollamaProvider struct {
	config ModelConfig
	client HTTPClient
}

// NewOllamaProvider creates an adapter for a local Ollama server.
// config.BaseURL must point at the instance (OLLAMA_URL).
func NewOllamaProvider(config ModelConfig, client HTTPClient) Provider {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout + 5*time.Second}
	}
	return &ollamaProvider{config: config, client: client}
}

func (p *ollamaProvider) Name() string             { return p.config.Name }
func (p *ollamaProvider) Config() ModelConfig      { return p.config }
func (p *ollamaProvider) SupportsMultimodal() bool { return false }

type ollamaRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (p *ollamaProvider) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	reqBody := ollamaRequest{
		Model:  p.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": p.config.Temperature,
			"num_predict": p.config.MaxTokens,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, newProviderError(p.config.Name, ErrCodeTimeout, "request timed out", err)
		}
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newProviderError(p.config.Name, classifyStatus(resp.StatusCode),
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(body)), nil)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to decode response", err)
	}
	if parsed.Error != "" {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, parsed.Error, nil)
	}

	return &Prediction{
		Model:      p.config.Name,
		Content:    parsed.Response,
		TokensUsed: EstimateTokens(prompt, parsed.Response),
	}, nil
}

func (p *ollamaProvider) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error) {
	return nil, newProviderError(p.config.Name, ErrCodeDisabled, "model is not multimodal-capable", nil)
}
