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

const defaultCohereBaseURL = "https://api.cohere.ai"

// cohereProvider speaks the Cohere chat protocol. Text-only.
type cohereProvider struct {
	config ModelConfig
	client HTTPClient
}

// NewCohereProvider creates an adapter for the Cohere API.
func NewCohereProvider(config ModelConfig, client HTTPClient) Provider {
	if config.BaseURL == "" {
		config.BaseURL = defaultCohereBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout + 5*time.Second}
	}
	return &cohereProvider{config: config, client: client}
}

func (p *cohereProvider) Name() string             { return p.config.Name }
func (p *cohereProvider) Config() ModelConfig      { return p.config }
func (p *cohereProvider) SupportsMultimodal() bool { return false }

type cohereRequest struct {
	Model       string  `json:"model"`
	Message     string  `json:"message"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type cohereResponse struct {
	Text string `json:"text"`
	Meta struct {
		BilledUnits struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
	Message string `json:"message,omitempty"`
}

func (p *cohereProvider) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	reqBody := cohereRequest{
		Model:       p.config.Model,
		Message:     prompt,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

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

	var parsed cohereResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to decode response", err)
	}
	if parsed.Text == "" {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "response contains no text", nil)
	}

	tokens := parsed.Meta.BilledUnits.InputTokens + parsed.Meta.BilledUnits.OutputTokens
	if tokens == 0 {
		tokens = EstimateTokens(prompt, parsed.Text)
	}

	return &Prediction{Model: p.config.Name, Content: parsed.Text, TokensUsed: tokens}, nil
}

func (p *cohereProvider) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error) {
	return nil, newProviderError(p.config.Name, ErrCodeDisabled, "model is not multimodal-capable", nil)
}
