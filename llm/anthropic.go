// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// anthropicProvider speaks the Anthropic messages protocol.
type anthropicProvider struct {
	config ModelConfig
	client HTTPClient
}

// NewAnthropicProvider creates an adapter for the Anthropic API.
func NewAnthropicProvider(config ModelConfig, client HTTPClient) Provider {
	if config.BaseURL == "" {
		config.BaseURL = defaultAnthropicBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout + 5*time.Second}
	}
	return &anthropicProvider{config: config, client: client}
}

func (p *anthropicProvider) Name() string             { return p.config.Name }
func (p *anthropicProvider) Config() ModelConfig      { return p.config }
func (p *anthropicProvider) SupportsMultimodal() bool { return p.config.Multimodal }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type anthropicContentBlock struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Source *anthropicImgSource `json:"source,omitempty"`
}

type anthropicImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *anthropicProvider) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	return p.complete(ctx, prompt, []anthropicMessage{{Role: "user", Content: prompt}})
}

func (p *anthropicProvider) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error) {
	if !p.config.Multimodal {
		return nil, newProviderError(p.config.Name, ErrCodeDisabled, "model is not multimodal-capable", nil)
	}

	blocks := make([]anthropicContentBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &anthropicImgSource{
				Type:      "base64",
				MediaType: img.MimeType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: prompt})

	return p.complete(ctx, prompt, []anthropicMessage{{Role: "user", Content: blocks}})
}

func (p *anthropicProvider) complete(ctx context.Context, prompt string, messages []anthropicMessage) (*Prediction, error) {
	reqBody := anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		TopP:        p.config.TopP,
		Messages:    messages,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

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

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to decode response", err)
	}
	if parsed.Error != nil {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, parsed.Error.Message, nil)
	}
	if len(parsed.Content) == 0 {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "response contains no content blocks", nil)
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	tokens := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	if tokens == 0 {
		tokens = EstimateTokens(prompt, content)
	}

	return &Prediction{Model: p.config.Name, Content: content, TokensUsed: tokens}, nil
}
