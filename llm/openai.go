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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIProvider speaks the OpenAI chat-completions protocol. Mistral
// exposes the same wire format, so both vendors share this adapter with a
// different base URL.
type openAIProvider struct {
	config ModelConfig
	client HTTPClient
}

// NewOpenAIProvider creates an adapter for an OpenAI-compatible backend.
func NewOpenAIProvider(config ModelConfig, client HTTPClient) Provider {
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout + 5*time.Second}
	}
	return &openAIProvider{config: config, client: client}
}

func (p *openAIProvider) Name() string             { return p.config.Name }
func (p *openAIProvider) Config() ModelConfig      { return p.config }
func (p *openAIProvider) SupportsMultimodal() bool { return p.config.Multimodal }

// Wire types for the chat-completions endpoint.

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Temperature      float64         `json:"temperature"`
	MaxTokens        int             `json:"max_tokens"`
	TopP             float64         `json:"top_p,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64         `json:"presence_penalty,omitempty"`
}

type openAIMessage struct {
	Role string `json:"role"`
	// Content is a string for text-only calls and a part list for
	// multimodal calls.
	Content interface{} `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *openAIProvider) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	return p.complete(ctx, prompt, []openAIMessage{{Role: "user", Content: prompt}})
}

func (p *openAIProvider) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error) {
	if !p.config.Multimodal {
		return nil, newProviderError(p.config.Name, ErrCodeDisabled, "model is not multimodal-capable", nil)
	}

	parts := []openAIContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		dataURI := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, openAIContentPart{
			Type:     "image_url",
			ImageURL: &openAIImageURL{URL: dataURI, Detail: "high"},
		})
	}

	return p.complete(ctx, prompt, []openAIMessage{{Role: "user", Content: parts}})
}

func (p *openAIProvider) complete(ctx context.Context, prompt string, messages []openAIMessage) (*Prediction, error) {
	reqBody := openAIRequest{
		Model:            p.config.Model,
		Messages:         messages,
		Temperature:      p.config.Temperature,
		MaxTokens:        p.config.MaxTokens,
		TopP:             p.config.TopP,
		FrequencyPenalty: p.config.FrequencyPenalty,
		PresencePenalty:  p.config.PresencePenalty,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
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

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to decode response", err)
	}
	if parsed.Error != nil {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "response contains no choices", nil)
	}

	content := parsed.Choices[0].Message.Content
	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		tokens = EstimateTokens(prompt, content)
	}

	return &Prediction{Model: p.config.Name, Content: content, TokensUsed: tokens}, nil
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
