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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiProvider speaks the Google Generative Language protocol.
type geminiProvider struct {
	config ModelConfig
	client HTTPClient
}

// NewGeminiProvider creates an adapter for the Gemini API.
func NewGeminiProvider(config ModelConfig, client HTTPClient) Provider {
	if config.BaseURL == "" {
		config.BaseURL = defaultGeminiBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout + 5*time.Second}
	}
	return &geminiProvider{config: config, client: client}
}

func (p *geminiProvider) Name() string             { return p.config.Name }
func (p *geminiProvider) Config() ModelConfig      { return p.config }
func (p *geminiProvider) SupportsMultimodal() bool { return p.config.Multimodal }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *geminiProvider) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	parts := []geminiPart{{Text: prompt}}
	return p.complete(ctx, prompt, parts)
}

func (p *geminiProvider) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error) {
	if !p.config.Multimodal {
		return nil, newProviderError(p.config.Name, ErrCodeDisabled, "model is not multimodal-capable", nil)
	}

	parts := []geminiPart{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: img.MimeType,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	return p.complete(ctx, prompt, parts)
}

func (p *geminiProvider) complete(ctx context.Context, prompt string, parts []geminiPart) (*Prediction, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.config.Temperature,
			MaxOutputTokens: p.config.MaxTokens,
			TopP:            p.config.TopP,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.config.BaseURL, p.config.Model, p.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to decode response", err)
	}
	if parsed.Error != nil {
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, parsed.Error.Message, nil)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "response contains no candidates", nil)
	}

	var content string
	for _, part := range parsed.Candidates[0].Content.Parts {
		content += part.Text
	}

	tokens := parsed.UsageMetadata.TotalTokenCount
	if tokens == 0 {
		tokens = EstimateTokens(prompt, content)
	}

	return &Prediction{Model: p.config.Name, Content: content, TokensUsed: tokens}, nil
}
