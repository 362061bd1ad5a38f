// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(name, model, baseURL string, multimodal bool) ModelConfig {
	return ModelConfig{
		Name: name, APIKey: "test-key", Model: model, BaseURL: baseURL,
		Temperature: 0.2, MaxTokens: 1500, Timeout: 5 * time.Second,
		Priority: 5, Enabled: true, Multimodal: multimodal,
	}
}

func TestOpenAIProviderUsageExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req openAIRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-4o", req.Model)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"intention":"creation_service"}`}},
			},
			"usage": map[string]int{"prompt_tokens": 120, "completion_tokens": 80, "total_tokens": 200},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(testConfig("openai-gpt4o", "gpt-4o", server.URL, true), nil)

	pred, err := p.Predict(context.Background(), "Je vends un ordinateur portable")
	require.NoError(t, err)
	assert.Equal(t, "openai-gpt4o", pred.Model)
	assert.Equal(t, 200, pred.TokensUsed)
	assert.Contains(t, pred.Content, "creation_service")
}

func TestOpenAIProviderMultimodalAttachesDataURIs(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
			"usage":   map[string]int{"total_tokens": 42},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(testConfig("openai-gpt4o", "gpt-4o", server.URL, true), nil)

	images := []ImageInput{{MimeType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}}
	pred, err := p.PredictMultimodal(context.Background(), "describe", images)
	require.NoError(t, err)
	assert.Equal(t, 42, pred.TokensUsed)

	require.Len(t, captured.Messages, 1)
	parts, ok := captured.Messages[0].Content.([]interface{})
	require.True(t, ok)
	require.Len(t, parts, 2)

	imgPart, ok := parts[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "image_url", imgPart["type"])
	imgURL := imgPart["image_url"].(map[string]interface{})
	assert.Contains(t, imgURL["url"], "data:image/jpeg;base64,")
	assert.Equal(t, "high", imgURL["detail"])
}

func TestOpenAIProviderErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
	}{
		{http.StatusUnauthorized, ErrCodeAuth},
		{http.StatusTooManyRequests, ErrCodeRateLimited},
		{http.StatusInternalServerError, ErrCodeAPIError},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		p := NewOpenAIProvider(testConfig("openai-gpt4o", "gpt-4o", server.URL, false), nil)
		_, err := p.Predict(context.Background(), "prompt")
		server.Close()

		var provErr *ProviderError
		require.True(t, errors.As(err, &provErr))
		assert.Equal(t, tt.wantCode, provErr.Code)
	}
}

func TestAnthropicProviderUsageExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "réponse"}},
			"usage":   map[string]int{"input_tokens": 150, "output_tokens": 350},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider(testConfig("claude-3-5-sonnet", "claude-3-5-sonnet-20241022", server.URL, true), nil)

	pred, err := p.Predict(context.Background(), "prompt")
	require.NoError(t, err)
	// input_tokens + output_tokens
	assert.Equal(t, 500, pred.TokensUsed)
	assert.Equal(t, "réponse", pred.Content)
}

func TestGeminiProviderUsageExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": "sortie"}}}},
			},
			"usageMetadata": map[string]int{"promptTokenCount": 100, "candidatesTokenCount": 60, "totalTokenCount": 160},
		})
	}))
	defer server.Close()

	p := NewGeminiProvider(testConfig("gemini-1.5-pro", "gemini-1.5-pro", server.URL, true), nil)

	pred, err := p.Predict(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, 160, pred.TokensUsed)
	assert.Equal(t, "sortie", pred.Content)
}

func TestCohereProviderUsageExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"text": "generated",
			"meta": map[string]interface{}{
				"billed_units": map[string]int{"input_tokens": 30, "output_tokens": 45},
			},
		})
	}))
	defer server.Close()

	p := NewCohereProvider(testConfig("cohere-command", "command", server.URL, false), nil)

	pred, err := p.Predict(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, 75, pred.TokensUsed)

	_, err = p.PredictMultimodal(context.Background(), "prompt", []ImageInput{{}})
	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, ErrCodeDisabled, provErr.Code)
}

func TestOllamaProviderEstimatesTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"response": "une réponse du modèle local qui fait plus de vingt caractères",
			"done":     true,
		})
	}))
	defer server.Close()

	cfg := testConfig("ollama-mistral", "mistral", server.URL, false)
	cfg.APIKey = ""
	p := NewOllamaProvider(cfg, nil)

	prompt := "Je cherche un restaurant à Douala"
	pred, err := p.Predict(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, EstimateTokens(prompt, pred.Content), pred.TokensUsed)
	assert.Greater(t, pred.TokensUsed, 0)
}

func TestAdapterTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	p := NewOpenAIProvider(testConfig("openai-gpt4o", "gpt-4o", server.URL, false), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Predict(ctx, "prompt")
	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, ErrCodeTimeout, provErr.Code)
}
