// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"os"
	"time"
)

// Provider is the uniform surface over one configured LLM backend.
//
// Implementations must be safe for concurrent use. Predict and
// PredictMultimodal must honor context cancellation; the pool enforces a
// hard wall-clock timeout around every call.
type Provider interface {
	// Name returns the pool entry name (not the vendor model id).
	Name() string

	// Config returns the entry configuration.
	Config() ModelConfig

	// Predict sends a text-only prompt and returns the model output with
	// token usage.
	Predict(ctx context.Context, prompt string) (*Prediction, error)

	// PredictMultimodal sends a prompt with attached images. Providers
	// without multimodal support return a PROVIDER_DISABLED error.
	PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error)

	// SupportsMultimodal reports whether images can be attached.
	SupportsMultimodal() bool
}

// ModelConfigsFromEnv builds the provider roster from environment
// credentials. Every vendor key that is present enables its fixed set of
// entries; nothing else is consulted, so deployment controls the roster by
// which keys it injects.
func ModelConfigsFromEnv() []ModelConfig {
	var configs []ModelConfig

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		configs = append(configs,
			ModelConfig{
				Name: "openai-gpt4o", APIKey: key, Model: "gpt-4o",
				Temperature: 0.2, MaxTokens: 1500, TopP: 1.0,
				Timeout: 40 * time.Second, RetryCount: 1, Priority: 10,
				CostPerToken: 0.0000025, Enabled: true, Multimodal: true,
			},
			ModelConfig{
				Name: "openai-gpt4-turbo", APIKey: key, Model: "gpt-4-turbo",
				Temperature: 0.2, MaxTokens: 1500, TopP: 1.0,
				Timeout: 20 * time.Second, RetryCount: 1, Priority: 9,
				CostPerToken: 0.00001, Enabled: true, Multimodal: true,
			},
			ModelConfig{
				Name: "openai-gpt35", APIKey: key, Model: "gpt-3.5-turbo",
				Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
				Timeout: 30 * time.Second, RetryCount: 1, Priority: 7,
				CostPerToken: 0.0000005, Enabled: true,
			},
		)
	}

	if key := os.Getenv("MISTRAL_API_KEY"); key != "" {
		configs = append(configs, ModelConfig{
			Name: "mistral-large", APIKey: key, Model: "mistral-large-latest",
			BaseURL:     "https://api.mistral.ai/v1",
			Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
			Timeout: 20 * time.Second, RetryCount: 1, Priority: 9,
			CostPerToken: 0.000002, Enabled: true,
		})
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		configs = append(configs,
			ModelConfig{
				Name: "gemini-1.5-pro", APIKey: key, Model: "gemini-1.5-pro",
				Temperature: 0.3, MaxTokens: 2000, TopP: 1.0,
				Timeout: 40 * time.Second, RetryCount: 1, Priority: 8,
				CostPerToken: 0.00000125, Enabled: true, Multimodal: true,
			},
			ModelConfig{
				Name: "gemini-pro", APIKey: key, Model: "gemini-pro",
				Temperature: 0.3, MaxTokens: 2000, TopP: 1.0,
				Timeout: 30 * time.Second, RetryCount: 1, Priority: 8,
				CostPerToken: 0.0000005, Enabled: true, Multimodal: true,
			},
		)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		configs = append(configs,
			ModelConfig{
				Name: "claude-3-5-sonnet", APIKey: key, Model: "claude-3-5-sonnet-20241022",
				Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
				Timeout: 40 * time.Second, RetryCount: 1, Priority: 8,
				CostPerToken: 0.000003, Enabled: true, Multimodal: true,
			},
			ModelConfig{
				Name: "claude-3-sonnet", APIKey: key, Model: "claude-3-sonnet-20240229",
				Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
				Timeout: 30 * time.Second, RetryCount: 1, Priority: 7,
				CostPerToken: 0.000003, Enabled: true, Multimodal: true,
			},
		)
	}

	if key := os.Getenv("COHERE_API_KEY"); key != "" {
		configs = append(configs, ModelConfig{
			Name: "cohere-command", APIKey: key, Model: "command",
			Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
			Timeout: 30 * time.Second, RetryCount: 1, Priority: 6,
			CostPerToken: 0.000001, Enabled: true,
		})
	}

	if url := os.Getenv("OLLAMA_URL"); url != "" {
		configs = append(configs,
			ModelConfig{
				Name: "ollama-mistral", BaseURL: url, Model: "mistral",
				Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
				Timeout: 30 * time.Second, RetryCount: 1, Priority: 5,
				Enabled: true,
			},
			ModelConfig{
				Name: "ollama-llama2", BaseURL: url, Model: "llama2",
				Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
				Timeout: 30 * time.Second, RetryCount: 1, Priority: 4,
				Enabled: true,
			},
		)
	}

	if region, model := os.Getenv("AWS_REGION"), os.Getenv("BEDROCK_MODEL_ID"); region != "" && model != "" {
		configs = append(configs, ModelConfig{
			Name: "bedrock", Model: model, BaseURL: region,
			Temperature: 0.3, MaxTokens: 1500, TopP: 1.0,
			Timeout: 30 * time.Second, RetryCount: 1, Priority: 6,
			CostPerToken: 0.000003, Enabled: true,
		})
	}

	return configs
}
