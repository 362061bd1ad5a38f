// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockInvoker is the slice of the Bedrock runtime client the adapter
// uses, extracted for tests.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// bedrockProvider invokes Anthropic-family models hosted on AWS Bedrock
// with Signature V4 authentication from the ambient IAM role.
type bedrockProvider struct {
	config ModelConfig
	client bedrockInvoker
}

// NewBedrockProvider creates an adapter for AWS Bedrock. config.BaseURL
// carries the AWS region; credentials come from the default chain.
func NewBedrockProvider(config ModelConfig) (Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for region %s: %w", config.BaseURL, err)
	}
	return &bedrockProvider{
		config: config,
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func newBedrockProviderWithClient(config ModelConfig, client bedrockInvoker) Provider {
	return &bedrockProvider{config: config, client: client}
}

func (p *bedrockProvider) Name() string             { return p.config.Name }
func (p *bedrockProvider) Config() ModelConfig      { return p.config }
func (p *bedrockProvider) SupportsMultimodal() bool { return false }

func (p *bedrockProvider) Predict(ctx context.Context, prompt string) (*Prediction, error) {
	if !strings.HasPrefix(p.config.Model, "anthropic.") {
		return nil, newProviderError(p.config.Name, ErrCodeDisabled,
			fmt.Sprintf("unsupported Bedrock model family: %s", p.config.Model), nil)
	}

	requestJSON, err := json.Marshal(map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        p.config.MaxTokens,
		"temperature":       p.config.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to marshal request", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.config.Model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, newProviderError(p.config.Name, ErrCodeTimeout, "request timed out", err)
		}
		return nil, newProviderError(p.config.Name, ErrCodeAPIError, "invoke failed", err)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "failed to decode response", err)
	}
	if len(parsed.Content) == 0 {
		return nil, newProviderError(p.config.Name, ErrCodeInvalidResponse, "response contains no content", nil)
	}

	tokens := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	if tokens == 0 {
		tokens = EstimateTokens(prompt, parsed.Content[0].Text)
	}

	return &Prediction{Model: p.config.Name, Content: parsed.Content[0].Text, TokensUsed: tokens}, nil
}

func (p *bedrockProvider) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) (*Prediction, error) {
	return nil, newProviderError(p.config.Name, ErrCodeDisabled, "model is not multimodal-capable", nil)
}
