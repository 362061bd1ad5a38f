// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

const (
	// textCallTimeout is the hard per-candidate budget for text calls,
	// regardless of the entry's own configured timeout.
	textCallTimeout = 15 * time.Second

	// multimodalCallTimeoutMin / Max bound the per-candidate budget for
	// multimodal calls.
	multimodalCallTimeoutMin = 30 * time.Second
	multimodalCallTimeoutMax = 40 * time.Second
)

// Pool iterates a priority-ordered roster of providers until one succeeds.
// Provider failures never surface: when every candidate fails, a
// deterministic fallback payload is returned instead of an error.
type Pool struct {
	mu        sync.RWMutex
	providers []Provider // sorted by priority descending
	metrics   *MetricsTracker
	log       *logger.Logger
}

// PoolOption configures the Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger.
func WithPoolLogger(l *logger.Logger) PoolOption {
	return func(p *Pool) { p.log = l }
}

// WithProviders sets the roster explicitly (tests, custom wiring).
func WithProviders(providers ...Provider) PoolOption {
	return func(p *Pool) { p.providers = providers }
}

// NewPool creates a pool from the given options and sorts the roster by
// priority descending.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{metrics: NewMetricsTracker()}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.New("llm-pool")
	}
	sortByPriority(p.providers)
	return p
}

// NewPoolFromEnv builds the roster from environment credentials.
func NewPoolFromEnv(log *logger.Logger) *Pool {
	configs := ModelConfigsFromEnv()
	providers := make([]Provider, 0, len(configs))

	for _, cfg := range configs {
		provider, err := buildProvider(cfg)
		if err != nil {
			log.Warn("", "", "Skipping provider", map[string]interface{}{
				"provider": cfg.Name, "error": err.Error(),
			})
			continue
		}
		providers = append(providers, provider)
	}

	log.Info("", "", "Provider pool initialized", map[string]interface{}{
		"providers": len(providers),
	})

	return NewPool(WithProviders(providers...), WithPoolLogger(log))
}

func buildProvider(cfg ModelConfig) (Provider, error) {
	switch {
	case strings.HasPrefix(cfg.Name, "openai-"), strings.HasPrefix(cfg.Name, "mistral-"):
		return NewOpenAIProvider(cfg, nil), nil
	case strings.HasPrefix(cfg.Name, "claude-"):
		return NewAnthropicProvider(cfg, nil), nil
	case strings.HasPrefix(cfg.Name, "gemini-"):
		return NewGeminiProvider(cfg, nil), nil
	case strings.HasPrefix(cfg.Name, "cohere-"):
		return NewCohereProvider(cfg, nil), nil
	case strings.HasPrefix(cfg.Name, "ollama-"):
		return NewOllamaProvider(cfg, nil), nil
	case cfg.Name == "bedrock":
		return NewBedrockProvider(cfg)
	default:
		return NewOpenAIProvider(cfg, nil), nil
	}
}

// Metrics returns the per-model metrics tracker.
func (p *Pool) Metrics() *MetricsTracker {
	return p.metrics
}

// Providers returns the current roster snapshot, priority-ordered.
func (p *Pool) Providers() []Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Provider, len(p.providers))
	copy(out, p.providers)
	return out
}

// Predict runs the text prediction chain. Every enabled provider gets one
// shot under a 15s hard timeout, priority-descending; the first success
// wins. All-fail returns the fallback payload, never an error.
func (p *Pool) Predict(ctx context.Context, prompt string) *Prediction {
	for _, provider := range p.enabled(false) {
		pred, err := p.callOne(ctx, provider, prompt, nil, textCallTimeout)
		if err != nil {
			continue
		}
		return pred
	}

	p.log.Warn("", "", "All providers exhausted, serving fallback payload", nil)
	return FallbackPrediction()
}

// PredictMultimodal runs the prediction chain over multimodal-capable
// providers with attached images. When none succeeds (or none exists), it
// falls back to the text-only chain.
func (p *Pool) PredictMultimodal(ctx context.Context, prompt string, images []ImageInput) *Prediction {
	if len(images) == 0 {
		return p.Predict(ctx, prompt)
	}

	for _, provider := range p.enabled(true) {
		timeout := provider.Config().Timeout
		if timeout < multimodalCallTimeoutMin {
			timeout = multimodalCallTimeoutMin
		}
		if timeout > multimodalCallTimeoutMax {
			timeout = multimodalCallTimeoutMax
		}

		pred, err := p.callOne(ctx, provider, prompt, images, timeout)
		if err != nil {
			continue
		}
		return pred
	}

	p.log.Warn("", "", "No multimodal provider succeeded, retrying text-only", nil)
	return p.Predict(ctx, prompt)
}

// callOne issues one provider call under a hard timeout and records metrics.
func (p *Pool) callOne(ctx context.Context, provider Provider, prompt string, images []ImageInput, timeout time.Duration) (*Prediction, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	var pred *Prediction
	var err error
	if images != nil {
		pred, err = provider.PredictMultimodal(callCtx, prompt, images)
	} else {
		pred, err = provider.Predict(callCtx, prompt)
	}

	if err != nil {
		p.metrics.RecordFailure(provider.Name())
		p.log.Warn("", "", "Provider call failed", map[string]interface{}{
			"provider": provider.Name(),
			"error":    err.Error(),
		})
		return nil, err
	}

	p.metrics.RecordSuccess(provider.Name(), pred.TokensUsed, provider.Config().CostPerToken, time.Since(start))
	return pred, nil
}

// enabled snapshots the roster, optionally restricted to multimodal-capable
// entries. The snapshot keeps the priority order.
func (p *Pool) enabled(multimodalOnly bool) []Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Provider, 0, len(p.providers))
	for _, provider := range p.providers {
		cfg := provider.Config()
		if !cfg.Enabled {
			continue
		}
		if multimodalOnly && !provider.SupportsMultimodal() {
			continue
		}
		out = append(out, provider)
	}
	return out
}

func sortByPriority(providers []Provider) {
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].Config().Priority > providers[j].Config().Priority
	})
}

// fallbackContent is the minimal service-creation document served when
// every provider fails. Fields carry origine_champs "fallback" so
// downstream consumers can tell the payload was synthesized.
const fallbackContent = `{
  "intention": "creation_service",
  "data": {
    "titre_service": {"type_donnee": "string", "valeur": "Service à compléter", "origine_champs": "fallback"},
    "description": {"type_donnee": "string", "valeur": "Description à compléter par l'utilisateur", "origine_champs": "fallback"},
    "category": {"type_donnee": "string", "valeur": "Autre", "origine_champs": "fallback"},
    "is_tarissable": {"type_donnee": "boolean", "valeur": false, "origine_champs": "fallback"}
  }
}`

// fallbackTokenCost is the fixed billable usage of a fallback response.
const fallbackTokenCost = 5

// FallbackModelName identifies synthesized all-providers-failed output.
const FallbackModelName = "fallback"

// FallbackPrediction returns the deterministic all-providers-failed payload.
func FallbackPrediction() *Prediction {
	return &Prediction{
		Model:      FallbackModelName,
		Content:    fallbackContent,
		TokensUsed: fallbackTokenCost,
	}
}
