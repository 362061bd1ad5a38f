// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

const (
	// redisMirrorTimeout bounds the background durability write.
	redisMirrorTimeout = 2 * time.Second

	// redisLookupTimeout bounds the exact-tier read-through.
	redisLookupTimeout = 1500 * time.Millisecond

	// predictedOverlapThreshold is the minimum Jaccard word overlap for a
	// predicted-response hit.
	predictedOverlapThreshold = 0.9

	// precomputeConfidenceThreshold gates background precompute tasks.
	precomputeConfidenceThreshold = 0.8

	// precomputeTimeout bounds one background precompute call.
	precomputeTimeout = 30 * time.Second
)

// Entry is one cached response with its retrieval metadata.
type Entry struct {
	Content        string    `json:"content"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
	AccessCount    int64     `json:"access_count"`
	TTLSeconds     int64     `json:"ttl_seconds"`
	Embedding      []float64 `json:"embedding"`
	ContextHash    string    `json:"context_hash"`
	QualityScore   float64   `json:"quality_score"`
	UserFeedback   *float64  `json:"user_feedback,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ModelUsed      string    `json:"model_used"`
}

// PredictedQuery is a precomputed likely follow-up query.
type PredictedQuery struct {
	Query      string
	Confidence float64
	Response   string // empty until the precompute task fills it
}

// Stats is the running hit/miss accounting, surfaced by the metrics
// endpoint.
type Stats struct {
	TotalRequests       int64   `json:"total_requests"`
	ExactHits           int64   `json:"exact_hits"`
	SemanticHits        int64   `json:"semantic_hits"`
	PredictedHits       int64   `json:"predicted_hits"`
	Misses              int64   `json:"misses"`
	AvgHitSimilarity    float64 `json:"avg_hit_similarity"`
	PrecomputeSuccess   int64   `json:"precompute_success"`
	QualityAdjustments  int64   `json:"quality_adjustments"`
	MemoryEntries       int     `json:"memory_entries"`
	MaxMemoryEntries    int     `json:"max_memory_entries"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// Config sizes the cache. Use ConfigForEnv for the standard profiles.
type Config struct {
	MaxEntries          int
	TTL                 time.Duration
	SimilarityThreshold float64
	EmbeddingDim        int
}

// ConfigForEnv returns production sizing (10k entries, 1536 dims,
// threshold 0.92) or development sizing (1k entries, 768 dims, threshold
// 0.85). Thresholds can be overridden with
// SEMANTIC_CACHE_PRO_PRODUCTION_THRESHOLD / SEMANTIC_CACHE_PRO_DEV_THRESHOLD.
func ConfigForEnv(production bool) Config {
	cfg := Config{
		MaxEntries:          1000,
		TTL:                 time.Hour,
		SimilarityThreshold: 0.85,
		EmbeddingDim:        768,
	}
	envKey := "SEMANTIC_CACHE_PRO_DEV_THRESHOLD"

	if production {
		cfg.MaxEntries = 10000
		cfg.SimilarityThreshold = 0.92
		cfg.EmbeddingDim = 1536
		envKey = "SEMANTIC_CACHE_PRO_PRODUCTION_THRESHOLD"
	}

	if v := os.Getenv(envKey); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.SimilarityThreshold = f
		}
	}

	return cfg
}

// PrecomputeFunc produces a response for a predicted query in the
// background. Returning an error drops the prediction silently.
type PrecomputeFunc func(ctx context.Context, query string) (string, error)

// SmartCache is the two-tier semantic cache: exact fingerprint lookup,
// then embedding-cosine retrieval, then precomputed predicted queries.
type SmartCache struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	predicted []PredictedQuery

	config   Config
	embedder Embedder
	rdb      *redis.Client // optional durability mirror
	log      *logger.Logger

	precompute PrecomputeFunc

	statsMu       sync.Mutex
	stats         Stats
	hitSimilarity float64 // running sum for AvgHitSimilarity
}

// Option configures the SmartCache.
type Option func(*SmartCache)

// WithRedisMirror enables the persistent Redis mirror.
func WithRedisMirror(rdb *redis.Client) Option {
	return func(c *SmartCache) { c.rdb = rdb }
}

// WithEmbedder overrides the default hash-fold embedder.
func WithEmbedder(e Embedder) Option {
	return func(c *SmartCache) { c.embedder = e }
}

// WithPrecomputeFunc sets the background precompute callback.
func WithPrecomputeFunc(fn PrecomputeFunc) Option {
	return func(c *SmartCache) { c.precompute = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *SmartCache) { c.log = l }
}

// New creates a SmartCache with the given sizing.
func New(config Config, opts ...Option) *SmartCache {
	c := &SmartCache{
		entries: make(map[string]*Entry),
		config:  config,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.embedder == nil {
		c.embedder = NewHashFoldEmbedder(config.EmbeddingDim)
	}
	if c.log == nil {
		c.log = logger.New("semantic-cache")
	}
	c.stats.MaxMemoryEntries = config.MaxEntries
	c.stats.SimilarityThreshold = config.SimilarityThreshold
	return c
}

// Fingerprint returns the exact-tier key for a query in a user context.
func Fingerprint(query, userContext string) string {
	sum := sha256.Sum256([]byte(query + "\x00" + userContext))
	return hex.EncodeToString(sum[:16])
}

// GetSmart looks up a response for query in three steps: exact
// fingerprint, semantic cosine above the threshold (best match wins),
// then predicted-query overlap. Returns nil on miss.
func (c *SmartCache) GetSmart(ctx context.Context, query, userContext string) *Entry {
	c.statsMu.Lock()
	c.stats.TotalRequests++
	c.statsMu.Unlock()

	key := Fingerprint(query, userContext)

	// Tier 1: exact.
	if entry := c.touch(key); entry != nil {
		c.recordHit(&c.stats.ExactHits, 1.0)
		return entry
	}

	// Exact tier falls through to the Redis mirror before the scan.
	if entry := c.lookupMirror(ctx, key); entry != nil {
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		c.recordHit(&c.stats.ExactHits, 1.0)
		return entry
	}

	// Tier 2: semantic.
	contextHash := hashContext(userContext)
	queryEmbedding := c.embedder.Embed(query)

	if entry, similarity := c.bestSemanticMatch(queryEmbedding, contextHash); entry != nil {
		c.recordHit(&c.stats.SemanticHits, similarity)
		return entry
	}

	// Tier 3: predicted responses.
	if entry := c.predictedMatch(query); entry != nil {
		c.recordHit(&c.stats.PredictedHits, 1.0)
		return entry
	}

	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
	return nil
}

// StoreSmart inserts a response into both tiers. When the in-memory map
// is full the least recently accessed entry is evicted. The Redis mirror
// write runs inline under a short timeout and its failure is swallowed.
func (c *SmartCache) StoreSmart(ctx context.Context, query, userContext, response string, latencyMs int64, model string) {
	key := Fingerprint(query, userContext)
	now := time.Now()

	entry := &Entry{
		Content:        response,
		Confidence:     0.9,
		CreatedAt:      now,
		LastAccessed:   now,
		AccessCount:    0,
		TTLSeconds:     int64(c.config.TTL.Seconds()),
		Embedding:      c.embedder.Embed(query),
		ContextHash:    hashContext(userContext),
		QualityScore:   0.8,
		ResponseTimeMs: latencyMs,
		ModelUsed:      model,
	}

	c.mu.Lock()
	if len(c.entries) >= c.config.MaxEntries {
		c.evictLRU()
	}
	c.entries[key] = entry
	c.mu.Unlock()

	c.writeMirror(ctx, key, entry)
}

// RecordFeedback adjusts the quality score of the entry holding query:
// +0.1 for scores of 0.8 and above, -0.2 for 0.3 and below, clamped to
// [0.1, 1.0]. Mid-range feedback is stored without adjustment.
func (c *SmartCache) RecordFeedback(query, userContext string, score float64) {
	key := Fingerprint(query, userContext)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}

	entry.UserFeedback = &score
	adjusted := false
	switch {
	case score >= 0.8:
		entry.QualityScore += 0.1
		adjusted = true
	case score <= 0.3:
		entry.QualityScore -= 0.2
		adjusted = true
	}
	if entry.QualityScore > 1.0 {
		entry.QualityScore = 1.0
	}
	if entry.QualityScore < 0.1 {
		entry.QualityScore = 0.1
	}

	if adjusted {
		c.statsMu.Lock()
		c.stats.QualityAdjustments++
		c.statsMu.Unlock()
	}
}

// queryPatterns generate likely follow-up queries from the current input.
var queryPatterns = []struct {
	suffix     string
	confidence float64
}{
	{" dans ma région", 0.85},
	{" pas cher", 0.82},
	{" à proximité", 0.81},
	{" avec livraison", 0.75},
	{" urgent", 0.70},
}

// PredictAndPrecompute generates likely follow-up queries for the current
// input and fires background precompute tasks for those above the
// confidence threshold. Safe to call without a precompute function.
func (c *SmartCache) PredictAndPrecompute(ctx context.Context, currentInput string) []PredictedQuery {
	predictions := make([]PredictedQuery, 0, len(queryPatterns))
	for _, p := range queryPatterns {
		predictions = append(predictions, PredictedQuery{
			Query:      currentInput + p.suffix,
			Confidence: p.confidence,
		})
	}

	c.mu.Lock()
	c.predicted = predictions
	c.mu.Unlock()

	if c.precompute == nil {
		return predictions
	}

	for i, p := range predictions {
		if p.Confidence <= precomputeConfidenceThreshold {
			continue
		}
		go func(idx int, query string) {
			// The submitting request or task may be canceled as soon as
			// PredictAndPrecompute returns; each call carries its own
			// detached deadline instead.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), precomputeTimeout)
			defer cancel()

			response, err := c.precompute(ctx, query)
			if err != nil {
				c.log.Debug("", "", "Precompute failed", map[string]interface{}{
					"query": query, "error": err.Error(),
				})
				return
			}
			c.mu.Lock()
			if idx < len(c.predicted) && c.predicted[idx].Query == query {
				c.predicted[idx].Response = response
			}
			c.mu.Unlock()
			c.statsMu.Lock()
			c.stats.PrecomputeSuccess++
			c.statsMu.Unlock()
		}(i, p.Query)
	}

	return predictions
}

// Stats returns a snapshot of the hit/miss accounting.
func (c *SmartCache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	out := c.stats
	hits := out.ExactHits + out.SemanticHits + out.PredictedHits
	if hits > 0 {
		out.AvgHitSimilarity = c.hitSimilarity / float64(hits)
	}

	c.mu.RLock()
	out.MemoryEntries = len(c.entries)
	c.mu.RUnlock()

	return out
}

// CleanupExpired drops entries past their TTL. Called by the background
// task pool on a ticker.
func (c *SmartCache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > time.Duration(entry.TTLSeconds)*time.Second {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// touch returns the live entry for key, bumping its access metadata.
// Expired entries are treated as absent.
func (c *SmartCache) touch(key string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Since(entry.CreatedAt) > time.Duration(entry.TTLSeconds)*time.Second {
		delete(c.entries, key)
		return nil
	}

	entry.LastAccessed = time.Now()
	entry.AccessCount++
	return entry
}

func (c *SmartCache) bestSemanticMatch(queryEmbedding []float64, contextHash string) (*Entry, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *Entry
	bestSim := 0.0
	now := time.Now()

	for _, entry := range c.entries {
		if entry.ContextHash != contextHash {
			continue
		}
		if now.Sub(entry.CreatedAt) > time.Duration(entry.TTLSeconds)*time.Second {
			continue
		}
		sim := CosineSimilarity(queryEmbedding, entry.Embedding)
		if sim >= c.config.SimilarityThreshold && sim > bestSim {
			best = entry
			bestSim = sim
		}
	}

	if best != nil {
		best.LastAccessed = now
		best.AccessCount++
	}
	return best, bestSim
}

func (c *SmartCache) predictedMatch(query string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.predicted {
		if p.Response == "" {
			continue
		}
		if JaccardWordOverlap(query, p.Query) >= predictedOverlapThreshold {
			return &Entry{
				Content:      p.Response,
				Confidence:   p.Confidence,
				CreatedAt:    time.Now(),
				LastAccessed: time.Now(),
				ModelUsed:    "precomputed",
			}
		}
	}
	return nil
}

// evictLRU removes the least recently accessed entry. Caller holds the
// write lock.
func (c *SmartCache) evictLRU() {
	var oldestKey string
	var oldest time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastAccessed.Before(oldest) {
			oldestKey = key
			oldest = entry.LastAccessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *SmartCache) writeMirror(ctx context.Context, key string, entry *Entry) {
	if c.rdb == nil {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}

	mirrorCtx, cancel := context.WithTimeout(ctx, redisMirrorTimeout)
	defer cancel()

	if err := c.rdb.Set(mirrorCtx, mirrorKey(key), payload, c.config.TTL).Err(); err != nil {
		c.log.Debug("", "", "Cache mirror write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *SmartCache) lookupMirror(ctx context.Context, key string) *Entry {
	if c.rdb == nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, redisLookupTimeout)
	defer cancel()

	payload, err := c.rdb.Get(lookupCtx, mirrorKey(key)).Bytes()
	if err != nil {
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil
	}
	entry.LastAccessed = time.Now()
	entry.AccessCount++
	return &entry
}

func (c *SmartCache) recordHit(counter *int64, similarity float64) {
	c.statsMu.Lock()
	*counter++
	c.hitSimilarity += similarity
	c.statsMu.Unlock()
}

func mirrorKey(key string) string {
	return fmt.Sprintf("semantic_cache:%s", key)
}

func hashContext(userContext string) string {
	sum := sha256.Sum256([]byte(userContext))
	return hex.EncodeToString(sum[:8])
}
