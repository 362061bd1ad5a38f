// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SearchConfig tunes the native PostgreSQL search engine. Values come from
// an optional YAML file, overridden by SEARCH_* environment variables, then
// by the SEARCH_PROFILE preset.
type SearchConfig struct {
	General     GeneralSearchConfig `yaml:"general"`
	Scoring     ScoringConfig       `yaml:"scoring"`
	Filters     FilterConfig        `yaml:"filters"`
	Geospatial  GeospatialConfig    `yaml:"geospatial"`
	Performance PerformanceConfig   `yaml:"performance"`
}

// GeneralSearchConfig holds top-level search behavior.
type GeneralSearchConfig struct {
	MaxResults         int     `yaml:"max_results"`
	InitialResults     int     `yaml:"initial_results"`
	MinScoreThreshold  float64 `yaml:"min_score_threshold"`
	EnableHybridSearch bool    `yaml:"enable_hybrid_search"`
	EnableGeospatial   bool    `yaml:"enable_geospatial"`
	DefaultLanguage    string  `yaml:"default_language"`
}

// ScoringConfig holds boost weights applied by the ranking expression.
type ScoringConfig struct {
	TitleBoost           float64 `yaml:"title_boost"`
	DescriptionBoost     float64 `yaml:"description_boost"`
	CategoryBoost        float64 `yaml:"category_boost"`
	LocationBoost        float64 `yaml:"location_boost"`
	RecencyBoost         float64 `yaml:"recency_boost"`
	RecencyDays          int     `yaml:"recency_days"`
	PopularityBoost      float64 `yaml:"popularity_boost"`
	VerifiedBoost        float64 `yaml:"verified_boost"`
	MinFulltextScore     float64 `yaml:"min_fulltext_score"`
	MinTrigramSimilarity float64 `yaml:"min_trigram_similarity"`
}

// FilterConfig toggles optional filters.
type FilterConfig struct {
	EnableCategoryFilter     bool     `yaml:"enable_category_filter"`
	EnableLocationFilter     bool     `yaml:"enable_location_filter"`
	EnablePriceFilter        bool     `yaml:"enable_price_filter"`
	EnableAvailabilityFilter bool     `yaml:"enable_availability_filter"`
	EnableRatingFilter       bool     `yaml:"enable_rating_filter"`
	PriorityCategories       []string `yaml:"priority_categories"`
	PriorityLocations        []string `yaml:"priority_locations"`
}

// GeospatialConfig holds GPS radius search settings.
type GeospatialConfig struct {
	DefaultSearchRadiusKm float64   `yaml:"default_search_radius_km"`
	MaxSearchRadiusKm     float64   `yaml:"max_search_radius_km"`
	UsePostGIS            bool      `yaml:"use_postgis"`
	ProximityBoost        float64   `yaml:"proximity_boost"`
	DistanceDecayFactor   float64   `yaml:"distance_decay_factor"`
	DefaultCoordinates    []float64 `yaml:"default_coordinates,omitempty"`
}

// PerformanceConfig holds caching and timeout settings.
type PerformanceConfig struct {
	QueryCacheSize    int  `yaml:"query_cache_size"`
	CacheTTLSeconds   int  `yaml:"cache_ttl_seconds"`
	EnableRedisCache  bool `yaml:"enable_redis_cache"`
	QueryTimeoutMs    int  `yaml:"query_timeout_ms"`
	MaxRetries        int  `yaml:"max_retries"`
	EnableCompression bool `yaml:"enable_compression"`
}

// DefaultSearchConfig returns the baseline configuration.
func DefaultSearchConfig() *SearchConfig {
	return &SearchConfig{
		General: GeneralSearchConfig{
			MaxResults:         20,
			InitialResults:     50,
			MinScoreThreshold:  0.05,
			EnableHybridSearch: true,
			EnableGeospatial:   true,
			DefaultLanguage:    "french",
		},
		Scoring: ScoringConfig{
			TitleBoost:           2.0,
			DescriptionBoost:     1.0,
			CategoryBoost:        1.5,
			LocationBoost:        1.3,
			RecencyBoost:         0.2,
			RecencyDays:          14,
			PopularityBoost:      0.3,
			VerifiedBoost:        0.5,
			MinFulltextScore:     0.08,
			MinTrigramSimilarity: 0.25,
		},
		Filters: FilterConfig{
			EnableCategoryFilter:     true,
			EnableLocationFilter:     true,
			EnablePriceFilter:        true,
			EnableAvailabilityFilter: true,
			EnableRatingFilter:       true,
		},
		Geospatial: GeospatialConfig{
			DefaultSearchRadiusKm: 25.0,
			MaxSearchRadiusKm:     100.0,
			UsePostGIS:            true,
			ProximityBoost:        0.4,
			DistanceDecayFactor:   0.1,
		},
		Performance: PerformanceConfig{
			QueryCacheSize:    1000,
			CacheTTLSeconds:   300,
			QueryTimeoutMs:    5000,
			MaxRetries:        2,
			EnableCompression: true,
		},
	}
}

// LoadSearchConfig builds the search configuration: YAML file (optional),
// then SEARCH_* env overrides, then profile preset, then validation.
func LoadSearchConfig(path string) (*SearchConfig, error) {
	cfg := DefaultSearchConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing search config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading search config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if profile := os.Getenv("SEARCH_PROFILE"); profile != "" {
		cfg.ApplyProfile(profile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *SearchConfig) applyEnvOverrides() {
	if v := os.Getenv("SEARCH_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.General.MaxResults = n
		}
	}
	if v := os.Getenv("SEARCH_DEFAULT_LANGUAGE"); v != "" {
		c.General.DefaultLanguage = v
	}
	if v := os.Getenv("SEARCH_TITLE_BOOST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Scoring.TitleBoost = f
		}
	}
	if v := os.Getenv("SEARCH_MIN_FULLTEXT_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Scoring.MinFulltextScore = f
		}
	}
	if v := os.Getenv("SEARCH_DEFAULT_RADIUS_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Geospatial.DefaultSearchRadiusKm = f
		}
	}
	if lat, lon := os.Getenv("SEARCH_DEFAULT_LAT"), os.Getenv("SEARCH_DEFAULT_LON"); lat != "" && lon != "" {
		fLat, errLat := strconv.ParseFloat(lat, 64)
		fLon, errLon := strconv.ParseFloat(lon, 64)
		if errLat == nil && errLon == nil {
			c.Geospatial.DefaultCoordinates = []float64{fLat, fLon}
		}
	}
	if v := os.Getenv("SEARCH_PRIORITY_CATEGORIES"); v != "" {
		c.Filters.PriorityCategories = splitCSV(v)
	}
	if v := os.Getenv("SEARCH_PRIORITY_LOCATIONS"); v != "" {
		c.Filters.PriorityLocations = splitCSV(v)
	}
}

// ApplyProfile applies a named preset. Unknown profiles are ignored.
func (c *SearchConfig) ApplyProfile(profile string) {
	switch strings.ToLower(profile) {
	case "production":
		c.General.MaxResults = 20
		c.Performance.EnableRedisCache = true
		c.Performance.QueryCacheSize = 5000
		c.Performance.CacheTTLSeconds = 600
		c.Scoring.MinFulltextScore = 0.1
	case "development":
		c.General.MaxResults = 50
		c.Performance.EnableRedisCache = false
		c.Performance.QueryCacheSize = 100
		c.Scoring.MinFulltextScore = 0.05
	case "testing":
		c.General.MaxResults = 10
		c.Performance.QueryTimeoutMs = 1000
		c.Performance.MaxRetries = 1
	}
}

// Validate rejects configurations the ranking SQL cannot run with.
func (c *SearchConfig) Validate() error {
	if c.General.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive")
	}
	if c.Scoring.MinFulltextScore < 0 || c.Scoring.MinFulltextScore > 1 {
		return fmt.Errorf("min_fulltext_score must be between 0.0 and 1.0")
	}
	if c.Scoring.MinTrigramSimilarity < 0 || c.Scoring.MinTrigramSimilarity > 1 {
		return fmt.Errorf("min_trigram_similarity must be between 0.0 and 1.0")
	}
	if c.Geospatial.DefaultSearchRadiusKm <= 0 {
		return fmt.Errorf("default_search_radius_km must be positive")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
