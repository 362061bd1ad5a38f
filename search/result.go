// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package search

import "encoding/json"

// Result is one ranked service with its score breakdown preserved for
// observability.
type Result struct {
	ServiceID     int64           `json:"service_id"`
	Data          json.RawMessage `json:"data"`
	TotalScore    float64         `json:"score"`
	FulltextScore float64         `json:"fulltext_score"`
	TrigramScore  float64         `json:"trigram_score"`
	RecencyScore  float64         `json:"recency_score"`
	CategoryScore float64         `json:"category_score"`
	DistanceKM    *float64        `json:"distance_km,omitempty"`
	SearchMethod  string          `json:"search_method"`
	MatchedFields []string        `json:"matched_fields"`
}

// ToJSON renders the API shape, with the breakdown nested under
// search_metadata.
func (r *Result) ToJSON() map[string]any {
	meta := map[string]any{
		"method":         r.SearchMethod,
		"fulltext_score": r.FulltextScore,
		"trigram_score":  r.TrigramScore,
		"recency_score":  r.RecencyScore,
		"category_score": r.CategoryScore,
		"matched_fields": r.MatchedFields,
	}
	if r.DistanceKM != nil {
		meta["distance_km"] = *r.DistanceKM
	}
	return map[string]any{
		"service_id":      r.ServiceID,
		"data":            r.Data,
		"score":           r.TotalScore,
		"search_metadata": meta,
	}
}
