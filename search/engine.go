// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package search implements the native PostgreSQL search engine:
// full-text, trigram and keyword strategies fused in order, with an
// optional GPS-aware path delegated to a database-side function.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Her50/yukpomnang-sub000/config"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// DefaultGPSRadiusKM applies when a GPS zone is given without a radius.
const DefaultGPSRadiusKM = 50

// Params are the search inputs. Optional filters are nil when absent.
type Params struct {
	Query    string
	Category *string
	Location *string
	GPSZone  *string
	RadiusKM *int
}

// Engine runs ranked searches over the services table.
type Engine struct {
	db  *sql.DB
	cfg *config.SearchConfig
	log *logger.Logger
}

// NewEngine creates a search engine with the given configuration.
func NewEngine(db *sql.DB, cfg *config.SearchConfig, log *logger.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultSearchConfig()
	}
	if log == nil {
		log = logger.New("native-search")
	}
	return &Engine{db: db, cfg: cfg, log: log}
}

// Search fuses the strategies in order until enough results accumulate:
// full-text first, trigram when under max_results, keyword split when
// under half of it. Results are deduplicated by service id, sorted by
// total score and truncated, then revalidated against is_active.
func (e *Engine) Search(ctx context.Context, p Params) ([]Result, error) {
	start := time.Now()
	maxResults := e.cfg.General.MaxResults
	query := NormalizeQuery(p.Query)

	results, err := e.fulltextSearch(ctx, query, p)
	if err != nil {
		return nil, err
	}

	if len(results) < maxResults {
		trigram, err := e.trigramSearch(ctx, query, p)
		if err != nil {
			return nil, err
		}
		results = mergeResults(results, trigram)
	}

	if len(results) < maxResults/2 {
		keyword, err := e.keywordSearch(ctx, query, p)
		if err != nil {
			return nil, err
		}
		results = mergeResults(results, keyword)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalScore > results[j].TotalScore
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	results, err = e.revalidateActive(ctx, results)
	if err != nil {
		return nil, err
	}

	e.log.InfoWithDuration("", "", "search completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"query":        query,
		"results":      len(results),
		"gps_filtered": p.GPSZone != nil,
	})
	return results, nil
}

// fulltextSearch ranks by the weighted ts_rank expression, or delegates
// to the GPS function when a zone is supplied.
func (e *Engine) fulltextSearch(ctx context.Context, query string, p Params) ([]Result, error) {
	if p.GPSZone != nil {
		results, err := e.gpsSearch(ctx, query, *p.GPSZone, p.RadiusKM, e.cfg.General.MaxResults)
		if err == nil {
			return results, nil
		}
		// The GPS-aware path is best effort; text search still answers.
		e.log.Warn("", "", "gps search failed, falling back to text", map[string]interface{}{"error": err.Error()})
	}

	conditions := partialMatchConditions(query)
	if conditions == "" {
		return nil, nil
	}

	sqlText := fmt.Sprintf(fulltextQueryTemplate, conditions, conditions)
	rows, err := e.db.QueryContext(ctx, sqlText, query, nullable(p.Category), nullable(p.Location), e.cfg.General.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	defer rows.Close()

	return e.collectScoredRows(rows, "fulltext")
}

// trigramSearch catches typos with pg_trgm similarity.
func (e *Engine) trigramSearch(ctx context.Context, query string, p Params) ([]Result, error) {
	if p.GPSZone != nil {
		return nil, nil // GPS results already came from the delegated function
	}
	rows, err := e.db.QueryContext(ctx, trigramQuery, query, nullable(p.Category), nullable(p.Location), e.cfg.General.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("trigram search: %w", err)
	}
	defer rows.Close()

	return e.collectScoredRows(rows, "trigram")
}

// keywordSearch OR-matches individual tokens with a 0.5 damping factor.
func (e *Engine) keywordSearch(ctx context.Context, query string, p Params) ([]Result, error) {
	if p.GPSZone != nil {
		return nil, nil
	}
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}

	var conditions []string
	for _, word := range words {
		for _, variant := range wordVariants(word) {
			if !safeWord(variant) {
				continue
			}
			conditions = append(conditions, fieldMatchCondition(variant, false))
		}
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	sqlText := fmt.Sprintf(keywordQueryTemplate, strings.Join(conditions, " OR "))
	rows, err := e.db.QueryContext(ctx, sqlText, query, nullable(p.Category), nullable(p.Location), e.cfg.General.MaxResults/2)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	return e.collectScoredRows(rows, "keywords")
}

// gpsSearch delegates to search_services_gps_final and fetches each
// service's data separately.
func (e *Engine) gpsSearch(ctx context.Context, query, gpsZone string, radiusKM *int, limit int) ([]Result, error) {
	radius := DefaultGPSRadiusKM
	if radiusKM != nil && *radiusKM > 0 {
		radius = *radiusKM
	}

	rows, err := e.db.QueryContext(ctx, gpsQuery, query, gpsZone, radius, limit)
	if err != nil {
		return nil, fmt.Errorf("gps search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			serviceID int64
			titre     string
			category  sql.NullString
			gpsCoords sql.NullString
			distance  sql.NullFloat64
			relevance float64
			gpsSource sql.NullString
		)
		if err := rows.Scan(&serviceID, &titre, &category, &gpsCoords, &distance, &relevance, &gpsSource); err != nil {
			return nil, fmt.Errorf("gps row scan: %w", err)
		}

		data := e.fetchServiceData(ctx, serviceID)
		result := Result{
			ServiceID:     serviceID,
			Data:          data,
			TotalScore:    relevance,
			SearchMethod:  "gps_optimized",
			MatchedFields: []string{"gps"},
		}
		if distance.Valid {
			d := distance.Float64
			result.DistanceKM = &d
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (e *Engine) fetchServiceData(ctx context.Context, serviceID int64) json.RawMessage {
	var data []byte
	if err := e.db.QueryRowContext(ctx, `SELECT data FROM services WHERE id = $1`, serviceID).Scan(&data); err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// collectScoredRows scans the shared row shape of the three text
// strategies and applies the recency boost.
func (e *Engine) collectScoredRows(rows *sql.Rows, method string) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var (
			serviceID int64
			data      []byte
			createdAt time.Time
			userID    int64
			gps       sql.NullString
			category  sql.NullString
			score     sql.NullFloat64
		)
		if err := rows.Scan(&serviceID, &data, &createdAt, &userID, &gps, &category, &score); err != nil {
			return nil, fmt.Errorf("%s row scan: %w", method, err)
		}

		recency := e.recencyScore(createdAt)
		result := Result{
			ServiceID:     serviceID,
			Data:          data,
			TotalScore:    score.Float64 + recency,
			RecencyScore:  recency,
			SearchMethod:  method,
			MatchedFields: []string{method},
		}
		switch method {
		case "fulltext":
			result.FulltextScore = score.Float64
		case "trigram":
			result.TrigramScore = score.Float64
		case "keywords":
			result.CategoryScore = score.Float64
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// recencyScore grants the flat boost to recently created services.
func (e *Engine) recencyScore(createdAt time.Time) float64 {
	if time.Since(createdAt) <= time.Duration(e.cfg.Scoring.RecencyDays)*24*time.Hour {
		return e.cfg.Scoring.RecencyBoost
	}
	return 0
}

// revalidateActive drops results whose service was deactivated after
// ranking (stale cache entries, concurrent deletes).
func (e *Engine) revalidateActive(ctx context.Context, results []Result) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ServiceID
	}

	rows, err := e.db.QueryContext(ctx, `SELECT id FROM services WHERE id = ANY($1) AND is_active = true`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("active revalidation: %w", err)
	}
	defer rows.Close()

	active := make(map[int64]struct{}, len(results))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, r := range results {
		if _, ok := active[r.ServiceID]; ok {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// ByCategory lists active services in a category, newest first.
func (e *Engine) ByCategory(ctx context.Context, category string) ([]Result, error) {
	rows, err := e.db.QueryContext(ctx, categoryQuery, category, e.cfg.General.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("category search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			serviceID int64
			data      []byte
			createdAt time.Time
			userID    int64
			gps       sql.NullString
			cat       sql.NullString
		)
		if err := rows.Scan(&serviceID, &data, &createdAt, &userID, &gps, &cat); err != nil {
			return nil, err
		}
		recency := e.recencyScore(createdAt)
		results = append(results, Result{
			ServiceID:     serviceID,
			Data:          data,
			TotalScore:    1.0 + recency,
			RecencyScore:  recency,
			CategoryScore: 1.0,
			SearchMethod:  "category",
			MatchedFields: []string{"category"},
		})
	}
	return results, rows.Err()
}

// mergeResults appends extras whose service id is not already present.
func mergeResults(base, extra []Result) []Result {
	seen := make(map[int64]struct{}, len(base))
	for _, r := range base {
		seen[r.ServiceID] = struct{}{}
	}
	for _, r := range extra {
		if _, ok := seen[r.ServiceID]; !ok {
			seen[r.ServiceID] = struct{}{}
			base = append(base, r)
		}
	}
	return base
}

// partialMatchConditions builds the OR chain of per-word ILIKE matches:
// exact, accent-folded, unaccent-bidirectional, and a 4-char prefix for
// long words (catches "gestionnaire" via "gest").
func partialMatchConditions(query string) string {
	var conditions []string
	for _, word := range strings.Fields(query) {
		if !safeWord(word) {
			continue
		}
		conditions = append(conditions, fieldMatchCondition(word, false))
		if folded := FoldAccents(word); folded != word && safeWord(folded) {
			conditions = append(conditions, fieldMatchCondition(folded, true))
		}
		conditions = append(conditions, fieldMatchCondition(word, true))

		if runes := []rune(word); len(runes) > 4 {
			prefix := string(runes[:4])
			if safeWord(prefix) {
				conditions = append(conditions, fieldMatchCondition(prefix, false))
			}
		}
	}
	return strings.Join(conditions, " OR ")
}

// fieldMatchCondition matches one literal against the three JSONB fields,
// optionally through unaccent.
func fieldMatchCondition(word string, unaccented bool) string {
	if unaccented {
		return fmt.Sprintf(
			"unaccent(s.data->'titre_service'->>'valeur') ILIKE '%%%[1]s%%' OR unaccent(s.data->'description'->>'valeur') ILIKE '%%%[1]s%%' OR unaccent(s.data->'category'->>'valeur') ILIKE '%%%[1]s%%'",
			word)
	}
	return fmt.Sprintf(
		"s.data->'titre_service'->>'valeur' ILIKE '%%%[1]s%%' OR s.data->'description'->>'valeur' ILIKE '%%%[1]s%%' OR s.data->'category'->>'valeur' ILIKE '%%%[1]s%%'",
		word)
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
