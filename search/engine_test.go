// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Her50/yukpomnang-sub000/config"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Restaurant, Douala!", "restaurant douala"},
		{"  Plats de NDOLÉ  ", "plats de ndolé"},
		{"prix<=5000 XAF", "prix 5000 xaf"},
		{"'; DROP TABLE services;--", "drop table services"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQuery(tt.raw))
		})
	}
}

func TestFoldAccents(t *testing.T) {
	assert.Equal(t, "ndole a douala", FoldAccents("ndolé à douala"))
	assert.Equal(t, "francais", FoldAccents("français"))
	assert.Equal(t, "restaurant", FoldAccents("restaurant"))
}

func TestPartialMatchConditions(t *testing.T) {
	conditions := partialMatchConditions("ndolé gestionnaire")

	// Exact, accent-folded and unaccent-bidirectional variants.
	assert.Contains(t, conditions, "ILIKE '%ndolé%'")
	assert.Contains(t, conditions, "unaccent(s.data->'titre_service'->>'valeur') ILIKE '%ndole%'")
	// Long words also match on their 4-char prefix.
	assert.Contains(t, conditions, "ILIKE '%gest%'")
}

func TestSafeWordRejectsSQLMetacharacters(t *testing.T) {
	assert.True(t, safeWord("restaurant"))
	assert.True(t, safeWord("ndolé"))
	assert.False(t, safeWord("a'b"))
	assert.False(t, safeWord("x;--"))
	assert.False(t, safeWord(""))
}

func TestKeywordDampingFactor(t *testing.T) {
	assert.Contains(t, keywordQueryTemplate, "* 0.5")
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(db, config.DefaultSearchConfig(), nil), mock
}

func serviceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "data", "created_at", "user_id", "gps", "category", "score"})
}

func TestSearchGPSDelegation(t *testing.T) {
	e, mock := newTestEngine(t)

	gps := "4.0583,9.7322"
	mock.ExpectQuery("search_services_gps_final").
		WithArgs("restaurant", gps, 50, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"service_id", "titre_service", "category", "gps_coords", "distance_km", "relevance_score", "gps_source",
		}).
			AddRow(int64(11), "Restaurant du port", "Restauration", "4.06,9.73", 2.0, 9.8, "gps_fixe").
			AddRow(int64(12), "Restaurant le centre", "Restauration", "4.30,9.90", 40.0, 5.0, "prestataire"))

	mock.ExpectQuery("SELECT data FROM services").
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"titre_service":{"valeur":"Restaurant du port"}}`)))
	mock.ExpectQuery("SELECT data FROM services").
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{}`)))

	mock.ExpectQuery("id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)).AddRow(int64(12)))

	results, err := e.Search(context.Background(), Params{Query: "restaurant", GPSZone: &gps})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Proximity-weighted relevance keeps the 2 km service first.
	assert.Equal(t, int64(11), results[0].ServiceID)
	assert.Equal(t, "gps_optimized", results[0].SearchMethod)
	require.NotNil(t, results[0].DistanceKM)
	assert.Equal(t, 2.0, *results[0].DistanceKM)
	assert.Greater(t, results[0].TotalScore, results[1].TotalScore)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchFusionDedupeAndRevalidation(t *testing.T) {
	e, mock := newTestEngine(t)

	now := time.Now()
	old := now.Add(-60 * 24 * time.Hour)

	mock.ExpectQuery("fulltext_score").
		WithArgs("gestion scolaire", nil, nil, 20).
		WillReturnRows(serviceRows().
			AddRow(int64(1), []byte(`{}`), now, int64(9), "douala", "Education", 10.0).
			AddRow(int64(2), []byte(`{}`), old, int64(9), "douala", "Education", 5.0))

	// Trigram returns one duplicate and one new id.
	mock.ExpectQuery("trigram_score").
		WithArgs("gestion scolaire", nil, nil, 20).
		WillReturnRows(serviceRows().
			AddRow(int64(2), []byte(`{}`), old, int64(9), "douala", "Education", 3.0).
			AddRow(int64(3), []byte(`{}`), old, int64(9), "douala", "Education", 2.0))

	// Still under half the budget, so the keyword pass runs.
	mock.ExpectQuery("keyword_score").
		WithArgs("gestion scolaire", nil, nil, 10).
		WillReturnRows(serviceRows())

	// Service 3 was deactivated after ranking.
	mock.ExpectQuery("id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	results, err := e.Search(context.Background(), Params{Query: "Gestion scolaire"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(1), results[0].ServiceID)
	assert.InDelta(t, 10.2, results[0].TotalScore, 1e-9, "recent service gains the recency boost")
	assert.InDelta(t, 0.2, results[0].RecencyScore, 1e-9)

	// The duplicate id 2 kept its fulltext entry, not the trigram one.
	assert.Equal(t, "fulltext", results[1].SearchMethod)
	assert.InDelta(t, 5.0, results[1].TotalScore, 1e-9)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchGPSFallsBackToText(t *testing.T) {
	e, mock := newTestEngine(t)

	gps := "4.0583,9.7322"
	mock.ExpectQuery("search_services_gps_final").
		WithArgs("restaurant", gps, 50, 20).
		WillReturnError(errors.New("function does not exist"))

	mock.ExpectQuery("fulltext_score").
		WithArgs("restaurant", nil, nil, 20).
		WillReturnRows(serviceRows().
			AddRow(int64(5), []byte(`{}`), time.Now(), int64(9), "douala", "Restauration", 8.0))

	mock.ExpectQuery("id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	results, err := e.Search(context.Background(), Params{Query: "restaurant", GPSZone: &gps})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fulltext", results[0].SearchMethod)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchCategoryFilterPassedThrough(t *testing.T) {
	e, mock := newTestEngine(t)

	category := "Restauration"
	mock.ExpectQuery("fulltext_score").
		WithArgs("ndole", category, nil, 20).
		WillReturnRows(serviceRows().
			AddRow(int64(7), []byte(`{}`), time.Now(), int64(1), "douala", category, 12.0))

	mock.ExpectQuery("trigram_score").
		WithArgs("ndole", category, nil, 20).
		WillReturnRows(serviceRows())

	mock.ExpectQuery("keyword_score").
		WithArgs("ndole", category, nil, 10).
		WillReturnRows(serviceRows())

	mock.ExpectQuery("id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	results, err := e.Search(context.Background(), Params{Query: "ndole", Category: &category})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	cfg := config.DefaultSearchConfig()
	cfg.General.MaxResults = 2

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	e := NewEngine(db, cfg, nil)

	old := time.Now().Add(-60 * 24 * time.Hour)
	mock.ExpectQuery("fulltext_score").
		WillReturnRows(serviceRows().
			AddRow(int64(1), []byte(`{}`), old, int64(9), "", "", 9.0).
			AddRow(int64(2), []byte(`{}`), old, int64(9), "", "", 7.0).
			AddRow(int64(3), []byte(`{}`), old, int64(9), "", "", 5.0))

	mock.ExpectQuery("id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	results, err := e.Search(context.Background(), Params{Query: "plombier"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ServiceID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByCategory(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery("ORDER BY s.created_at DESC").
		WithArgs("Education", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "created_at", "user_id", "gps", "category"}).
			AddRow(int64(4), []byte(`{}`), time.Now(), int64(2), "douala", "Education"))

	results, err := e.ByCategory(context.Background(), "Education")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "category", results[0].SearchMethod)
	assert.InDelta(t, 1.2, results[0].TotalScore, 1e-9)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultToJSON(t *testing.T) {
	d := 2.5
	r := Result{
		ServiceID:     3,
		TotalScore:    9.9,
		FulltextScore: 9.7,
		RecencyScore:  0.2,
		DistanceKM:    &d,
		SearchMethod:  "fulltext",
		MatchedFields: []string{"fulltext"},
	}

	out := r.ToJSON()
	assert.Equal(t, int64(3), out["service_id"])
	meta := out["search_metadata"].(map[string]any)
	assert.Equal(t, "fulltext", meta["method"])
	assert.Equal(t, 2.5, meta["distance_km"])
}

func TestFulltextScoringWeights(t *testing.T) {
	for _, fragment := range []string{
		"* 6.0", "* 3.0", "* 4.0", // ts_rank weights
		"* 5.0", "* 2.5", "* 3.5", // unaccent weights
		"THEN 8.0", "THEN 4.0", "THEN 5.0", // exact bonuses
		"THEN -1.0", // description-only penalty
	} {
		assert.Contains(t, fulltextQueryTemplate, fragment)
	}
}
