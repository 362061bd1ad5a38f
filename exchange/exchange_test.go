// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package exchange

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKM(t *testing.T) {
	// Douala to Yaoundé, roughly 210 km as the crow flies.
	d := haversineKM(4.0511, 9.7679, 3.8480, 11.5021)
	assert.InDelta(t, 194, d, 15)

	assert.Zero(t, haversineKM(4.05, 9.76, 4.05, 9.76))
}

func TestInclusionScore(t *testing.T) {
	a := map[string]any{"nom": "riz", "quantite": 10.0}
	b := map[string]any{"nom": "riz", "quantite": 10.0, "etat": "neuf"}
	assert.Equal(t, 1.0, inclusionScore(a, b), "all of a covered by b")
	assert.Equal(t, 0.5, inclusionScore(map[string]any{"nom": "riz", "quantite": 5.0}, b))
	assert.Equal(t, 0.0, inclusionScore(map[string]any{}, b))
}

func TestProductSimilarityWeighting(t *testing.T) {
	a := map[string]any{"nom": "velo", "etat": "occasion"}
	b := map[string]any{"nom": "velo", "etat": "neuf"}
	// nom matches (weight 2), etat differs (weight 1): 2/3.
	assert.InDelta(t, 2.0/3.0, productSimilarity(a, b), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("sac de riz", "sac de riz"))
	assert.InDelta(t, 0.5, jaccard("sac de riz blanc", "sac de riz"), 1e-9)
	assert.Zero(t, jaccard("velo", "ordinateur"))
}

func TestPairScorePerfectCounterpart(t *testing.T) {
	a := Candidate{
		Offre:  map[string]any{"nom": "riz"},
		Besoin: map[string]any{"nom": "mais"},
	}
	b := Candidate{
		Offre:  map[string]any{"nom": "mais"},
		Besoin: map[string]any{"nom": "riz"},
	}
	// Neutral geo (0.5 * 0.3) + full offre/besoin/quantite/reputation/
	// disponibilite/contraintes.
	assert.InDelta(t, 0.85, PairScore(a, b, 1.0, DefaultWeights()), 1e-9)
}

func TestScoreQuantityRatio(t *testing.T) {
	qa, qb := 10.0, 4.0
	a := Candidate{Offre: map[string]any{"nom": "riz"}, QuantiteOfferte: &qa}
	b := Candidate{Besoin: map[string]any{"nom": "riz"}, QuantiteRequise: &qb}
	w := Weights{Quantite: 1}
	assert.InDelta(t, 0.4, score(a, b, 0, w), 1e-9)
}

func TestCompatibleDonationRules(t *testing.T) {
	m := NewMatcher(nil)

	donation := Candidate{Don: true, Offre: map[string]any{"nom": "livres"}}
	seeker := Candidate{Besoin: map[string]any{"nom": "livres"}}
	full := Candidate{Offre: map[string]any{"x": 1.0}, Besoin: map[string]any{"y": 2.0}}

	assert.True(t, m.compatible(donation, seeker), "bare offre pairs with bare besoin")
	assert.False(t, m.compatible(donation, full), "donation never pairs with a two-sided exchange")
	assert.True(t, m.compatible(full, full))
}

func exchangeDoc() map[string]any {
	return map[string]any{
		"intention": "echange",
		"data": map[string]any{
			"offre":  map[string]any{"nom": "riz"},
			"besoin": map[string]any{"nom": "mais"},
		},
	}
}

func TestProcessRegistersPendingExchange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(duplicateQuery)).
		WithArgs(int64(42), []byte(`{"nom":"riz"}`), []byte(`{"nom":"mais"}`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(insertExchangeQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectQuery(regexp.QuoteMeta(candidatesQuery)).
		WithArgs(int64(501), batchSize, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "offre", "besoin", "quantite_offerte", "quantite_requise", "gps_fixe_lat", "gps_fixe_lon", "don"}))

	m := NewMatcher(db)
	res, err := m.Process(context.Background(), 42, exchangeDoc())
	require.NoError(t, err)

	assert.Equal(t, "en_attente", res.Status)
	assert.Equal(t, int64(501), res.EchangeID)
	assert.Nil(t, res.MatchedID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessMatchesPerfectCounterpart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(duplicateQuery)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(insertExchangeQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectQuery(regexp.QuoteMeta(candidatesQuery)).
		WithArgs(int64(501), batchSize, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "offre", "besoin", "quantite_offerte", "quantite_requise", "gps_fixe_lat", "gps_fixe_lon", "don"}).
			AddRow(int64(400), int64(7), []byte(`{"nom":"mais"}`), []byte(`{"nom":"riz"}`), nil, nil, nil, nil, false))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(matchRowQuery)).
		WithArgs(int64(400), int64(501)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(matchRowQuery)).
		WithArgs(int64(501), int64(400)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewMatcher(db)
	res, err := m.Process(context.Background(), 42, exchangeDoc())
	require.NoError(t, err)

	assert.Equal(t, "match_trouve", res.Status)
	require.NotNil(t, res.MatchedID)
	assert.Equal(t, int64(400), *res.MatchedID)
	assert.GreaterOrEqual(t, res.MatchScore, 0.70)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessMatchRollsBackWhenRowTaken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(duplicateQuery)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(insertExchangeQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectQuery(regexp.QuoteMeta(candidatesQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "offre", "besoin", "quantite_offerte", "quantite_requise", "gps_fixe_lat", "gps_fixe_lon", "don"}).
			AddRow(int64(400), int64(7), []byte(`{"nom":"mais"}`), []byte(`{"nom":"riz"}`), nil, nil, nil, nil, false))
	mock.ExpectBegin()
	// A concurrent matcher already took the counterpart row.
	mock.ExpectExec(regexp.QuoteMeta(matchRowQuery)).
		WithArgs(int64(400), int64(501)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(matchRowQuery)).
		WithArgs(int64(501), int64(400)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	m := NewMatcher(db)
	_, err = m.Process(context.Background(), 42, exchangeDoc())
	require.Error(t, err)

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ErrCodeDBFailure, xerr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDuplicateInDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(duplicateQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(123)))

	m := NewMatcher(db)
	_, err = m.Process(context.Background(), 42, exchangeDoc())

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ErrCodeDuplicate, xerr.Code)
}

func TestProcessDuplicateFastPathViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// No sqlmock expectations: the Redis hit must short-circuit the DB.
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, mr.Set(`echange_duplicate:42:{"nom":"riz"}:{"nom":"mais"}`, "1"))

	m := NewMatcher(db, WithRedis(rdb))
	_, err = m.Process(context.Background(), 42, exchangeDoc())

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ErrCodeDuplicate, xerr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRejectsAchatMode(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Process(context.Background(), 42, map[string]any{
		"data": map[string]any{"mode": "achat", "besoin": map[string]any{"nom": "riz"}},
	})

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ErrCodeBadRequest, xerr.Code)
}

func TestProcessRequiresOffreOrBesoin(t *testing.T) {
	m := NewMatcher(nil)
	_, err := m.Process(context.Background(), 42, map[string]any{"data": map[string]any{}})

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ErrCodeBadRequest, xerr.Code)
}
