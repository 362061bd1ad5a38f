// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creationDoc() map[string]any {
	return map[string]any{
		"intention": "creation_service",
		"data": map[string]any{
			"titre_service": map[string]any{"type_donnee": "string", "valeur": "Cours de maths", "origine_champs": "texte_libre"},
			"description":   map[string]any{"type_donnee": "string", "valeur": "Soutien scolaire à domicile", "origine_champs": "texte_libre"},
			"category":      map[string]any{"type_donnee": "string", "valeur": "Education", "origine_champs": "ia"},
			"is_tarissable": map[string]any{"type_donnee": "boolean", "valeur": false, "origine_champs": "ia"},
			"gps_fixe":      map[string]any{"type_donnee": "gps", "valeur": "4.0511,9.7679", "origine_champs": "ia"},
		},
	}
}

func TestCreatePersistsServiceProviderFlagAndMedia(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(insertServiceQuery)).
		WithArgs(int64(42), sqlmock.AnyArg(), "4.0511,9.7679", "Education", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(138), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(markProviderQuery)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMediaQuery)).
		WithArgs(int64(138), "image", "services/138/a.jpg", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMediaQuery)).
		WithArgs(int64(138), "document", "services/138/b.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	repo := NewRepository(db, nil)
	svc, err := repo.Create(context.Background(), CreateInput{
		UserID: 42,
		Doc:    creationDoc(),
		Media: []MediaRef{
			{Kind: "image", Path: "services/138/a.jpg"},
			{Kind: "document", Path: "services/138/b.pdf"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(138), svc.ID)
	assert.True(t, svc.IsActive)
	require.NotNil(t, svc.GPS)
	assert.Equal(t, "4.0511,9.7679", *svc.GPS)

	// The stored document is the unwrapped data object.
	var stored map[string]any
	require.NoError(t, json.Unmarshal(svc.Data, &stored))
	assert.Contains(t, stored, "titre_service")
	assert.NotContains(t, stored, "intention")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(insertServiceQuery)).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	repo := NewRepository(db, nil)
	_, err = repo.Create(context.Background(), CreateInput{UserID: 42, Doc: creationDoc()})
	require.Error(t, err)

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ErrCodeDBFailure, serr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectServiceQuery)).
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "data", "is_active", "gps", "category", "auto_deactivate_at", "created_at"}))

	repo := NewRepository(db, nil)
	_, err = repo.GetByID(context.Background(), 999)

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ErrCodeNotFound, serr.Code)
}

func TestGetByIDReadsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(selectServiceQuery)).
		WithArgs(int64(138)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "data", "is_active", "gps", "category", "auto_deactivate_at", "created_at"}).
			AddRow(int64(138), int64(42), []byte(`{"titre_service":{"valeur":"Cours"}}`), true, nil, "Education", now, now))

	repo := NewRepository(db, nil)
	svc, err := repo.GetByID(context.Background(), 138)
	require.NoError(t, err)

	assert.Equal(t, int64(42), svc.UserID)
	assert.Nil(t, svc.GPS)
	require.NotNil(t, svc.Category)
	assert.Equal(t, "Education", *svc.Category)
}

func TestToggleStatusOwnerScoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Wrong owner matches no row.
	mock.ExpectQuery(regexp.QuoteMeta(toggleStatusQuery)).
		WithArgs(false, int64(138), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewRepository(db, nil)
	err = repo.ToggleStatus(context.Background(), 138, 7, false)

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ErrCodeNotFound, serr.Code)
}

func TestUpdateReplacesDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(updateServiceQuery)).
		WithArgs(sqlmock.AnyArg(), int64(138), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(138)))

	repo := NewRepository(db, nil)
	assert.NoError(t, repo.Update(context.Background(), 138, 42, creationDoc()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOwnerScoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(deleteServiceQuery)).
		WithArgs(int64(138), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(138)))

	repo := NewRepository(db, nil)
	assert.NoError(t, repo.Delete(context.Background(), 138, 42))
}

func TestListByOwnerIncludesInactive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(listByOwnerQuery)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "data", "is_active", "gps", "category", "auto_deactivate_at", "created_at"}).
			AddRow(int64(2), int64(42), []byte(`{}`), true, nil, nil, now, now).
			AddRow(int64(1), int64(42), []byte(`{}`), false, nil, nil, now, now))

	repo := NewRepository(db, nil)
	services, err := repo.ListByOwner(context.Background(), 42)
	require.NoError(t, err)

	require.Len(t, services, 2)
	assert.True(t, services[0].IsActive)
	assert.False(t, services[1].IsActive)
}

func TestActiveDaysCap(t *testing.T) {
	data := map[string]any{"active_days": float64(90)}
	assert.Equal(t, int64(90), activeDays(data, false))
	assert.Equal(t, int64(30), activeDays(data, true))
	assert.Equal(t, int64(7), activeDays(map[string]any{}, false))
}
