// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Her50/yukpomnang-sub000/exchange"
	"github.com/Her50/yukpomnang-sub000/media"
	"github.com/Her50/yukpomnang-sub000/search"
	"github.com/Her50/yukpomnang-sub000/service"
)

type stubCreator struct {
	input service.CreateInput
	err   error
}

func (s *stubCreator) Create(ctx context.Context, in service.CreateInput) (*service.Service, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.input = in
	return &service.Service{ID: 138, UserID: in.UserID, IsActive: true}, nil
}

type stubSearcher struct {
	params  search.Params
	results []search.Result
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, p search.Params) ([]search.Result, error) {
	s.params = p
	return s.results, s.err
}

type stubExchange struct {
	result *exchange.Result
	err    error
}

func (s *stubExchange) Process(ctx context.Context, userID int64, doc map[string]any) (*exchange.Result, error) {
	return s.result, s.err
}

type stubUploadStore struct {
	stored []media.Upload
	err    error
}

func (s *stubUploadStore) Store(ctx context.Context, up media.Upload) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.stored = append(s.stored, up)
	return fmt.Sprintf("uploads/%s_test.%s", up.Kind, "bin"), nil
}

func TestRouteCreationPersistsWithUploads(t *testing.T) {
	creator := &stubCreator{}
	store := &stubUploadStore{}
	r := NewBusinessRouter(creator, nil, nil, WithUploadStore(store))

	doc := map[string]any{"intention": "creation_service", "data": map[string]any{}}
	out, err := r.Route(context.Background(), &RouteContext{
		UserID: 42,
		Intent: "creation_service",
		Doc:    doc,
		Uploads: []media.Upload{
			{Kind: "image", MimeType: "image/png", Data: []byte("png")},
			{Kind: "document", MimeType: "application/pdf", Data: []byte("pdf")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(138), out["service_id"])
	require.Len(t, creator.input.Media, 2)
	assert.Equal(t, "image", creator.input.Media[0].Kind)
	assert.Len(t, store.stored, 2)
}

func TestRouteCreationSkipsFailedUploads(t *testing.T) {
	creator := &stubCreator{}
	store := &stubUploadStore{err: fmt.Errorf("bucket down")}
	r := NewBusinessRouter(creator, nil, nil, WithUploadStore(store))

	_, err := r.Route(context.Background(), &RouteContext{
		UserID:  42,
		Intent:  "creation_service",
		Doc:     map[string]any{},
		Uploads: []media.Upload{{Kind: "image", Data: []byte("x")}},
	})
	require.NoError(t, err, "a broken bucket must not void the listing")
	assert.Empty(t, creator.input.Media)
}

func TestRouteSearchAttachesResults(t *testing.T) {
	searcher := &stubSearcher{results: []search.Result{
		{ServiceID: 7, Data: json.RawMessage(`{}`), TotalScore: 12.5, SearchMethod: "fulltext"},
	}}
	r := NewBusinessRouter(nil, searcher, nil)

	doc := map[string]any{
		"intention": "recherche_besoin",
		"data": map[string]any{
			"description": map[string]any{"type_donnee": "string", "valeur": "plombier Douala", "origine_champs": "texte_libre"},
		},
	}
	out, err := r.Route(context.Background(), &RouteContext{
		UserID: 42,
		Intent: "recherche_besoin",
		Doc:    doc,
		GPS:    "4.0583,9.7322",
	})
	require.NoError(t, err)

	assert.Equal(t, "plombier Douala", searcher.params.Query)
	require.NotNil(t, searcher.params.GPSZone)
	assert.Equal(t, "4.0583,9.7322", *searcher.params.GPSZone)

	results := out["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, int64(7), results[0]["service_id"])
	assert.Equal(t, 1, out["nombre_matchings"])
	assert.Equal(t, true, out["gps_filtered"])
	assert.Equal(t, search.DefaultGPSRadiusKM, out["search_radius_km"])
}

func TestRouteSearchWithoutGPS(t *testing.T) {
	searcher := &stubSearcher{}
	r := NewBusinessRouter(nil, searcher, nil)

	out, err := r.Route(context.Background(), &RouteContext{
		Intent: "recherche_besoin",
		Doc:    map[string]any{"data": map[string]any{"description": "gestion scolaire"}},
	})
	require.NoError(t, err)

	assert.Nil(t, searcher.params.GPSZone)
	assert.Equal(t, false, out["gps_filtered"])
	assert.NotContains(t, out, "search_radius_km")
}

func TestRouteExchangeMatched(t *testing.T) {
	matched := int64(400)
	r := NewBusinessRouter(nil, nil, &stubExchange{result: &exchange.Result{
		Status:     "match_trouve",
		EchangeID:  501,
		MatchedID:  &matched,
		MatchScore: 0.85,
		Message:    "ok",
	}})

	out, err := r.Route(context.Background(), &RouteContext{
		UserID: 42,
		Intent: "echange",
		Doc:    map[string]any{},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(501), out["echange_id"])
	assert.Equal(t, "match_trouve", out["statut"])
	assert.Equal(t, int64(400), out["matched_id"])
	assert.Equal(t, 0.85, out["match_score"])
}

func TestRouteExchangeDuplicateMapsToBadRequest(t *testing.T) {
	r := NewBusinessRouter(nil, nil, &stubExchange{
		err: &exchange.Error{Code: exchange.ErrCodeDuplicate, Message: "doublon"},
	})

	_, err := r.Route(context.Background(), &RouteContext{Intent: "echange", Doc: map[string]any{}})
	require.Error(t, err)

	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, ErrCodeBadRequest, oerr.Code)
}

func TestRoutePassThroughIntents(t *testing.T) {
	r := NewBusinessRouter(nil, nil, nil)

	doc := map[string]any{"intention": "assistance_generale"}
	out, err := r.Route(context.Background(), &RouteContext{Intent: "assistance_generale", Doc: doc})
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}
