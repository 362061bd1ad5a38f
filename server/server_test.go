// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Her50/yukpomnang-sub000/billing"
	"github.com/Her50/yukpomnang-sub000/orchestrator"
	"github.com/Her50/yukpomnang-sub000/search"
	"github.com/Her50/yukpomnang-sub000/service"
)

var testSecret = []byte("server-test-secret")

type stubProcessor struct {
	userID int64
	req    *orchestrator.Request
	result *orchestrator.Result
	err    error
}

func (s *stubProcessor) Process(_ context.Context, userID int64, req *orchestrator.Request) (*orchestrator.Result, error) {
	s.userID = userID
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubEngine struct {
	params  search.Params
	results []search.Result
	err     error
}

func (s *stubEngine) Search(_ context.Context, p search.Params) ([]search.Result, error) {
	s.params = p
	return s.results, s.err
}

type stubStore struct {
	created   service.CreateInput
	toggledID int64
	toggledBy int64
	active    bool
	deletedID int64
	deletedBy int64
	svc       *service.Service
	services  []*service.Service
	err       error
}

func (s *stubStore) Create(_ context.Context, in service.CreateInput) (*service.Service, error) {
	s.created = in
	if s.err != nil {
		return nil, s.err
	}
	return &service.Service{ID: 138, UserID: in.UserID, IsActive: true}, nil
}

func (s *stubStore) GetByID(_ context.Context, id int64) (*service.Service, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.svc, nil
}

func (s *stubStore) ToggleStatus(_ context.Context, id, ownerID int64, active bool) error {
	s.toggledID, s.toggledBy, s.active = id, ownerID, active
	return s.err
}

func (s *stubStore) Update(_ context.Context, id, ownerID int64, doc map[string]any) error {
	return s.err
}

func (s *stubStore) Delete(_ context.Context, id, ownerID int64) error {
	s.deletedID, s.deletedBy = id, ownerID
	return s.err
}

func (s *stubStore) ListByOwner(_ context.Context, ownerID int64) ([]*service.Service, error) {
	return s.services, s.err
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	base := []Option{WithJWTSecret(testSecret)}
	return New(append(base, opts...)...)
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	token, err := billing.IssueToken(testSecret, userID, "user", "user@test.cm", 1000)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, s *Server, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestPipelineRequiresAuth(t *testing.T) {
	s := newTestServer(t, WithProcessor(&stubProcessor{}))
	w := doJSON(t, s, http.MethodPost, "/api/ia/auto", "", map[string]any{"texte": "bonjour"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPipelineRejectsBadToken(t *testing.T) {
	s := newTestServer(t, WithProcessor(&stubProcessor{}))
	w := doJSON(t, s, http.MethodPost, "/api/ia/auto", "Bearer not-a-jwt", map[string]any{"texte": "bonjour"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPipelineSetsBillingHeaders(t *testing.T) {
	p := &stubProcessor{result: &orchestrator.Result{
		Status:         "ok",
		Intention:      "recherche_besoin",
		TokensConsumed: 110,
		Source:         "cache",
	}}
	s := newTestServer(t, WithProcessor(p))

	w := doJSON(t, s, http.MethodPost, "/api/ia/auto", bearer(t, 42), map[string]any{"texte": "je cherche un plombier"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(42), p.userID)
	assert.Equal(t, "110", w.Header().Get(billing.HeaderTokensConsumed))
	assert.Equal(t, "cache", w.Header().Get(billing.HeaderResponseSource))
}

func TestCreationEndpointForcesIntent(t *testing.T) {
	p := &stubProcessor{result: &orchestrator.Result{Status: "ok", Intention: "creation_service"}}
	s := newTestServer(t, WithProcessor(p))

	w := doJSON(t, s, http.MethodPost, "/api/ia/creation-service", bearer(t, 42), map[string]any{"texte": "je vends des manuels"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "creation_service", p.req.Intention)
}

func TestPipelineReturns201WhenServicePersisted(t *testing.T) {
	p := &stubProcessor{result: &orchestrator.Result{
		Status:    "ok",
		Intention: "creation_service",
		Data:      map[string]any{"service_id": int64(138)},
		Source:    "api",
	}}
	s := newTestServer(t, WithProcessor(p))

	w := doJSON(t, s, http.MethodPost, "/api/ia/auto", bearer(t, 42), map[string]any{"texte": "je vends des manuels"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPipelineErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"rejected input", &orchestrator.Error{Code: orchestrator.ErrCodeInputRejected, Message: "entrée refusée"}, http.StatusBadRequest},
		{"bad request", &orchestrator.Error{Code: orchestrator.ErrCodeBadRequest, Message: "document invalide"}, http.StatusBadRequest},
		{"internal", &orchestrator.Error{Code: orchestrator.ErrCodeInternal, Message: "boom"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, WithProcessor(&stubProcessor{err: tc.err}))
			w := doJSON(t, s, http.MethodPost, "/api/ia/auto", bearer(t, 42), map[string]any{"texte": "x"})
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestSearchDirectRequiresText(t *testing.T) {
	s := newTestServer(t, WithSearcher(&stubEngine{}))
	w := doJSON(t, s, http.MethodPost, "/api/search/direct", "", map[string]any{"texte": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchDirectWithGPS(t *testing.T) {
	engine := &stubEngine{results: []search.Result{
		{ServiceID: 7, Data: json.RawMessage(`{}`), TotalScore: 12.5, SearchMethod: "fulltext"},
	}}
	s := newTestServer(t, WithSearcher(engine))

	w := doJSON(t, s, http.MethodPost, "/api/search/direct", "", map[string]any{
		"texte":      "plombier Douala",
		"gps_mobile": "4.0583,9.7322",
	})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "plombier Douala", engine.params.Query)
	require.NotNil(t, engine.params.GPSZone)
	assert.Equal(t, "4.0583,9.7322", *engine.params.GPSZone)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["nombre_matchings"])
	assert.Equal(t, true, out["gps_filtered"])
	assert.Equal(t, float64(search.DefaultGPSRadiusKM), out["search_radius_km"])
}

func TestSearchDirectWithoutGPS(t *testing.T) {
	engine := &stubEngine{}
	s := newTestServer(t, WithSearcher(engine))

	w := doJSON(t, s, http.MethodPost, "/api/search/direct", "", map[string]any{"texte": "cours de maths"})
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, false, out["gps_filtered"])
	assert.NotContains(t, out, "search_radius_km")
}

func TestServiceCreateReturnsID(t *testing.T) {
	store := &stubStore{}
	s := newTestServer(t, WithServiceStore(store))

	w := doJSON(t, s, http.MethodPost, "/api/services/create", bearer(t, 42), map[string]any{
		"intention": "creation_service",
		"data":      map[string]any{"titre_service": map[string]any{"valeur": "Cours de maths"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(138), out["service_id"])
	assert.Equal(t, int64(42), store.created.UserID)
}

func TestServiceGetIsPublic(t *testing.T) {
	store := &stubStore{svc: &service.Service{ID: 7, UserID: 42, IsActive: true}}
	s := newTestServer(t, WithServiceStore(store))

	w := doJSON(t, s, http.MethodGet, "/api/services/7", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServiceGetNotFound(t *testing.T) {
	store := &stubStore{err: &service.Error{Code: service.ErrCodeNotFound, Message: "service introuvable"}}
	s := newTestServer(t, WithServiceStore(store))

	w := doJSON(t, s, http.MethodGet, "/api/services/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServiceToggleOwnerScoped(t *testing.T) {
	store := &stubStore{}
	s := newTestServer(t, WithServiceStore(store))

	w := doJSON(t, s, http.MethodPatch, "/api/services/7/toggle-status", bearer(t, 42), map[string]any{"actif": false})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(7), store.toggledID)
	assert.Equal(t, int64(42), store.toggledBy)
	assert.False(t, store.active)
}

func TestServiceDeleteRequiresAuth(t *testing.T) {
	s := newTestServer(t, WithServiceStore(&stubStore{}))
	w := doJSON(t, s, http.MethodDelete, "/api/services/7/delete", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOwnerServicesListing(t *testing.T) {
	store := &stubStore{services: []*service.Service{
		{ID: 1, UserID: 42, IsActive: true},
		{ID: 2, UserID: 42, IsActive: false},
	}}
	s := newTestServer(t, WithServiceStore(store))

	w := doJSON(t, s, http.MethodGet, "/api/prestataire/services", bearer(t, 42), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Services []map[string]any `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Services, 2)
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	limiter := NewRateLimiter(nil, 2, nil)
	s := newTestServer(t, WithRateLimiter(limiter))

	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestMetricsUseRouteTemplate(t *testing.T) {
	requestDuration.Reset()
	store := &stubStore{svc: &service.Service{ID: 7, UserID: 42, IsActive: true}}
	s := newTestServer(t, WithServiceStore(store))

	doJSON(t, s, http.MethodGet, "/api/services/7", "", nil)
	doJSON(t, s, http.MethodGet, "/api/services/8", "", nil)

	// Both requests land on one histogram child keyed by the route
	// template, not two keyed by raw paths.
	assert.Equal(t, 1, testutil.CollectAndCount(requestDuration))
}

func TestLocalRateLimitWindowIsPerIP(t *testing.T) {
	limiter := NewRateLimiter(nil, 1, nil)

	assert.True(t, limiter.Allow(context.Background(), "10.0.0.1"))
	assert.False(t, limiter.Allow(context.Background(), "10.0.0.1"))
	assert.True(t, limiter.Allow(context.Background(), "10.0.0.2"))
}
