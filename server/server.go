// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package server exposes the HTTP surface: the orchestrated AI paths,
// direct search, service CRUD and the diagnostics endpoints, behind
// request-id, rate-limit, auth and billing middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/Her50/yukpomnang-sub000/billing"
	"github.com/Her50/yukpomnang-sub000/cache"
	"github.com/Her50/yukpomnang-sub000/exchange"
	"github.com/Her50/yukpomnang-sub000/intent"
	"github.com/Her50/yukpomnang-sub000/llm"
	"github.com/Her50/yukpomnang-sub000/orchestrator"
	"github.com/Her50/yukpomnang-sub000/schema"
	"github.com/Her50/yukpomnang-sub000/search"
	"github.com/Her50/yukpomnang-sub000/service"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "yukpo_http_request_duration_seconds",
	Help:    "Request latency by route.",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "method"})

// Processor runs the orchestrated pipeline.
type Processor interface {
	Process(ctx context.Context, userID int64, req *orchestrator.Request) (*orchestrator.Result, error)
}

// Searcher runs the native search engine.
type Searcher interface {
	Search(ctx context.Context, p search.Params) ([]search.Result, error)
}

// ServiceStore is the CRUD surface over persisted listings.
type ServiceStore interface {
	Create(ctx context.Context, in service.CreateInput) (*service.Service, error)
	GetByID(ctx context.Context, id int64) (*service.Service, error)
	ToggleStatus(ctx context.Context, id, ownerID int64, active bool) error
	Update(ctx context.Context, id, ownerID int64, doc map[string]any) error
	Delete(ctx context.Context, id, ownerID int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]*service.Service, error)
}

// OutputValidator conforms direct creation payloads to the listing schema.
type OutputValidator interface {
	Process(intentLabel, raw string) (map[string]any, error)
}

// Server wires the HTTP routes.
type Server struct {
	processor Processor
	searcher  Searcher
	services  ServiceStore
	validator OutputValidator
	billing   *billing.Middleware
	limiter   *RateLimiter
	secret    []byte
	log       *logger.Logger

	cacheStats func() cache.Stats
	llmMetrics func() map[string]llm.ModelMetrics

	handler http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithProcessor sets the pipeline.
func WithProcessor(p Processor) Option { return func(s *Server) { s.processor = p } }

// WithSearcher sets the search engine.
func WithSearcher(e Searcher) Option { return func(s *Server) { s.searcher = e } }

// WithServiceStore sets the listing repository.
func WithServiceStore(st ServiceStore) Option { return func(s *Server) { s.services = st } }

// WithValidator sets the schema validator for direct creation payloads.
func WithValidator(v OutputValidator) Option { return func(s *Server) { s.validator = v } }

// WithBilling sets the token accounting middleware.
func WithBilling(b *billing.Middleware) Option { return func(s *Server) { s.billing = b } }

// WithRateLimiter sets the per-IP limiter.
func WithRateLimiter(l *RateLimiter) Option { return func(s *Server) { s.limiter = l } }

// WithJWTSecret sets the secret verifying bearer tokens.
func WithJWTSecret(secret []byte) Option { return func(s *Server) { s.secret = secret } }

// WithServerLogger sets the logger.
func WithServerLogger(l *logger.Logger) Option { return func(s *Server) { s.log = l } }

// WithDiagnostics sets the sources behind GET /api/ia/metrics.
func WithDiagnostics(cacheStats func() cache.Stats, llmMetrics func() map[string]llm.ModelMetrics) Option {
	return func(s *Server) {
		s.cacheStats = cacheStats
		s.llmMetrics = llmMetrics
	}
}

// New assembles the router and middleware chain.
func New(opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.New("http-server")
	}

	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.Use(s.requestIDMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.Use(s.authMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/ia/metrics", s.handleDiagnostics).Methods(http.MethodGet)

	r.Handle("/api/ia/auto", s.billed(http.HandlerFunc(s.handleIAAuto))).Methods(http.MethodPost)
	r.Handle("/api/ia/creation-service", s.billed(http.HandlerFunc(s.handleIACreation))).Methods(http.MethodPost)
	r.Handle("/api/search/direct", s.billedIntent(http.HandlerFunc(s.handleSearchDirect), intent.IntentRechercheBesoin)).Methods(http.MethodPost)
	r.Handle("/api/services/create", s.billed(http.HandlerFunc(s.handleServiceCreate))).Methods(http.MethodPost)

	r.HandleFunc("/api/services/{id:[0-9]+}", s.handleServiceGet).Methods(http.MethodGet)
	r.HandleFunc("/api/services/{id:[0-9]+}/toggle-status", s.handleServiceToggle).Methods(http.MethodPatch)
	r.HandleFunc("/api/services/{id:[0-9]+}/update", s.handleServiceUpdate).Methods(http.MethodPut)
	r.HandleFunc("/api/services/{id:[0-9]+}/delete", s.handleServiceDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/prestataire/services", s.handleOwnerServices).Methods(http.MethodGet)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{
			billing.HeaderTokensConsumed, billing.HeaderTokensRemaining, billing.HeaderTokensCostXAF,
			billing.HeaderNewJWT, billing.HeaderPaymentWarning, billing.HeaderProcessingTimeMS,
			billing.HeaderResponseSource,
		},
	}).Handler(r)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// metricsMiddleware records latency under the matched route template.
// It runs inside mux so CurrentRoute resolves; raw paths would explode
// the label cardinality on parameterized routes.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) billed(next http.Handler) http.Handler {
	if s.billing == nil {
		return next
	}
	return s.billing.Wrap(next)
}

func (s *Server) billedIntent(next http.Handler, intentLabel string) http.Handler {
	if s.billing == nil {
		return next
	}
	return s.billing.WrapIntent(next, intentLabel)
}

// requestIDMiddleware assigns an id to every request and echoes it back.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware parses the bearer token into request context. Requests
// without a token proceed anonymously; endpoints needing a user reject
// them individually.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := billing.ParseToken(s.secret, token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "jeton invalide ou expiré")
			return
		}
		next.ServeHTTP(w, r.WithContext(billing.WithClaims(r.Context(), claims)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"status": "ok"}
	if s.cacheStats != nil {
		out["cache"] = s.cacheStats()
	}
	if s.llmMetrics != nil {
		out["models"] = s.llmMetrics()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIAAuto(w http.ResponseWriter, r *http.Request) {
	s.runPipeline(w, r, "")
}

func (s *Server) handleIACreation(w http.ResponseWriter, r *http.Request) {
	s.runPipeline(w, r, intent.IntentCreationService)
}

// runPipeline is the shared body of the two orchestrated endpoints. A
// non-empty forcedIntent skips detection.
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, forcedIntent string) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if forcedIntent != "" {
		req.Intention = forcedIntent
	}

	result, err := s.processor.Process(r.Context(), userID, &req)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	w.Header().Set(billing.HeaderTokensConsumed, strconv.Itoa(result.TokensConsumed))
	w.Header().Set(billing.HeaderResponseSource, result.Source)

	status := http.StatusOK
	if _, created := result.Data["service_id"]; created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, result)
}

type searchRequest struct {
	Texte     string `json:"texte"`
	GPSMobile string `json:"gps_mobile,omitempty"`
}

func (s *Server) handleSearchDirect(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if strings.TrimSpace(req.Texte) == "" {
		s.writeError(w, http.StatusBadRequest, "texte requis")
		return
	}

	params := search.Params{Query: req.Texte}
	gpsFiltered := false
	if req.GPSMobile != "" {
		zone := req.GPSMobile
		params.GPSZone = &zone
		gpsFiltered = true
	}

	results, err := s.searcher.Search(r.Context(), params)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	rendered := make([]map[string]any, 0, len(results))
	for i := range results {
		rendered = append(rendered, results[i].ToJSON())
	}

	out := map[string]any{
		"status":           "ok",
		"results":          rendered,
		"nombre_matchings": len(rendered),
		"gps_filtered":     gpsFiltered,
	}
	if gpsFiltered {
		out["search_radius_km"] = search.DefaultGPSRadiusKM
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleServiceCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	var doc map[string]any
	if s.validator != nil {
		validated, err := s.validator.Process(intent.IntentCreationService, string(raw))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		doc = validated
	} else if err := json.Unmarshal(raw, &doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "document invalide")
		return
	}

	svc, err := s.services.Create(r.Context(), service.CreateInput{UserID: userID, Doc: doc})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "service_id": svc.ID})
}

func (s *Server) handleServiceGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	svc, err := s.services.GetByID(r.Context(), id)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleServiceToggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Actif bool `json:"actif"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	if err := s.services.ToggleStatus(r.Context(), id, userID, body.Actif); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "is_active": body.Actif})
}

func (s *Server) handleServiceUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	if err := s.services.Update(r.Context(), id, userID, doc); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleServiceDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.services.Delete(r.Context(), id, userID); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleOwnerServices(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	services, err := s.services.ListByOwner(r.Context(), userID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "services": services})
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	claims, ok := billing.ClaimsFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "authentification requise")
		return 0, false
	}
	userID, err := claims.UserID()
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "jeton invalide")
		return 0, false
	}
	return userID, true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "identifiant invalide")
		return 0, false
	}
	return id, true
}

// writeMappedError translates domain error codes to HTTP statuses.
func (s *Server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "erreur interne"

	var oerr *orchestrator.Error
	var serr *service.Error
	var scerr *schema.Error
	var xerr *exchange.Error
	switch {
	case errors.As(err, &oerr):
		if oerr.Code == orchestrator.ErrCodeInputRejected || oerr.Code == orchestrator.ErrCodeBadRequest {
			status = http.StatusBadRequest
		}
		message = oerr.Message
	case errors.As(err, &serr):
		if serr.Code == service.ErrCodeNotFound {
			status = http.StatusNotFound
		}
		message = serr.Message
	case errors.As(err, &scerr):
		if scerr.Code == schema.ErrCodeBadRequest {
			status = http.StatusBadRequest
		}
		message = scerr.Message
	case errors.As(err, &xerr):
		if xerr.Code != exchange.ErrCodeDBFailure {
			status = http.StatusBadRequest
		}
		message = xerr.Message
	}

	if status == http.StatusInternalServerError {
		s.log.ErrorWithCode("", r.Header.Get("X-Request-ID"), "request failed", status, err, nil)
	}
	s.writeError(w, status, message)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("", "", "response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"status": "error", "message": message})
}
