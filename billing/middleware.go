// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package billing

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Her50/yukpomnang-sub000/intent"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// Billing response headers.
const (
	HeaderTokensConsumed   = "x-tokens-consumed"
	HeaderTokensRemaining  = "x-tokens-remaining"
	HeaderTokensCostXAF    = "x-tokens-cost-xaf"
	HeaderProcessingTimeMS = "x-processing-time-ms"
	HeaderResponseSource   = "x-response-source"
	HeaderNewJWT           = "x-new-jwt"
	HeaderPaymentWarning   = "x-payment-warning"
	HeaderDeductionError   = "x-tokens-deduction-error"
)

// debitQuery only debits when the balance still covers the cost.
const debitQuery = `UPDATE users SET tokens_balance = tokens_balance - $1 WHERE id = $2 AND tokens_balance >= $1 RETURNING tokens_balance`

const balanceQuery = `SELECT tokens_balance FROM users WHERE id = $1`

var debitOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "yukpo_billing_debits_total",
	Help: "Debit attempts by outcome (success, race, error, free).",
}, []string{"outcome"})

// Middleware wraps monetizable handlers with token accounting.
//
// The request body is peeked once to extract the intent, the inner
// response is captured, consumed tokens are read from the handler's
// header or estimated from the body, and the balance is debited through
// a single conditional UPDATE. There is deliberately no transaction
// around the whole pipeline: LLM calls dominate the latency and must
// not hold DB connections.
type Middleware struct {
	db     *sql.DB
	secret []byte
	log    *logger.Logger
}

// NewMiddleware creates the accounting middleware.
func NewMiddleware(db *sql.DB, jwtSecret []byte, log *logger.Logger) *Middleware {
	if log == nil {
		log = logger.New("billing")
	}
	return &Middleware{db: db, secret: jwtSecret, log: log}
}

// Wrap returns the billed version of next. The intent is read from the
// request body.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return m.wrap(next, "")
}

// WrapIntent bills next under a fixed intent. Direct paths use it when
// their body carries no intention key.
func (m *Middleware) WrapIntent(next http.Handler, intentLabel string) http.Handler {
	return m.wrap(next, intentLabel)
}

func (m *Middleware) wrap(next http.Handler, forcedIntent string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")

		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			http.Error(w, `{"status":"error","message":"invalid token subject"}`, http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, `{"status":"error","message":"unreadable request body"}`, http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		intentLabel := forcedIntent
		if intentLabel == "" {
			intentLabel = ExtractIntent(body)
		}

		m.precheck(requestID, userID, intentLabel)

		rec := newResponseRecorder()
		next.ServeHTTP(rec, r)

		tokens := consumedTokens(rec)
		cost := CostTokens(intentLabel, tokens)

		rec.header.Set(HeaderTokensConsumed, strconv.Itoa(tokens))
		rec.header.Set(HeaderTokensCostXAF, strconv.FormatInt(cost, 10))
		rec.header.Set(HeaderProcessingTimeMS, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
		if rec.header.Get(HeaderResponseSource) == "" {
			rec.header.Set(HeaderResponseSource, "api")
		}

		if cost == 0 || rec.status >= http.StatusBadRequest {
			debitOutcomes.WithLabelValues("free").Inc()
			rec.flush(w)
			return
		}

		var remaining int64
		err = m.db.QueryRow(debitQuery, cost, userID).Scan(&remaining)
		switch {
		case err == nil:
			debitOutcomes.WithLabelValues("success").Inc()
			rec.header.Set(HeaderTokensRemaining, strconv.FormatInt(remaining, 10))
			if token, jwtErr := IssueToken(m.secret, userID, claims.Role, claims.Email, remaining); jwtErr == nil {
				rec.header.Set(HeaderNewJWT, token)
			} else {
				m.log.Error(strconv.FormatInt(userID, 10), requestID, "jwt re-issue failed", map[string]interface{}{"error": jwtErr.Error()})
			}
			m.log.Info(strconv.FormatInt(userID, 10), requestID, "balance debited", map[string]interface{}{
				"intent": intentLabel, "tokens": tokens, "cost_xaf": cost, "remaining": remaining,
			})
		case errors.Is(err, sql.ErrNoRows):
			// Balance raced below cost after the pre-check. The service
			// was already delivered, so it goes out unbilled.
			debitOutcomes.WithLabelValues("race").Inc()
			rec.header.Set(HeaderPaymentWarning, "service rendu sans facturation : solde insuffisant au moment du débit")
			m.log.Warn(strconv.FormatInt(userID, 10), requestID, "debit race, response delivered unbilled", map[string]interface{}{
				"intent": intentLabel, "cost_xaf": cost,
			})
		default:
			debitOutcomes.WithLabelValues("error").Inc()
			m.log.Error(strconv.FormatInt(userID, 10), requestID, "debit failed", map[string]interface{}{
				"intent": intentLabel, "cost_xaf": cost, "error": err.Error(),
			})
			w.Header().Set(HeaderDeductionError, "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"error","message":"aucun débit n'a eu lieu, veuillez réessayer"}`))
			return
		}

		rec.flush(w)
	})
}

// precheck reads the balance and warns when a paid intent cannot cover
// even a single token. The request always proceeds: the conditional
// debit decides after delivery, so an unpayable creation is still
// persisted and goes out with a payment warning instead of a rejection.
func (m *Middleware) precheck(requestID string, userID int64, intentLabel string) {
	var balance int64
	if err := m.db.QueryRow(balanceQuery, userID).Scan(&balance); err != nil {
		m.log.Warn(strconv.FormatInt(userID, 10), requestID, "balance pre-check failed", map[string]interface{}{"error": err.Error()})
		return
	}
	minCost := CostXAF(intentLabel, 1)
	if minCost > 0 && float64(balance) < minCost {
		m.log.Warn(strconv.FormatInt(userID, 10), requestID, "insufficient balance, request allowed", map[string]interface{}{
			"intent": intentLabel, "balance": balance,
		})
	}
}

// ExtractIntent pulls the intent from the request body, checking the
// root "intention" key then data.intention. Unknown or absent intents
// default to assistance_generale.
func ExtractIntent(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return intent.IntentAssistance
	}
	if label, ok := doc["intention"].(string); ok && intent.IsCanonical(label) {
		return label
	}
	if data, ok := doc["data"].(map[string]any); ok {
		if label, ok := data["intention"].(string); ok && intent.IsCanonical(label) {
			return label
		}
	}
	return intent.IntentAssistance
}

// consumedTokens reads the handler-reported count or estimates from the
// captured body.
func consumedTokens(rec *responseRecorder) int {
	if reported := rec.header.Get(HeaderTokensConsumed); reported != "" {
		if n, err := strconv.Atoi(reported); err == nil && n >= 0 {
			return n
		}
	}
	return EstimateTokens(rec.body.Bytes(), rec.header.Get("Content-Type"))
}

// responseRecorder buffers the inner handler's response so billing
// headers can be stamped before anything reaches the client.
type responseRecorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *responseRecorder) flush(w http.ResponseWriter) {
	for key, values := range r.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}
