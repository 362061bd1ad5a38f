// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package exchange

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// Error codes surfaced by the matcher.
const (
	ErrCodeBadRequest = "BAD_REQUEST"
	ErrCodeDuplicate  = "DUPLICATE"
	ErrCodeDBFailure  = "DB_FAILURE"
)

// Error is a typed matcher failure.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

const (
	// batchSize bounds one candidate page; maxScanOffset stops runaway
	// scans over very deep pending backlogs.
	batchSize     = 50
	maxScanOffset = 1000

	// dedupeTTL keeps the duplicate marker hot in Redis.
	dedupeTTL = 5 * time.Minute

	defaultThreshold = 0.70

	reputationTTL = 10 * time.Minute
)

const (
	duplicateQuery = `SELECT id FROM echanges WHERE user_id = $1 AND offre = $2 AND besoin = $3 AND statut = 'pending' LIMIT 1`

	insertExchangeQuery = `INSERT INTO echanges (user_id, offre, besoin, statut, don, quantite_offerte, quantite_requise, gps_fixe_lat, gps_fixe_lon)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8) RETURNING id`

	candidatesQuery = `SELECT id, user_id, offre, besoin, quantite_offerte, quantite_requise, gps_fixe_lat, gps_fixe_lon, don
		FROM echanges WHERE statut = 'pending' AND id != $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	matchRowQuery = `UPDATE echanges SET statut = 'matched', matched_with = $1 WHERE id = $2 AND statut = 'pending'`
)

// Result reports the outcome of one exchange submission.
type Result struct {
	Status     string  `json:"status"`
	EchangeID  int64   `json:"echange_id"`
	MatchedID  *int64  `json:"matched_id,omitempty"`
	MatchScore float64 `json:"match_score,omitempty"`
	Message    string  `json:"message"`
}

// reputationCache is a TTL-bounded read-mostly cache of user reputations.
type reputationCache struct {
	mu      sync.RWMutex
	entries map[int64]reputationEntry
}

type reputationEntry struct {
	value   float64
	expires time.Time
}

func (c *reputationCache) get(userID int64) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || time.Now().After(e.expires) {
		return 0, false
	}
	return e.value, true
}

func (c *reputationCache) put(userID int64, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = reputationEntry{value: value, expires: time.Now().Add(reputationTTL)}
}

// Matcher registers exchanges and pairs them against the pending backlog.
type Matcher struct {
	db         *sql.DB
	rdb        *redis.Client // optional dedupe fast path
	threshold  float64
	weights    Weights
	reputation *reputationCache
	log        *logger.Logger
}

// MatcherOption configures the Matcher.
type MatcherOption func(*Matcher)

// WithRedis enables the Redis duplicate fast path.
func WithRedis(rdb *redis.Client) MatcherOption {
	return func(m *Matcher) { m.rdb = rdb }
}

// WithThreshold overrides the minimum pairing score.
func WithThreshold(t float64) MatcherOption {
	return func(m *Matcher) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithWeights overrides the scoring weights.
func WithWeights(w Weights) MatcherOption {
	return func(m *Matcher) { m.weights = w }
}

// WithMatcherLogger sets the logger.
func WithMatcherLogger(l *logger.Logger) MatcherOption {
	return func(m *Matcher) { m.log = l }
}

// NewMatcher creates a Matcher with the default threshold and weights.
func NewMatcher(db *sql.DB, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		db:         db,
		threshold:  defaultThreshold,
		weights:    DefaultWeights(),
		reputation: &reputationCache{entries: map[int64]reputationEntry{}},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.New("exchange-matcher")
	}
	return m
}

// Process validates and registers one exchange, then scans the pending
// backlog for the best counterpart. At most one pending row may exist per
// (user, offre, besoin); duplicates are rejected before insert.
func (m *Matcher) Process(ctx context.Context, userID int64, doc map[string]any) (*Result, error) {
	data := doc
	if nested, ok := doc["data"].(map[string]any); ok {
		data = nested
	}

	if mode, ok := data["mode"].(string); ok && mode == "achat" {
		return nil, &Error{Code: ErrCodeBadRequest, Message: "le mode 'achat' n'est pas supporté"}
	}

	offre := lotOf(data, "offre", "offre_produits")
	besoin := lotOf(data, "besoin", "besoin_produits")
	if offre == nil && besoin == nil {
		return nil, &Error{Code: ErrCodeBadRequest, Message: "offre ou besoin requis"}
	}
	don, _ := data["don"].(bool)

	offreJSON, err := json.Marshal(offre)
	if err != nil {
		return nil, &Error{Code: ErrCodeBadRequest, Message: "offre non sérialisable", Cause: err}
	}
	besoinJSON, err := json.Marshal(besoin)
	if err != nil {
		return nil, &Error{Code: ErrCodeBadRequest, Message: "besoin non sérialisable", Cause: err}
	}

	if err := m.checkDuplicate(ctx, userID, offreJSON, besoinJSON); err != nil {
		return nil, err
	}

	submitted := Candidate{
		UserID: userID,
		Offre:  offre,
		Besoin: besoin,
		Don:    don,
	}
	submitted.QuantiteOfferte = floatField(data, "quantite_offerte")
	submitted.QuantiteRequise = floatField(data, "quantite_requise")
	submitted.GPSLat = floatField(data, "gps_fixe_lat")
	submitted.GPSLon = floatField(data, "gps_fixe_lon")

	err = m.db.QueryRowContext(ctx, insertExchangeQuery,
		userID, offreJSON, besoinJSON, don,
		nullFloat(submitted.QuantiteOfferte), nullFloat(submitted.QuantiteRequise),
		nullFloat(submitted.GPSLat), nullFloat(submitted.GPSLon),
	).Scan(&submitted.ID)
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "exchange insert failed", Cause: err}
	}

	m.markDuplicate(ctx, userID, offreJSON, besoinJSON)

	best, bestScore, err := m.findBestCandidate(ctx, submitted)
	if err != nil {
		return nil, err
	}

	if best != nil && bestScore >= m.threshold {
		if err := m.matchPair(ctx, submitted.ID, best.ID); err != nil {
			return nil, err
		}
		m.log.Info("", "", "exchange matched", map[string]interface{}{
			"echange_id": submitted.ID,
			"matched_id": best.ID,
			"score":      bestScore,
		})
		matchedID := best.ID
		return &Result{
			Status:     "match_trouve",
			EchangeID:  submitted.ID,
			MatchedID:  &matchedID,
			MatchScore: bestScore,
			Message:    fmt.Sprintf("échange mis en relation (score: %.2f)", bestScore),
		}, nil
	}

	return &Result{
		Status:    "en_attente",
		EchangeID: submitted.ID,
		Message:   "échange enregistré, en attente de mise en relation",
	}, nil
}

// checkDuplicate consults Redis first, then the database. Redis errors
// degrade to the DB check.
func (m *Matcher) checkDuplicate(ctx context.Context, userID int64, offre, besoin []byte) error {
	key := m.dedupeKey(userID, offre, besoin)
	if m.rdb != nil {
		if n, err := m.rdb.Exists(ctx, key).Result(); err == nil && n > 0 {
			return &Error{Code: ErrCodeDuplicate, Message: "un échange identique existe déjà pour cet utilisateur"}
		}
	}

	var id int64
	err := m.db.QueryRowContext(ctx, duplicateQuery, userID, offre, besoin).Scan(&id)
	if err == nil {
		m.markDuplicate(ctx, userID, offre, besoin)
		return &Error{Code: ErrCodeDuplicate, Message: "un échange identique existe déjà pour cet utilisateur"}
	}
	if err != sql.ErrNoRows {
		return &Error{Code: ErrCodeDBFailure, Message: "duplicate check failed", Cause: err}
	}
	return nil
}

func (m *Matcher) markDuplicate(ctx context.Context, userID int64, offre, besoin []byte) {
	if m.rdb == nil {
		return
	}
	if err := m.rdb.Set(ctx, m.dedupeKey(userID, offre, besoin), "1", dedupeTTL).Err(); err != nil {
		m.log.Warn("", "", "dedupe marker write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (m *Matcher) dedupeKey(userID int64, offre, besoin []byte) string {
	return fmt.Sprintf("echange_duplicate:%d:%s:%s", userID, offre, besoin)
}

// findBestCandidate pages through the pending backlog, scoring each
// compatible row. The scan stops early on a score above threshold.
func (m *Matcher) findBestCandidate(ctx context.Context, submitted Candidate) (*Candidate, float64, error) {
	var best *Candidate
	bestScore := 0.0

	for offset := 0; offset <= maxScanOffset; offset += batchSize {
		candidates, err := m.fetchCandidates(ctx, submitted.ID, offset)
		if err != nil {
			return nil, 0, err
		}
		if len(candidates) == 0 {
			break
		}

		for i := range candidates {
			c := candidates[i]
			if !m.compatible(submitted, c) {
				continue
			}
			reputation := m.userReputation(c.UserID)
			s := PairScore(submitted, c, reputation, m.weights)
			if s > bestScore {
				bestScore = s
				best = &candidates[i]
			}
			if bestScore >= m.threshold {
				return best, bestScore, nil
			}
		}
	}

	return best, bestScore, nil
}

// compatible applies the donation pairing rule: a donation offers without
// asking, so it only pairs with a bare besoin, and vice versa.
func (m *Matcher) compatible(a, b Candidate) bool {
	if !a.Don && !b.Don {
		return len(b.Offre) > 0 && len(b.Besoin) > 0
	}
	aOffreOnly := len(a.Offre) > 0 && len(a.Besoin) == 0
	aBesoinOnly := len(a.Besoin) > 0 && len(a.Offre) == 0
	bOffreOnly := len(b.Offre) > 0 && len(b.Besoin) == 0
	bBesoinOnly := len(b.Besoin) > 0 && len(b.Offre) == 0
	return (aOffreOnly && bBesoinOnly) || (aBesoinOnly && bOffreOnly)
}

func (m *Matcher) fetchCandidates(ctx context.Context, excludeID int64, offset int) ([]Candidate, error) {
	rows, err := m.db.QueryContext(ctx, candidatesQuery, excludeID, batchSize, offset)
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "candidate scan failed", Cause: err}
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var offreRaw, besoinRaw []byte
		var qo, qr, lat, lon sql.NullFloat64
		var don sql.NullBool
		if err := rows.Scan(&c.ID, &c.UserID, &offreRaw, &besoinRaw, &qo, &qr, &lat, &lon, &don); err != nil {
			return nil, &Error{Code: ErrCodeDBFailure, Message: "candidate scan failed", Cause: err}
		}
		_ = json.Unmarshal(offreRaw, &c.Offre)
		_ = json.Unmarshal(besoinRaw, &c.Besoin)
		if qo.Valid {
			c.QuantiteOfferte = &qo.Float64
		}
		if qr.Valid {
			c.QuantiteRequise = &qr.Float64
		}
		if lat.Valid {
			c.GPSLat = &lat.Float64
		}
		if lon.Valid {
			c.GPSLon = &lon.Float64
		}
		c.Don = don.Valid && don.Bool
		out = append(out, c)
	}
	return out, rows.Err()
}

// matchPair flips both rows to matched in one transaction. The pending
// guard on each update makes the pairing atomic: if a concurrent matcher
// took either row first, the whole transaction rolls back.
func (m *Matcher) matchPair(ctx context.Context, id, matchedID int64) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Code: ErrCodeDBFailure, Message: "match transaction begin failed", Cause: err}
	}
	defer tx.Rollback()

	for _, pair := range [][2]int64{{matchedID, id}, {id, matchedID}} {
		res, err := tx.ExecContext(ctx, matchRowQuery, pair[0], pair[1])
		if err != nil {
			return &Error{Code: ErrCodeDBFailure, Message: "match update failed", Cause: err}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return &Error{Code: ErrCodeDBFailure, Message: "match update failed", Cause: err}
		}
		if affected == 0 {
			return &Error{Code: ErrCodeDBFailure, Message: "exchange no longer pending"}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Code: ErrCodeDBFailure, Message: "match transaction commit failed", Cause: err}
	}
	return nil
}

// userReputation reads through the TTL cache. Real reputation scoring is
// not wired yet; unknown users rate neutral.
func (m *Matcher) userReputation(userID int64) float64 {
	if v, ok := m.reputation.get(userID); ok {
		return v
	}
	reputation := 1.0
	m.reputation.put(userID, reputation)
	return reputation
}

// lotOf reads a lot object under its plain or produits-suffixed key,
// unwrapping the envelope valeur when present.
func lotOf(data map[string]any, key, altKey string) map[string]any {
	raw, ok := data[altKey]
	if !ok {
		raw, ok = data[key]
	}
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := obj["valeur"].(map[string]any); ok {
		return inner
	}
	return obj
}

func floatField(data map[string]any, key string) *float64 {
	if v, ok := data[key].(float64); ok {
		return &v
	}
	return nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
