// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

var servicesCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "yukpo_services_created_total",
	Help: "Number of service listings persisted.",
})

const (
	insertServiceQuery = `INSERT INTO services (user_id, data, is_active, gps, category, auto_deactivate_at)
		VALUES ($1, $2, TRUE, $3, $4, $5) RETURNING id, created_at`

	markProviderQuery = `UPDATE users SET is_provider = TRUE WHERE id = $1 AND is_provider = FALSE`

	insertMediaQuery = `INSERT INTO media (service_id, type, path, uploaded_at) VALUES ($1, $2, $3, $4)`

	selectServiceQuery = `SELECT id, user_id, data, is_active, gps, category, auto_deactivate_at, created_at
		FROM services WHERE id = $1 AND is_active = TRUE`

	toggleStatusQuery = `UPDATE services SET is_active = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3 RETURNING id`

	updateServiceQuery = `UPDATE services SET data = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3 RETURNING id`

	deleteServiceQuery = `DELETE FROM services WHERE id = $1 AND user_id = $2 RETURNING id`

	listByOwnerQuery = `SELECT id, user_id, data, is_active, gps, category, auto_deactivate_at, created_at
		FROM services WHERE user_id = $1 ORDER BY created_at DESC`
)

// Repository persists service listings.
type Repository struct {
	db  *sql.DB
	log *logger.Logger
}

// NewRepository creates a Repository over the given database handle.
func NewRepository(db *sql.DB, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.New("service-repository")
	}
	return &Repository{db: db, log: log}
}

// Create persists a validated listing in one transaction: the service row,
// the owner's provider flag, and one media row per stored upload. The
// transaction rolls back as a whole on any failure.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*Service, error) {
	data := dataOf(in.Doc)

	isTarissable := envelopeBool(data, "is_tarissable")
	gps := envelopeString(data, "gps_fixe")
	category := envelopeString(data, "category")
	autoDeactivateAt := time.Now().AddDate(0, 0, int(activeDays(data, isTarissable)))

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "listing document not serializable", Cause: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "transaction begin failed", Cause: err}
	}
	defer tx.Rollback()

	svc := &Service{
		UserID:           in.UserID,
		Data:             payload,
		IsActive:         true,
		GPS:              gps,
		Category:         category,
		AutoDeactivateAt: autoDeactivateAt,
	}

	err = tx.QueryRowContext(ctx, insertServiceQuery,
		in.UserID, payload, nullable(gps), nullable(category), autoDeactivateAt,
	).Scan(&svc.ID, &svc.CreatedAt)
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "service insert failed", Cause: err}
	}

	// First listing flips the owner into a provider; a no-op afterwards.
	if _, err := tx.ExecContext(ctx, markProviderQuery, in.UserID); err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "provider flag update failed", Cause: err}
	}

	for _, m := range in.Media {
		if _, err := tx.ExecContext(ctx, insertMediaQuery, svc.ID, m.Kind, m.Path, time.Now()); err != nil {
			return nil, &Error{Code: ErrCodeDBFailure, Message: "media insert failed", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "transaction commit failed", Cause: err}
	}

	servicesCreated.Inc()
	r.log.Info("", "", "service created", map[string]interface{}{
		"service_id": svc.ID,
		"user_id":    in.UserID,
		"media":      len(in.Media),
	})
	return svc, nil
}

// GetByID returns one active listing. Inactive and unknown ids both read
// as not found.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Service, error) {
	svc, err := scanService(r.db.QueryRowContext(ctx, selectServiceQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Code: ErrCodeNotFound, Message: "service introuvable"}
	}
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "service read failed", Cause: err}
	}
	return svc, nil
}

// ToggleStatus sets the active flag. Owner-scoped: a mismatched owner reads
// as not found rather than forbidden.
func (r *Repository) ToggleStatus(ctx context.Context, id, ownerID int64, active bool) error {
	var updated int64
	err := r.db.QueryRowContext(ctx, toggleStatusQuery, active, id, ownerID).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Code: ErrCodeNotFound, Message: "service introuvable"}
	}
	if err != nil {
		return &Error{Code: ErrCodeDBFailure, Message: "status update failed", Cause: err}
	}
	return nil
}

// Update replaces the listing document. Owner-scoped.
func (r *Repository) Update(ctx context.Context, id, ownerID int64, doc map[string]any) error {
	payload, err := json.Marshal(dataOf(doc))
	if err != nil {
		return &Error{Code: ErrCodeDBFailure, Message: "listing document not serializable", Cause: err}
	}

	var updated int64
	err = r.db.QueryRowContext(ctx, updateServiceQuery, payload, id, ownerID).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Code: ErrCodeNotFound, Message: "service introuvable"}
	}
	if err != nil {
		return &Error{Code: ErrCodeDBFailure, Message: "service update failed", Cause: err}
	}
	return nil
}

// Delete removes the listing. Owner-scoped.
func (r *Repository) Delete(ctx context.Context, id, ownerID int64) error {
	var deleted int64
	err := r.db.QueryRowContext(ctx, deleteServiceQuery, id, ownerID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Code: ErrCodeNotFound, Message: "service introuvable"}
	}
	if err != nil {
		return &Error{Code: ErrCodeDBFailure, Message: "service delete failed", Cause: err}
	}
	return nil
}

// ListByOwner returns all listings of one owner, newest first, including
// inactive ones.
func (r *Repository) ListByOwner(ctx context.Context, ownerID int64) ([]*Service, error) {
	rows, err := r.db.QueryContext(ctx, listByOwnerQuery, ownerID)
	if err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "owner listing read failed", Cause: err}
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, &Error{Code: ErrCodeDBFailure, Message: "owner listing scan failed", Cause: err}
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Code: ErrCodeDBFailure, Message: "owner listing iteration failed", Cause: err}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*Service, error) {
	var svc Service
	var gps, category sql.NullString
	var data []byte
	err := row.Scan(&svc.ID, &svc.UserID, &data, &svc.IsActive, &gps, &category, &svc.AutoDeactivateAt, &svc.CreatedAt)
	if err != nil {
		return nil, err
	}
	svc.Data = json.RawMessage(data)
	if gps.Valid {
		svc.GPS = &gps.String
	}
	if category.Valid {
		svc.Category = &category.String
	}
	return &svc, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
