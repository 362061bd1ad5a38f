// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package service persists validated service listings and serves the
// owner-facing CRUD surface over the services and media tables.
package service

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error codes surfaced by the repository.
const (
	ErrCodeNotFound  = "NOT_FOUND"
	ErrCodeDBFailure = "DB_FAILURE"
)

// Error is a typed repository failure.
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

// Service is one persisted listing row.
type Service struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	Data             json.RawMessage `json:"data"`
	IsActive         bool            `json:"is_active"`
	GPS              *string         `json:"gps,omitempty"`
	Category         *string         `json:"category,omitempty"`
	AutoDeactivateAt time.Time       `json:"auto_deactivate_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// MediaRef is one stored upload attached to a service at creation time.
type MediaRef struct {
	Kind string // image, audio, video, document, excel
	Path string
}

// CreateInput is the payload for Create. Doc is the schema-validated
// document; media rows are written inside the creation transaction.
type CreateInput struct {
	UserID int64
	Doc    map[string]any
	Media  []MediaRef
}

const (
	defaultActiveDays       = 7
	maxActiveDaysTarissable = 30
)

// dataOf unwraps the nested "data" object when the document still carries
// the wire shape, otherwise returns the document itself.
func dataOf(doc map[string]any) map[string]any {
	if nested, ok := doc["data"].(map[string]any); ok {
		return nested
	}
	return doc
}

// envelopeString reads the valeur of a {type_donnee, valeur, origine_champs}
// field, tolerating bare string values.
func envelopeString(data map[string]any, field string) *string {
	raw, ok := data[field]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return &v
	case map[string]any:
		if s, ok := v["valeur"].(string); ok {
			return &s
		}
	}
	return nil
}

func envelopeBool(data map[string]any, field string) bool {
	raw, ok := data[field]
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case map[string]any:
		if b, ok := v["valeur"].(bool); ok {
			return b
		}
	}
	return false
}

// activeDays resolves the listing lifetime. Tarissable listings are capped
// so exhaustible stock cannot stay visible for a month.
func activeDays(data map[string]any, isTarissable bool) int64 {
	days := int64(defaultActiveDays)
	if raw, ok := data["active_days"].(float64); ok && raw > 0 {
		days = int64(raw)
	}
	if isTarissable && days > maxActiveDaysTarissable {
		days = maxActiveDaysTarissable
	}
	return days
}
