// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package schema validates and normalizes model output against the
// per-intent JSON Schemas shipped under schemas/.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Error codes surfaced to the HTTP layer.
const (
	ErrCodeBadRequest = "BAD_REQUEST"
	ErrCodeInternal   = "INTERNAL"
)

// Error is a typed validation failure.
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

// Validator compiles intent schemas on first use and caches them.
type Validator struct {
	log *logger.Logger

	mu       sync.Mutex
	compiled map[string]*gojsonschema.Schema
}

// NewValidator creates a Validator.
func NewValidator(log *logger.Logger) *Validator {
	if log == nil {
		log = logger.New("schema-validator")
	}
	return &Validator{log: log, compiled: make(map[string]*gojsonschema.Schema)}
}

func (v *Validator) schemaFor(intent string) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[intent]; ok {
		return s, nil
	}

	raw, err := schemaFS.ReadFile("schemas/" + intent + ".json")
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "schema not found for intent " + intent, Cause: err}
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "schema compile failed for intent " + intent, Cause: err}
	}
	v.compiled[intent] = s
	return s, nil
}

// Process takes a raw model answer and returns the normalized, validated
// document. The text is cleaned, parsed, normalized, then validated; on
// a first validation failure one automatic repair pass fills missing
// required fields before a final validation attempt.
func (v *Validator) Process(intent, raw string) (map[string]any, error) {
	cleaned := CleanModelOutput(raw)

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, &Error{Code: ErrCodeBadRequest, Message: "model output is not a JSON object", Cause: err}
	}

	doc = Normalize(doc)
	if _, ok := doc["intention"]; !ok {
		doc["intention"] = intent
	}

	issues, err := v.validate(intent, doc)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return doc, nil
	}

	for _, issue := range issues {
		v.log.Warn("", "", "schema validation error", map[string]interface{}{
			"intent": intent,
			"field":  issue.Field,
			"detail": issue.Description,
		})
	}

	repair(intent, doc)
	doc = Normalize(doc)

	issues, err = v.validate(intent, doc)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, &Error{
			Code:    ErrCodeBadRequest,
			Message: fmt.Sprintf("document does not match %s schema after repair: %s", intent, issues[0].Description),
		}
	}
	return doc, nil
}

// Issue is a single schema violation.
type Issue struct {
	Field       string
	Description string
}

func (v *Validator) validate(intent string, doc map[string]any) ([]Issue, error) {
	s, err := v.schemaFor(intent)
	if err != nil {
		return nil, err
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "schema evaluation failed", Cause: err}
	}
	if result.Valid() {
		return nil, nil
	}
	issues := make([]Issue, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		issues = append(issues, Issue{Field: e.Field(), Description: e.Description()})
	}
	return issues, nil
}

// requiredPlaceholders lists, per intent, the data fields the repair pass
// may synthesize when the model omitted them.
var requiredPlaceholders = map[string]map[string]func() any{
	"creation_service": {
		"titre_service": func() any { return textPlaceholder() },
		"description":   func() any { return textPlaceholder() },
		"category":      func() any { return textPlaceholder() },
		"is_tarissable": func() any {
			return map[string]any{"type_donnee": "boolean", "valeur": false, "origine_champs": OriginAutoRepair}
		},
	},
	"recherche_besoin": {
		"description": func() any { return textPlaceholder() },
	},
	"echange": {
		"offre":  func() any { return lotPlaceholder() },
		"besoin": func() any { return lotPlaceholder() },
	},
	"programme_scolaire": {
		"etablissement": func() any { return textPlaceholder() },
		"classe":        func() any { return textPlaceholder() },
	},
	"update_programme_scolaire": {
		"programme_id": func() any {
			return map[string]any{"type_donnee": "string", "valeur": "", "origine_champs": OriginAutoRepair}
		},
	},
}

func textPlaceholder() map[string]any {
	return map[string]any{"type_donnee": "string", "valeur": "", "origine_champs": OriginAutoRepair}
}

func lotPlaceholder() map[string]any {
	return map[string]any{"mode": "echange", "listeproduit": []any{}}
}

// repair fills the minimal required fields for the intent. Existing
// fields are never overwritten.
func repair(intent string, doc map[string]any) {
	placeholders, ok := requiredPlaceholders[intent]
	if !ok {
		return
	}
	data, ok := doc["data"].(map[string]any)
	if !ok {
		data = make(map[string]any)
		doc["data"] = data
	}
	for field, build := range placeholders {
		if _, present := data[field]; !present {
			data[field] = build()
		}
	}
}
