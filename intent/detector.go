// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package intent

import (
	"context"
	"strings"
	"sync"

	"github.com/Her50/yukpomnang-sub000/llm"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// Canonical intent labels. Everything the classifier cannot map lands on
// IntentAssistance.
const (
	IntentCreationService   = "creation_service"
	IntentRechercheBesoin   = "recherche_besoin"
	IntentEchange           = "echange"
	IntentAssistance        = "assistance_generale"
	IntentProgrammeScolaire = "programme_scolaire"
	IntentUpdateProgramme   = "update_programme_scolaire"
)

var canonicalIntents = []string{
	IntentCreationService,
	IntentRechercheBesoin,
	IntentEchange,
	IntentAssistance,
	IntentProgrammeScolaire,
	IntentUpdateProgramme,
}

// IsCanonical reports whether label is a known intent.
func IsCanonical(label string) bool {
	for _, intent := range canonicalIntents {
		if intent == label {
			return true
		}
	}
	return false
}

// Predictor is the slice of the provider pool the detector needs.
type Predictor interface {
	Predict(ctx context.Context, prompt string) *llm.Prediction
}

// Detector classifies user text into the closed intent set. High-precision
// keyword rules run first; otherwise a minimal constrained LLM call decides.
// Results are memoized so identical resubmissions cost zero tokens.
type Detector struct {
	pool Predictor
	log  *logger.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewDetector creates a Detector over the given predictor.
func NewDetector(pool Predictor, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.New("intent-detector")
	}
	return &Detector{pool: pool, log: log, cache: make(map[string]string)}
}

// ruleShortcuts are high-precision French patterns that skip the LLM call.
var ruleShortcuts = []struct {
	pattern string
	intent  string
}{
	{"je vends", IntentCreationService},
	{"je propose", IntentCreationService},
	{"j'offre", IntentCreationService},
	{"je cherche", IntentRechercheBesoin},
	{"je voudrais", IntentRechercheBesoin},
	{"je recherche", IntentRechercheBesoin},
	{"j'ai besoin de", IntentRechercheBesoin},
	{"je troque", IntentEchange},
	{"j'échange", IntentEchange},
	{"je donne", IntentEchange},
}

// Detect returns (intent, tokens consumed by the classification call).
// Rule shortcuts and memoized results cost zero tokens.
func (d *Detector) Detect(ctx context.Context, text string) (string, int) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return IntentAssistance, 0
	}

	for _, rule := range ruleShortcuts {
		if strings.Contains(normalized, rule.pattern) {
			return rule.intent, 0
		}
	}

	d.mu.RLock()
	cached, ok := d.cache[normalized]
	d.mu.RUnlock()
	if ok {
		return cached, 0
	}

	prediction := d.pool.Predict(ctx, buildDetectionPrompt(text))
	intent := ParseIntentLabel(prediction.Content)

	d.mu.Lock()
	d.cache[normalized] = intent
	d.mu.Unlock()

	return intent, prediction.TokensUsed
}

// buildDetectionPrompt constrains the model to a bare label answer.
func buildDetectionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Tu es un classificateur d'intentions pour une marketplace de services.\n")
	b.WriteString("Classe le texte utilisateur dans UNE SEULE de ces intentions :\n")
	for _, intent := range canonicalIntents {
		b.WriteString("- ")
		b.WriteString(intent)
		b.WriteString("\n")
	}
	b.WriteString("\nRègles strictes :\n")
	b.WriteString("- Réponds UNIQUEMENT avec le label, sans ponctuation ni explication.\n")
	b.WriteString("- En cas de doute, réponds assistance_generale.\n")
	b.WriteString("\nTexte utilisateur :\n")
	b.WriteString(text)
	return b.String()
}

// ParseIntentLabel maps a raw model answer onto the canonical label set.
// The answer is lowercased and stripped of quotes and punctuation before
// matching; anything unrecognized maps to assistance_generale.
func ParseIntentLabel(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, "\"'`.,:;!? \n\t")

	// Exact match first, then containment for chatty answers. Longer
	// labels are checked first so update_programme_scolaire is not
	// swallowed by its programme_scolaire substring.
	if IsCanonical(cleaned) {
		return cleaned
	}
	containmentOrder := []string{
		IntentUpdateProgramme,
		IntentProgrammeScolaire,
		IntentCreationService,
		IntentRechercheBesoin,
		IntentEchange,
		IntentAssistance,
	}
	for _, intent := range containmentOrder {
		if strings.Contains(cleaned, intent) {
			return intent
		}
	}
	return IntentAssistance
}
