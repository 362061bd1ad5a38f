// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package schema

import "strings"

// Field-origin markers recorded on envelope fields.
const (
	OriginIA         = "ia"
	OriginFreeText   = "texte_libre"
	OriginAutoRepair = "correction_auto"
)

// freeTextFields get origine_champs "texte_libre" instead of "ia" when the
// marker is missing: they usually echo user wording verbatim.
var freeTextFields = map[string]struct{}{
	"titre_service": {},
	"description":   {},
}

// Normalize rewrites doc in place into the canonical envelope form.
// The operation is idempotent: Normalize(Normalize(doc)) == Normalize(doc).
//
// Rules applied to the data object:
//   - auxiliary "*_type" / "*_options" keys the models sometimes invent
//     are dropped;
//   - a bare array under "produits" is coerced into the listeproduit
//     envelope;
//   - envelope objects missing origine_champs get a default marker;
//   - "gps_fixe" always carries a "valeur" key.
func Normalize(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	data, ok := doc["data"].(map[string]any)
	if !ok {
		return doc
	}

	for key := range data {
		if strings.HasSuffix(key, "_type") || strings.HasSuffix(key, "_options") {
			delete(data, key)
		}
	}

	if produits, ok := data["produits"].([]any); ok {
		data["produits"] = map[string]any{
			"type_donnee":    "listeproduit",
			"valeur":         produits,
			"origine_champs": OriginIA,
		}
	}

	for key, value := range data {
		field, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if isEnvelope(field) {
			if _, ok := field["origine_champs"]; !ok {
				field["origine_champs"] = defaultOrigin(key)
			}
		}
	}

	if gps, ok := data["gps_fixe"]; ok {
		data["gps_fixe"] = ensureGPSValeur(gps)
	}

	return doc
}

// isEnvelope recognizes the {type_donnee, valeur, ...} field shape.
func isEnvelope(field map[string]any) bool {
	_, hasType := field["type_donnee"]
	_, hasValue := field["valeur"]
	return hasType && hasValue
}

func defaultOrigin(key string) string {
	if _, ok := freeTextFields[key]; ok {
		return OriginFreeText
	}
	return OriginIA
}

// ensureGPSValeur guarantees gps_fixe has the envelope shape with a
// "valeur" key. Bare strings become a full envelope; objects missing
// valeur get an empty one.
func ensureGPSValeur(gps any) any {
	switch v := gps.(type) {
	case string:
		return map[string]any{
			"type_donnee":    "gps",
			"valeur":         v,
			"origine_champs": OriginIA,
		}
	case map[string]any:
		if _, ok := v["valeur"]; !ok {
			v["valeur"] = ""
		}
		if _, ok := v["type_donnee"]; !ok {
			v["type_donnee"] = "gps"
		}
		if _, ok := v["origine_champs"]; !ok {
			v["origine_champs"] = OriginIA
		}
		return v
	default:
		return gps
	}
}
