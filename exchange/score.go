// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package exchange registers barter and donation requests and pairs them
// with the best-scoring pending counterpart.
package exchange

import (
	"math"
	"strings"
)

// Weights spreads the matching score across the scoring axes. The sum of
// the fields is 1.0 so a perfect counterpart scores exactly 1.0.
type Weights struct {
	Geo         float64
	Offre       float64
	Besoin      float64
	Quantite    float64
	Reputation  float64
	Disponible  float64
	Contraintes float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Geo:         0.3,
		Offre:       0.2,
		Besoin:      0.2,
		Quantite:    0.1,
		Reputation:  0.1,
		Disponible:  0.05,
		Contraintes: 0.05,
	}
}

// Candidate is the scored view of one pending exchange row.
type Candidate struct {
	ID              int64
	UserID          int64
	Offre           map[string]any
	Besoin          map[string]any
	QuantiteOfferte *float64
	QuantiteRequise *float64
	GPSLat          *float64
	GPSLon          *float64
	Don             bool
}

const earthRadiusKM = 6371.0

// haversineKM returns the great-circle distance between two points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Pow(math.Sin(dLon/2), 2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// inclusionScore measures how much of a is covered by b: the fraction of
// a's keys present in b with equal values. Non-object values fall back to
// structural similarity.
func inclusionScore(a, b any) float64 {
	objA, okA := a.(map[string]any)
	objB, okB := b.(map[string]any)
	if okA && okB {
		if len(objA) == 0 {
			return 0
		}
		matches := 0
		for k, v := range objA {
			if vb, ok := objB[k]; ok && deepEqual(v, vb) {
				matches++
			}
		}
		return float64(matches) / float64(len(objA))
	}
	return similarity(a, b)
}

// similarity compares two JSON values: arrays by best pairwise product
// match, strings by identity then token Jaccard, objects field by field.
func similarity(a, b any) float64 {
	switch va := a.(type) {
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) == 0 || len(vb) == 0 {
			return 0
		}
		sum := 0.0
		for _, ea := range va {
			best := 0.0
			for _, eb := range vb {
				if s := productSimilarity(ea, eb); s > best {
					best = s
				}
			}
			sum += best
		}
		return sum / float64(len(va))
	case string:
		sb, ok := b.(string)
		if !ok {
			return 0
		}
		if va == sb {
			return 1
		}
		return jaccard(va, sb)
	case map[string]any:
		return productSimilarity(a, b)
	default:
		if deepEqual(a, b) {
			return 1
		}
		return 0
	}
}

// productSimilarity compares two product objects with weighted fields:
// identity fields count double, descriptive fields once.
func productSimilarity(a, b any) float64 {
	objA, okA := a.(map[string]any)
	objB, okB := b.(map[string]any)
	if !okA || !okB {
		if deepEqual(a, b) {
			return 1
		}
		return 0
	}

	mainKeys := []string{"nom", "categorie", "nature_produit", "quantite", "unite", "prix"}
	secondaryKeys := []string{"lot", "isbn", "titre", "etat", "marque", "origine", "occasion"}

	matched, total := 0.0, 0.0
	for _, k := range mainKeys {
		va, hasA := objA[k]
		vb, hasB := objB[k]
		if hasA || hasB {
			total += 2
			if hasA && hasB && deepEqual(va, vb) {
				matched += 2
			}
		}
	}
	for _, k := range secondaryKeys {
		va, hasA := objA[k]
		vb, hasB := objB[k]
		if hasA || hasB {
			total++
			if hasA && hasB && deepEqual(va, vb) {
				matched++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

func jaccard(a, b string) float64 {
	setA := map[string]struct{}{}
	for _, w := range strings.Fields(a) {
		setA[w] = struct{}{}
	}
	setB := map[string]struct{}{}
	for _, w := range strings.Fields(b) {
		setB[w] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func deepEqual(a, b any) bool {
	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, v := range va {
			if !deepEqual(v, vb[k]) {
				return false
			}
		}
		return true
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !deepEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// score rates how well candidate b answers exchange a. Offre of a is
// matched against besoin of b and vice versa; geo defaults to a neutral
// 0.5 when either side lacks coordinates.
func score(a, b Candidate, reputation float64, w Weights) float64 {
	offreScore := inclusionScore(anyOf(a.Offre), anyOf(b.Besoin))
	besoinScore := inclusionScore(anyOf(a.Besoin), anyOf(b.Offre))

	quantiteScore := 1.0
	if a.QuantiteOfferte != nil && b.QuantiteRequise != nil && *a.QuantiteOfferte > 0 && *b.QuantiteRequise > 0 {
		quantiteScore = math.Min(*a.QuantiteOfferte, *b.QuantiteRequise) / math.Max(*a.QuantiteOfferte, *b.QuantiteRequise)
	}

	geoScore := 0.5
	if a.GPSLat != nil && a.GPSLon != nil && b.GPSLat != nil && b.GPSLon != nil {
		dist := haversineKM(*a.GPSLat, *a.GPSLon, *b.GPSLat, *b.GPSLon)
		if dist < 1 {
			geoScore = 1
		} else {
			geoScore = math.Min(10/(dist+1), 1)
		}
	}

	return w.Geo*geoScore +
		w.Offre*offreScore +
		w.Besoin*besoinScore +
		w.Quantite*quantiteScore +
		w.Reputation*reputation +
		w.Disponible*1.0 +
		w.Contraintes*1.0
}

// PairScore rates a pair in both directions and keeps the better one.
func PairScore(a, b Candidate, reputation float64, w Weights) float64 {
	return math.Max(score(a, b, reputation, w), score(b, a, reputation, w))
}

func anyOf(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
