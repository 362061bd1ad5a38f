// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package search

// fulltextQueryTemplate ranks with ts_rank on french vectors plus a set
// of substring and per-word bonuses. The two %s slots receive the same
// partial-match condition chain (once in the scoring bonus, once in the
// WHERE clause).
const fulltextQueryTemplate = `
SELECT DISTINCT
    s.id,
    s.data,
    s.created_at,
    s.user_id,
    s.gps,
    s.category,
    (
        (
            ts_rank(to_tsvector('french', COALESCE(s.data->'titre_service'->>'valeur', '')), plainto_tsquery('french', $1)) * 6.0 +
            ts_rank(to_tsvector('french', COALESCE(s.data->'description'->>'valeur', '')), plainto_tsquery('french', $1)) * 3.0 +
            ts_rank(to_tsvector('french', COALESCE(s.data->'category'->>'valeur', '')), plainto_tsquery('french', $1)) * 4.0
        ) +
        (
            ts_rank(to_tsvector('french', unaccent(COALESCE(s.data->'titre_service'->>'valeur', ''))), plainto_tsquery('french', unaccent($1))) * 5.0 +
            ts_rank(to_tsvector('french', unaccent(COALESCE(s.data->'description'->>'valeur', ''))), plainto_tsquery('french', unaccent($1))) * 2.5 +
            ts_rank(to_tsvector('french', unaccent(COALESCE(s.data->'category'->>'valeur', ''))), plainto_tsquery('french', unaccent($1))) * 3.5
        ) +
        CASE
            WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || $1 || '%%' THEN 8.0
            WHEN s.data->'description'->>'valeur' ILIKE '%%' || $1 || '%%' THEN 4.0
            WHEN s.data->'category'->>'valeur' ILIKE '%%' || $1 || '%%' THEN 5.0
            ELSE 0.0
        END +
        CASE
            WHEN unaccent(s.data->'titre_service'->>'valeur') ILIKE '%%' || unaccent($1) || '%%' THEN 6.0
            WHEN unaccent(s.data->'description'->>'valeur') ILIKE '%%' || unaccent($1) || '%%' THEN 3.0
            WHEN unaccent(s.data->'category'->>'valeur') ILIKE '%%' || unaccent($1) || '%%' THEN 4.0
            ELSE 0.0
        END +
        CASE
            WHEN (%s) THEN 2.0
            ELSE 0.0
        END +
        (
            SELECT COALESCE(SUM(
                CASE
                    WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || word || '%%' THEN 4.0
                    WHEN s.data->'description'->>'valeur' ILIKE '%%' || word || '%%' THEN 2.0
                    WHEN s.data->'category'->>'valeur' ILIKE '%%' || word || '%%' THEN 3.0
                    ELSE 0.0
                END
            ), 0.0)
            FROM unnest(string_to_array($1, ' ')) AS word
        ) +
        CASE
            WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || $1 || '%%'
                 AND s.data->'description'->>'valeur' ILIKE '%%' || $1 || '%%'
            THEN 3.0
            WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || $1 || '%%'
                 AND s.data->'category'->>'valeur' ILIKE '%%' || $1 || '%%'
            THEN 2.0
            ELSE 0.0
        END +
        CASE
            WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || $1 || '%%'
                 AND s.data->'description'->>'valeur' ILIKE '%%' || $1 || '%%'
                 AND s.data->'category'->>'valeur' ILIKE '%%' || $1 || '%%'
            THEN 5.0
            ELSE 0.0
        END +
        CASE
            WHEN s.data->'titre_service'->>'valeur' NOT ILIKE '%%' || $1 || '%%'
                 AND s.data->'description'->>'valeur' ILIKE '%%' || $1 || '%%'
                 AND s.data->'category'->>'valeur' NOT ILIKE '%%' || $1 || '%%'
            THEN -1.0
            ELSE 0.0
        END +
        CASE
            WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || $1 || '%%'
            THEN 2.0
            ELSE 0.0
        END
    )::REAL AS fulltext_score
FROM services s
WHERE s.is_active = true
AND (%s)
AND ($2::text IS NULL OR s.category = $2 OR s.data->'category'->>'valeur' = $2)
AND ($3::text IS NULL OR s.gps ILIKE '%%' || $3 || '%%')
ORDER BY fulltext_score DESC
LIMIT $4`

// trigramQuery takes the best per-field similarity above 0.1.
const trigramQuery = `
SELECT DISTINCT
    s.id,
    s.data,
    s.created_at,
    s.user_id,
    s.gps,
    s.category,
    GREATEST(
        similarity(COALESCE(s.data->'titre_service'->>'valeur', ''), $1),
        similarity(COALESCE(s.data->'description'->>'valeur', ''), $1),
        similarity(COALESCE(s.data->'category'->>'valeur', ''), $1)
    )::REAL AS trigram_score
FROM services s
WHERE s.is_active = true
AND (
    similarity(COALESCE(s.data->'titre_service'->>'valeur', ''), $1) > 0.1
    OR similarity(COALESCE(s.data->'description'->>'valeur', ''), $1) > 0.1
    OR similarity(COALESCE(s.data->'category'->>'valeur', ''), $1) > 0.1
)
AND ($2::text IS NULL OR s.category = $2 OR s.data->'category'->>'valeur' = $2)
AND ($3::text IS NULL OR s.gps ILIKE '%' || $3 || '%')
ORDER BY trigram_score DESC
LIMIT $4`

// keywordQueryTemplate scores per-token hits with a 0.5 damping factor.
// The %s slot receives the OR chain of per-word conditions.
const keywordQueryTemplate = `
SELECT
    s.id,
    s.data,
    s.created_at,
    s.user_id,
    s.gps,
    s.category,
    (
        (
            SELECT COALESCE(SUM(
                CASE
                    WHEN s.data->'titre_service'->>'valeur' ILIKE '%%' || word || '%%' THEN 3.0
                    WHEN s.data->'description'->>'valeur' ILIKE '%%' || word || '%%' THEN 2.0
                    WHEN s.data->'category'->>'valeur' ILIKE '%%' || word || '%%' THEN 2.5
                    ELSE 0.0
                END
            ), 0.0)
            FROM unnest(string_to_array($1, ' ')) AS word
        ) * 0.5
    )::REAL AS keyword_score
FROM services s
WHERE s.is_active = true
AND (%s)
AND ($2::text IS NULL OR s.category = $2 OR s.data->'category'->>'valeur' = $2)
AND ($3::text IS NULL OR s.gps ILIKE '%%' || $3 || '%%')
ORDER BY keyword_score DESC
LIMIT $4`

// gpsQuery delegates distance filtering and proximity weighting to the
// database-side function.
const gpsQuery = `
SELECT
    service_id,
    titre_service,
    category,
    gps_coords,
    distance_km,
    relevance_score,
    gps_source
FROM search_services_gps_final($1, $2, $3, $4)`

const categoryQuery = `
SELECT
    s.id,
    s.data,
    s.created_at,
    s.user_id,
    s.gps,
    s.category
FROM services s
WHERE s.is_active = true
AND (
    s.category = $1
    OR s.data->'category'->>'valeur' = $1
)
ORDER BY s.created_at DESC
LIMIT $2`
