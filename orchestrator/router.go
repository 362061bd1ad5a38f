// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"

	"github.com/Her50/yukpomnang-sub000/exchange"
	"github.com/Her50/yukpomnang-sub000/intent"
	"github.com/Her50/yukpomnang-sub000/media"
	"github.com/Her50/yukpomnang-sub000/search"
	"github.com/Her50/yukpomnang-sub000/service"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// ServiceCreator persists validated listings.
type ServiceCreator interface {
	Create(ctx context.Context, in service.CreateInput) (*service.Service, error)
}

// NeedSearcher runs ranked searches.
type NeedSearcher interface {
	Search(ctx context.Context, p search.Params) ([]search.Result, error)
}

// ExchangeProcessor registers and matches exchanges.
type ExchangeProcessor interface {
	Process(ctx context.Context, userID int64, doc map[string]any) (*exchange.Result, error)
}

// UploadStore writes decoded uploads to object storage.
type UploadStore interface {
	Store(ctx context.Context, up media.Upload) (string, error)
}

// BusinessRouter dispatches validated documents to their intent handler:
// creation persists (uploads first, then the listing transaction), need
// search queries the native engine, exchanges go through the matcher.
// Intents without a handler pass through unchanged.
type BusinessRouter struct {
	services ServiceCreator
	searcher NeedSearcher
	exchange ExchangeProcessor
	uploads  UploadStore // optional; nil keeps listings without media rows
	log      *logger.Logger
}

// RouterOption configures the BusinessRouter.
type RouterOption func(*BusinessRouter)

// WithUploadStore enables object storage for creation uploads.
func WithUploadStore(s UploadStore) RouterOption {
	return func(r *BusinessRouter) { r.uploads = s }
}

// WithBusinessLogger sets the logger.
func WithBusinessLogger(l *logger.Logger) RouterOption {
	return func(r *BusinessRouter) { r.log = l }
}

// NewBusinessRouter wires the intent handlers.
func NewBusinessRouter(services ServiceCreator, searcher NeedSearcher, matcher ExchangeProcessor, opts ...RouterOption) *BusinessRouter {
	r := &BusinessRouter{
		services: services,
		searcher: searcher,
		exchange: matcher,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.New("business-router")
	}
	return r
}

// Route implements Router.
func (r *BusinessRouter) Route(ctx context.Context, rc *RouteContext) (map[string]any, error) {
	switch rc.Intent {
	case intent.IntentCreationService:
		return r.routeCreation(ctx, rc)
	case intent.IntentRechercheBesoin:
		return r.routeSearch(ctx, rc)
	case intent.IntentEchange:
		return r.routeExchange(ctx, rc)
	default:
		return rc.Doc, nil
	}
}

func (r *BusinessRouter) routeCreation(ctx context.Context, rc *RouteContext) (map[string]any, error) {
	if r.services == nil {
		return rc.Doc, nil
	}

	var refs []service.MediaRef
	if r.uploads != nil {
		for _, up := range rc.Uploads {
			key, err := r.uploads.Store(ctx, up)
			if err != nil {
				r.log.Warn("", "", "upload not stored", map[string]interface{}{
					"kind": up.Kind, "error": err.Error(),
				})
				continue
			}
			refs = append(refs, service.MediaRef{Kind: up.Kind, Path: key})
		}
	}

	svc, err := r.services.Create(ctx, service.CreateInput{
		UserID: rc.UserID,
		Doc:    rc.Doc,
		Media:  refs,
	})
	if err != nil {
		return nil, err
	}

	rc.Doc["service_id"] = svc.ID
	return rc.Doc, nil
}

func (r *BusinessRouter) routeSearch(ctx context.Context, rc *RouteContext) (map[string]any, error) {
	if r.searcher == nil {
		return rc.Doc, nil
	}

	params := search.Params{Query: searchQueryOf(rc.Doc)}
	gpsFiltered := false
	if rc.GPS != "" {
		zone := rc.GPS
		params.GPSZone = &zone
		gpsFiltered = true
	}

	results, err := r.searcher.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	rendered := make([]map[string]any, 0, len(results))
	for i := range results {
		rendered = append(rendered, results[i].ToJSON())
	}
	rc.Doc["results"] = rendered
	rc.Doc["nombre_matchings"] = len(rendered)
	rc.Doc["gps_filtered"] = gpsFiltered
	if gpsFiltered {
		rc.Doc["search_radius_km"] = search.DefaultGPSRadiusKM
	}
	return rc.Doc, nil
}

func (r *BusinessRouter) routeExchange(ctx context.Context, rc *RouteContext) (map[string]any, error) {
	if r.exchange == nil {
		return rc.Doc, nil
	}

	res, err := r.exchange.Process(ctx, rc.UserID, rc.Doc)
	if err != nil {
		if xerr, ok := err.(*exchange.Error); ok && xerr.Code != exchange.ErrCodeDBFailure {
			return nil, &Error{Code: ErrCodeBadRequest, Message: xerr.Message, Cause: xerr.Cause}
		}
		return nil, err
	}

	rc.Doc["echange_id"] = res.EchangeID
	rc.Doc["statut"] = res.Status
	rc.Doc["message"] = res.Message
	if res.MatchedID != nil {
		rc.Doc["matched_id"] = *res.MatchedID
		rc.Doc["match_score"] = res.MatchScore
	}
	return rc.Doc, nil
}

// searchQueryOf pulls the searchable text out of the validated document:
// the description envelope first, then the title.
func searchQueryOf(doc map[string]any) string {
	data := doc
	if nested, ok := doc["data"].(map[string]any); ok {
		data = nested
	}
	for _, field := range []string{"description", "titre_service"} {
		raw, ok := data[field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if s, ok := v["valeur"].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
