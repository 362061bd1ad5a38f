// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package orchestrator runs the end-to-end AI pipeline: security gate,
// multimodal assembly, cache probe, intent detection, provider call,
// output validation, business routing and background persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Her50/yukpomnang-sub000/cache"
	"github.com/Her50/yukpomnang-sub000/intent"
	"github.com/Her50/yukpomnang-sub000/llm"
	"github.com/Her50/yukpomnang-sub000/media"
	"github.com/Her50/yukpomnang-sub000/schema"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// Error codes surfaced to the HTTP layer.
const (
	ErrCodeInputRejected = "INPUT_REJECTED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternal      = "INTERNAL"
)

// Error is a typed pipeline failure.
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

// Predictor is the slice of the provider pool the pipeline needs.
type Predictor interface {
	Predict(ctx context.Context, prompt string) *llm.Prediction
	PredictMultimodal(ctx context.Context, prompt string, images []llm.ImageInput) *llm.Prediction
}

// SmartCache is the cache surface the pipeline needs.
type SmartCache interface {
	GetSmart(ctx context.Context, query, userContext string) *cache.Entry
	StoreSmart(ctx context.Context, query, userContext, response string, latencyMs int64, model string)
	PredictAndPrecompute(ctx context.Context, currentInput string) []cache.PredictedQuery
}

// IntentDetector classifies user text.
type IntentDetector interface {
	Detect(ctx context.Context, text string) (string, int)
}

// OutputValidator normalizes and validates model output.
type OutputValidator interface {
	Process(intentLabel, raw string) (map[string]any, error)
}

// RouteContext carries everything the business handler for one intent
// needs: the validated document plus the request-side inputs that never
// travel through the model (caller GPS, decoded uploads).
type RouteContext struct {
	UserID  int64
	Intent  string
	Doc     map[string]any
	GPS     string
	Uploads []media.Upload
}

// Router dispatches the validated document to the business handler for
// its intent (search, persistence, exchange matching).
type Router interface {
	Route(ctx context.Context, rc *RouteContext) (map[string]any, error)
}

// Recorder persists interaction traces and learning samples.
type Recorder interface {
	Record(ctx context.Context, rec InteractionRecord) error
	AppendSample(ctx context.Context, sample LearningSample) error
}

// Result is the assembled pipeline output.
type Result struct {
	Status           string         `json:"status"`
	Intention        string         `json:"intention"`
	Data             map[string]any `json:"data"`
	TokensConsumed   int            `json:"tokens_consumed"`
	IAModelUsed      string         `json:"ia_model_used"`
	Confidence       float64        `json:"confidence"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Source           string         `json:"source"`
}

// Orchestrator wires the pipeline stages.
type Orchestrator struct {
	pool      Predictor
	cache     SmartCache
	detector  IntentDetector
	validator OutputValidator
	router    Router
	recorder  Recorder
	tasks     *TaskQueue
	log       *logger.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithRouter sets the business router.
func WithRouter(r Router) Option { return func(o *Orchestrator) { o.router = r } }

// WithRecorder sets the interaction recorder.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithTaskQueue sets the background queue.
func WithTaskQueue(q *TaskQueue) Option { return func(o *Orchestrator) { o.tasks = q } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New creates an Orchestrator over the given pipeline stages.
func New(pool Predictor, smartCache SmartCache, detector IntentDetector, validator OutputValidator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pool:      pool,
		cache:     smartCache,
		detector:  detector,
		validator: validator,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.New("orchestrator")
	}
	if o.tasks == nil {
		o.tasks = NewTaskQueue(2, o.log)
	}
	return o
}

// Process runs the full pipeline for one request. DB connections are
// never held across the provider call.
func (o *Orchestrator) Process(ctx context.Context, userID int64, req *Request) (*Result, error) {
	start := time.Now()
	uid := strconv.FormatInt(userID, 10)

	// 1. Security gate.
	stage := time.Now()
	if err := CheckSecurity(req); err != nil {
		return nil, &Error{Code: ErrCodeInputRejected, Message: "input rejected by security gate", Cause: err}
	}
	o.logStage(uid, "security_gate", stage)

	// 2. Multimodal assembly.
	stage = time.Now()
	assembled, err := req.Assemble()
	if err != nil {
		return nil, &Error{Code: ErrCodeInputRejected, Message: "multimodal assembly failed", Cause: err}
	}
	o.logStage(uid, "multimodal_assembly", stage)

	// 3. Context build: modal excerpts are merged into the user text.
	enriched := req.Texte
	if len(assembled.Excerpts) > 0 {
		enriched = strings.TrimSpace(enriched + "\n" + strings.Join(assembled.Excerpts, "\n"))
	}

	// 4. Cache probe.
	stage = time.Now()
	if entry := o.cache.GetSmart(ctx, enriched, uid); entry != nil {
		o.logStage(uid, "cache_probe", stage)
		result := o.resultFromCache(entry, start)
		o.forkPrecompute(enriched)
		o.recordInteraction(userID, req.Texte, result)
		return result, nil
	}
	o.logStage(uid, "cache_probe", stage)

	// 5. Intent detection (skipped on forced-intent paths).
	stage = time.Now()
	intentLabel := req.Intention
	detectionTokens := 0
	if !intent.IsCanonical(intentLabel) {
		intentLabel, detectionTokens = o.detector.Detect(ctx, enriched)
	}
	o.logStage(uid, "intent_detection", stage)

	// 6. Prompt optimization.
	prompt := intent.BuildPrompt(intent.OptimizerInput{
		Intent:        intentLabel,
		UserText:      req.Texte,
		Keywords:      intent.ExtractKeywords(enriched),
		HasImages:     len(assembled.Images) > 0,
		HasAudio:      len(req.AudioBase64) > 0,
		HasDocuments:  len(req.DocBase64)+len(req.ExcelBase64) > 0,
		ModalExcerpts: assembled.Excerpts,
	})

	// 7. Provider call.
	stage = time.Now()
	var prediction *llm.Prediction
	if len(assembled.Images) > 0 {
		prediction = o.pool.PredictMultimodal(ctx, prompt, assembled.Images)
	} else {
		prediction = o.pool.Predict(ctx, prompt)
	}
	o.logStage(uid, "provider_call", stage)

	// 8. Cleaning, validation, one auto-repair.
	stage = time.Now()
	doc, err := o.validator.Process(intentLabel, prediction.Content)
	if err != nil {
		return nil, o.wrapValidation(err)
	}
	o.logStage(uid, "validation", stage)

	// 9. Business routing.
	if o.router != nil {
		stage = time.Now()
		routed, err := o.router.Route(ctx, &RouteContext{
			UserID:  userID,
			Intent:  intentLabel,
			Doc:     doc,
			GPS:     req.GPSMobile,
			Uploads: assembled.Uploads,
		})
		if err != nil {
			return nil, err
		}
		if routed != nil {
			doc = routed
		}
		o.logStage(uid, "business_routing", stage)
	}

	// 10. Final result.
	result := &Result{
		Status:           "ok",
		Intention:        intentLabel,
		Data:             doc,
		TokensConsumed:   detectionTokens + prediction.TokensUsed,
		IAModelUsed:      prediction.Model,
		Confidence:       0.7,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Source:           sourceFor(prediction.Model),
	}

	// 11. Background forks: cache store, interaction log, learning sample.
	o.forkStore(enriched, uid, prediction, result)
	o.recordInteraction(userID, req.Texte, result)

	return result, nil
}

func sourceFor(model string) string {
	if model == llm.FallbackModelName {
		return "fallback"
	}
	return "api"
}

func (o *Orchestrator) resultFromCache(entry *cache.Entry, start time.Time) *Result {
	var doc map[string]any
	if err := json.Unmarshal([]byte(entry.Content), &doc); err != nil {
		doc = map[string]any{"contenu": entry.Content}
	}
	intention := intent.IntentAssistance
	if label, ok := doc["intention"].(string); ok && intent.IsCanonical(label) {
		intention = label
	}
	data := doc
	if nested, ok := doc["data"].(map[string]any); ok {
		data = nested
	}
	return &Result{
		Status:           "ok",
		Intention:        intention,
		Data:             data,
		TokensConsumed:   0,
		IAModelUsed:      entry.ModelUsed,
		Confidence:       entry.QualityScore,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Source:           "cache",
	}
}

func (o *Orchestrator) forkPrecompute(query string) {
	o.tasks.Submit(Task{Kind: "cache_precompute", Run: func(ctx context.Context) error {
		o.cache.PredictAndPrecompute(ctx, query)
		return nil
	}})
}

func (o *Orchestrator) forkStore(query, uid string, prediction *llm.Prediction, result *Result) {
	payload, err := json.Marshal(map[string]any{
		"intention": result.Intention,
		"data":      result.Data,
	})
	if err != nil {
		return
	}
	latency := result.ProcessingTimeMS
	model := prediction.Model
	o.tasks.Submit(Task{Kind: "cache_store", Run: func(ctx context.Context) error {
		o.cache.StoreSmart(ctx, query, uid, string(payload), latency, model)
		return nil
	}})
}

func (o *Orchestrator) recordInteraction(userID int64, inputText string, result *Result) {
	if o.recorder == nil {
		return
	}
	response, _ := json.Marshal(result.Data)
	rec := InteractionRecord{
		UserID:           userID,
		Intention:        result.Intention,
		InputText:        inputText,
		Response:         string(response),
		ModelUsed:        result.IAModelUsed,
		TokensConsumed:   result.TokensConsumed,
		Confidence:       result.Confidence,
		Source:           result.Source,
		ProcessingTimeMS: result.ProcessingTimeMS,
	}
	o.tasks.Submit(Task{Kind: "interaction_record", Run: func(ctx context.Context) error {
		return o.recorder.Record(ctx, rec)
	}})

	if result.Source != "cache" {
		sample := LearningSample{
			Intention:    result.Intention,
			InputText:    inputText,
			Output:       string(response),
			QualityScore: result.Confidence,
		}
		o.tasks.Submit(Task{Kind: "learning_sample", Run: func(ctx context.Context) error {
			return o.recorder.AppendSample(ctx, sample)
		}})
	}
}

func (o *Orchestrator) logStage(uid, stage string, start time.Time) {
	o.log.InfoWithDuration(uid, "", "stage completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"stage": stage,
	})
}

func (o *Orchestrator) wrapValidation(err error) error {
	if serr, ok := err.(*schema.Error); ok {
		code := ErrCodeBadRequest
		if serr.Code == schema.ErrCodeInternal {
			code = ErrCodeInternal
		}
		return &Error{Code: code, Message: serr.Message, Cause: serr.Cause}
	}
	return &Error{Code: ErrCodeInternal, Message: "validation failed", Cause: err}
}
