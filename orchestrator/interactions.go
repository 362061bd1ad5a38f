// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// InteractionRecord is the append-only trace of one orchestrated call,
// kept for diagnostics and model training.
type InteractionRecord struct {
	UserID           int64     `bson:"user_id"`
	Intention        string    `bson:"intention"`
	InputText        string    `bson:"input_text"`
	Response         string    `bson:"response"`
	ModelUsed        string    `bson:"model_used"`
	TokensConsumed   int       `bson:"tokens_consumed"`
	Confidence       float64   `bson:"confidence"`
	Source           string    `bson:"source"`
	ProcessingTimeMS int64     `bson:"processing_time_ms"`
	CreatedAt        time.Time `bson:"created_at"`
}

// LearningSample pairs an input with the validated output; the quality
// score equals the context confidence at assembly time.
type LearningSample struct {
	Intention    string    `bson:"intention"`
	InputText    string    `bson:"input_text"`
	Output       string    `bson:"output"`
	QualityScore float64   `bson:"quality_score"`
	CreatedAt    time.Time `bson:"created_at"`
}

// InteractionStore persists records in MongoDB.
type InteractionStore struct {
	interactions *mongo.Collection
	samples      *mongo.Collection
}

// NewInteractionStore targets the interactions and learning_samples
// collections of the given database.
func NewInteractionStore(client *mongo.Client, database string) *InteractionStore {
	db := client.Database(database)
	return &InteractionStore{
		interactions: db.Collection("interactions"),
		samples:      db.Collection("learning_samples"),
	}
}

// Record appends one interaction.
func (s *InteractionStore) Record(ctx context.Context, rec InteractionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.interactions.InsertOne(ctx, rec)
	return err
}

// AppendSample appends one learning sample.
func (s *InteractionStore) AppendSample(ctx context.Context, sample LearningSample) error {
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}
	_, err := s.samples.InsertOne(ctx, sample)
	return err
}
