// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package media stores decoded multimodal uploads in S3-compatible object
// storage and hands back the keys persisted in the media table.
package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

// extensionByKind maps upload kinds to stored file extensions.
var extensionByKind = map[string]string{
	"image":    "jpg",
	"audio":    "mp3",
	"video":    "mp4",
	"document": "pdf",
	"excel":    "xlsx",
}

// Upload is one decoded artifact bound for object storage.
type Upload struct {
	Kind     string // image, audio, video, document, excel
	MimeType string
	Data     []byte
}

// ObjectPutter is the S3 surface Storage needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Storage writes uploads under services/{id}/ in the configured bucket.
type Storage struct {
	client ObjectPutter
	bucket string
	log    *logger.Logger
}

// Option configures the Storage.
type Option func(*Storage)

// WithClient injects the S3 client (tests, S3-compatible endpoints).
func WithClient(c ObjectPutter) Option {
	return func(s *Storage) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Storage) { s.log = l }
}

// NewStorage builds a Storage over the default AWS credential chain, with
// static credentials when AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY are set
// through the options loader.
func NewStorage(ctx context.Context, bucket, region, accessKey, secretKey string, opts ...Option) (*Storage, error) {
	st := &Storage{bucket: bucket}
	for _, opt := range opts {
		opt(st)
	}
	if st.log == nil {
		st.log = logger.New("media-storage")
	}

	if st.client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if accessKey != "" && secretKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("media storage config: %w", err)
		}
		st.client = s3.NewFromConfig(cfg)
	}

	return st, nil
}

// Store writes one upload and returns its object key. Keys are
// uploads/{kind}_{uuid}.{ext}; they are minted before the owning service
// row exists so the creation transaction can reference them.
func (s *Storage) Store(ctx context.Context, up Upload) (string, error) {
	ext, ok := extensionByKind[up.Kind]
	if !ok {
		ext = "bin"
	}
	key := fmt.Sprintf("uploads/%s_%s.%s", up.Kind, uuid.New().String(), ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(up.Data),
		ContentType: aws.String(up.MimeType),
	})
	if err != nil {
		return "", fmt.Errorf("media store %s: %w", up.Kind, err)
	}

	s.log.Info("", "", "upload stored", map[string]interface{}{
		"key":   key,
		"bytes": len(up.Data),
	})
	return key, nil
}

// StoreAll writes every upload, returning the keys in order. A failed
// upload is logged and skipped so one broken artifact does not void the
// listing.
func (s *Storage) StoreAll(ctx context.Context, uploads []Upload) []string {
	keys := make([]string, 0, len(uploads))
	for _, up := range uploads {
		key, err := s.Store(ctx, up)
		if err != nil {
			s.log.Warn("", "", "upload skipped", map[string]interface{}{
				"kind": up.Kind, "error": err.Error(),
			})
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
