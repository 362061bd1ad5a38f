// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package media

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &s3.PutObjectOutput{}, nil
}

func TestStoreWritesKeyedObject(t *testing.T) {
	putter := &fakePutter{}
	st, err := NewStorage(context.Background(), "yukpo-media", "eu-west-1", "", "", WithClient(putter))
	require.NoError(t, err)

	key, err := st.Store(context.Background(), Upload{
		Kind:     "image",
		MimeType: "image/jpeg",
		Data:     []byte("jpeg-bytes"),
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^uploads/image_[0-9a-f-]{36}\.jpg$`), key)

	require.Len(t, putter.inputs, 1)
	in := putter.inputs[0]
	assert.Equal(t, "yukpo-media", *in.Bucket)
	assert.Equal(t, "image/jpeg", *in.ContentType)

	body, err := io.ReadAll(in.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), body)
}

func TestStoreUnknownKindFallsBackToBin(t *testing.T) {
	putter := &fakePutter{}
	st, err := NewStorage(context.Background(), "b", "r", "", "", WithClient(putter))
	require.NoError(t, err)

	key, err := st.Store(context.Background(), Upload{Kind: "archive", Data: []byte("x")})
	require.NoError(t, err)
	assert.Regexp(t, `\.bin$`, key)
}

func TestStoreAllSkipsFailures(t *testing.T) {
	putter := &fakePutter{err: fmt.Errorf("bucket unavailable")}
	st, err := NewStorage(context.Background(), "b", "r", "", "", WithClient(putter))
	require.NoError(t, err)

	keys := st.StoreAll(context.Background(), []Upload{
		{Kind: "image", Data: []byte("a")},
		{Kind: "audio", Data: []byte("b")},
	})
	assert.Empty(t, keys)
}
