// Package sink persists write-once artifacts to durable object storage.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/backend-burger/worker/internal/aws"
)

// ObjectStore is the narrow surface handlers write through. Writes are
// all-or-nothing from the caller's perspective; a failed Put means the owning
// job failed.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// S3Store writes objects into a single bucket.
type S3Store struct {
	api    aws.S3API
	bucket string
}

// NewS3Store returns an ObjectStore bound to bucket.
func NewS3Store(api aws.S3API, bucket string) *S3Store {
	return &S3Store{api: api, bucket: bucket}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// ArtifactKey builds a collision-free key under prefix: the generation
// timestamp plus a short random suffix. Artifacts are content-addressed by
// timestamp and never mutated after write.
func ArtifactKey(prefix string, generatedAt time.Time) string {
	prefix = strings.TrimSuffix(prefix, "/")
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s/%s-%s", prefix, generatedAt.UTC().Format(time.RFC3339), suffix)
}
