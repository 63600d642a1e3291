package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fundlane/mca-backend/internal/infrastructure/resilience"
)

// Storage keeps source documents and processed text artifacts in separate
// buckets. It implements ports.ObjectStorage.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	executor        *resilience.Executor
}

type Options struct {
	Endpoint           string
	AccessKey          string
	SecretKey          string
	RawBucket          string
	ProcessedBucket    string
	UseSSL             bool
	ResilienceExecutor *resilience.Executor
}

func New(opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       opts.RawBucket,
		processedBucket: opts.ProcessedBucket,
		executor:        opts.ResilienceExecutor,
	}, nil
}

// EnsureBuckets makes sure both buckets exist before the first upload.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.execute(ctx, "s3.put", func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.rawBucket, key, data, size,
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	})
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, nil
}

func (s *Storage) SaveProcessed(ctx context.Context, key string, data []byte) error {
	return s.execute(ctx, "s3.put_processed", func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.processedBucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
		if err != nil {
			return fmt.Errorf("put processed object %s: %w", key, err)
		}
		return nil
	})
}

func (s *Storage) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, operation, fn, classifyS3Error)
}
