package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pendergraft/ipenforcer/internal/config"
)

// MinioStore keeps evidence in an S3-compatible bucket. Objects are keyed by
// their sha256 digest under the evidence/ prefix.
type MinioStore struct {
	mc     *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore creates a store for the configured bucket.
func NewMinioStore(cfg config.S3Config, logger *slog.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 evidence storage requires S3_ENDPOINT")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 evidence storage requires S3_BUCKET")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &MinioStore{mc: mc, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created evidence bucket", "bucket", s.bucket)
	return nil
}

// Put uploads data and returns its reference.
func (s *MinioStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	ref := Ref(data)
	digest, _ := parseRef(ref)

	_, err := s.mc.PutObject(ctx, s.bucket, objectKey(digest), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"filename": name},
	})
	if err != nil {
		return "", fmt.Errorf("uploading evidence %s: %w", name, err)
	}
	return ref, nil
}

// Get downloads the content for ref.
func (s *MinioStore) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	obj, err := s.mc.GetObject(ctx, s.bucket, objectKey(digest), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError(err)
	}
	return data, nil
}

func objectKey(digest string) string {
	return "evidence/" + digest
}

func mapMinioError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
