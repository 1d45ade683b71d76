package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	u "certforge/internal/utils"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads certificates to an S3-compatible object store and
// returns a durable URL. Re-uploading the same certificate ID overwrites
// the object; there is no duplicate detection.
type S3Store struct {
	client   s3API
	bucket   string
	prefix   string
	endpoint string
	region   string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates a store with the given client. Tests inject a fake
// client here.
func NewS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// NewS3StoreFromConfig builds a real AWS S3 client. Custom endpoints
// (e.g. MinIO) are supported via storage.s3_endpoint.
func NewS3StoreFromConfig(cfg u.Config) (*S3Store, error) {
	ctx := context.Background()

	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Storage.S3Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Storage.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}

	s3OptFns := []func(*s3.Options){}
	if cfg.Storage.S3Endpoint != "" {
		endpoint := cfg.Storage.S3Endpoint
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client:   s3.NewFromConfig(awsCfg, s3OptFns...),
		bucket:   cfg.Storage.S3Bucket,
		prefix:   cfg.Storage.S3Prefix,
		endpoint: cfg.Storage.S3Endpoint,
		region:   cfg.Storage.S3Region,
	}, nil
}

// Persist uploads the local file under <prefix>certificate_<id>.pdf with
// the stored content type forced to PDF.
func (s *S3Store) Persist(ctx context.Context, localPath, _ string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("store: read source file: %w", err)
	}

	key := s.prefix + filepath.Base(localPath)
	contentType := "application/pdf"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store: s3 put: %w", err)
	}
	return s.objectURL(key), nil
}

func (s *S3Store) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.endpoint, "/"), s.bucket, key)
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, region, key)
}
