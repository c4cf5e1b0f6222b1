// ABOUTME: Object storage for images shared in analyzed conversations
// ABOUTME: S3-compatible implementation over aws-sdk-go-v2 with public URL derivation

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/metrics"
)

// Store uploads objects and returns a URL that refers to them.
type Store interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// PutObjectAPI is the slice of the S3 client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store implements Store against S3 or an S3-compatible endpoint.
type S3Store struct {
	client        PutObjectAPI
	publicBaseURL string
	timeout       time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// S3Options configures an S3Store built around an existing client.
type S3Options struct {
	PublicBaseURL string
	Timeout       time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// NewS3Store wraps client.
func NewS3Store(client PutObjectAPI, opts S3Options) *S3Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{
		client:        client,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		timeout:       opts.Timeout,
		logger:        logger.With("component", "blob"),
		metrics:       opts.Metrics,
	}
}

// NewS3StoreFromConfig loads AWS credentials from the default chain and
// builds a store for cfg.
func NewS3StoreFromConfig(ctx context.Context, cfg config.BlobConfig, logger *slog.Logger, m *metrics.Metrics) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3Store(client, S3Options{
		PublicBaseURL: cfg.PublicBaseURL,
		Timeout:       cfg.Timeout,
		Logger:        logger,
		Metrics:       m,
	}), nil
}

// PutObject uploads data and returns its URL.
func (s *S3Store) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.New("blob: bucket and key are required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	start := time.Now()
	_, err := s.client.PutObject(ctx, input)
	s.metrics.Vendor("blob", "put_object", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", bucket, key, err)
	}

	url := ObjectURL(s.publicBaseURL, bucket, key)
	s.logger.Debug("blob_uploaded", "bucket", bucket, "key", key, "bytes", len(data))
	return url, nil
}

// ObjectURL is publicBaseURL/key when a public base is configured, else s3://bucket/key.
func ObjectURL(publicBaseURL, bucket, key string) string {
	if publicBaseURL != "" {
		return strings.TrimRight(publicBaseURL, "/") + "/" + key
	}
	return "s3://" + bucket + "/" + key
}

// UploadKey names an uploaded file: uploads/<unix-seconds>_<file-name>.
func UploadKey(now time.Time, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("uploads/%d_%s", now.Unix(), name)
}

var _ Store = (*S3Store)(nil)
