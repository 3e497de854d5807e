package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const uploadTimeout = 2 * time.Minute

// ErrNotConfigured is returned when no export bucket is set.
var ErrNotConfigured = errors.New("export archive is not configured")

// Options configures the S3 archiver. Access keys are optional; without
// them the default AWS credential chain is used.
type Options struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver stores export documents in a bucket.
type S3Archiver struct {
	uploader uploader
	bucket   string
	region   string
	log      *zap.Logger
}

func NewS3Archiver(ctx context.Context, opts Options, logger *zap.Logger) (*S3Archiver, error) {
	if opts.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := s3.NewFromConfig(awsCfg)
	logger.Info("export archive enabled", zap.String("bucket", opts.Bucket), zap.String("region", opts.Region))
	return &S3Archiver{
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		region:   opts.Region,
		log:      logger,
	}, nil
}

// Archive uploads data under key and returns the object URL.
func (a *S3Archiver) Archive(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	ctxUpload, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if _, err := a.uploader.Upload(ctxUpload, input); err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
	a.log.Info("archived export", zap.String("url", url))
	return url, nil
}
