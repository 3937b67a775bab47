package spool

import (
	"bytes"
	"context"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/errors"
)

// Uploader is the part of *manager.Uploader the S3 spool uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 writes payloads as objects below a bucket prefix.
type S3 struct {
	uploader Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3 loads the default AWS configuration and creates an S3 spool.
func NewS3(ctx context.Context, cfg Config, log *zap.Logger) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg), func(u *manager.Uploader) {
		u.Concurrency = 2
	})
	return NewS3WithUploader(uploader, cfg.Bucket, cfg.Prefix, log), nil
}

// NewS3WithUploader creates an S3 spool around an existing uploader.
func NewS3WithUploader(uploader Uploader, bucket, prefix string, log *zap.Logger) *S3 {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		logger:   log.With(zap.String("component", "spool"), zap.String("bucket", bucket)),
	}
}

// Store uploads data under prefix/key and returns its s3:// URL.
func (s *S3) Store(ctx context.Context, key string, data []byte) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	objectKey := path.Join(s.prefix, clean)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"bytes":   strconv.Itoa(len(data)),
			"spooled": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to S3")
	}

	location := "s3://" + s.bucket + "/" + objectKey
	s.logger.Debug("spooled", zap.String("location", location), zap.Int("bytes", len(data)))
	return location, nil
}
