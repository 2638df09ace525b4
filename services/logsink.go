package services

import (
	"bytes"
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"google.golang.org/api/option"

	"conversionupload/config"
)

// S3LogSink stores upload logs in an S3 bucket.
type S3LogSink struct {
	bucket   string
	uploader *s3manager.Uploader
}

func NewS3LogSink(cfg *config.Config) *S3LogSink {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}

	if cfg.AWSS3AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		)
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3LogSink{
		bucket:   cfg.UploadLogBucket,
		uploader: s3manager.NewUploader(sess),
	}
}

func (s *S3LogSink) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// GCSLogSink stores upload logs in a Cloud Storage bucket.
type GCSLogSink struct {
	client *storage.Client
	bucket string
}

func NewGCSLogSink(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSLogSink, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Storage client: %w", err)
	}
	return &GCSLogSink{client: client, bucket: bucket}, nil
}

func (s *GCSLogSink) Write(ctx context.Context, name string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/plain"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}

func (s *GCSLogSink) Close() error {
	return s.client.Close()
}
