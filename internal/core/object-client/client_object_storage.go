package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	cfg "github.com/markdave123-py/dossier/internal/config"
	"github.com/markdave123-py/dossier/internal/core"
)

var _ core.ObjectClient = (*S3Client)(nil)

type S3Client struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
}

func NewS3Client(ctx context.Context, cfg *cfg.Config) (*S3Client, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not set")
	}
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.AwsRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	log.Info().Str("bucket", cfg.BucketName).Str("region", cfg.AwsRegion).Msg("S3 object client configured")

	return &S3Client{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.BucketName,
		timeout: cfg.StorageTimeout,
	}, nil
}

// UploadFile writes the object once; an existing key is rejected by the If-None-Match precondition.
// The returned path is the object key.
func (c *S3Client) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	uploader := manager.NewUploader(c.client)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	}

	ctxUpload, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := uploader.Upload(ctxUpload, input); err != nil {
		return "", fmt.Errorf("%w: s3 upload %s: %v", core.ErrStorage, key, err)
	}
	return key, nil
}

// DeleteFile removes the object. S3 treats a missing key as success.
func (c *S3Client) DeleteFile(ctx context.Context, path string) error {
	ctxDel, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.client.DeleteObject(ctxDel, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 delete %s: %v", core.ErrStorage, path, err)
	}
	return nil
}

func (c *S3Client) GetFile(ctx context.Context, path string) ([]byte, error) {
	ctxGet, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, c.getError(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrStorage, path, err)
	}
	return body, nil
}

// GetObjectReader streams the object. The caller's context bounds the read; no extra timeout is applied
// because the body outlives this call.
func (c *S3Client) GetObjectReader(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, c.getError(path, err)
	}
	return resp.Body, nil
}

func (c *S3Client) getError(path string, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: object %s", core.ErrNotFound, path)
	}
	return fmt.Errorf("%w: s3 get %s: %v", core.ErrStorage, path, err)
}

func (c *S3Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
