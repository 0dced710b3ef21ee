package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// r2Region is the region name R2 expects for SigV4.
const r2Region = "auto"

// Compile-time check that R2Storage implements Store.
var _ Store = (*R2Storage)(nil)

// R2Config holds the configuration for Cloudflare R2 storage.
type R2Config struct {
	Bucket          string
	Endpoint        string // https://<account>.r2.cloudflarestorage.com
	AccessKeyID     string
	SecretAccessKey string
}

// R2Storage implements Store on an S3-compatible R2 bucket.
type R2Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewR2Storage creates an R2Storage with static credentials.
func NewR2Storage(ctx context.Context, cfg R2Config) (*R2Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(r2Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &R2Storage{
		client:  client,
		presign: s3.NewPresignClient(client, s3.WithPresignExpires(PresignExpiry)),
		bucket:  cfg.Bucket,
	}, nil
}

// Upload streams localPath to key with the given content type.
func (s *R2Storage) Upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 - path is produced inside the work dir
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrStorage, localPath, err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", ErrStorage, key, err)
	}
	return key, nil
}

// Download writes the object at key to localPath.
func (s *R2Storage) Download(ctx context.Context, key, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: download %s: %w", ErrStorage, key, ErrObjectNotFound)
		}
		return fmt.Errorf("%w: download %s: %w", ErrStorage, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("%w: create directory: %w", ErrStorage, err)
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrStorage, localPath, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("%w: download %s: %w", ErrStorage, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStorage, localPath, err)
	}
	return nil
}

// PresignDownload returns a GET URL that downloads the object as filename.
func (s *R2Storage) PresignDownload(ctx context.Context, key, filename string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	req, err := s.presign.PresignGetObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: presign download %s: %w", ErrStorage, key, err)
	}
	return req.URL, nil
}

// PresignUpload returns a PUT URL bound to the content type.
func (s *R2Storage) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.presign.PresignPutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: presign upload %s: %w", ErrStorage, key, err)
	}
	return req.URL, nil
}
