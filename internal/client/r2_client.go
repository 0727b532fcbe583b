package client

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stemmix/api/internal/config"
)

// StorageClient publishes rendered mix deliverables to object storage.
// Keys follow the "exports/<file>" layout the export service writes.
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

// R2Client stores deliverables in a Cloudflare R2 bucket over the S3 API.
type R2Client struct {
	s3       *s3.Client
	presign  *s3.PresignClient
	bucket   string
	cdnURL   string
	endpoint string
}

// NewR2Client dials the account endpoint with static credentials. R2 ignores
// the region but the SDK requires one, so "auto" is used.
func NewR2Client(cfg *config.R2Config) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 credentials incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build R2 client config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)

	return &R2Client{
		s3:       s3Client,
		presign:  s3.NewPresignClient(s3Client),
		bucket:   cfg.BucketName,
		cdnURL:   cfg.PublicURL,
		endpoint: endpoint,
	}, nil
}

// Upload writes one deliverable under key and returns the URL clients can
// download it from. A Content-Disposition header is attached so browsers save
// the bounce instead of trying to play it inline.
func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	disposition := fmt.Sprintf("attachment; filename=%q", path.Base(key))

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(c.bucket),
		Key:                aws.String(key),
		Body:               body,
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(disposition),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish deliverable %s: %w", key, err)
	}

	return c.GetPublicURL(key), nil
}

// Delete removes an expired deliverable from the bucket.
func (c *R2Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete deliverable %s: %w", key, err)
	}
	return nil
}

// GetSignedURL issues a time-limited download link for a deliverable in a
// private bucket.
func (c *R2Client) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to sign download link for %s: %w", key, err)
	}
	return req.URL, nil
}

// GetPublicURL maps a key to the CDN domain when one is configured, falling
// back to the bucket endpoint.
func (c *R2Client) GetPublicURL(key string) string {
	if c.cdnURL != "" {
		return fmt.Sprintf("%s/%s", c.cdnURL, key)
	}
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, key)
}

// IsConfigured reports whether the client can reach a bucket.
func (c *R2Client) IsConfigured() bool {
	return c.s3 != nil && c.bucket != ""
}
