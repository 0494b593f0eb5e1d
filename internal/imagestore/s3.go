package imagestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultPresignTTL = time.Hour

var errMissingBucket = errors.New("imagestore: bucket is required")

type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// BaseURL points at an S3-compatible endpoint; requests then use path-style addressing.
	BaseURL    string
	PresignTTL time.Duration
}

// S3Resolver turns image storage paths into time-limited GET URLs.
type S3Resolver struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

func NewS3Resolver(ctx context.Context, cfg Config) (*S3Resolver, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}

	var awsConfig aws.Config
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsConfig = aws.Config{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}
	} else {
		loaded, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("imagestore: load aws config: %w", err)
		}
		awsConfig = loaded
	}

	client := s3.NewFromConfig(awsConfig, func(options *s3.Options) {
		if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
			options.BaseEndpoint = aws.String(baseURL)
			options.UsePathStyle = true
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &S3Resolver{
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		ttl:     ttl,
	}, nil
}

// ResolveURL presigns the storage path when one is recorded and otherwise
// falls back to the image's download URL.
func (r *S3Resolver) ResolveURL(ctx context.Context, image submissions.Image) (string, error) {
	key := strings.TrimPrefix(strings.TrimSpace(image.StoragePath), "/")
	if key == "" {
		return image.DownloadURL, nil
	}
	request, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("imagestore: presign %s: %w", key, err)
	}
	return request.URL, nil
}
