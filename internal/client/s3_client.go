package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/orielfx/api/internal/config"
)

// StorageClient defines the interface for artifact storage operations
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
	Download(ctx context.Context, key, destPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
}

// S3Client implements StorageClient against Cloudflare R2 (S3-compatible)
type S3Client struct {
	s3Client      *s3.Client
	presigner     *s3.PresignClient
	bucketName    string
	uploadRetries int
}

// NewS3Client creates a new artifact storage client
func NewS3Client(cfg *config.StorageConfig) (*S3Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
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
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	presigner := s3.NewPresignClient(s3Client)

	retries := cfg.UploadRetries
	if retries < 1 {
		retries = 1
	}

	return &S3Client{
		s3Client:      s3Client,
		presigner:     presigner,
		bucketName:    cfg.BucketName,
		uploadRetries: retries,
	}, nil
}

// Upload puts an object, retrying transient failures with exponential
// backoff up to the configured bound. The body must be seekable so each
// retry restarts from the beginning.
func (c *S3Client) Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt < c.uploadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to rewind upload body: %w", err)
		}

		_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucketName),
			Key:         aws.String(key),
			Body:        body,
			ContentType: aws.String(contentType),
		})
		if err == nil {
			return key, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("failed to upload %s after %d attempts: %w", key, c.uploadRetries, lastErr)
}

// Download fetches an object to a local file.
func (c *S3Client) Download(ctx context.Context, key, destPath string) error {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}

// Exists checks whether a key resolves without fetching it.
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes an object.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// GetSignedURL generates a presigned URL for temporary access. The URL
// fails closed after expiry; nothing here ever re-signs on behalf of an
// expired link.
func (c *S3Client) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presignedReq, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedReq.URL, nil
}

// ListOlderThan returns keys under prefix whose last modification is before
// cutoff. Used by the retention sweep.
func (c *S3Client) ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// IsNotFound reports whether an error is a missing-object error.
func IsNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

const artifactPrefix = "artifacts/"

// ArtifactKey is the bucket key for a job's rendered artifact.
func ArtifactKey(jobID string) string {
	return artifactPrefix + jobID + ".mp4"
}

// JobIDFromArtifactKey reverses ArtifactKey; empty when the key is not an
// artifact key.
func JobIDFromArtifactKey(key string) string {
	if !strings.HasPrefix(key, artifactPrefix) || !strings.HasSuffix(key, ".mp4") {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, artifactPrefix), ".mp4")
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// ArtifactPrefix is the bucket prefix holding rendered artifacts.
func ArtifactPrefix() string {
	return artifactPrefix
}
