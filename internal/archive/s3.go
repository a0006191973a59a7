package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Config holds the archive bucket settings.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
	Prefix    string
	Timeout   time.Duration
}

// S3Archive writes payloads to an S3-compatible bucket.
type S3Archive struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Archive builds the S3 client. Static credentials are used when given;
// otherwise the SDK's anonymous credentials apply.
func NewS3Archive(cfg S3Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && strings.Contains(endpoint, cfg.Bucket+".") {
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		log.Warn().Str("endpoint", endpoint).Str("bucket", cfg.Bucket).Msg("Removed bucket name from S3 endpoint")
	}

	awsCfg := aws.Config{Region: cfg.Region}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		awsCfg.Credentials = aws.AnonymousCredentials{}
	}

	// Buckets with dots in their names break virtual-host TLS certificates.
	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", endpoint).
		Bool("pathStyle", usePathStyle).
		Msg("S3 payload archive initialized")

	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, timeout: timeout}, nil
}

// Store uploads payload and returns the object key.
func (a *S3Archive) Store(ctx context.Context, logID uint, receivedAt time.Time, payload []byte) (string, error) {
	key := ObjectKey(a.prefix, logID, receivedAt)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"webhook-log-id": fmt.Sprintf("%d", logID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload payload to S3: %w", err)
	}

	log.Debug().Str("bucket", a.bucket).Str("key", key).Int("size", len(payload)).Msg("Webhook payload archived")
	return key, nil
}
