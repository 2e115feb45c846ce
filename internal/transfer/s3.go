package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/http"
	"github.com/rescale/sheetjobs/internal/logging"
)

// s3API is the subset of the S3 client used by S3Sink
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads results to a bucket.
type S3Sink struct {
	client s3API
	dest   Destination
	retry  http.Config
	logger *logging.Logger
}

// NewS3Sink creates an S3 sink. Static keys from cfg are used when both
// halves are present; otherwise the AWS default credential chain applies.
func NewS3Sink(ctx context.Context, dest Destination, cfg *config.Config, logger *logging.Logger) (*S3Sink, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			// S3-compatible stores generally need path-style addressing
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Sink(client, dest, retryConfig(cfg, logger), logger), nil
}

func newS3Sink(client s3API, dest Destination, retry http.Config, logger *logging.Logger) *S3Sink {
	return &S3Sink{client: client, dest: dest, retry: retry, logger: logger.Child("sink", "s3")}
}

// Put uploads src as a single object under the destination prefix.
func (s *S3Sink) Put(ctx context.Context, name string, src *os.File, size int64) (string, error) {
	key := s.dest.objectKey(name)

	err := http.ExecuteWithRetry(ctx, s.retry, func() error {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind download: %w", err)
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.dest.Bucket),
			Key:           aws.String(key),
			Body:          src,
			ContentLength: aws.Int64(size),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3://%s/%s: %w", s.dest.Bucket, key, err)
	}

	s.logger.Debug().Str("bucket", s.dest.Bucket).Str("key", key).Int64("bytes", size).Msg("Result stored")
	return "s3://" + s.dest.Bucket + "/" + key, nil
}

func retryConfig(cfg *config.Config, logger *logging.Logger) http.Config {
	rc := http.DefaultConfig()
	rc.MaxRetries = cfg.DownloadMaxRetries + 1
	rc.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		logger.Warn().Err(err).Int("attempt", attempt).Str("error_type", http.ErrorTypeName(errType)).Msg("Retrying result upload")
	}
	return rc
}
