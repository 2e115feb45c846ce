package transfer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/http"
	"github.com/rescale/sheetjobs/internal/logging"
)

// blobUploader is the subset of the azblob client used by AzureSink
type blobUploader interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// AzureSink uploads results to a Blob container authorised by a SAS token.
type AzureSink struct {
	client blobUploader
	dest   Destination
	retry  http.Config
	logger *logging.Logger
}

// NewAzureSink creates a sink for dest.ServiceURL. The SDK's own retries are
// disabled; failures go through http.ExecuteWithRetry like the S3 sink.
func NewAzureSink(dest Destination, cfg *config.Config, logger *logging.Logger) (*AzureSink, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	client, err := azblob.NewClientWithNoCredential(dest.ServiceURL, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
			Retry:     policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return newAzureSink(client, dest, retryConfig(cfg, logger), logger), nil
}

func newAzureSink(client blobUploader, dest Destination, retry http.Config, logger *logging.Logger) *AzureSink {
	return &AzureSink{client: client, dest: dest, retry: retry, logger: logger.Child("sink", "azure")}
}

// Put uploads src as a block blob under the destination prefix.
func (s *AzureSink) Put(ctx context.Context, name string, src *os.File, size int64) (string, error) {
	blob := s.dest.objectKey(name)

	err := http.ExecuteWithRetry(ctx, s.retry, func() error {
		_, err := s.client.UploadFile(ctx, s.dest.Bucket, blob, src, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %s/%s: %w", s.dest.Bucket, blob, err)
	}

	s.logger.Debug().Str("container", s.dest.Bucket).Str("blob", blob).Int64("bytes", size).Msg("Result stored")

	base := s.dest.ServiceURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/") + "/" + s.dest.Bucket + "/" + blob, nil
}
