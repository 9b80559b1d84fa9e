package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog"
)

// AzureBlobBackend reads and writes blobs in one container.
type AzureBlobBackend struct {
	client        *azblob.Client
	containerName string
	prefix        string
	logger        zerolog.Logger
}

// AzureBlobConfig holds Azure Blob Storage backend configuration. One of the
// authentication methods must be set.
type AzureBlobConfig struct {
	ConnectionString string

	AccountName string
	AccountKey  string
	SASToken    string

	UseManagedIdentity bool

	ContainerName string
	Prefix        string

	// Endpoint overrides the account URL, e.g. for Azurite.
	Endpoint string
}

// NewAzureBlobBackend creates a blob client using the first configured
// authentication method.
func NewAzureBlobBackend(cfg *AzureBlobConfig, logger zerolog.Logger) (*AzureBlobBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}
	log := logger.With().Str("component", "azure-storage").Logger()

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountName != "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	var client *azblob.Client
	var err error
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.SASToken != "":
		serviceURL := fmt.Sprintf("%s?%s", endpoint, strings.TrimPrefix(cfg.SASToken, "?"))
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create managed identity credential: %w", credErr)
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
	default:
		return nil, fmt.Errorf("no valid Azure authentication method configured. Provide connection_string, account_name+account_key, account_name+sas_token, or account_name+use_managed_identity")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	log.Info().Str("container", cfg.ContainerName).Msg("Azure Blob backend configured")
	return &AzureBlobBackend{
		client:        client,
		containerName: cfg.ContainerName,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		logger:        log,
	}, nil
}

func (b *AzureBlobBackend) blobName(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + strings.TrimPrefix(key, "/")
}

// ReadTo streams the blob at key into w.
func (b *AzureBlobBackend) ReadTo(ctx context.Context, key string, w io.Writer) error {
	start := time.Now()
	resp, err := b.client.DownloadStream(ctx, b.containerName, b.blobName(key), nil)
	if err != nil {
		if isAzureNotFoundError(err) {
			return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to read from Azure Blob Storage: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to copy Azure blob: %w", err)
	}
	b.logger.Debug().
		Str("key", key).
		Int64("size", n).
		Dur("duration", time.Since(start)).
		Msg("Read from Azure Blob Storage")
	return nil
}

// WriteReader uploads r as a block blob.
func (b *AzureBlobBackend) WriteReader(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := b.client.UploadStream(ctx, b.containerName, b.blobName(key), r, &azblob.UploadStreamOptions{
		BlockSize:   multipartPartSize,
		Concurrency: multipartConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to write to Azure Blob Storage: %w", err)
	}
	b.logger.Debug().Str("key", key).Int64("size", size).Msg("Wrote to Azure Blob Storage")
	return nil
}

// Exists fetches the blob's properties.
func (b *AzureBlobBackend) Exists(ctx context.Context, key string) (bool, error) {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(b.blobName(key))
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isAzureNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check Azure blob existence: %w", err)
	}
	return true, nil
}

func (b *AzureBlobBackend) Close() error { return nil }

func (b *AzureBlobBackend) Type() string { return "azure" }

func isAzureNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	msg := err.Error()
	return strings.Contains(msg, "BlobNotFound") || strings.Contains(msg, "404")
}
