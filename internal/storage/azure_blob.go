package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureBlobStore uploads blobs to one container, authenticated by a SAS token.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
}

func NewAzureBlobStore(serviceURL, sasToken, container string) (*AzureBlobStore, error) {
	url := serviceURL
	if sasToken != "" {
		url = strings.TrimSuffix(serviceURL, "/") + "/?" + strings.TrimPrefix(sasToken, "?")
	}

	client, err := azblob.NewClientWithNoCredential(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureBlobStore{client: client, container: container}, nil
}

func (s *AzureBlobStore) Upload(ctx context.Context, name string, data []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s to %s: %w", name, s.container, err)
	}
	return nil
}
