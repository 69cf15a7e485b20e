package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

var ErrContainerNotFound = errors.New("document container does not exist")

// CosmosDocumentStore upserts JSON documents into one Cosmos DB container whose
// partition key path points at the document id.
type CosmosDocumentStore struct {
	client           *azcosmos.Client
	databaseID       string
	containerID      string
	partitionKeyPath string
}

func NewCosmosDocumentStore(endpoint, key, databaseID, containerID, partitionKeyPath string) (*CosmosDocumentStore, error) {
	cred, err := azcosmos.NewKeyCredential(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos credential: %w", err)
	}
	client, err := azcosmos.NewClientWithKey(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos client: %w", err)
	}
	return &CosmosDocumentStore{
		client:           client,
		databaseID:       databaseID,
		containerID:      containerID,
		partitionKeyPath: partitionKeyPath,
	}, nil
}

// EnsureContainer creates the container if it is absent.
func (s *CosmosDocumentStore) EnsureContainer(ctx context.Context) error {
	db, err := s.client.NewDatabase(s.databaseID)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", s.databaseID, err)
	}

	props := azcosmos.ContainerProperties{
		ID: s.containerID,
		PartitionKeyDefinition: azcosmos.PartitionKeyDefinition{
			Paths: []string{s.partitionKeyPath},
		},
	}
	if _, err := db.CreateContainer(ctx, props, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("failed to create container %s: %w", s.containerID, err)
	}
	return nil
}

// Upsert inserts or replaces the document whose id and partition key are id.
func (s *CosmosDocumentStore) Upsert(ctx context.Context, id string, doc []byte) (int, error) {
	container, err := s.client.NewContainer(s.databaseID, s.containerID)
	if err != nil {
		return 0, fmt.Errorf("failed to open container %s: %w", s.containerID, err)
	}

	resp, err := container.UpsertItem(ctx, azcosmos.NewPartitionKeyString(id), doc, nil)
	if err != nil {
		return statusCode(err), fmt.Errorf("failed to upsert document %s: %w", id, err)
	}
	return resp.RawResponse.StatusCode, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
