package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"todoapp/pkg/logger"
)

// BlobStore archives into an Azure Blob Storage container.
type BlobStore struct {
	client    *azblob.Client
	container string
}

// NewBlobStore connects to the container using a storage connection string.
func NewBlobStore(connStr, container string) (*BlobStore, error) {
	opts := azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
			},
		},
	}
	client, err := azblob.NewClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}
	return &BlobStore{client: client, container: container}, nil
}

func (s *BlobStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create container %s: %w", s.container, err)
	}
	logger.Info(ctx, "Archive container created", "container", s.container)
	return nil
}

func (s *BlobStore) PutBlob(ctx context.Context, name string, data []byte) error {
	ct := contentType
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.container, name, err)
	}
	return nil
}
