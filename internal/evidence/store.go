// Package evidence archives submitted images so verification logs can point at
// the exact bytes that were judged.
package evidence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// Store saves evidence and returns where it can be found.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Key builds the archive key <userID>/<unixMillis>-<sha1>.<ext>.
func Key(userID string, at time.Time, sha1Hex, format string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s/%d-%s.%s", userID, at.UnixMilli(), sha1Hex, extension(format))
}

func extension(format string) string {
	switch f := strings.ToLower(format); f {
	case "jpeg", "jpg", "image/jpeg":
		return "jpg"
	case "png", "image/png":
		return "png"
	case "gif", "image/gif":
		return "gif"
	case "":
		return "bin"
	default:
		return strings.TrimPrefix(f, "image/")
	}
}

// NopStore discards evidence.
type NopStore struct{}

// Put returns an empty URL and no error.
func (NopStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", nil
}

type uploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

type azureStore struct {
	client    uploader
	endpoint  string
	container string
}

// NewAzureStore returns a Store backed by a blob container.
func NewAzureStore(accountName, accountKey, container string) (Store, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid storage credential: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	return &azureStore{client: client, endpoint: endpoint, container: container}, nil
}

func (s *azureStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}

	if _, err := s.client.UploadBuffer(ctx, s.container, key, data, opts); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.container, key), nil
}
