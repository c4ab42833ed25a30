package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
)

// AzureStore mirrors containers from Azure Blob Storage. Buckets map to containers.
type AzureStore struct {
	serviceURL azblob.ServiceURL
	opts       Options
}

// NewAzureStore creates an Azure store with shared key credentials
func NewAzureStore(cfg config.ObjectStoreConfig, opts Options) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.Azure.AccountName, cfg.Azure.AccountKey)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to create Azure credentials", err)
	}

	raw := cfg.Azure.ServiceURL
	if raw == "" {
		raw = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Azure.AccountName)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to parse Azure service URL", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	return &AzureStore{
		serviceURL: azblob.NewServiceURL(*u, pipeline),
		opts:       opts.withDefaults(),
	}, nil
}

func (a *AzureStore) Provider() string { return config.ProviderAzure }

// ListBuckets returns the container names of the account
func (a *AzureStore) ListBuckets(ctx context.Context) ([]string, error) {
	start := time.Now()
	var names []string
	err := a.opts.Retry.Retry(ctx, func() error {
		callCtx, cancel := withTimeout(ctx, a.opts.Timeout)
		defer cancel()

		names = names[:0]
		for marker := (azblob.Marker{}); marker.NotDone(); {
			resp, err := a.serviceURL.ListContainersSegment(callCtx, marker, azblob.ListContainersSegmentOptions{})
			if err != nil {
				return err
			}
			for _, c := range resp.ContainerItems {
				names = append(names, c.Name)
			}
			marker = resp.NextMarker
		}
		return nil
	})
	a.opts.Logger.LogStoreCall(ctx, a.Provider(), "ListBuckets", time.Since(start), err)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list Azure containers")
	}
	return names, nil
}

// SyncBucketToLocal mirrors container bucket into dir
func (a *AzureStore) SyncBucketToLocal(ctx context.Context, bucket string, dir string) (SyncStats, error) {
	return syncBucket(ctx, a, a.Provider(), bucket, dir, a.opts)
}

func (a *AzureStore) walk(ctx context.Context, bucket string, fn func(ObjectInfo) error) error {
	containerURL := a.serviceURL.NewContainerURL(bucket)
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{})
		if err != nil {
			return err
		}
		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{Key: blob.Name, ModTime: blob.Properties.LastModified}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			if err := fn(info); err != nil {
				return err
			}
		}
		marker = resp.NextMarker
	}
	return nil
}

func (a *AzureStore) download(ctx context.Context, bucket string, obj ObjectInfo, f *os.File) error {
	blobURL := a.serviceURL.NewContainerURL(bucket).NewBlobURL(obj.Key)
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return err
	}
	return copyTo(f, resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}))
}
