package objectstore

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"kyc-backup/internal/config"
	apperrors "kyc-backup/internal/errors"
)

// S3Store mirrors buckets from Amazon S3 or an S3-compatible server such as MinIO
type S3Store struct {
	client     s3iface.S3API
	downloader *s3manager.Downloader
	opts       Options
}

// NewS3Store creates an S3 store. A custom endpoint switches to path-style
// addressing and honours the secure flag.
func NewS3Store(cfg config.ObjectStoreConfig, opts Options) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
		awsCfg.DisableSSL = aws.Bool(!cfg.Secure)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to create S3 session", err)
	}

	client := s3.New(sess)
	return &S3Store{
		client:     client,
		downloader: s3manager.NewDownloaderWithClient(client),
		opts:       opts.withDefaults(),
	}, nil
}

func (s *S3Store) Provider() string { return config.ProviderS3 }

// ListBuckets returns the names of all buckets visible to the credentials
func (s *S3Store) ListBuckets(ctx context.Context) ([]string, error) {
	start := time.Now()
	var names []string
	err := s.opts.Retry.Retry(ctx, func() error {
		callCtx, cancel := withTimeout(ctx, s.opts.Timeout)
		defer cancel()

		out, err := s.client.ListBucketsWithContext(callCtx, &s3.ListBucketsInput{})
		if err != nil {
			return err
		}
		names = names[:0]
		for _, b := range out.Buckets {
			names = append(names, aws.StringValue(b.Name))
		}
		return nil
	})
	s.opts.Logger.LogStoreCall(ctx, s.Provider(), "ListBuckets", time.Since(start), err)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list S3 buckets")
	}
	return names, nil
}

// SyncBucketToLocal mirrors bucket into dir
func (s *S3Store) SyncBucketToLocal(ctx context.Context, bucket string, dir string) (SyncStats, error) {
	return syncBucket(ctx, s, s.Provider(), bucket, dir, s.opts)
}

func (s *S3Store) walk(ctx context.Context, bucket string, fn func(ObjectInfo) error) error {
	var fnErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			fnErr = fn(ObjectInfo{
				Key:     aws.StringValue(obj.Key),
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
			if fnErr != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return fnErr
}

func (s *S3Store) download(ctx context.Context, bucket string, obj ObjectInfo, f *os.File) error {
	_, err := s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(obj.Key),
	})
	return err
}
