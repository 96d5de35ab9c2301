// Package storage implements deploy.ObjectStore on Amazon S3.
package storage

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/log"
	"github.com/keithlinneman/static-deployer/internal/xerrors"
)

// DefaultMaxAttempts is the number of transport attempts per request (standard mode).
const DefaultMaxAttempts = 3

// API is the subset of the S3 client used here. *s3.Client satisfies it.
type API interface {
	manager.UploadAPIClient
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Options struct {
	Logger log.Logger

	// MaxAttempts overrides DefaultMaxAttempts when > 0.
	MaxAttempts int

	// PartSize and PartConcurrency tune managed multi-part transfers. Zero
	// keeps the manager defaults; files below PartSize go up in one request.
	PartSize        int64
	PartConcurrency int
}

type Client struct {
	api      API
	uploader *manager.Uploader
	logger   log.Logger
}

var _ deploy.ObjectStore = (*Client)(nil)

// New builds an S3 client from awsCfg with the standard retryer capped at
// MaxAttempts.
func New(awsCfg aws.Config, opts Options) *Client {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = retry.NewStandard(func(so *retry.StandardOptions) {
			so.MaxAttempts = attempts
		})
	})
	return NewWithAPI(api, opts)
}

// NewWithAPI wraps an existing client, mainly for tests.
func NewWithAPI(api API, opts Options) *Client {
	uploader := manager.NewUploader(api, func(u *manager.Uploader) {
		if opts.PartSize > 0 {
			u.PartSize = opts.PartSize
		}
		if opts.PartConcurrency > 0 {
			u.Concurrency = opts.PartConcurrency
		}
	})
	return &Client{
		api:      api,
		uploader: uploader,
		logger:   log.OrNop(opts.Logger),
	}
}

// PutObject streams body to bucket/key, switching to multi-part when body is
// larger than the part size. Empty metadata fields are not sent.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, meta deploy.ObjectMeta) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if meta.CacheControl != "" {
		in.CacheControl = aws.String(meta.CacheControl)
	}
	if meta.ContentType != "" {
		in.ContentType = aws.String(meta.ContentType)
	}
	if meta.ContentEncoding != "" {
		in.ContentEncoding = aws.String(meta.ContentEncoding)
	}

	out, err := c.uploader.Upload(ctx, in)
	if err != nil {
		return xerrors.Wrapf(err, "upload s3://%s/%s%s", bucket, key, xerrors.CodeSuffix(err))
	}
	c.logger.Debug(ctx, "uploaded object",
		"bucket", bucket,
		"key", key,
		"etag", aws.ToString(out.ETag),
		"multipart", out.UploadID != "",
	)
	return nil
}

// ListObjects returns up to maxKeys keys under prefix from the first page.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, maxKeys int32) ([]string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if maxKeys > 0 {
		in.MaxKeys = aws.Int32(maxKeys)
	}
	out, err := c.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, xerrors.Wrapf(err, "list s3://%s/%s%s", bucket, prefix, xerrors.CodeSuffix(err))
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}
