package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/maplewick/api/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	defaultListPageSize = 1000
	publicHost          = "https://storage.googleapis.com"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	ErrObjectMissing = errors.New("storage: object does not exist")
	// ErrObjectTooLarge signals an upload body over the configured size limit.
	ErrObjectTooLarge = errors.New("storage: object exceeds the size limit")
)

// BucketClient wraps a Cloud Storage bucket used for product imagery.
type BucketClient struct {
	client    *storage.Client
	bucket    string
	sizeLimit int64
	now       func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*BucketClient)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *BucketClient) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithObjectSizeLimit caps uploaded object size in bytes. Zero means no cap.
func WithObjectSizeLimit(limit int64) ClientOption {
	return func(c *BucketClient) {
		if limit > 0 {
			c.sizeLimit = limit
		}
	}
}

// NewBucketClient constructs a BucketClient bound to the named bucket.
func NewBucketClient(ctx context.Context, bucket string, opts []option.ClientOption, clientOpts ...ClientOption) (*BucketClient, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}

	raw, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}

	client := &BucketClient{
		client: raw,
		bucket: bucket,
		now:    time.Now,
	}
	for _, opt := range clientOpts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Bucket returns the bucket name the client operates on.
func (c *BucketClient) Bucket() string {
	return c.bucket
}

// Close releases the underlying storage client.
func (c *BucketClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ListOptions narrow an object listing.
type ListOptions struct {
	Prefix string
	// Search filters object names by case-insensitive substring after listing.
	Search string
	Limit  int
}

// ListObjects returns objects in the bucket, optionally filtered by prefix and substring search.
func (c *BucketClient) ListObjects(ctx context.Context, opts ListOptions) ([]domain.StorageObject, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("storage: client is not initialised")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListPageSize
	}
	search := strings.ToLower(strings.TrimSpace(opts.Search))

	query := &storage.Query{Prefix: strings.TrimSpace(opts.Prefix)}
	iter := c.client.Bucket(c.bucket).Objects(ctx, query)

	var objects []domain.StorageObject
	for {
		attrs, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: list objects in %s: %w", c.bucket, err)
		}
		if search != "" && !strings.Contains(strings.ToLower(attrs.Name), search) {
			continue
		}
		objects = append(objects, domain.StorageObject{
			Name:        attrs.Name,
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			Updated:     attrs.Updated,
		})
		if len(objects) >= limit {
			break
		}
	}
	return objects, nil
}

// Upload writes the reader's contents to the named object and returns its
// public URL. Bodies over the configured size limit abort the upload.
func (c *BucketClient) Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errInvalidObject
	}

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := c.client.Bucket(c.bucket).Object(object).NewWriter(writeCtx)
	if strings.TrimSpace(contentType) != "" {
		writer.ContentType = contentType
	}
	writer.CacheControl = "public, max-age=3600"

	if _, err := copyCapped(writer, body, c.sizeLimit); err != nil {
		// Cancelling the write context discards the partial object.
		cancel()
		_ = writer.Close()
		return "", fmt.Errorf("storage: upload %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: finalize upload %s: %w", object, err)
	}
	return PublicURL(c.bucket, object), nil
}

// copyCapped copies src into dst, failing with ErrObjectTooLarge when src
// holds more than limit bytes. A non-positive limit copies without a cap.
func copyCapped(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrObjectTooLarge
	}
	return n, nil
}

// Delete removes the named object. Missing objects map to ErrObjectMissing.
func (c *BucketClient) Delete(ctx context.Context, object string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}

	err := c.client.Bucket(c.bucket).Object(object).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrObjectMissing
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", object, err)
	}
	return nil
}

// Attrs returns the metadata for the named object.
func (c *BucketClient) Attrs(ctx context.Context, object string) (domain.StorageObject, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return domain.StorageObject{}, errInvalidObject
	}

	attrs, err := c.client.Bucket(c.bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return domain.StorageObject{}, ErrObjectMissing
	}
	if err != nil {
		return domain.StorageObject{}, fmt.Errorf("storage: attrs %s: %w", object, err)
	}
	return domain.StorageObject{
		Name:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}, nil
}

// Exists reports whether the bucket itself exists.
func (c *BucketClient) Exists(ctx context.Context) (bool, error) {
	_, err := c.client.Bucket(c.bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: bucket attrs %s: %w", c.bucket, err)
	}
	return true, nil
}

// EnsureBucket creates the bucket when missing. New buckets default objects
// to public read since the catalog serves images straight from the bucket.
func (c *BucketClient) EnsureBucket(ctx context.Context, projectID string) error {
	exists, err := c.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	attrs := &storage.BucketAttrs{
		PredefinedDefaultObjectACL: "publicRead",
	}
	if err := c.client.Bucket(c.bucket).Create(ctx, projectID, attrs); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// PublicURL computes the canonical public URL for an object without touching the network.
func PublicURL(bucket, object string) string {
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if bucket == "" || object == "" {
		return ""
	}

	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/%s/%s", publicHost, bucket, strings.Join(segments, "/"))
}
