// Package s3 lists, reads and writes objects in S3 buckets.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/resilience"
)

// API is the subset of the S3 client used here.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ListOptions filters a listing. All set filters must match.
type ListOptions struct {
	Prefix   string
	Suffix   string
	Contains string

	// ExcludePrefixes drops keys whose path below Prefix, or whose full key,
	// starts with any entry.
	ExcludePrefixes []string
}

// Object describes one listed object.
type Object struct {
	Key  string
	Size int64
	ETag string
}

// Client defines the object storage operations.
type Client interface {
	// ListObjects streams matching objects page by page. Both channels are
	// closed when the listing ends; at most one error is sent.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) (<-chan Object, <-chan error)
	// List streams matching keys.
	List(ctx context.Context, bucket string, opts ListOptions) (<-chan string, <-chan error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// GetRange reads length bytes starting at offset.
	GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Head(ctx context.Context, bucket, key string) (*Object, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	Delete(ctx context.Context, bucket, key string) error
	// CopyThenDelete moves an object to a new key in the same bucket.
	CopyThenDelete(ctx context.Context, bucket, srcKey, dstKey string) error
}

// Option configures the client.
type Option func(*client)

// WithRetry sets the retry policy for uploads and downloads.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

type client struct {
	api   API
	retry resilience.RetryConfig
}

// New creates a Client over api.
func New(api API, opts ...Option) Client {
	c := &client{api: api, retry: resilience.DefaultRetryConfig()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (o ListOptions) match(key string) bool {
	if o.Suffix != "" && !strings.HasSuffix(key, o.Suffix) {
		return false
	}
	if o.Contains != "" && !strings.Contains(key, o.Contains) {
		return false
	}
	rel := strings.TrimPrefix(key, o.Prefix)
	for _, ex := range o.ExcludePrefixes {
		if strings.HasPrefix(rel, ex) || strings.HasPrefix(key, ex) {
			return false
		}
	}
	return true
}

func (c *client) ListObjects(ctx context.Context, bucket string, opts ListOptions) (<-chan Object, <-chan error) {
	out := make(chan Object)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(opts.Prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				errc <- eris.Wrapf(err, "s3: list s3://%s/%s", bucket, opts.Prefix)
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if !opts.match(key) {
					continue
				}
				select {
				case out <- Object{Key: key, Size: aws.ToInt64(obj.Size), ETag: aws.ToString(obj.ETag)}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()
	return out, errc
}

func (c *client) List(ctx context.Context, bucket string, opts ListOptions) (<-chan string, <-chan error) {
	objs, errc := c.ListObjects(ctx, bucket, opts)
	keys := make(chan string)
	go func() {
		defer close(keys)
		for o := range objs {
			select {
			case keys <- o.Key:
			case <-ctx.Done():
				// drain so the lister can exit
				for range objs {
				}
				return
			}
		}
	}()
	return keys, errc
}

func (c *client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := resilience.DoVal(ctx, c.retry.WithLogger("s3", "get"), func(ctx context.Context) ([]byte, error) {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close() //nolint:errcheck
		return io.ReadAll(out.Body)
	})
	return data, eris.Wrapf(err, "s3: get %s", URI(bucket, key))
}

func (c *client) GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	data, err := resilience.DoVal(ctx, c.retry.WithLogger("s3", "get_range"), func(ctx context.Context) ([]byte, error) {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close() //nolint:errcheck
		return io.ReadAll(io.LimitReader(out.Body, length))
	})
	return data, eris.Wrapf(err, "s3: get %s bytes %d+%d", URI(bucket, key), offset, length)
}

func (c *client) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	err := resilience.Do(ctx, c.retry.WithLogger("s3", "put"), func(ctx context.Context) error {
		in := &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		}
		if contentType != "" {
			in.ContentType = aws.String(contentType)
		}
		_, err := c.api.PutObject(ctx, in)
		return err
	})
	return eris.Wrapf(err, "s3: put %s", URI(bucket, key))
}

func (c *client) Head(ctx context.Context, bucket, key string) (*Object, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, eris.Wrapf(err, "s3: head %s", URI(bucket, key))
	}
	return &Object{Key: key, Size: aws.ToInt64(out.ContentLength), ETag: aws.ToString(out.ETag)}, nil
}

func (c *client) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	err := resilience.Do(ctx, c.retry.WithLogger("s3", "copy"), func(ctx context.Context) error {
		_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(dstBucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(srcBucket + "/" + srcKey),
		})
		return err
	})
	return eris.Wrapf(err, "s3: copy %s to %s", URI(srcBucket, srcKey), URI(dstBucket, dstKey))
}

func (c *client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return eris.Wrapf(err, "s3: delete %s", URI(bucket, key))
}

func (c *client) CopyThenDelete(ctx context.Context, bucket, srcKey, dstKey string) error {
	if err := c.Copy(ctx, bucket, srcKey, bucket, dstKey); err != nil {
		return err
	}
	return c.Delete(ctx, bucket, srcKey)
}

// URI formats an s3:// URI.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// ParseURI splits an s3:// URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", eris.Errorf("s3: not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", eris.Errorf("s3: missing bucket in %q", uri)
	}
	return bucket, key, nil
}
