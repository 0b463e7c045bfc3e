package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"docsync-go/internal/docsync"
)

// S3Config configures an S3Connection.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key, without a trailing slash.
	Prefix string
	Region string
	// Endpoint points at an S3-compatible server such as MinIO.
	Endpoint string
	// PathStyle forces path-style addressing.
	PathStyle bool
}

// S3Connection implements docsync.Connection on an S3 bucket. Directories
// are key prefixes with a zero-length "dir/" marker object so that empty
// directories exist. Version tokens are ETags. Moves copy and delete, so
// they are not atomic for directories.
type S3Connection struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Connection builds a client from cfg. Static credentials from creds
// are used when it is non-nil; otherwise the default AWS chain applies.
func NewS3Connection(ctx context.Context, cfg S3Config, creds CredentialsFunc) (*S3Connection, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 remote requires a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if creds != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				cr, err := creds()
				if err != nil {
					return aws.Credentials{}, err
				}
				return credentials.NewStaticCredentialsProvider(cr.Username, cr.Secret, "").Retrieve(ctx)
			})))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3ConnectionFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ConnectionFromClient wraps an existing client.
func NewS3ConnectionFromClient(client *s3.Client, bucket, prefix string) *S3Connection {
	return &S3Connection{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (c *S3Connection) key(p string) string {
	p = clean(p)
	switch {
	case c.prefix == "":
		return p
	case p == "":
		return c.prefix
	default:
		return c.prefix + "/" + p
	}
}

func (c *S3Connection) dirKey(p string) string {
	k := c.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// s3Error maps SDK errors carrying an HTTP status to docsync.StatusError.
func s3Error(op, p string, err error) error {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		// S3 reports bad or expired keys as 403.
		if code == http.StatusForbidden {
			code = http.StatusUnauthorized
		}
		return &docsync.StatusError{Op: op, Path: p, StatusCode: code}
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return &docsync.StatusError{Op: op, Path: p, StatusCode: http.StatusNotFound}
	}
	return fmt.Errorf("s3 %s %s: %w", op, p, err)
}

func etag(s *string) string {
	return strings.Trim(aws.ToString(s), `"`)
}

// ListDirectory lists one level below p using a "/" delimiter.
func (c *S3Connection) ListDirectory(ctx context.Context, p string) ([]docsync.RemoteEntry, error) {
	prefix := c.dirKey(p)
	pager := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var out []docsync.RemoteEntry
	found := prefix == ""
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, s3Error("list", p, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			out = append(out, docsync.RemoteEntry{Name: name, IsDirectory: true})
		}
		for _, obj := range page.Contents {
			found = true
			k := aws.ToString(obj.Key)
			if k == prefix {
				continue
			}
			out = append(out, docsync.RemoteEntry{
				Name:         strings.TrimPrefix(k, prefix),
				VersionToken: etag(obj.ETag),
				Size:         aws.ToInt64(obj.Size),
				ModifiedAt:   aws.ToTime(obj.LastModified),
			})
		}
	}
	if !found {
		return nil, &docsync.StatusError{Op: "list", Path: p, StatusCode: http.StatusNotFound}
	}
	return out, nil
}

// Stat checks for an object at p, then for a directory prefix.
func (c *S3Connection) Stat(ctx context.Context, p string) (*docsync.RemoteEntry, error) {
	name := path.Base("/" + clean(p))
	if clean(p) != "" {
		head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(c.key(p)),
		})
		if err == nil {
			return &docsync.RemoteEntry{
				Name:         name,
				VersionToken: etag(head.ETag),
				Size:         aws.ToInt64(head.ContentLength),
				ModifiedAt:   aws.ToTime(head.LastModified),
			}, nil
		}
		if serr := s3Error("stat", p, err); !errors.Is(serr, docsync.ErrNotFound) {
			return nil, serr
		}
	}
	ok, err := c.hasPrefix(ctx, c.dirKey(p))
	if err != nil {
		return nil, s3Error("stat", p, err)
	}
	if !ok {
		return nil, &docsync.StatusError{Op: "stat", Path: p, StatusCode: http.StatusNotFound}
	}
	return &docsync.RemoteEntry{Name: name, IsDirectory: true}, nil
}

func (c *S3Connection) hasPrefix(ctx context.Context, prefix string) (bool, error) {
	if prefix == "" {
		return true, nil
	}
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

// GetContents streams the object at p.
func (c *S3Connection) GetContents(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(p)),
	})
	if err != nil {
		return nil, s3Error("get", p, err)
	}
	return out.Body, nil
}

// PutContents uploads through the transfer manager, which switches to
// multipart uploads for large content.
func (c *S3Connection) PutContents(ctx context.Context, p string, r io.Reader, size int64) (string, error) {
	ok, err := c.hasParent(ctx, p)
	if err != nil {
		return "", s3Error("put", p, err)
	}
	if !ok {
		return "", &docsync.StatusError{Op: "put", Path: p, StatusCode: http.StatusConflict}
	}
	out, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(p)),
		Body:   r,
	})
	if err != nil {
		return "", s3Error("put", p, err)
	}
	if t := etag(out.ETag); t != "" {
		return t, nil
	}
	e, err := c.Stat(ctx, p)
	if err != nil {
		return "", err
	}
	return e.VersionToken, nil
}

func (c *S3Connection) hasParent(ctx context.Context, p string) (bool, error) {
	dir := parent(clean(p))
	if dir == "" {
		return true, nil
	}
	return c.hasPrefix(ctx, c.dirKey(dir))
}

// keysUnder returns the object key at p (if any) and every key below it.
func (c *S3Connection) keysUnder(ctx context.Context, p string) ([]string, error) {
	var keys []string
	if k := c.key(p); k != "" {
		if _, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(k)}); err == nil {
			keys = append(keys, k)
		}
	}
	pager := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.dirKey(p)),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Move copies every key below from to the matching key below to, then
// deletes the sources.
func (c *S3Connection) Move(ctx context.Context, from, to string) error {
	keys, err := c.keysUnder(ctx, from)
	if err != nil {
		return s3Error("move", from, err)
	}
	if len(keys) == 0 {
		return &docsync.StatusError{Op: "move", Path: from, StatusCode: http.StatusNotFound}
	}
	if ok, err := c.hasParent(ctx, to); err != nil {
		return s3Error("move", to, err)
	} else if !ok {
		return &docsync.StatusError{Op: "move", Path: to, StatusCode: http.StatusConflict}
	}
	if err := c.Delete(ctx, to); err != nil && !errors.Is(err, docsync.ErrNotFound) {
		return err
	}

	src, dst := c.key(from), c.key(to)
	for _, k := range keys {
		target := dst + strings.TrimPrefix(k, src)
		_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(target),
			CopySource: aws.String(c.bucket + "/" + k),
		})
		if err != nil {
			return s3Error("move", from, err)
		}
	}
	return c.deleteKeys(ctx, "move", from, keys)
}

// Delete removes the object at p and everything below it.
func (c *S3Connection) Delete(ctx context.Context, p string) error {
	keys, err := c.keysUnder(ctx, p)
	if err != nil {
		return s3Error("delete", p, err)
	}
	if len(keys) == 0 {
		return &docsync.StatusError{Op: "delete", Path: p, StatusCode: http.StatusNotFound}
	}
	return c.deleteKeys(ctx, "delete", p, keys)
}

func (c *S3Connection) deleteKeys(ctx context.Context, op, p string, keys []string) error {
	// DeleteObjects accepts at most 1000 keys per request.
	for len(keys) > 0 {
		n := min(len(keys), 1000)
		ids := make([]types.ObjectIdentifier, 0, n)
		for _, k := range keys[:n] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return s3Error(op, p, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("s3 %s %s: deleting %s: %s", op, p, aws.ToString(e.Key), aws.ToString(e.Message))
		}
		keys = keys[n:]
	}
	return nil
}

// MakeDirectory writes the "dir/" marker object.
func (c *S3Connection) MakeDirectory(ctx context.Context, p string) error {
	k := c.dirKey(p)
	if k == "" {
		return nil
	}
	if ok, err := c.hasParent(ctx, p); err != nil {
		return s3Error("mkdir", p, err)
	} else if !ok {
		return &docsync.StatusError{Op: "mkdir", Path: p, StatusCode: http.StatusConflict}
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(k),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return s3Error("mkdir", p, err)
	}
	return nil
}

var _ docsync.Connection = (*S3Connection)(nil)
