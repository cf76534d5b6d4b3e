package sync

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = 30 * time.Second
	statConcurrency     = 8
)

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ s3API = (*s3.Client)(nil)

// S3Config holds what is needed to reach an S3 bucket.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string // discovered from the bucket when empty
	Endpoint  string // custom endpoint, implies path-style addressing
	AccessKey string // static credentials; the default chain is used when empty
	SecretKey string
}

// S3Store mirrors objects from an S3 bucket. S3 has no change feed, so Watch
// polls the listing.
//
// Object digests come from S3 checksums when the uploader stored one, and
// from the ETag of single-part uploads otherwise (an MD5 of the content).
type S3Store struct {
	client   s3API
	bucket   string
	prefix   keyPrefix
	interval time.Duration

	mu     gosync.Mutex
	listed map[string]string // key -> ETag as of the last List
}

// NewS3Store creates a new S3Store.
func NewS3Store(client s3API, bucket, prefix string, interval time.Duration) *S3Store {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &S3Store{
		client:   client,
		bucket:   bucket,
		prefix:   keyPrefix(prefix),
		interval: interval,
	}
}

// DialS3 builds an S3 client from cfg and the default AWS configuration chain.
func DialS3(ctx context.Context, cfg S3Config, interval time.Duration) (*S3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	withEndpoint := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if o.Region == "" {
			o.Region = "us-east-1"
		}
	}
	client := s3.NewFromConfig(awsCfg, withEndpoint)

	if cfg.Region == "" && cfg.Endpoint == "" {
		region, err := manager.GetBucketRegion(ctx, client, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket region: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, withEndpoint, func(o *s3.Options) {
			o.Region = region
		})
	}
	return NewS3Store(client, cfg.Bucket, cfg.Prefix, interval), nil
}

// List heads every listed key to pick up its checksum. The listing is kept
// as the starting point of the next Watch.
func (d *S3Store) List(ctx context.Context) ([]*ObjectInfo, error) {
	objects, err := d.listObjects(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.listed = etags(objects)
	d.mu.Unlock()

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return statAll(ctx, keys, d.head)
}

func (d *S3Store) Info(ctx context.Context, name string) (*ObjectInfo, error) {
	return d.head(ctx, d.prefix.fullKey(name))
}

func (d *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := d.prefix.fullKey(name)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(key, err)
	}
	return out.Body, nil
}

// Watch reports objects whose ETag changed, and tombstones for keys that
// disappeared, once per poll interval. The first poll is compared against
// the last List, so changes made in between are reported too. Without a
// prior List every object is reported once.
func (d *S3Store) Watch(ctx context.Context) (Watcher, error) {
	d.mu.Lock()
	prev := d.listed
	d.mu.Unlock()
	if prev == nil {
		prev = map[string]string{}
	}

	ctx, cancel := context.WithCancel(ctx)
	f := newFeed(func() error {
		cancel()
		return nil
	})

	go func() {
		defer close(f.out)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			objects, err := d.listObjects(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.fail(err)
				}
				return
			}

			next := etags(objects)
			for _, change := range d.changes(prev, objects) {
				if !f.send(change) {
					return
				}
			}
			prev = next
		}
	}()
	return f, nil
}

// changes lists what differs between the previous poll and objects: changed
// keys in listing order, then removed keys sorted by name.
func (d *S3Store) changes(prev map[string]string, objects []types.Object) []*ObjectInfo {
	var out []*ObjectInfo
	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		seen[key] = true
		if etag, ok := prev[key]; ok && etag == aws.ToString(obj.ETag) {
			continue
		}
		// The digest is resolved through Info when the change is applied.
		out = append(out, &ObjectInfo{
			Name:    d.prefix.objectName(key),
			Size:    aws.ToInt64(obj.Size),
			ModTime: aws.ToTime(obj.LastModified),
		})
	}

	var removed []string
	for key := range prev {
		if !seen[key] {
			removed = append(removed, key)
		}
	}
	slices.Sort(removed)
	for _, key := range removed {
		out = append(out, &ObjectInfo{Name: d.prefix.objectName(key), Deleted: true})
	}
	return out
}

func (d *S3Store) listObjects(ctx context.Context) ([]types.Object, error) {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.prefix.listPrefix()),
	})

	var objects []types.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), "/") {
				continue // folder placeholder
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

func (d *S3Store) head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(d.bucket),
		Key:          aws.String(key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return nil, s3Error(key, err)
	}

	etag := aws.ToString(out.ETag)
	if !etagIsContentMD5(string(out.ServerSideEncryption), out.SSECustomerAlgorithm != nil) {
		etag = ""
	}
	return &ObjectInfo{
		Name:    d.prefix.objectName(key),
		Digest:  s3Digest(aws.ToString(out.ChecksumSHA256), aws.ToString(out.ChecksumSHA1), etag),
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

func s3Error(key string, err error) error {
	var (
		re       *awshttp.ResponseError
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &notFound) ||
		(errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound) {
		return fmt.Errorf("%s: %w: %w", key, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", key, err)
}

func etags(objects []types.Object) map[string]string {
	m := make(map[string]string, len(objects))
	for _, obj := range objects {
		m[aws.ToString(obj.Key)] = aws.ToString(obj.ETag)
	}
	return m
}

// keyPrefix maps bucket-side object names ("/a/b.txt") to keys under an
// optional prefix ("backups/a/b.txt") and back.
type keyPrefix string

func (p keyPrefix) fullKey(name string) string {
	rel := strings.TrimLeft(name, "/")
	if p == "" {
		return rel
	}
	return strings.TrimSuffix(string(p), "/") + "/" + rel
}

// listPrefix is the key prefix that selects every object under p.
func (p keyPrefix) listPrefix() string {
	if p == "" {
		return ""
	}
	return strings.TrimSuffix(string(p), "/") + "/"
}

func (p keyPrefix) objectName(key string) string {
	if p != "" {
		key = strings.TrimPrefix(key, strings.TrimSuffix(string(p), "/")+"/")
	}
	return "/" + key
}

// s3Digest picks the strongest digest S3 reports for an object. Composite
// checksums of multipart uploads and multipart ETags are not content hashes
// and yield "".
func s3Digest(sha256, sha1, etag string) string {
	for _, c := range []struct{ algo, value string }{
		{"sha256", sha256},
		{"sha1", sha1},
	} {
		if c.value == "" || strings.Contains(c.value, "-") {
			continue
		}
		sum, err := base64.StdEncoding.DecodeString(c.value)
		if err != nil {
			continue
		}
		return Digest{Algorithm: c.algo, Sum: sum}.String()
	}

	etag = strings.Trim(etag, `"`)
	sum, err := hex.DecodeString(etag)
	if err != nil || len(sum) != md5.Size {
		return ""
	}
	return Digest{Algorithm: "md5", Sum: sum}.String()
}

// etagIsContentMD5 reports whether a single-part ETag is the MD5 of the
// content. That only holds for unencrypted and SSE-S3 objects; SSE-KMS and
// SSE-C ETags are opaque.
func etagIsContentMD5(sse string, customerKey bool) bool {
	return !customerKey && (sse == "" || sse == string(types.ServerSideEncryptionAes256))
}

// statAll looks keys up concurrently and returns the results in key order.
// Keys that vanished since they were listed are left out.
func statAll(ctx context.Context, keys []string, stat func(context.Context, string) (*ObjectInfo, error)) ([]*ObjectInfo, error) {
	results := make([]*ObjectInfo, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			info, err := stat(gctx, key)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.DeleteFunc(results, func(info *ObjectInfo) bool { return info == nil }), nil
}
