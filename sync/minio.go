package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
)

const (
	sseHeader         = "X-Amz-Server-Side-Encryption"
	sseCustomerHeader = "X-Amz-Server-Side-Encryption-Customer-Algorithm"
)

var minioEvents = []string{
	string(notification.ObjectCreatedAll),
	string(notification.ObjectRemovedAll),
}

// MinioConfig holds what is needed to reach a bucket on an S3-compatible
// server that supports bucket notifications.
type MinioConfig struct {
	Endpoint  string // host[:port]
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	Insecure  bool // plain HTTP
}

// MinioStore mirrors objects from a MinIO bucket and follows its live
// notification stream.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix keyPrefix
}

// NewMinioStore creates a new MinioStore.
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{
		client: client,
		bucket: bucket,
		prefix: keyPrefix(prefix),
	}
}

// DialMinio creates a client for cfg.Endpoint.
func DialMinio(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinioStore(client, cfg.Bucket, cfg.Prefix), nil
}

func (m *MinioStore) List(ctx context.Context) ([]*ObjectInfo, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    m.prefix.listPrefix(),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return statAll(ctx, keys, m.stat)
}

func (m *MinioStore) Info(ctx context.Context, name string) (*ObjectInfo, error) {
	return m.stat(ctx, m.prefix.fullKey(name))
}

func (m *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := m.prefix.fullKey(name)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, minioError(key, err)
	}
	return obj, nil
}

// Watch forwards bucket notifications. Created objects are reported without
// a digest; removed objects as tombstones.
func (m *MinioStore) Watch(ctx context.Context) (Watcher, error) {
	ctx, cancel := context.WithCancel(ctx)
	f := newFeed(func() error {
		cancel()
		return nil
	})

	events := m.client.ListenBucketNotification(ctx, m.bucket, m.prefix.listPrefix(), "", minioEvents)
	go func() {
		defer close(f.out)
		for info := range events {
			if info.Err != nil {
				if ctx.Err() == nil {
					f.fail(fmt.Errorf("bucket notifications: %w", info.Err))
				}
				return
			}
			for _, ev := range info.Records {
				obj, err := m.eventObject(ev)
				if err != nil {
					f.fail(err)
					return
				}
				if obj == nil {
					continue
				}
				if !f.send(obj) {
					return
				}
			}
		}
	}()
	return f, nil
}

// eventObject maps a notification to a change record. Folder placeholders
// map to nil; List leaves them out too.
func (m *MinioStore) eventObject(ev notification.Event) (*ObjectInfo, error) {
	key, err := url.QueryUnescape(ev.S3.Object.Key)
	if err != nil {
		return nil, fmt.Errorf("event key %q: %w", ev.S3.Object.Key, err)
	}
	if strings.HasSuffix(key, "/") {
		return nil, nil
	}

	obj := &ObjectInfo{Name: m.prefix.objectName(key)}
	if strings.HasPrefix(ev.EventName, "s3:ObjectRemoved:") {
		obj.Deleted = true
		return obj, nil
	}
	obj.Size = ev.S3.Object.Size
	return obj, nil
}

func (m *MinioStore) stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{Checksum: true})
	if err != nil {
		return nil, minioError(key, err)
	}
	etag := info.ETag
	if !etagIsContentMD5(info.Metadata.Get(sseHeader), info.Metadata.Get(sseCustomerHeader) != "") {
		etag = ""
	}
	return &ObjectInfo{
		Name:    m.prefix.objectName(key),
		Digest:  s3Digest(info.ChecksumSHA256, info.ChecksumSHA1, etag),
		Size:    info.Size,
		ModTime: info.LastModified,
	}, nil
}

func minioError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", key, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", key, err)
}
