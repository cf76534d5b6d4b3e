package sync

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore reads a JetStream object store bucket.
type NATSStore struct {
	obs jetstream.ObjectStore
}

// NewNATSStore wraps an open object store bucket.
func NewNATSStore(obs jetstream.ObjectStore) *NATSStore {
	return &NATSStore{obs: obs}
}

// DialNATS connects to the NATS server at url and opens bucket. The returned
// func closes the connection.
func DialNATS(ctx context.Context, url, token, bucket string) (*NATSStore, func(), error) {
	opts := []nats.Option{nats.Name("bucketmirror")}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	obs, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	return NewNATSStore(obs), nc.Close, nil
}

// List includes tombstones so that a full sync also applies remote deletes.
func (s *NATSStore) List(ctx context.Context) ([]*ObjectInfo, error) {
	infos, err := s.obs.List(ctx, jetstream.ListObjectsShowDeleted())
	if errors.Is(err, jetstream.ErrNoObjectsFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	objects := make([]*ObjectInfo, 0, len(infos))
	for _, info := range infos {
		objects = append(objects, natsObjectInfo(info))
	}
	return objects, nil
}

func (s *NATSStore) Info(ctx context.Context, name string) (*ObjectInfo, error) {
	info, err := s.obs.GetInfo(ctx, name, jetstream.GetObjectInfoShowDeleted())
	if err != nil {
		return nil, natsError(name, err)
	}
	return natsObjectInfo(info), nil
}

func (s *NATSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	res, err := s.obs.Get(ctx, name)
	if err != nil {
		return nil, natsError(name, err)
	}
	return res, nil
}

// Watch first replays the latest record of every object, tombstones
// included, so nothing changed since List is lost. The nil marker jetstream
// sends once the replay is done is passed through.
func (s *NATSStore) Watch(ctx context.Context) (Watcher, error) {
	ow, err := s.obs.Watch(ctx)
	if err != nil {
		return nil, err
	}

	f := newFeed(ow.Stop)
	go func() {
		defer close(f.out)
		updates := ow.Updates()
		for {
			select {
			case <-f.done:
				return
			case info, ok := <-updates:
				if !ok {
					return
				}
				var obj *ObjectInfo
				if info != nil {
					obj = natsObjectInfo(info)
				}
				if !f.send(obj) {
					return
				}
			}
		}
	}()
	return f, nil
}

func natsObjectInfo(info *jetstream.ObjectInfo) *ObjectInfo {
	return &ObjectInfo{
		Name:    info.Name,
		Digest:  info.Digest,
		Deleted: info.Deleted,
		Size:    int64(info.Size),
		ModTime: info.ModTime,
	}
}

func natsError(name string, err error) error {
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("%s: %w: %w", name, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}
