package sync

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is a snapshot of one remote object's state.
// A Deleted record is a tombstone and still carries the object's Name.
type ObjectInfo struct {
	Name    string // bucket-side name, always with a leading "/"
	Digest  string // "<algorithm>=<urlsafe base64 hash>", empty if unknown
	Deleted bool
	Size    int64
	ModTime time.Time
}

// ObjectStore is the remote side of a mirror.
type ObjectStore interface {
	// List returns every object currently held by the store.
	List(ctx context.Context) ([]*ObjectInfo, error)
	// Info returns metadata for a single object, or ErrNotFound.
	Info(ctx context.Context, name string) (*ObjectInfo, error)
	// Open streams an object's content, or returns ErrNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Watch subscribes to changes made after the call.
	Watch(ctx context.Context) (Watcher, error)
}

// Watcher delivers change notifications in the order the store emits them.
type Watcher interface {
	// Updates never ends on its own unless the subscription fails, in which
	// case the channel is closed and Stop reports the cause. Nil entries may
	// be delivered and carry no information.
	Updates() <-chan *ObjectInfo
	// Stop ends the subscription.
	Stop() error
}
