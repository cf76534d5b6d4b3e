package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Options configures a mirror run.
type Options struct {
	Mount  string           // local directory mirrored from Store
	FS     billy.Filesystem // overrides Mount when set
	Store  ObjectStore      // remote side
	Once   bool             // if true, stop after the initial full sync
	DryRun bool             // log decisions without changing the mount
	Logger *slog.Logger
}

// Stats counts the decisions taken during a pass. Tombstones for files that
// were already absent are not counted.
type Stats struct {
	Skipped    int
	Downloaded int
	Deleted    int
	Bytes      int64
}

func (s *Stats) add(res Result) {
	switch res.Decision {
	case Skip:
		s.Skipped++
	case Download:
		s.Downloaded++
		s.Bytes += res.Bytes
	case Delete:
		if res.Removed {
			s.Deleted++
		}
	}
}

// Mirror applies remote state to the local tree, one object at a time.
type Mirror struct {
	store ObjectStore
	rec   *Reconciler
	log   *slog.Logger
}

// NewMirror creates a Mirror of store into fs.
func NewMirror(store ObjectStore, fs billy.Filesystem, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		store: store,
		rec:   NewReconciler(store, fs, logger),
		log:   logger,
	}
}

// Sync mirrors opts.Store into opts.Mount: a full pass over the current
// listing, then, unless opts.Once is set, every change as it arrives.
func Sync(ctx context.Context, opts Options) error {
	fs := opts.FS
	if fs == nil {
		if err := prepareMount(opts.Mount, !opts.DryRun); err != nil {
			return err
		}
		fs = osfs.New(opts.Mount)
	}

	m := NewMirror(opts.Store, fs, opts.Logger)
	m.rec.DryRun = opts.DryRun
	stats, err := m.FullSync(ctx)
	if err != nil {
		return err
	}
	m.log.Info("full sync complete",
		"dry_run", opts.DryRun,
		"downloaded", stats.Downloaded,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes,
	)

	if opts.Once {
		return nil
	}
	return m.Watch(ctx)
}

// FullSync reconciles every listed object in listing order. The first
// failure stops the pass.
func (m *Mirror) FullSync(ctx context.Context) (Stats, error) {
	var stats Stats

	objects, err := m.store.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list objects: %w", err)
	}

	for _, obj := range objects {
		if obj == nil {
			continue
		}
		res, err := m.rec.Reconcile(ctx, obj)
		if err != nil {
			return stats, err
		}
		stats.add(res)
	}
	return stats, nil
}

// Watch applies change notifications strictly in arrival order until ctx is
// done or the subscription fails.
func (m *Mirror) Watch(ctx context.Context) error {
	w, err := m.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()

	m.log.Info("watching for changes")
	updates := w.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obj, ok := <-updates:
			if !ok {
				if err := w.Stop(); err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				return ErrWatchClosed
			}
			if obj == nil {
				continue
			}
			if err := m.apply(ctx, obj); err != nil {
				return err
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, obj *ObjectInfo) error {
	if !obj.Deleted && obj.Digest == "" {
		info, err := m.store.Info(ctx, obj.Name)
		if errors.Is(err, ErrNotFound) {
			// gone again before we got to it; its removal is a later update
			m.log.Debug("changed object vanished", "name", obj.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("info %s: %w", obj.Name, err)
		}
		obj = info
	}
	_, err := m.rec.Reconcile(ctx, obj)
	return err
}

// prepareMount checks the mount directory and creates it if allowed.
func prepareMount(mount string, create bool) error {
	if mount == "" {
		return errors.New("mount: no directory given")
	}
	info, err := os.Stat(mount)
	if errors.Is(err, os.ErrNotExist) {
		if !create {
			return nil
		}
		return os.MkdirAll(mount, dirPerm)
	}
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount %q is not a directory", mount)
	}
	return nil
}
