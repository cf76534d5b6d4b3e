package sync

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
)

// Decision is what reconciliation did with one remote record.
type Decision int

const (
	Skip Decision = iota
	Download
	Delete
)

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Download:
		return "download"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Result describes a completed reconciliation.
type Result struct {
	Path     string // local path relative to the mount root
	Decision Decision
	Bytes    int64 // bytes written by a download
	Removed  bool  // a delete found and removed a local file
}

// Reconciler brings one local path in line with one remote record.
type Reconciler struct {
	store  ObjectStore
	fs     billy.Filesystem
	hasher *Hasher
	mat    *Materializer
	log    *slog.Logger

	// DryRun logs what would change without touching the mount.
	DryRun bool
}

// NewReconciler creates a Reconciler that mirrors store into fs.
func NewReconciler(store ObjectStore, fs billy.Filesystem, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		fs:     fs,
		hasher: NewHasher(fs),
		mat:    NewMaterializer(fs),
		log:    logger,
	}
}

// Reconcile skips, downloads or deletes the local copy of info.
func (r *Reconciler) Reconcile(ctx context.Context, info *ObjectInfo) (Result, error) {
	rel, remote, err := splitName(info.Name)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: rel}

	if info.Deleted {
		res.Decision = Delete
		if r.DryRun {
			res.Removed, err = r.exists(rel)
			if res.Removed {
				r.log.Info("would delete file", "path", rel)
			}
			return res, err
		}
		res.Removed, err = r.remove(rel)
		return res, err
	}

	var want *Digest
	if info.Digest == "" {
		r.log.Debug("no remote digest, downloading unconditionally", "path", rel)
	} else {
		d, err := ParseDigest(info.Digest)
		if err != nil {
			return res, fmt.Errorf("%s: %w", rel, err)
		}

		local, err := r.hasher.Digest(rel, d.Algorithm)
		switch {
		case err == nil && local.Equal(d):
			res.Decision = Skip
			r.log.Info("already newest version", "path", rel)
			return res, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return res, err
		}
		want = &d
	}

	res.Decision = Download
	if r.DryRun {
		res.Bytes = info.Size
		r.log.Info("would download file", "path", rel, "size", humanize.Bytes(uint64(max(info.Size, 0))))
		return res, nil
	}
	res.Bytes, err = r.download(ctx, rel, remote, want)
	return res, err
}

func (r *Reconciler) exists(rel string) (bool, error) {
	_, err := r.fs.Lstat(rel)
	switch {
	case err == nil:
		return true, nil
	case isNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
}

func (r *Reconciler) remove(rel string) (bool, error) {
	r.log.Info("deleting file", "path", rel)

	err := r.fs.Remove(rel)
	switch {
	case err == nil:
		r.log.Info("deleted", "path", rel)
		return true, nil
	case isNotExist(err):
		r.log.Info("file already absent", "path", rel)
		return false, nil
	default:
		return false, fmt.Errorf("delete %s: %w", rel, err)
	}
}

func (r *Reconciler) download(ctx context.Context, rel, remote string, want *Digest) (int64, error) {
	if err := r.mat.EnsureDirs(path.Dir(rel)); err != nil {
		return 0, err
	}

	rc, err := r.store.Open(ctx, remote)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", remote, err)
	}
	defer rc.Close()

	var (
		src io.Reader = rc
		h   hash.Hash
	)
	if want != nil {
		h = algorithms[want.Algorithm]()
		src = io.TeeReader(rc, h)
	}

	r.log.Info("downloading file", "path", rel)
	n, err := r.mat.WriteStream(rel, src)
	if err != nil {
		return n, err
	}
	if h != nil {
		got := Digest{Algorithm: want.Algorithm, Sum: h.Sum(nil)}
		if !got.Equal(*want) && !r.isCurrent(ctx, remote, got) {
			return n, fmt.Errorf("download %s: %w: %w", rel, ErrStream, ErrDigestMismatch)
		}
	}

	r.log.Info("downloaded", "path", rel, "size", humanize.Bytes(uint64(n)))
	return n, nil
}

// isCurrent reports whether got is the digest the store now holds for
// remote. The object may have been replaced between listing and download.
func (r *Reconciler) isCurrent(ctx context.Context, remote string, got Digest) bool {
	info, err := r.store.Info(ctx, remote)
	if err != nil || info.Deleted || info.Digest == "" {
		return false
	}
	cur, err := ParseDigest(info.Digest)
	if err != nil || !cur.Equal(got) {
		return false
	}
	r.log.Info("object changed during sync, kept newer version", "path", remote)
	return true
}

// splitName turns a bucket-side name into the local path under the mount
// root and the name used to address the store.
func splitName(name string) (rel, remote string, err error) {
	trimmed := strings.TrimLeft(name, "/")
	rel = path.Clean(trimmed)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return rel, "/" + trimmed, nil
}
