package sync

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk on fire")

// brokenFS fails every Open and Remove with errDisk.
type brokenFS struct {
	billy.Filesystem
}

func (brokenFS) Open(string) (billy.File, error) { return nil, errDisk }
func (brokenFS) Remove(string) error             { return errDisk }

// brokenStore serves a reader that fails halfway through.
type brokenStore struct {
	*memStore
}

func (brokenStore) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(iotest.TimeoutReader(iotest.OneByteReader(strings.NewReader("hello")))), nil
}

// tamperedStore serves content that does not match what Info reports.
type tamperedStore struct {
	*memStore
}

func (tamperedStore) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("tampered")), nil
}

func TestReconcile_downloadsNewObject(t *testing.T) {
	store := newMemStore()
	store.put("/a/b.txt", "hello")
	fs := memfs.New()

	res, err := NewReconciler(store, fs, nil).Reconcile(context.Background(), store.info("/a/b.txt"))
	require.NoError(t, err)

	assert.Equal(t, Result{Path: "a/b.txt", Decision: Download, Bytes: 5}, res)
	assert.Equal(t, "hello", readFile(t, fs, "a/b.txt"))

	d, err := NewHasher(fs).Digest("a/b.txt", "sha256")
	require.NoError(t, err)
	assert.Equal(t, store.info("/a/b.txt").Digest, d.String())
}

func TestReconcile_skipsMatchingFile(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	fs := memfs.New()
	writeFile(t, fs, "a.txt", "hello")

	res, err := NewReconciler(store, fs, nil).Reconcile(context.Background(), store.info("/a.txt"))
	require.NoError(t, err)

	assert.Equal(t, Skip, res.Decision)
	assert.Empty(t, store.openCalls)
}

func TestReconcile_tombstoneTwice(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "a.txt", "bye")
	r := NewReconciler(newMemStore(), fs, nil)
	tomb := &ObjectInfo{Name: "/a.txt", Deleted: true}

	res, err := r.Reconcile(context.Background(), tomb)
	require.NoError(t, err)
	assert.Equal(t, Result{Path: "a.txt", Decision: Delete, Removed: true}, res)

	res, err = r.Reconcile(context.Background(), tomb)
	require.NoError(t, err)
	assert.Equal(t, Result{Path: "a.txt", Decision: Delete}, res)
	assert.False(t, exists(fs, "a.txt"))
}

func TestReconcile_pathConflict(t *testing.T) {
	store := newMemStore()
	store.put("/a/b.txt", "hello")
	fs := memfs.New()
	writeFile(t, fs, "a", "regular file")

	_, err := NewReconciler(store, fs, nil).Reconcile(context.Background(), store.info("/a/b.txt"))
	require.ErrorIs(t, err, ErrPathConflict)

	assert.Equal(t, "regular file", readFile(t, fs, "a"))
	assert.Empty(t, store.openCalls, "nothing is fetched when the directory cannot be created")
}

func TestReconcile_digestMismatch(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	fs := memfs.New()

	_, err := NewReconciler(tamperedStore{store}, fs, nil).Reconcile(context.Background(), store.info("/a.txt"))
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.ErrorIs(t, err, ErrStream)
	assert.False(t, exists(fs, "a.txt"))
}

func TestReconcile_objectReplacedBeforeDownload(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	info := store.info("/a.txt")
	store.put("/a.txt", "hello world")
	fs := memfs.New()

	res, err := NewReconciler(store, fs, nil).Reconcile(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, Result{Path: "a.txt", Decision: Download, Bytes: 11}, res)
	assert.Equal(t, "hello world", readFile(t, fs, "a.txt"))
}

func TestReconcile_dryRun(t *testing.T) {
	store := newMemStore()
	store.put("/new.txt", "hello")
	store.put("/same.txt", "same")
	fs := memfs.New()
	writeFile(t, fs, "same.txt", "same")
	writeFile(t, fs, "old.txt", "bye")

	r := NewReconciler(store, fs, nil)
	r.DryRun = true
	ctx := context.Background()

	res, err := r.Reconcile(ctx, store.info("/new.txt"))
	require.NoError(t, err)
	assert.Equal(t, Result{Path: "new.txt", Decision: Download, Bytes: 5}, res)
	assert.False(t, exists(fs, "new.txt"))

	res, err = r.Reconcile(ctx, store.info("/same.txt"))
	require.NoError(t, err)
	assert.Equal(t, Skip, res.Decision)

	res, err = r.Reconcile(ctx, &ObjectInfo{Name: "/old.txt", Deleted: true})
	require.NoError(t, err)
	assert.Equal(t, Result{Path: "old.txt", Decision: Delete, Removed: true}, res)
	assert.Equal(t, "bye", readFile(t, fs, "old.txt"))

	res, err = r.Reconcile(ctx, &ObjectInfo{Name: "/never.txt", Deleted: true})
	require.NoError(t, err)
	assert.False(t, res.Removed)

	assert.Empty(t, store.openCalls)
}

func TestReconcile_emptyDigestAlwaysDownloads(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	fs := memfs.New()
	writeFile(t, fs, "a.txt", "hello")

	res, err := NewReconciler(store, fs, nil).Reconcile(context.Background(), &ObjectInfo{Name: "/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, Download, res.Decision)
	assert.Equal(t, []string{"/a.txt"}, store.openCalls)
}

func TestReconcile_badDigest(t *testing.T) {
	fs := memfs.New()
	r := NewReconciler(newMemStore(), fs, nil)

	_, err := r.Reconcile(context.Background(), &ObjectInfo{Name: "/a.txt", Digest: "crc32=AAAAAA=="})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = r.Reconcile(context.Background(), &ObjectInfo{Name: "/a.txt", Digest: "garbage"})
	assert.ErrorIs(t, err, ErrInvalidDigest)

	assert.False(t, exists(fs, "a.txt"))
}

func TestReconcile_invalidPaths(t *testing.T) {
	r := NewReconciler(newMemStore(), memfs.New(), nil)

	for _, name := range []string{"", "/", "..", "/../etc/passwd", "a/../../b"} {
		_, err := r.Reconcile(context.Background(), &ObjectInfo{Name: name, Deleted: true})
		assert.ErrorIs(t, err, ErrInvalidPath, "name %q", name)
	}
}

func TestReconcile_repeatedSlashes(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	info := store.info("/a.txt")
	info.Name = "//a.txt"
	fs := memfs.New()

	res, err := NewReconciler(store, fs, nil).Reconcile(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", res.Path)
	assert.Equal(t, []string{"/a.txt"}, store.openCalls)
}

func TestReconcile_localReadFailure(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	r := NewReconciler(store, brokenFS{memfs.New()}, nil)

	_, err := r.Reconcile(context.Background(), store.info("/a.txt"))
	assert.ErrorIs(t, err, errDisk)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = r.Reconcile(context.Background(), &ObjectInfo{Name: "/a.txt", Deleted: true})
	assert.ErrorIs(t, err, errDisk)
}

func TestReconcile_remoteStreamFailure(t *testing.T) {
	store := newMemStore()
	store.put("/a.txt", "hello")
	fs := memfs.New()

	_, err := NewReconciler(brokenStore{store}, fs, nil).Reconcile(context.Background(), store.info("/a.txt"))
	assert.ErrorIs(t, err, ErrStream)
}

func TestReconcile_remoteMissing(t *testing.T) {
	_, err := NewReconciler(newMemStore(), memfs.New(), nil).
		Reconcile(context.Background(), &ObjectInfo{Name: "/a.txt"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "skip", Skip.String())
	assert.Equal(t, "download", Download.String())
	assert.Equal(t, "delete", Delete.String())
	assert.Equal(t, "Decision(7)", Decision(7).String())
}

func TestIsNotExist(t *testing.T) {
	assert.True(t, isNotExist(os.ErrNotExist))
	assert.False(t, isNotExist(errDisk))
}
