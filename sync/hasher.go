package sync

import (
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

const hashBufferSize = 32 * 1024

// Hasher computes digests of files on the mount filesystem.
type Hasher struct {
	fs billy.Filesystem
}

// NewHasher creates a Hasher over fs.
func NewHasher(fs billy.Filesystem) *Hasher {
	return &Hasher{fs: fs}
}

// Digest streams the file at path through algorithm. A missing file yields
// an error matching ErrNotFound.
func (h *Hasher) Digest(path, algorithm string) (Digest, error) {
	hash, err := newHash(algorithm)
	if err != nil {
		return Digest{}, err
	}

	f, err := h.fs.Open(path)
	if err != nil {
		if isNotExist(err) {
			return Digest{}, fmt.Errorf("hash %s: %w: %w", path, ErrNotFound, err)
		}
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.CopyBuffer(hash, f, make([]byte, hashBufferSize)); err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return NewDigest(algorithm, hash.Sum(nil))
}
