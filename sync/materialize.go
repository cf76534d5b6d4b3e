package sync

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5"
)

const dirPerm = 0o755

// Materializer writes remote content into the mount filesystem.
type Materializer struct {
	fs billy.Filesystem
}

// NewMaterializer creates a Materializer over fs.
func NewMaterializer(fs billy.Filesystem) *Materializer {
	return &Materializer{fs: fs}
}

// EnsureDirs creates every missing component of dir, root first. A component
// that exists as anything other than a directory is a *PathConflictError.
func (m *Materializer) EnsureDirs(dir string) error {
	dir = path.Clean(dir)
	if dir == "." || dir == "/" {
		return nil
	}

	current := ""
	for _, part := range strings.Split(dir, "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)

		info, err := m.fs.Stat(current)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			return &PathConflictError{Path: current}
		case !isNotExist(err):
			return fmt.Errorf("stat %s: %w", current, err)
		}

		if err := m.fs.MkdirAll(current, dirPerm); err != nil {
			return fmt.Errorf("mkdir %s: %w", current, err)
		}
	}
	return nil
}

// WriteStream replaces the content of name with everything read from r and
// returns the number of bytes written. The file is closed before returning.
func (m *Materializer) WriteStream(name string, r io.Reader) (int64, error) {
	f, err := m.fs.Create(name)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, streamError("write", name, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", name, err)
	}
	return n, nil
}

// isNotExist also treats ENOTDIR as absence: the path runs through a regular
// file, so nothing can exist there.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
