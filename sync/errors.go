package sync

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrPathConflict         = errors.New("path conflict")
	ErrStream               = errors.New("stream error")
	ErrDigestMismatch       = errors.New("digest mismatch")
	ErrInvalidDigest        = errors.New("invalid digest")
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrInvalidPath          = errors.New("invalid object path")
	ErrWatchClosed          = errors.New("watch closed")
)

// PathConflictError reports an intermediate path segment that exists but is
// not a directory.
type PathConflictError struct {
	Path string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("%s: exists and is not a directory", e.Path)
}

func (e *PathConflictError) Unwrap() error {
	return ErrPathConflict
}

// streamError marks a failure while moving bytes between the store and disk.
func streamError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, path, ErrStream, err)
}
