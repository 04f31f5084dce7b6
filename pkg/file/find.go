package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
)

// ErrStopWalk ends a WalkFiles early without reporting an error.
var ErrStopWalk = errors.New("stop walk")

// WalkFiles calls fn for every non-directory entry below root in lexical order.
// Unreadable subdirectories are reported to onSkip and skipped; an error on
// root itself is returned. fn may return ErrStopWalk to stop the walk.
func WalkFiles(
	ctx context.Context,
	root string,
	fn func(path string, d fs.DirEntry) error,
	onSkip func(path string, err error),
) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if onSkip != nil {
				onSkip(path, err)
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}
		return fn(path, d)
	})
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}
