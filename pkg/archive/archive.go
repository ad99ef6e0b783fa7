// Package archive acquires zip archives of repositories, locally or over
// HTTP, and exposes their content as a node tree.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sourcepack/pkg/vnode"
)

// Archive is an open zip archive. It must stay open while its tree is being
// packed and be closed exactly once when the run ends.
type Archive struct {
	rc       *zip.ReadCloser
	tempPath string // removed on Close; empty for caller-owned files
	logger   *zap.Logger
	closed   bool
}

// Open opens a local zip file. The file itself is left in place on Close.
func Open(path string, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	logger.Debug("Opened archive", zap.String("path", path), zap.Int("entries", len(rc.File)))
	return &Archive{rc: rc, logger: logger}, nil
}

// Entries returns the number of entries in the archive index.
func (a *Archive) Entries() int { return len(a.rc.File) }

// Root builds the node tree of the archive. project names the root unless the
// archive wraps everything in a single top-level directory.
func (a *Archive) Root(project string) *vnode.ArchiveNode {
	return vnode.BuildArchiveTree(a.rc.File, project)
}

// Close closes the reader and then removes the downloaded file, if any. Both
// steps run even if the first fails.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	err := a.rc.Close()
	if a.tempPath != "" {
		if rmErr := os.Remove(a.tempPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		} else {
			a.logger.Debug("Removed downloaded archive", zap.String("path", a.tempPath))
		}
	}
	return err
}
