package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource yields the files under a directory tree in sorted path
// order. The enumeration happens once at construction, so the sequence
// is fixed for the lifetime of the source and stable across runs.
type DirSource struct {
	root  string
	paths []string
	pos   int
}

// NewDirSource enumerates root recursively. Hidden files and
// directories are skipped; everything else is yielded, since malformed
// non-DICOM files must flow through extraction to be quarantined
// rather than silently ignored.
func NewDirSource(root string) (*DirSource, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	sort.Strings(paths)
	return &DirSource{root: root, paths: paths}, nil
}

// Name returns the root directory path.
func (s *DirSource) Name() string { return s.root }

// Stable reports true: sorted enumeration is reproducible.
func (s *DirSource) Stable() bool { return true }

// Len returns the number of objects the source will yield.
func (s *DirSource) Len() int { return len(s.paths) }

// Next yields the next file handle in sorted order.
func (s *DirSource) Next(ctx context.Context) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.pos]
	s.pos++
	return &fileObject{path: path}, nil
}

type fileObject struct {
	path string
}

func (o *fileObject) Name() string { return o.path }

func (o *fileObject) Header() (io.ReadCloser, error) {
	return os.Open(o.path)
}

func (o *fileObject) Content() (io.ReadCloser, error) {
	return os.Open(o.path)
}
