package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

// StageDispatcher materializes each series as a directory of its raw
// objects, copied from their source locations in index order. The
// "format" is passthrough: no pixel transcoding happens here, the
// point is a per-series layout that later converters and viewers can
// consume directly.
type StageDispatcher struct {
	// Root is the directory artifacts are placed under, one
	// subdirectory per series.
	Root string
}

// Dispatch copies the series instances into Root/<seriesID>/ and
// returns that directory. Shadow entries are not staged. Re-dispatching
// an unchanged series rewrites the same files in place.
func (d *StageDispatcher) Dispatch(ctx context.Context, series *hierarchy.SeriesNode, format string) (string, error) {
	dir := filepath.Join(d.Root, series.SeriesID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating series directory: %w", err)
	}

	for i, inst := range series.Instances {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dst := filepath.Join(dir, fmt.Sprintf("%04d.dcm", i))
		if err := copyFile(inst.Source, dst); err != nil {
			return "", fmt.Errorf("staging %s: %w", inst.InstanceID, err)
		}
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
