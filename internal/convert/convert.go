package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
)

// Dispatcher converts one series into an artifact of the target
// format and returns the artifact location. Implementations live
// outside the core pipeline; the engine only hands them fully linked
// series nodes and records what they report.
type Dispatcher interface {
	Dispatch(ctx context.Context, series *hierarchy.SeriesNode, format string) (path string, err error)
}

// ManifestEntry records one converted series artifact. Incomplete
// marks series whose reference edges did not all resolve, so a
// downstream consumer knows the artifact is missing linked context.
type ManifestEntry struct {
	SeriesID   string `yaml:"series_id"`
	Format     string `yaml:"format"`
	Path       string `yaml:"path"`
	Incomplete bool   `yaml:"incomplete"`
}

// Manifest is the conversion record for one working directory.
type Manifest struct {
	Generated string          `yaml:"generated"`
	Format    string          `yaml:"format"`
	Entries   []ManifestEntry `yaml:"entries"`
}

// Entry returns the manifest entry for a series id.
func (m *Manifest) Entry(seriesID string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.SeriesID == seriesID {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// BuildManifest dispatches every indexed series and assembles the
// manifest. Series order follows the index (sorted by series id), so
// repeated builds over the same index produce the same manifest. A
// failed dispatch is logged and skipped; one broken series never
// aborts conversion of the rest.
func BuildManifest(ctx context.Context, store *index.Store, d Dispatcher, format string, log *slog.Logger) (*Manifest, error) {
	if log == nil {
		log = slog.Default()
	}

	var series []hierarchy.SeriesNode
	incomplete := make(map[string]bool)
	err := store.View(func(tx *index.Tx) error {
		all, err := tx.AllSeries()
		if err != nil {
			return err
		}
		series = all
		for _, s := range all {
			out, err := tx.OutgoingEdges(s.SeriesID)
			if err != nil {
				return err
			}
			for _, e := range out {
				if e.Dangling {
					incomplete[s.SeriesID] = true
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	m := &Manifest{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Format:    format,
	}
	for i := range series {
		s := &series[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := d.Dispatch(ctx, s, format)
		if err != nil {
			log.Warn("series conversion failed", "series", s.SeriesID, "err", err)
			continue
		}
		m.Entries = append(m.Entries, ManifestEntry{
			SeriesID:   s.SeriesID,
			Format:     format,
			Path:       path,
			Incomplete: incomplete[s.SeriesID],
		})
	}
	return m, nil
}

// SaveManifest writes the manifest to path as YAML.
func SaveManifest(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest previously written by SaveManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
