package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ShuchaoPangUNSW/pydicer/internal/convert"
	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
)

// Selection is one series admitted into a named dataset.
type Selection struct {
	PatientID string `yaml:"patient_id"`
	StudyID   string `yaml:"study_id"`
	SeriesID  string `yaml:"series_id"`
	Type      string `yaml:"type"`
	Instances int    `yaml:"instances"`
	Path      string `yaml:"path"`
}

// PatientManifest lists the series prepared for one patient.
type PatientManifest struct {
	PatientID string      `yaml:"patient_id"`
	Series    []Selection `yaml:"series"`
}

// Filter narrows the clean-series selection further, e.g. to one
// object type or one patient cohort. A nil filter admits everything.
type Filter func(s *hierarchy.SeriesNode) bool

// CleanSeries returns the series eligible for dataset preparation: no
// dangling outgoing reference edges, and no quarantined error records
// mentioning the series or any of its instances. Sorted by series id.
func CleanSeries(store *index.Store) ([]hierarchy.SeriesNode, error) {
	var clean []hierarchy.SeriesNode
	err := store.View(func(tx *index.Tx) error {
		all, err := tx.AllSeries()
		if err != nil {
			return err
		}
	next:
		for _, s := range all {
			out, err := tx.OutgoingEdges(s.SeriesID)
			if err != nil {
				return err
			}
			for _, e := range out {
				if e.Dangling {
					continue next
				}
			}
			ids := append([]string{s.SeriesID}, s.InstanceIDs()...)
			for _, id := range ids {
				records, err := tx.ErrorsMentioning(id)
				if err != nil {
					return err
				}
				for _, r := range records {
					if r.Status == hierarchy.Quarantined {
						continue next
					}
				}
			}
			clean = append(clean, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clean, nil
}

// Preparer materializes named datasets under a working directory.
type Preparer struct {
	WorkDir string
	Log     *slog.Logger
}

// Result summarizes one preparation pass.
type Result struct {
	Patients int
	Series   int
	Skipped  int
}

// Prepare assembles the dataset <name> under the working directory:
// every clean series passing the filter gets its converted artifact
// linked into <workdir>/<name>/<patientID>/, and each patient gets a
// manifest listing their selections. Series without a conversion
// artifact are skipped with a warning. Preparing the same name again
// over an unchanged index rewrites identical manifests and leaves
// existing links alone.
func (p *Preparer) Prepare(ctx context.Context, store *index.Store, m *convert.Manifest, name string, filter Filter) (*Result, error) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	clean, err := CleanSeries(store)
	if err != nil {
		return nil, fmt.Errorf("selecting series: %w", err)
	}

	// Series -> owning patient, resolved through the study table.
	patientOf := make(map[string]string, len(clean))
	err = store.View(func(tx *index.Tx) error {
		for _, s := range clean {
			patientID, ok, err := tx.GetStudy(s.StudyID)
			if err != nil {
				return err
			}
			if ok {
				patientOf[s.SeriesID] = patientID
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving patients: %w", err)
	}

	res := &Result{}
	byPatient := make(map[string][]Selection)
	for _, s := range clean {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if filter != nil && !filter(&s) {
			continue
		}
		entry, ok := m.Entry(s.SeriesID)
		if !ok {
			log.Warn("series has no conversion artifact, skipping", "series", s.SeriesID)
			res.Skipped++
			continue
		}
		patientID := patientOf[s.SeriesID]
		if patientID == "" {
			log.Warn("series has no resolvable patient, skipping", "series", s.SeriesID)
			res.Skipped++
			continue
		}

		patientDir := filepath.Join(p.WorkDir, name, patientID)
		if err := os.MkdirAll(patientDir, 0755); err != nil {
			return nil, fmt.Errorf("creating patient directory: %w", err)
		}
		linkPath := filepath.Join(patientDir, s.SeriesID)
		if err := linkArtifact(entry.Path, linkPath); err != nil {
			return nil, fmt.Errorf("linking series %s: %w", s.SeriesID, err)
		}

		byPatient[patientID] = append(byPatient[patientID], Selection{
			PatientID: patientID,
			StudyID:   s.StudyID,
			SeriesID:  s.SeriesID,
			Type:      s.Type.String(),
			Instances: len(s.Instances),
			Path:      linkPath,
		})
		res.Series++
	}

	patients := make([]string, 0, len(byPatient))
	for id := range byPatient {
		patients = append(patients, id)
	}
	sort.Strings(patients)
	for _, id := range patients {
		pm := PatientManifest{PatientID: id, Series: byPatient[id]}
		sort.Slice(pm.Series, func(i, j int) bool { return pm.Series[i].SeriesID < pm.Series[j].SeriesID })
		data, err := yaml.Marshal(&pm)
		if err != nil {
			return nil, fmt.Errorf("marshaling patient manifest: %w", err)
		}
		path := filepath.Join(p.WorkDir, name, id, "manifest.yaml")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing patient manifest: %w", err)
		}
	}
	res.Patients = len(patients)
	return res, nil
}

// LoadPatientManifest reads a manifest written by Prepare.
func LoadPatientManifest(path string) (*PatientManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patient manifest: %w", err)
	}
	var pm PatientManifest
	if err := yaml.Unmarshal(data, &pm); err != nil {
		return nil, fmt.Errorf("parsing patient manifest: %w", err)
	}
	return &pm, nil
}

// linkArtifact symlinks the artifact into the dataset, relative so the
// working directory stays relocatable. An existing link is left as is;
// a filesystem without symlink support gets a marker file holding the
// artifact path instead.
func linkArtifact(target, linkPath string) error {
	if _, err := os.Lstat(linkPath); err == nil {
		return nil
	}
	rel, err := filepath.Rel(filepath.Dir(linkPath), target)
	if err != nil {
		rel = target
	}
	if err := os.Symlink(rel, linkPath); err != nil {
		return os.WriteFile(linkPath, []byte(target+"\n"), 0644)
	}
	return nil
}
