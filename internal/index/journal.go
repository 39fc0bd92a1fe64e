package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

// The journal is a stream of YAML documents, one per committed
// mutation, appended to a single file in the working directory.
// Re-opening a store replays the stream through the normal mutation
// path; because every mutation is idempotent the replayed index is
// identical to the one that produced the journal.

const (
	opRun      = "run"
	opPatient  = "patient"
	opStudy    = "study"
	opSeries   = "series"
	opInstance = "instance"
	opEdge     = "edge"
	opEdgeDrop = "edge_drop"
	opError    = "error"
)

type journalDoc struct {
	Op string `yaml:"op"`

	Run      *runDoc      `yaml:"run,omitempty"`
	Patient  *patientDoc  `yaml:"patient,omitempty"`
	Study    *studyDoc    `yaml:"study,omitempty"`
	Series   *seriesDoc   `yaml:"series,omitempty"`
	Instance *instanceDoc `yaml:"instance,omitempty"`
	Edge     *edgeDoc     `yaml:"edge,omitempty"`
	EdgeDrop *edgeDoc     `yaml:"edge_drop,omitempty"`
	Error    *errorDoc    `yaml:"error,omitempty"`
}

type runDoc struct {
	ID        string `yaml:"id"`
	StartedAt string `yaml:"started_at"`
}

type patientDoc struct {
	PatientID string `yaml:"patient_id"`
}

type studyDoc struct {
	StudyID   string `yaml:"study_id"`
	PatientID string `yaml:"patient_id"`
}

type seriesDoc struct {
	SeriesID         string `yaml:"series_id"`
	StudyID          string `yaml:"study_id"`
	Type             string `yaml:"type"`
	FrameOfReference string `yaml:"frame_of_reference,omitempty"`
}

type instanceDoc struct {
	InstanceID  string  `yaml:"instance_id"`
	SeriesID    string  `yaml:"series_id"`
	Ordinal     float64 `yaml:"ordinal"`
	ContentHash uint64  `yaml:"content_hash"`
	Shadow      bool    `yaml:"shadow,omitempty"`
	ShadowOf    string  `yaml:"shadow_of,omitempty"`
	Source      string  `yaml:"source,omitempty"`
}

type edgeDoc struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Kind     string `yaml:"kind"`
	Dangling bool   `yaml:"dangling,omitempty"`
}

type errorDoc struct {
	Kind     string   `yaml:"kind"`
	Subjects []string `yaml:"subjects"`
	Detail   string   `yaml:"detail"`
	Status   string   `yaml:"status"`
}

func seriesToDoc(r seriesRow) *seriesDoc {
	return &seriesDoc{
		SeriesID:         r.SeriesID,
		StudyID:          r.StudyID,
		Type:             r.Type.String(),
		FrameOfReference: r.FrameOfReference,
	}
}

func instanceToDoc(r instanceRow) *instanceDoc {
	return &instanceDoc{
		InstanceID:  r.Entry.InstanceID,
		SeriesID:    r.Entry.SeriesID,
		Ordinal:     r.Entry.Ordinal,
		ContentHash: r.Entry.ContentHash,
		Shadow:      r.Entry.Shadow,
		ShadowOf:    r.Entry.ShadowOf,
		Source:      r.Entry.Source,
	}
}

func edgeToDoc(e hierarchy.ReferenceEdge) *edgeDoc {
	return &edgeDoc{
		Source:   e.SourceSeriesID,
		Target:   e.TargetSeriesID,
		Kind:     e.Kind.String(),
		Dangling: e.Dangling,
	}
}

func errorToDoc(r hierarchy.ErrorRecord) *errorDoc {
	return &errorDoc{
		Kind:     r.Kind.String(),
		Subjects: r.SubjectIDs,
		Detail:   r.Detail,
		Status:   r.Status.String(),
	}
}

func docToEdge(d *edgeDoc) (hierarchy.ReferenceEdge, error) {
	kind, err := hierarchy.ParseRefKind(d.Kind)
	if err != nil {
		return hierarchy.ReferenceEdge{}, err
	}
	return hierarchy.ReferenceEdge{
		SourceSeriesID: d.Source,
		TargetSeriesID: d.Target,
		Kind:           kind,
		Dangling:       d.Dangling,
	}, nil
}

func docToError(d *errorDoc) (hierarchy.ErrorRecord, error) {
	kind, err := hierarchy.ParseErrorKind(d.Kind)
	if err != nil {
		return hierarchy.ErrorRecord{}, err
	}
	status, err := hierarchy.ParseResolutionStatus(d.Status)
	if err != nil {
		return hierarchy.ErrorRecord{}, err
	}
	return hierarchy.ErrorRecord{
		Kind:       kind,
		SubjectIDs: d.Subjects,
		Detail:     d.Detail,
		Status:     status,
	}, nil
}

// journal appends mutation documents to the index journal file.
type journal struct {
	f *os.File
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &journal{f: f}, nil
}

// append writes the documents of one committed transaction. The docs
// are marshaled into a single buffer and written with one call so a
// transaction is never interleaved with another writer's output.
func (j *journal) append(docs []journalDoc) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for i := range docs {
		out, err := yaml.Marshal(&docs[i])
		if err != nil {
			return fmt.Errorf("marshal journal doc: %w", err)
		}
		buf.WriteString("---\n")
		buf.Write(out)
	}
	if _, err := j.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func (j *journal) sync() error {
	return j.f.Sync()
}

func (j *journal) close() error {
	return j.f.Close()
}

// replayJournal streams every document of an existing journal file to
// apply, in write order. A missing file is an empty journal.
func replayJournal(path string, apply func(journalDoc) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	for {
		var doc journalDoc
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode journal %s: %w", path, err)
		}
		if doc.Op == "" {
			continue
		}
		if err := apply(doc); err != nil {
			return fmt.Errorf("replay journal %s: %w", path, err)
		}
	}
}
