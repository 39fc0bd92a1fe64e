package index

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

// JournalName is the index journal file name within a working directory.
const JournalName = "index.yaml"

// ErrParentageConflict is returned when an upsert declares a different
// parent than the one already recorded for the same child identifier.
// The existing node is left unchanged; the caller quarantines the
// conflicting descriptor.
var ErrParentageConflict = fmt.Errorf("parentage conflicts with recorded hierarchy")

// Store is the hierarchical index store. All mutations run inside a
// single-writer transaction (Update); readers obtain consistent
// snapshots (View or the convenience query methods) and therefore never
// observe a node without the edges that were committed with it.
type Store struct {
	db *memdb.MemDB

	mu sync.Mutex // serializes writers; memdb handles reader snapshots
	j  *journal
}

// Open creates a store backed by the journal in the given working
// directory, replaying any existing journal first. An empty dir opens
// a purely in-memory store.
func Open(dir string) (*Store, error) {
	db, err := memdb.NewMemDB(storeSchema())
	if err != nil {
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	s := &Store{db: db}

	if dir == "" {
		return s, nil
	}

	path := filepath.Join(dir, JournalName)
	if err := replayJournal(path, s.applyReplay); err != nil {
		return nil, err
	}
	j, err := openJournal(path)
	if err != nil {
		return nil, err
	}
	s.j = j
	return s, nil
}

// Close flushes and closes the journal. The in-memory index remains
// readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.j == nil {
		return nil
	}
	if err := s.j.sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	err := s.j.close()
	s.j = nil
	return err
}

// BeginRun journals a run header and returns the run identifier.
func (s *Store) BeginRun() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.j != nil {
		doc := journalDoc{Op: opRun, Run: &runDoc{
			ID:        id.String(),
			StartedAt: time.Now().UTC().Format(time.RFC3339),
		}}
		if err := s.j.append([]journalDoc{doc}); err != nil {
			return "", err
		}
	}
	return id.String(), nil
}

// applyReplay feeds one journal document back through the mutation
// path, without re-journaling.
func (s *Store) applyReplay(doc journalDoc) error {
	if doc.Op == opRun {
		return nil
	}
	tx := &Tx{txn: s.db.Txn(true), replay: true}
	if err := tx.applyDoc(doc); err != nil {
		tx.txn.Abort()
		return err
	}
	tx.txn.Commit()
	return nil
}

// Update runs fn inside the single writer. All mutations fn performs
// become visible to readers atomically when Update returns, and are
// appended to the journal as one unit.
func (s *Store) Update(fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{txn: s.db.Txn(true)}
	if err := fn(tx); err != nil {
		tx.txn.Abort()
		return err
	}
	if s.j != nil {
		if err := s.j.append(tx.docs); err != nil {
			tx.txn.Abort()
			return err
		}
	}
	tx.txn.Commit()
	return nil
}

// View runs fn against a read snapshot.
func (s *Store) View(fn func(*Tx) error) error {
	tx := &Tx{txn: s.db.Txn(false)}
	defer tx.txn.Abort()
	return fn(tx)
}

// Tx is one index transaction. Mutations buffer their journal
// documents; reads see the transaction's own writes.
type Tx struct {
	txn    *memdb.Txn
	docs   []journalDoc
	replay bool
}

func (tx *Tx) journal(doc journalDoc) {
	if !tx.replay {
		tx.docs = append(tx.docs, doc)
	}
}

func (tx *Tx) applyDoc(doc journalDoc) error {
	switch doc.Op {
	case opPatient:
		return tx.UpsertPatient(doc.Patient.PatientID)
	case opStudy:
		return tx.UpsertStudy(doc.Study.StudyID, doc.Study.PatientID)
	case opSeries:
		typ, err := hierarchy.ParseObjectType(doc.Series.Type)
		if err != nil {
			return err
		}
		return tx.UpsertSeries(doc.Series.SeriesID, doc.Series.StudyID, typ, doc.Series.FrameOfReference)
	case opInstance:
		d := doc.Instance
		return tx.PutInstance(hierarchy.InstanceEntry{
			InstanceID:  d.InstanceID,
			SeriesID:    d.SeriesID,
			Ordinal:     d.Ordinal,
			ContentHash: d.ContentHash,
			Shadow:      d.Shadow,
			ShadowOf:    d.ShadowOf,
			Source:      d.Source,
		})
	case opEdge:
		e, err := docToEdge(doc.Edge)
		if err != nil {
			return err
		}
		if e.Dangling {
			return tx.MarkEdgeDangling(e.SourceSeriesID, e.TargetSeriesID, e.Kind)
		}
		return tx.AddEdge(e)
	case opEdgeDrop:
		e, err := docToEdge(doc.EdgeDrop)
		if err != nil {
			return err
		}
		return tx.dropEdge(e)
	case opError:
		r, err := docToError(doc.Error)
		if err != nil {
			return err
		}
		_, err = tx.RecordError(r)
		return err
	default:
		return fmt.Errorf("unknown journal op %q", doc.Op)
	}
}

// UpsertPatient records a patient node on first sight. Idempotent.
func (tx *Tx) UpsertPatient(patientID string) error {
	raw, err := tx.txn.First("patient", "id", patientID)
	if err != nil {
		return fmt.Errorf("lookup patient %s: %w", patientID, err)
	}
	if raw != nil {
		return nil
	}
	if err := tx.txn.Insert("patient", &patientRow{PatientID: patientID}); err != nil {
		return fmt.Errorf("insert patient %s: %w", patientID, err)
	}
	tx.journal(journalDoc{Op: opPatient, Patient: &patientDoc{PatientID: patientID}})
	return nil
}

// UpsertStudy records a study under a patient on first sight. A second
// sighting with the same parent is a no-op; a different parent returns
// ErrParentageConflict and leaves the node untouched.
func (tx *Tx) UpsertStudy(studyID, patientID string) error {
	raw, err := tx.txn.First("study", "id", studyID)
	if err != nil {
		return fmt.Errorf("lookup study %s: %w", studyID, err)
	}
	if raw != nil {
		if raw.(*studyRow).PatientID != patientID {
			return fmt.Errorf("study %s already under patient %s: %w",
				studyID, raw.(*studyRow).PatientID, ErrParentageConflict)
		}
		return nil
	}
	if err := tx.txn.Insert("study", &studyRow{StudyID: studyID, PatientID: patientID}); err != nil {
		return fmt.Errorf("insert study %s: %w", studyID, err)
	}
	tx.journal(journalDoc{Op: opStudy, Study: &studyDoc{StudyID: studyID, PatientID: patientID}})
	return nil
}

// UpsertSeries records a series under a study on first sight, with
// first-writer-wins semantics for the object type. A later sighting
// under a different study returns ErrParentageConflict. A missing
// frame-of-reference token is filled in when a later descriptor
// supplies one.
func (tx *Tx) UpsertSeries(seriesID, studyID string, typ hierarchy.ObjectType, frameOfRef string) error {
	raw, err := tx.txn.First("series", "id", seriesID)
	if err != nil {
		return fmt.Errorf("lookup series %s: %w", seriesID, err)
	}
	if raw != nil {
		existing := raw.(*seriesRow)
		if existing.StudyID != studyID {
			return fmt.Errorf("series %s already under study %s: %w",
				seriesID, existing.StudyID, ErrParentageConflict)
		}
		if existing.FrameOfReference == "" && frameOfRef != "" {
			updated := *existing
			updated.FrameOfReference = frameOfRef
			if err := tx.txn.Insert("series", &updated); err != nil {
				return fmt.Errorf("update series %s: %w", seriesID, err)
			}
			tx.journal(journalDoc{Op: opSeries, Series: seriesToDoc(updated)})
		}
		return nil
	}
	row := seriesRow{SeriesID: seriesID, StudyID: studyID, Type: typ, FrameOfReference: frameOfRef}
	if err := tx.txn.Insert("series", &row); err != nil {
		return fmt.Errorf("insert series %s: %w", seriesID, err)
	}
	tx.journal(journalDoc{Op: opSeries, Series: seriesToDoc(row)})
	return nil
}

// PutInstance records an instance entry, keyed by its instance id (or
// shadow id for shadow entries). Re-putting an identical entry is a
// no-op; a changed entry overwrites, which is how the keep-newest
// override swaps a primary.
func (tx *Tx) PutInstance(e hierarchy.InstanceEntry) error {
	id := e.InstanceID
	if e.Shadow {
		id = hierarchy.ShadowID(e.ShadowOf, e.ContentHash)
	}
	raw, err := tx.txn.First("instance", "id", id)
	if err != nil {
		return fmt.Errorf("lookup instance %s: %w", id, err)
	}
	if raw != nil && raw.(*instanceRow).Entry == e {
		return nil
	}
	row := instanceRow{ID: id, SeriesID: e.SeriesID, Entry: e}
	if err := tx.txn.Insert("instance", &row); err != nil {
		return fmt.Errorf("insert instance %s: %w", id, err)
	}
	tx.journal(journalDoc{Op: opInstance, Instance: instanceToDoc(row)})
	return nil
}

// AddEdge records a resolved reference edge. Identical edges are
// idempotent; adding a resolved edge over its dangling twin clears the
// dangling marker (resolution wins, the reverse never happens).
func (tx *Tx) AddEdge(e hierarchy.ReferenceEdge) error {
	e.Dangling = false
	raw, err := tx.txn.First("edge", "id", e.ID())
	if err != nil {
		return fmt.Errorf("lookup edge %s: %w", e.ID(), err)
	}
	if raw != nil && !raw.(*edgeRow).Edge.Dangling {
		return nil
	}
	row := edgeRow{ID: e.ID(), Source: e.SourceSeriesID, Target: e.TargetSeriesID, Edge: e}
	if err := tx.txn.Insert("edge", &row); err != nil {
		return fmt.Errorf("insert edge %s: %w", e.ID(), err)
	}
	tx.journal(journalDoc{Op: opEdge, Edge: edgeToDoc(e)})
	return nil
}

// MarkEdgeDangling records an edge whose target never materialized.
// The edge is kept rather than dropped; if a resolved twin already
// exists it stays resolved.
func (tx *Tx) MarkEdgeDangling(sourceID, targetID string, kind hierarchy.RefKind) error {
	e := hierarchy.ReferenceEdge{SourceSeriesID: sourceID, TargetSeriesID: targetID, Kind: kind, Dangling: true}
	raw, err := tx.txn.First("edge", "id", e.ID())
	if err != nil {
		return fmt.Errorf("lookup edge %s: %w", e.ID(), err)
	}
	if raw != nil {
		return nil
	}
	row := edgeRow{ID: e.ID(), Source: e.SourceSeriesID, Target: e.TargetSeriesID, Edge: e}
	if err := tx.txn.Insert("edge", &row); err != nil {
		return fmt.Errorf("insert dangling edge %s: %w", e.ID(), err)
	}
	tx.journal(journalDoc{Op: opEdge, Edge: edgeToDoc(e)})
	return nil
}

// dropEdge removes an edge row. Only used to supersede a dangling edge
// whose missing target finally materialized under a different
// identifier (an instance-level reference resolving to its owning
// series).
func (tx *Tx) dropEdge(e hierarchy.ReferenceEdge) error {
	raw, err := tx.txn.First("edge", "id", e.ID())
	if err != nil {
		return fmt.Errorf("lookup edge %s: %w", e.ID(), err)
	}
	if raw == nil {
		return nil
	}
	if err := tx.txn.Delete("edge", raw); err != nil {
		return fmt.Errorf("delete edge %s: %w", e.ID(), err)
	}
	tx.journal(journalDoc{Op: opEdgeDrop, EdgeDrop: edgeToDoc(e)})
	return nil
}

// ResolveDanglingTargets re-points every dangling edge whose recorded
// target is targetID at the series that now owns it, clearing the
// dangling markers. Returns the number of edges resolved. Used when an
// identifier that was missing in an earlier run appears in a later one.
func (tx *Tx) ResolveDanglingTargets(targetID, seriesID string) (int, error) {
	it, err := tx.txn.Get("edge", "target", targetID)
	if err != nil {
		return 0, fmt.Errorf("scan edges targeting %s: %w", targetID, err)
	}
	var stale []hierarchy.ReferenceEdge
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := raw.(*edgeRow).Edge
		if e.Dangling {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		if e.TargetSeriesID != seriesID {
			if err := tx.dropEdge(e); err != nil {
				return 0, err
			}
		}
		resolved := hierarchy.ReferenceEdge{SourceSeriesID: e.SourceSeriesID, TargetSeriesID: seriesID, Kind: e.Kind}
		if err := tx.AddEdge(resolved); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// RecordError appends a record to the permanent error log. Records are
// deduplicated by their deterministic identity so re-detecting the same
// anomaly on a later run does not grow the log. Reports whether the
// record is new.
func (tx *Tx) RecordError(r hierarchy.ErrorRecord) (bool, error) {
	raw, err := tx.txn.First("error", "id", r.ID())
	if err != nil {
		return false, fmt.Errorf("lookup error record: %w", err)
	}
	if raw != nil {
		return false, nil
	}
	if err := tx.txn.Insert("error", &errorRow{ID: r.ID(), Record: r}); err != nil {
		return false, fmt.Errorf("insert error record: %w", err)
	}
	tx.journal(journalDoc{Op: opError, Error: errorToDoc(r)})
	return true, nil
}

// GetStudy returns the recorded parent patient of a study, if known.
func (tx *Tx) GetStudy(studyID string) (patientID string, ok bool, err error) {
	raw, err := tx.txn.First("study", "id", studyID)
	if err != nil || raw == nil {
		return "", false, err
	}
	return raw.(*studyRow).PatientID, true, nil
}

// GetSeries returns the recorded parentage and type of a series, if
// known.
func (tx *Tx) GetSeries(seriesID string) (studyID string, typ hierarchy.ObjectType, ok bool, err error) {
	raw, err := tx.txn.First("series", "id", seriesID)
	if err != nil || raw == nil {
		return "", hierarchy.ObjectOther, false, err
	}
	row := raw.(*seriesRow)
	return row.StudyID, row.Type, true, nil
}

// GetInstance returns the instance entry stored under the given id,
// which may be a shadow id.
func (tx *Tx) GetInstance(id string) (hierarchy.InstanceEntry, bool, error) {
	raw, err := tx.txn.First("instance", "id", id)
	if err != nil || raw == nil {
		return hierarchy.InstanceEntry{}, false, err
	}
	return raw.(*instanceRow).Entry, true, nil
}
