package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

func mustOpen(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func seedSeries(t *testing.T, s *Store, seriesID, studyID, patientID string) {
	t.Helper()
	err := s.Update(func(tx *Tx) error {
		if err := tx.UpsertPatient(patientID); err != nil {
			return err
		}
		if err := tx.UpsertStudy(studyID, patientID); err != nil {
			return err
		}
		return tx.UpsertSeries(seriesID, studyID, hierarchy.ObjectImage, "FOR1")
	})
	if err != nil {
		t.Fatalf("seed series %s: %v", seriesID, err)
	}
}

func TestStore_HierarchyAssembly(t *testing.T) {
	s := mustOpen(t, "")
	seedSeries(t, s, "S1", "ST1", "P1")
	seedSeries(t, s, "S2", "ST1", "P1")
	seedSeries(t, s, "S3", "ST2", "P1")

	p, err := s.Patient("P1")
	if err != nil {
		t.Fatalf("Patient failed: %v", err)
	}
	if p == nil {
		t.Fatal("patient P1 not found")
	}
	if len(p.StudyIDs) != 2 || p.StudyIDs[0] != "ST1" || p.StudyIDs[1] != "ST2" {
		t.Errorf("P1 studies = %v, want [ST1 ST2]", p.StudyIDs)
	}

	st, err := s.Study("ST1")
	if err != nil {
		t.Fatalf("Study failed: %v", err)
	}
	if len(st.SeriesIDs) != 2 {
		t.Errorf("ST1 series = %v, want 2 entries", st.SeriesIDs)
	}
	if st.PatientID != "P1" {
		t.Errorf("ST1 patient = %s, want P1", st.PatientID)
	}
}

func TestStore_UpsertIdempotent(t *testing.T) {
	s := mustOpen(t, "")
	seedSeries(t, s, "S1", "ST1", "P1")
	seedSeries(t, s, "S1", "ST1", "P1")

	c, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if c.Patients != 1 || c.Studies != 1 || c.Series != 1 {
		t.Errorf("counts after duplicate upserts = %+v", c)
	}
}

func TestStore_ParentageConflict(t *testing.T) {
	s := mustOpen(t, "")
	seedSeries(t, s, "S1", "ST-A", "P1")

	err := s.Update(func(tx *Tx) error {
		if err := tx.UpsertStudy("ST-B", "P1"); err != nil {
			return err
		}
		return tx.UpsertSeries("S1", "ST-B", hierarchy.ObjectImage, "")
	})
	if !errors.Is(err, ErrParentageConflict) {
		t.Fatalf("reparenting series should return ErrParentageConflict, got %v", err)
	}

	// First writer wins: the series stays under ST-A.
	se, err := s.Series("S1")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if se.StudyID != "ST-A" {
		t.Errorf("S1 study = %s, want ST-A", se.StudyID)
	}
}

func TestStore_StudyReparentingConflict(t *testing.T) {
	s := mustOpen(t, "")
	seedSeries(t, s, "S1", "ST1", "P1")

	err := s.Update(func(tx *Tx) error {
		if err := tx.UpsertPatient("P2"); err != nil {
			return err
		}
		return tx.UpsertStudy("ST1", "P2")
	})
	if !errors.Is(err, ErrParentageConflict) {
		t.Fatalf("reparenting study should return ErrParentageConflict, got %v", err)
	}
}

func TestStore_InstanceOrdering(t *testing.T) {
	s := mustOpen(t, "")
	seedSeries(t, s, "S1", "ST1", "P1")

	entries := []hierarchy.InstanceEntry{
		{InstanceID: "I9", SeriesID: "S1", Ordinal: 30},
		{InstanceID: "I1", SeriesID: "S1", Ordinal: 10},
		{InstanceID: "I5b", SeriesID: "S1", Ordinal: 20},
		{InstanceID: "I5a", SeriesID: "S1", Ordinal: 20},
	}
	err := s.Update(func(tx *Tx) error {
		for _, e := range entries {
			if err := tx.PutInstance(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("PutInstance failed: %v", err)
	}

	se, err := s.Series("S1")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	want := []string{"I1", "I5a", "I5b", "I9"}
	got := se.InstanceIDs()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instance %d = %s, want %s (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestStore_ShadowExcludedFromSequence(t *testing.T) {
	s := mustOpen(t, "")
	seedSeries(t, s, "S1", "ST1", "P1")

	err := s.Update(func(tx *Tx) error {
		if err := tx.PutInstance(hierarchy.InstanceEntry{InstanceID: "I1", SeriesID: "S1", Ordinal: 1, ContentHash: 10}); err != nil {
			return err
		}
		return tx.PutInstance(hierarchy.InstanceEntry{
			InstanceID: "I1", SeriesID: "S1", Ordinal: 1, ContentHash: 20, Shadow: true, ShadowOf: "I1",
		})
	})
	if err != nil {
		t.Fatalf("PutInstance failed: %v", err)
	}

	se, err := s.Series("S1")
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}
	if len(se.Instances) != 1 {
		t.Fatalf("sequence should exclude shadows, got %v", se.InstanceIDs())
	}

	var shadows []hierarchy.InstanceEntry
	err = s.View(func(tx *Tx) error {
		var err error
		shadows, err = tx.ShadowsOf("I1")
		return err
	})
	if err != nil {
		t.Fatalf("ShadowsOf failed: %v", err)
	}
	if len(shadows) != 1 || shadows[0].ContentHash != 20 {
		t.Errorf("ShadowsOf(I1) = %+v, want one entry with hash 20", shadows)
	}

	// The shadow is retrievable under its shadow id.
	err = s.View(func(tx *Tx) error {
		entry, ok, err := tx.GetInstance(hierarchy.ShadowID("I1", 20))
		if err != nil {
			return err
		}
		if !ok || !entry.Shadow {
			t.Errorf("shadow entry not retrievable by shadow id: %+v ok=%v", entry, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestStore_AddEdgeIdempotent(t *testing.T) {
	s := mustOpen(t, "")
	edge := hierarchy.ReferenceEdge{SourceSeriesID: "S2", TargetSeriesID: "S1", Kind: hierarchy.RefImage}

	err := s.Update(func(tx *Tx) error {
		if err := tx.AddEdge(edge); err != nil {
			return err
		}
		return tx.AddEdge(edge)
	})
	if err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	c, _ := s.Counts()
	if c.Edges != 1 {
		t.Errorf("edges = %d, want 1", c.Edges)
	}
}

func TestStore_ResolutionWinsOverDangling(t *testing.T) {
	s := mustOpen(t, "")

	err := s.Update(func(tx *Tx) error {
		if err := tx.MarkEdgeDangling("S2", "S1", hierarchy.RefImage); err != nil {
			return err
		}
		return tx.AddEdge(hierarchy.ReferenceEdge{SourceSeriesID: "S2", TargetSeriesID: "S1", Kind: hierarchy.RefImage})
	})
	if err != nil {
		t.Fatalf("edge ops failed: %v", err)
	}

	err = s.View(func(tx *Tx) error {
		out, err := tx.OutgoingEdges("S2")
		if err != nil {
			return err
		}
		if len(out) != 1 || out[0].Dangling {
			t.Errorf("edge should be resolved, got %+v", out)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	// And the reverse never downgrades a resolved edge.
	err = s.Update(func(tx *Tx) error {
		return tx.MarkEdgeDangling("S2", "S1", hierarchy.RefImage)
	})
	if err != nil {
		t.Fatalf("MarkEdgeDangling failed: %v", err)
	}
	c, _ := s.Counts()
	if c.Dangling != 0 {
		t.Errorf("dangling = %d, want 0", c.Dangling)
	}
}

func TestStore_EdgeDirectionQueries(t *testing.T) {
	s := mustOpen(t, "")
	err := s.Update(func(tx *Tx) error {
		if err := tx.AddEdge(hierarchy.ReferenceEdge{SourceSeriesID: "S2", TargetSeriesID: "S1", Kind: hierarchy.RefImage}); err != nil {
			return err
		}
		return tx.AddEdge(hierarchy.ReferenceEdge{SourceSeriesID: "S3", TargetSeriesID: "S1", Kind: hierarchy.RefStructure})
	})
	if err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	err = s.View(func(tx *Tx) error {
		in, err := tx.IncomingEdges("S1")
		if err != nil {
			return err
		}
		if len(in) != 2 {
			t.Errorf("incoming edges of S1 = %d, want 2", len(in))
		}
		out, err := tx.OutgoingEdges("S1")
		if err != nil {
			return err
		}
		if len(out) != 0 {
			t.Errorf("outgoing edges of S1 = %d, want 0", len(out))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestStore_RecordErrorDeduplicates(t *testing.T) {
	s := mustOpen(t, "")
	rec := hierarchy.ErrorRecord{
		Kind:       hierarchy.ErrHierarchyConflict,
		SubjectIDs: []string{"S1", "ST2"},
		Detail:     "series reparented",
		Status:     hierarchy.Quarantined,
	}

	err := s.Update(func(tx *Tx) error {
		added, err := tx.RecordError(rec)
		if err != nil {
			return err
		}
		if !added {
			t.Error("first RecordError should report new")
		}
		added, err = tx.RecordError(rec)
		if err != nil {
			return err
		}
		if added {
			t.Error("second RecordError should be deduplicated")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}

	records, err := s.Errors()
	if err != nil {
		t.Fatalf("Errors failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("error log length = %d, want 1", len(records))
	}
}

func TestStore_JournalReplay(t *testing.T) {
	dir := t.TempDir()

	s := mustOpen(t, dir)
	seedSeries(t, s, "S1", "ST1", "P1")
	err := s.Update(func(tx *Tx) error {
		if err := tx.PutInstance(hierarchy.InstanceEntry{InstanceID: "I1", SeriesID: "S1", Ordinal: 1, ContentHash: 7}); err != nil {
			return err
		}
		if err := tx.AddEdge(hierarchy.ReferenceEdge{SourceSeriesID: "S2", TargetSeriesID: "S1", Kind: hierarchy.RefImage}); err != nil {
			return err
		}
		_, err := tx.RecordError(hierarchy.ErrorRecord{
			Kind: hierarchy.ErrDanglingReference, SubjectIDs: []string{"S2"}, Detail: "plan never seen", Status: hierarchy.Unresolved,
		})
		return err
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := mustOpen(t, dir)
	defer reopened.Close()

	c, err := reopened.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	want := Counts{Patients: 1, Studies: 1, Series: 1, Instances: 1, Edges: 1, Errors: 1}
	if c != want {
		t.Errorf("replayed counts = %+v, want %+v", c, want)
	}

	se, err := reopened.Series("S1")
	if err != nil || se == nil {
		t.Fatalf("Series after replay: %v, %v", se, err)
	}
	if se.FrameOfReference != "FOR1" {
		t.Errorf("frame of reference lost in replay: %q", se.FrameOfReference)
	}
}

func TestStore_JournalReplayIdempotent(t *testing.T) {
	dir := t.TempDir()

	s := mustOpen(t, dir)
	seedSeries(t, s, "S1", "ST1", "P1")
	s.Close()

	// Second run against the same working directory repeats the same
	// mutations; the journal must not accumulate duplicate state.
	s2 := mustOpen(t, dir)
	seedSeries(t, s2, "S1", "ST1", "P1")
	s2.Close()

	s3 := mustOpen(t, dir)
	defer s3.Close()
	c, err := s3.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if c.Patients != 1 || c.Studies != 1 || c.Series != 1 {
		t.Errorf("counts after double run = %+v", c)
	}
}

func TestStore_BeginRunJournalsHeader(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	id, err := s.BeginRun()
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if id == "" {
		t.Error("run id should not be empty")
	}
	s.Close()

	data, err := os.ReadFile(filepath.Join(dir, JournalName))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(data) == 0 {
		t.Error("journal should contain the run header")
	}

	// A journal with only run headers replays to an empty index.
	s2 := mustOpen(t, dir)
	defer s2.Close()
	c, _ := s2.Counts()
	if c.Patients != 0 {
		t.Errorf("unexpected patients after run-only journal: %d", c.Patients)
	}
}
