// Package index implements the durable hierarchical index store: the
// single source of truth mapping identifiers to patient/study/series
// nodes, instance entries, reference edges and error records. Reads run
// against memdb snapshots so a node is always observed together with
// the edges that were resolved when it became visible; all mutations
// are serialized through a single logical writer and journaled to an
// append-safe file so re-opening a working directory restores the index.
package index

import (
	memdb "github.com/hashicorp/go-memdb"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

// patientRow, studyRow and seriesRow store the identity and parentage
// of hierarchy nodes. Child id sets are not stored; they are assembled
// from the child tables at read time so there is exactly one place
// parentage lives.
type patientRow struct {
	PatientID string
}

type studyRow struct {
	StudyID   string
	PatientID string
}

type seriesRow struct {
	SeriesID         string
	StudyID          string
	Type             hierarchy.ObjectType
	FrameOfReference string
}

// instanceRow stores one instance entry. ID is the instance identifier
// for primary entries and the shadow identifier for quarantined
// duplicates, which is what makes instance identity globally unique.
type instanceRow struct {
	ID       string
	SeriesID string
	Entry    hierarchy.InstanceEntry
}

type edgeRow struct {
	ID     string
	Source string
	Target string
	Edge   hierarchy.ReferenceEdge
}

type errorRow struct {
	ID     string
	Record hierarchy.ErrorRecord
}

func storeSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"patient": {
				Name: "patient",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "PatientID"},
					},
				},
			},
			"study": {
				Name: "study",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "StudyID"},
					},
					"patient": {
						Name:    "patient",
						Indexer: &memdb.StringFieldIndex{Field: "PatientID"},
					},
				},
			},
			"series": {
				Name: "series",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "SeriesID"},
					},
					"study": {
						Name:    "study",
						Indexer: &memdb.StringFieldIndex{Field: "StudyID"},
					},
				},
			},
			"instance": {
				Name: "instance",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"series": {
						Name:    "series",
						Indexer: &memdb.StringFieldIndex{Field: "SeriesID"},
					},
				},
			},
			"edge": {
				Name: "edge",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"source": {
						Name:    "source",
						Indexer: &memdb.StringFieldIndex{Field: "Source"},
					},
					"target": {
						Name:    "target",
						Indexer: &memdb.StringFieldIndex{Field: "Target"},
					},
				},
			},
			"error": {
				Name: "error",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}
