package preprocess

import (
	"errors"
	"fmt"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
)

// disposition is the sorter's verdict on one descriptor.
type disposition int

const (
	keepObject disposition = iota
	skipDuplicate
	promoteDuplicate
	quarantineObject
)

// classify assigns a descriptor to its patient, study and series nodes,
// creating them on first sight, and detects duplicate identifiers and
// hierarchy conflicts on the way. First writer wins on every conflict:
// the recorded hierarchy is never rewritten by a later descriptor.
func (e *Engine) classify(tx *index.Tx, desc *hierarchy.ObjectDescriptor) (disposition, error) {
	existing, found, err := tx.GetInstance(desc.InstanceID)
	if err != nil {
		return quarantineObject, err
	}
	if found {
		return e.resolveDuplicate(tx, desc, existing)
	}

	if err := tx.UpsertPatient(desc.PatientID); err != nil {
		return quarantineObject, err
	}

	if err := tx.UpsertStudy(desc.StudyID, desc.PatientID); err != nil {
		if errors.Is(err, index.ErrParentageConflict) {
			return quarantineObject, e.quarantineConflict(tx, desc,
				[]string{desc.StudyID, desc.PatientID},
				fmt.Sprintf("study %s already recorded under a different patient; descriptor %s claims patient %s",
					desc.StudyID, desc.InstanceID, desc.PatientID))
		}
		return quarantineObject, err
	}

	if err := tx.UpsertSeries(desc.SeriesID, desc.StudyID, desc.Type, desc.FrameOfReference); err != nil {
		if errors.Is(err, index.ErrParentageConflict) {
			return quarantineObject, e.quarantineConflict(tx, desc,
				[]string{desc.SeriesID, desc.StudyID},
				fmt.Sprintf("series %s already recorded under a different study; descriptor %s claims study %s",
					desc.SeriesID, desc.InstanceID, desc.StudyID))
		}
		return quarantineObject, err
	}

	if err := tx.PutInstance(hierarchy.InstanceEntry{
		InstanceID:  desc.InstanceID,
		SeriesID:    desc.SeriesID,
		Ordinal:     desc.Ordinal,
		ContentHash: desc.ContentHash,
		Source:      desc.Source,
	}); err != nil {
		return quarantineObject, err
	}

	// A node arrival may unblock references parked on its identifier.
	if err := e.linker.onIdentifier(tx, desc.SeriesID, desc.SeriesID, e); err != nil {
		return quarantineObject, err
	}
	if err := e.linker.onIdentifier(tx, desc.InstanceID, desc.SeriesID, e); err != nil {
		return quarantineObject, err
	}
	return keepObject, nil
}
