package preprocess

import (
	"fmt"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
)

// resolveDuplicate applies the duplicate-identifier policy:
//
//	identical content hash   -> auto-resolved, single instance, no record
//	conflicting content hash -> quarantined; both retained (the newcomer
//	                            under a shadow id), unless KeepNewest
//	                            swaps which one is primary
func (e *Engine) resolveDuplicate(tx *index.Tx, desc *hierarchy.ObjectDescriptor, existing hierarchy.InstanceEntry) (disposition, error) {
	if existing.ContentHash == desc.ContentHash {
		// The same object seen again, possibly via another source or a
		// re-run against an existing index. Idempotent no-op.
		return skipDuplicate, nil
	}

	if _, err := tx.RecordError(hierarchy.ErrorRecord{
		Kind: hierarchy.ErrDuplicateIdentifier,
		SubjectIDs: []string{
			desc.InstanceID,
			hierarchy.ShadowID(desc.InstanceID, desc.ContentHash),
		},
		Detail: fmt.Sprintf("instance %s seen with conflicting content (hashes %016x and %016x)",
			desc.InstanceID, existing.ContentHash, desc.ContentHash),
		Status: hierarchy.Quarantined,
	}); err != nil {
		return quarantineObject, err
	}

	if e.policy.KeepNewest && desc.SeriesID == existing.SeriesID {
		// Shadow the previous primary, promote the newcomer.
		shadow := existing
		shadow.Shadow = true
		shadow.ShadowOf = existing.InstanceID
		if err := tx.PutInstance(shadow); err != nil {
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
		e.log.Warn("duplicate with conflicting content: kept newest",
			"instance", desc.InstanceID, "shadowed_hash", fmt.Sprintf("%016x", existing.ContentHash))
		// The newcomer is now the authoritative version, so its
		// references must become edges like any primary's.
		return promoteDuplicate, nil
	}

	// Default: the recorded primary stays authoritative; the newcomer
	// is retained under its shadow id for audit.
	if err := tx.PutInstance(hierarchy.InstanceEntry{
		InstanceID:  desc.InstanceID,
		SeriesID:    desc.SeriesID,
		Ordinal:     desc.Ordinal,
		ContentHash: desc.ContentHash,
		Shadow:      true,
		ShadowOf:    desc.InstanceID,
		Source:      desc.Source,
	}); err != nil {
		return quarantineObject, err
	}
	e.log.Warn("duplicate with conflicting content: quarantined under shadow id",
		"instance", desc.InstanceID, "shadow", hierarchy.ShadowID(desc.InstanceID, desc.ContentHash))
	return quarantineObject, nil
}

// quarantineConflict records a hierarchy-conflict error for a
// reparenting descriptor. The existing nodes stay untouched.
func (e *Engine) quarantineConflict(tx *index.Tx, desc *hierarchy.ObjectDescriptor, subjects []string, detail string) error {
	added, err := tx.RecordError(hierarchy.ErrorRecord{
		Kind:       hierarchy.ErrHierarchyConflict,
		SubjectIDs: subjects,
		Detail:     detail,
		Status:     hierarchy.Quarantined,
	})
	if err != nil {
		return err
	}
	if added {
		e.log.Warn("hierarchy conflict: descriptor quarantined", "object", desc.Source, "detail", detail)
	}
	return nil
}
