// Package preprocess implements the preprocessing, linking and
// error-resolution engine: it sorts extracted descriptors into the
// patient/study/series hierarchy, resolves cross-object references
// through a deferred-resolution queue, applies the fixed
// error-resolution policy to duplicates, conflicts and dangling
// references, and writes the result into the index store.
package preprocess

import (
	"fmt"
	"log/slog"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
)

// Policy configures the configurable parts of conflict resolution.
type Policy struct {
	// KeepNewest switches duplicate-with-conflicting-content handling
	// from keep-both-with-audit-shadow (the default) to replacing the
	// primary entry with the newest descriptor and shadowing the
	// previous one. Only applies when both descriptors claim the same
	// series.
	KeepNewest bool
}

// Stats summarizes one ingestion run.
type Stats struct {
	Objects        int // raw objects seen across all sources
	Indexed        int // descriptors absorbed into the hierarchy
	ParseFailures  int
	DuplicatesSkip int // content-identical re-sightings, no-ops
	Quarantined    int // conflicting duplicates + hierarchy conflicts
	EdgesResolved  int
	EdgesDangling  int
}

// Engine ingests descriptors one at a time. Processing one descriptor
// to completion (classify, link, error-check) is the atomic unit of
// work: all of its index mutations commit together, so a cancelled run
// leaves every processed object fully linked.
//
// Engine methods are safe for concurrent use; the index store's single
// writer serializes them.
type Engine struct {
	store  *index.Store
	policy Policy
	log    *slog.Logger

	linker *linker
	stats  Stats // guarded by the store writer lock
}

// NewEngine builds an engine over the given store.
func NewEngine(store *index.Store, policy Policy, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:  store,
		policy: policy,
		log:    log,
		linker: newLinker(),
	}
}

// IngestDescriptor absorbs one descriptor into the index. Anomalies
// (duplicates, conflicts) become error records rather than returned
// errors; only store failures surface.
func (e *Engine) IngestDescriptor(desc *hierarchy.ObjectDescriptor) error {
	if err := desc.Validate(); err != nil {
		return e.RecordParseFailure(desc.Source, err.Error())
	}
	return e.store.Update(func(tx *index.Tx) error {
		e.stats.Objects++
		disposition, err := e.classify(tx, desc)
		if err != nil {
			return err
		}
		switch disposition {
		case keepObject:
			e.stats.Indexed++
		case skipDuplicate:
			e.stats.DuplicatesSkip++
		case promoteDuplicate:
			e.stats.Quarantined++
		case quarantineObject:
			e.stats.Quarantined++
			return nil
		}
		// References are (re-)resolved even for duplicate re-sightings
		// and promoted primaries: resolution is idempotent, and a re-run
		// may supply a target that was missing when the object was first
		// linked.
		return e.link(tx, desc)
	})
}

// RecordParseFailure quarantines an unreadable object: a parse-error
// record is appended and the object is excluded from the hierarchy.
func (e *Engine) RecordParseFailure(object, detail string) error {
	return e.store.Update(func(tx *index.Tx) error {
		e.stats.Objects++
		e.stats.ParseFailures++
		added, err := tx.RecordError(hierarchy.ErrorRecord{
			Kind:       hierarchy.ErrParse,
			SubjectIDs: []string{object},
			Detail:     detail,
			Status:     hierarchy.Quarantined,
		})
		if err != nil {
			return err
		}
		if added {
			e.log.Warn("object quarantined: unreadable header", "object", object, "detail", detail)
		}
		return nil
	})
}

// Finalize runs after every source is exhausted: references still
// waiting in the deferred queue are recorded as dangling edges with
// their dangling-reference error records.
func (e *Engine) Finalize() error {
	return e.store.Update(func(tx *index.Tx) error {
		return e.finalizeDangling(tx)
	})
}

// Stats returns the counters accumulated so far. Call after the run
// has quiesced; counters are maintained under the store writer lock.
func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) String() string {
	return fmt.Sprintf("preprocess.Engine(keepNewest=%v)", e.policy.KeepNewest)
}
