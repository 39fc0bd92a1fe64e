package preprocess

import (
	"fmt"
	"sort"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
)

// pendingRef is one reference waiting in the deferred-resolution queue
// for its target identifier to appear.
type pendingRef struct {
	sourceSeriesID string
	kind           hierarchy.RefKind
}

// linker resolves reference fields into typed edges. Targets already in
// the index resolve immediately; the rest park in a queue keyed by the
// missing identifier and resolve the moment a node with that identifier
// arrives. Arrival order across sources therefore never matters.
type linker struct {
	pending map[string][]pendingRef
}

func newLinker() *linker {
	return &linker{pending: make(map[string][]pendingRef)}
}

// link resolves each reference field of a descriptor.
func (e *Engine) link(tx *index.Tx, desc *hierarchy.ObjectDescriptor) error {
	for _, ref := range desc.References {
		if err := e.linker.resolve(tx, desc.SeriesID, ref, e); err != nil {
			return err
		}
	}
	return nil
}

// resolve attempts immediate resolution of one reference. The target
// identifier may name a series directly or an instance whose owning
// series becomes the edge target.
func (l *linker) resolve(tx *index.Tx, sourceSeriesID string, ref hierarchy.ReferenceField, e *Engine) error {
	kind := hierarchy.ExpectedRefKind(ref.TargetType)

	targetSeries, found, err := l.lookupTarget(tx, ref.TargetID)
	if err != nil {
		return err
	}
	if found {
		if err := tx.AddEdge(hierarchy.ReferenceEdge{
			SourceSeriesID: sourceSeriesID,
			TargetSeriesID: targetSeries,
			Kind:           kind,
		}); err != nil {
			return err
		}
		e.stats.EdgesResolved++
		return nil
	}

	// Re-linking a duplicate re-sighting must not park the same
	// reference twice; one queue entry per (source, target, kind).
	for _, p := range l.pending[ref.TargetID] {
		if p.sourceSeriesID == sourceSeriesID && p.kind == kind {
			return nil
		}
	}
	l.pending[ref.TargetID] = append(l.pending[ref.TargetID], pendingRef{
		sourceSeriesID: sourceSeriesID,
		kind:           kind,
	})
	return nil
}

// lookupTarget maps a referenced identifier to a series id, trying
// series identity first, then instance identity.
func (l *linker) lookupTarget(tx *index.Tx, targetID string) (string, bool, error) {
	if _, _, ok, err := tx.GetSeries(targetID); err != nil {
		return "", false, err
	} else if ok {
		return targetID, true, nil
	}
	entry, ok, err := tx.GetInstance(targetID)
	if err != nil || !ok {
		return "", false, err
	}
	if entry.Shadow {
		return "", false, nil
	}
	return entry.SeriesID, true, nil
}

// onIdentifier drains the queue entries parked on an identifier that
// just materialized as (or inside) the given series, and re-points any
// dangling edges from earlier runs recorded against that identifier.
func (l *linker) onIdentifier(tx *index.Tx, id, seriesID string, e *Engine) error {
	waiting := l.pending[id]
	if len(waiting) > 0 {
		delete(l.pending, id)
		for _, p := range waiting {
			if err := tx.AddEdge(hierarchy.ReferenceEdge{
				SourceSeriesID: p.sourceSeriesID,
				TargetSeriesID: seriesID,
				Kind:           p.kind,
			}); err != nil {
				return err
			}
			e.stats.EdgesResolved++
		}
	}

	resolved, err := tx.ResolveDanglingTargets(id, seriesID)
	if err != nil {
		return err
	}
	if resolved > 0 {
		e.log.Info("dangling references resolved by late arrival", "target", id, "edges", resolved)
		e.stats.EdgesResolved += resolved
	}
	return nil
}

// finalizeDangling runs at end of ingestion: every reference still in
// the queue is recorded as a dangling edge, so it can never silently
// vanish, along with its dangling-reference error record. Downstream
// stages treat the source series as incomplete.
func (e *Engine) finalizeDangling(tx *index.Tx) error {
	targets := make([]string, 0, len(e.linker.pending))
	for id := range e.linker.pending {
		targets = append(targets, id)
	}
	sort.Strings(targets)

	for _, id := range targets {
		for _, p := range e.linker.pending[id] {
			if err := tx.MarkEdgeDangling(p.sourceSeriesID, id, p.kind); err != nil {
				return err
			}
			if _, err := tx.RecordError(hierarchy.ErrorRecord{
				Kind:       hierarchy.ErrDanglingReference,
				SubjectIDs: []string{p.sourceSeriesID, id},
				Detail: fmt.Sprintf("series %s references %s (%s) but the target never appeared",
					p.sourceSeriesID, id, p.kind),
				Status: hierarchy.Unresolved,
			}); err != nil {
				return err
			}
			e.stats.EdgesDangling++
			e.log.Warn("reference target never materialized; edge marked dangling",
				"source", p.sourceSeriesID, "target", id, "kind", p.kind.String())
		}
		delete(e.linker.pending, id)
	}
	return nil
}
