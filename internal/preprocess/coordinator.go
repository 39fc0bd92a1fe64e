package preprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ShuchaoPangUNSW/pydicer/internal/extract"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
	"github.com/ShuchaoPangUNSW/pydicer/internal/source"
)

// CoordinatorOptions configures an ingestion run.
type CoordinatorOptions struct {
	Policy Policy

	// Logger receives engine log output. Defaults to slog.Default().
	Logger *slog.Logger

	// Quiet suppresses per-source progress output on stdout.
	Quiet bool

	// Progress, when set, is called after every processed object with
	// the number of objects handled so far.
	Progress func(done int)
}

// Coordinator drives extraction and linking across parallel input
// sources. Each source gets its own worker preserving the source's
// internal order; workers only meet at the index store's single-writer
// boundary, never at each other's I/O.
type Coordinator struct {
	store     *index.Store
	extractor extract.Extractor
	sources   []source.Source
	opts      CoordinatorOptions

	mu   sync.Mutex
	done int
}

// NewCoordinator builds a coordinator over the given store, extractor
// and sources.
func NewCoordinator(store *index.Store, x extract.Extractor, sources []source.Source, opts CoordinatorOptions) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{store: store, extractor: x, sources: sources, opts: opts}
}

// Run ingests every source to exhaustion, then finalizes unresolved
// references as dangling. Cancelling ctx stops workers between objects;
// the index stays valid with every processed object fully linked, and
// no dangling finalization happens so a resumed run can still resolve
// the parked references.
func (c *Coordinator) Run(ctx context.Context) (Stats, error) {
	engine := NewEngine(c.store, c.opts.Policy, c.opts.Logger)

	runID, err := c.store.BeginRun()
	if err != nil {
		return Stats{}, err
	}
	c.opts.Logger.Info("ingestion run started", "run", runID, "sources", len(c.sources))

	for _, src := range c.sources {
		if !src.Stable() {
			c.opts.Logger.Warn("source ordering is not stable across runs; conflict resolution will not be deterministic",
				"source", src.Name())
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(c.sources))
	for _, src := range c.sources {
		wg.Add(1)
		go func(src source.Source) {
			defer wg.Done()
			if err := c.drainSource(ctx, engine, src); err != nil {
				errCh <- fmt.Errorf("source %s: %w", src.Name(), err)
			}
		}(src)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return engine.Stats(), err
	}

	if err := ctx.Err(); err != nil {
		// Cooperative abort: partially populated but valid index.
		c.opts.Logger.Info("ingestion run aborted", "run", runID, "objects", engine.Stats().Objects)
		return engine.Stats(), err
	}

	if err := engine.Finalize(); err != nil {
		return engine.Stats(), err
	}

	stats := engine.Stats()
	c.opts.Logger.Info("ingestion run finished",
		"run", runID,
		"objects", stats.Objects,
		"indexed", stats.Indexed,
		"parse_failures", stats.ParseFailures,
		"duplicates", stats.DuplicatesSkip,
		"quarantined", stats.Quarantined,
		"edges_resolved", stats.EdgesResolved,
		"edges_dangling", stats.EdgesDangling,
	)
	return stats, nil
}

// drainSource processes one source in its own order, one object at a
// time. The abort signal is checked between objects; a single bad
// object never stops the rest.
func (c *Coordinator) drainSource(ctx context.Context, engine *Engine, src source.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		obj, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next object: %w", err)
		}

		desc, err := c.extractor.Extract(ctx, obj)
		if err != nil {
			var exErr *extract.ExtractionError
			if errors.As(err, &exErr) {
				if err := engine.RecordParseFailure(exErr.Object, exErr.Err.Error()); err != nil {
					return err
				}
				c.reportProgress()
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("extract %s: %w", obj.Name(), err)
		}

		if err := engine.IngestDescriptor(desc); err != nil {
			return fmt.Errorf("ingest %s: %w", obj.Name(), err)
		}
		c.reportProgress()
	}
}

func (c *Coordinator) reportProgress() {
	c.mu.Lock()
	c.done++
	done := c.done
	c.mu.Unlock()

	if c.opts.Progress != nil {
		c.opts.Progress(done)
	}
	if !c.opts.Quiet && done%50 == 0 {
		fmt.Printf("  Processed %d objects\n", done)
	}
}
