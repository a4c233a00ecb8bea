package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/db"
	"award_spider/internal/models"
	"award_spider/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Mode int

const (
	// ModeIncremental merges each facet's records into its existing store.
	ModeIncremental Mode = iota
	// ModeFull overwrites each facet's awarded file and gathers every
	// infructuous record into one combined file.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// RecordFilter decides whether a harvested record is kept for a facet.
type RecordFilter func(facet models.Facet, r models.ListingRecord) bool

type RunStats struct {
	Facets      int
	Pages       int
	Records     int
	Awarded     int
	Infructuous int
	FailedCards int
	NewEntries  int
	Skipped     int
	SinkErrors  int
}

func (s *RunStats) add(o RunStats) {
	s.Facets += o.Facets
	s.Pages += o.Pages
	s.Records += o.Records
	s.Awarded += o.Awarded
	s.Infructuous += o.Infructuous
	s.FailedCards += o.FailedCards
	s.NewEntries += o.NewEntries
	s.Skipped += o.Skipped
	s.SinkErrors += o.SinkErrors
}

type Orchestrator struct {
	planner   *Planner
	harvester *Harvester
	storage   config.StorageConfig
	sink      db.Sink
	workers   int
	log       *zap.Logger

	// Filter drops records before they are stored; nil keeps everything.
	Filter RecordFilter
	// FixedPages skips planning and harvests this many pages when > 0.
	FixedPages int
	// IncludeInfructuous stores non-awarded records in incremental mode too.
	IncludeInfructuous bool
	// Append makes full mode add to JSON lines files instead of overwriting.
	Append bool
}

func NewOrchestrator(p *Planner, h *Harvester, storage config.StorageConfig, sink db.Sink, workers int, log *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{planner: p, harvester: h, storage: storage, sink: sink, workers: workers, log: log}
}

func (o *Orchestrator) ext() string {
	if o.storage.Format == "jsonl" {
		return ".jsonl"
	}
	return ".json"
}

// StorePath is the file a facet's records land in. Facets without a nature
// share one file.
func (o *Orchestrator) StorePath(f models.Facet) string {
	name := "attribues"
	if f.Nature != nil {
		name = store.SafeName(f.Nature.Label)
	}
	return filepath.Join(o.storage.DataDir, name+o.ext())
}

// write persists a full-mode batch.
func (o *Orchestrator) write(path string, records []models.ListingRecord) error {
	if o.Append {
		return store.AppendJSONL(path, records)
	}
	return store.WriteRecords(path, records)
}

func (o *Orchestrator) infructuousPath() string {
	name := o.storage.InfructuousFile
	name = strings.TrimSuffix(name, filepath.Ext(name)) + o.ext()
	return filepath.Join(o.storage.DataDir, name)
}

// facetOutcome is written by exactly one facet task.
type facetOutcome struct {
	stats       RunStats
	infructuous []models.ListingRecord
}

// Run processes every facet over a bounded pool. A facet that yields no
// pages does not affect the others; a store write failure aborts the run.
func (o *Orchestrator) Run(ctx context.Context, facets []models.Facet, mode Mode) (RunStats, error) {
	started := time.Now()
	if o.Append && mode == ModeFull && o.storage.Format != "jsonl" {
		return RunStats{}, fmt.Errorf("append needs the jsonl format, have %q", o.storage.Format)
	}
	if err := o.checkDistinctStores(facets); err != nil {
		return RunStats{}, err
	}

	outcomes := make([]facetOutcome, len(facets))
	var finished int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, facet := range facets {
		g.Go(func() error {
			out, err := o.runFacet(gctx, facet, mode)
			if err != nil {
				return fmt.Errorf("facet %s: %w", facet.Name(), err)
			}
			outcomes[i] = out
			n := atomic.AddInt32(&finished, 1)
			o.log.Info("facet done",
				zap.String("facet", facet.Name()),
				zap.Int("done", int(n)),
				zap.Int("of", len(facets)),
				zap.Int("records", out.stats.Records),
				zap.Int("new", out.stats.NewEntries))
			return nil
		})
	}
	runErr := g.Wait()

	var stats RunStats
	var infructuous []models.ListingRecord
	for _, out := range outcomes {
		stats.add(out.stats)
		infructuous = append(infructuous, out.infructuous...)
	}

	if runErr == nil && mode == ModeFull {
		if err := o.write(o.infructuousPath(), infructuous); err != nil {
			runErr = err
		} else {
			o.log.Info("infructuous records saved",
				zap.String("path", o.infructuousPath()), zap.Int("records", len(infructuous)))
		}
	}

	o.recordRun(ctx, mode, started, &stats, runErr)
	return stats, runErr
}

// checkDistinctStores rejects facet sets where two concurrent facets would
// write the same file.
func (o *Orchestrator) checkDistinctStores(facets []models.Facet) error {
	seen := make(map[string]string, len(facets))
	for _, f := range facets {
		path := o.StorePath(f)
		if prev, ok := seen[path]; ok {
			return fmt.Errorf("facets %q and %q both write %s", prev, f.Name(), path)
		}
		seen[path] = f.Name()
	}
	return nil
}

// runFacet is PLAN, HARVEST, MERGE, PERSIST for one facet.
func (o *Orchestrator) runFacet(ctx context.Context, facet models.Facet, mode Mode) (facetOutcome, error) {
	var out facetOutcome

	pages := o.FixedPages
	if pages <= 0 {
		var total int
		pages, total = o.planner.Plan(ctx, facet)
		o.log.Info("facet planned",
			zap.String("facet", facet.Name()), zap.Int("pages", pages), zap.Int("total", total))
	}

	hr := o.harvester.Harvest(ctx, facet, pages)
	out.stats.Facets = 1
	out.stats.Pages = hr.Pages
	out.stats.FailedCards = hr.FailedCards

	var awarded, rest []models.ListingRecord
	for _, r := range hr.Records {
		if o.Filter != nil && !o.Filter(facet, r) {
			continue
		}
		if r.IsAwarded {
			awarded = append(awarded, r)
		} else {
			rest = append(rest, r)
		}
	}
	out.stats.Records = len(awarded) + len(rest)
	out.stats.Awarded = len(awarded)
	out.stats.Infructuous = len(rest)

	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	var persisted []models.ListingRecord
	switch mode {
	case ModeFull:
		out.infructuous = rest
		if len(awarded) > 0 {
			if err := o.write(o.StorePath(facet), awarded); err != nil {
				return out, err
			}
		}
		out.stats.NewEntries = len(awarded)
		persisted = awarded

	default:
		persisted = awarded
		if o.IncludeInfructuous {
			persisted = append(persisted, rest...)
		}
		s, err := store.Load(o.StorePath(facet))
		if err != nil {
			return out, err
		}
		out.stats.NewEntries = s.Merge(persisted)
		out.stats.Skipped = s.Skipped
		if err := s.Save(); err != nil {
			return out, err
		}
	}

	o.mirror(ctx, facet, persisted, &out.stats)
	return out, nil
}

func (o *Orchestrator) mirror(ctx context.Context, facet models.Facet, records []models.ListingRecord, stats *RunStats) {
	if o.sink == nil || len(records) == 0 {
		return
	}
	n, err := o.sink.SaveRecords(ctx, facet.Name(), records)
	if err != nil {
		stats.SinkErrors++
		o.log.Warn("mirror sink failed", zap.String("facet", facet.Name()), zap.Error(err))
		return
	}
	o.log.Debug("mirrored records", zap.String("facet", facet.Name()), zap.Int("changed", n))
}

func (o *Orchestrator) recordRun(ctx context.Context, mode Mode, started time.Time, stats *RunStats, runErr error) {
	if o.sink == nil {
		return
	}
	run := newRunHistory(mode.String(), started, *stats, runErr)
	if err := o.sink.SaveRunHistory(ctx, run); err != nil {
		stats.SinkErrors++
		o.log.Warn("failed to save run history", zap.Error(err))
	}
}
