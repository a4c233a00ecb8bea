package app

import (
	"context"
	"path/filepath"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/db"
	"award_spider/internal/extract"
	"award_spider/internal/fetcher"
	"award_spider/internal/models"
	"award_spider/internal/query"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpiderApp wires one shared client, the extractor and the orchestrator
// from configuration.
type SpiderApp struct {
	cfg          *config.SpiderConfig
	client       *fetcher.Client
	sink         db.Sink
	orchestrator *Orchestrator
	log          *zap.Logger
}

// RetryPolicyFor maps the logic section onto a fetcher retry policy.
func RetryPolicyFor(l config.LogicConfig) fetcher.RetryPolicy {
	p := fetcher.RetryPolicy{
		MaxAttempts: l.MaxRetries,
		JitterMin:   time.Duration(l.MinDelayMS) * time.Millisecond,
		JitterMax:   time.Duration(l.MaxDelayMS) * time.Millisecond,
		Backoff:     fetcher.FixedBackoff(time.Duration(l.RetryDelayMS) * time.Millisecond),
	}
	if l.Backoff == "exponential" {
		p.Backoff = fetcher.ExponentialBackoff(time.Second, time.Duration(l.MaxBackoffSec)*time.Second)
	}
	return p
}

// NewSpiderApp builds the pipeline. sink may be nil.
func NewSpiderApp(cfg *config.SpiderConfig, sink db.Sink, log *zap.Logger) *SpiderApp {
	client := fetcher.New(fetcher.Options{
		Timeout:           cfg.Logic.Timeout(),
		UserAgent:         cfg.Site.UserAgent,
		RequestsPerSecond: cfg.Logic.RequestsPerSecond,
		Retry:             RetryPolicyFor(cfg.Logic),
	}, log.Named("fetcher"))

	urls := query.Builder{Base: cfg.Site.SearchURL(), PageSize: cfg.Site.PageSize, Category: cfg.Site.Category}
	planner := NewPlanner(client, urls, log.Named("planner"))
	harvester := NewHarvester(client, extract.New(log.Named("extract")), urls, cfg.Logic.PageWorkers, log.Named("harvester"))

	return &SpiderApp{
		cfg:          cfg,
		client:       client,
		sink:         sink,
		orchestrator: NewOrchestrator(planner, harvester, cfg.Storage, sink, cfg.Logic.FacetWorkers, log.Named("orchestrator")),
		log:          log,
	}
}

func (s *SpiderApp) Orchestrator() *Orchestrator { return s.orchestrator }

func (s *SpiderApp) NaturesPath() string {
	return filepath.Join(s.cfg.Storage.DataDir, s.cfg.Storage.NaturesFile)
}

func (s *SpiderApp) prepare(ctx context.Context) {
	if s.cfg.Logic.RespectRobots {
		s.client.LoadRobots(ctx, s.cfg.Site.BaseURL)
	}
}

func natureFacets(natures []models.Nature) []models.Facet {
	facets := make([]models.Facet, 0, len(natures))
	for _, n := range natures {
		facets = append(facets, models.NatureFacet(n))
	}
	return facets
}

// RunFull scrapes every nature and rewrites the awarded and infructuous files.
func (s *SpiderApp) RunFull(ctx context.Context) (RunStats, error) {
	natures, err := s.LoadOrDiscoverNatures()
	if err != nil {
		return RunStats{}, err
	}
	s.prepare(ctx)
	s.log.Info("starting full scrape", zap.Int("natures", len(natures)), zap.String("data_dir", s.cfg.Storage.DataDir))
	return s.orchestrator.Run(ctx, natureFacets(natures), ModeFull)
}

// RunUpdate merges a fresh scrape of every nature into the existing stores.
func (s *SpiderApp) RunUpdate(ctx context.Context) (RunStats, error) {
	natures, err := s.LoadOrDiscoverNatures()
	if err != nil {
		return RunStats{}, err
	}
	s.prepare(ctx)
	s.log.Info("starting incremental scrape", zap.Int("natures", len(natures)))
	return s.orchestrator.Run(ctx, natureFacets(natures), ModeIncremental)
}

// RunDaily merges each day since last Wednesday into the per-nature stores.
func (s *SpiderApp) RunDaily(ctx context.Context, today time.Time, perNature bool) (RunStats, error) {
	var natures []models.Nature
	if perNature {
		var err error
		if natures, err = s.LoadOrDiscoverNatures(); err != nil {
			return RunStats{}, err
		}
	}
	s.prepare(ctx)

	prev := s.orchestrator.FixedPages
	s.orchestrator.FixedPages = s.cfg.Logic.DailyPages
	defer func() { s.orchestrator.FixedPages = prev }()

	return RunDays(ctx, s.orchestrator, DaysSinceWednesday(today), natures, s.log)
}

func (s *SpiderApp) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}

func newRunHistory(mode string, started time.Time, stats RunStats, runErr error) *models.RunHistory {
	run := &models.RunHistory{
		ID:          uuid.NewString(),
		Mode:        mode,
		Facets:      stats.Facets,
		Pages:       stats.Pages,
		Records:     stats.Records,
		Awarded:     stats.Awarded,
		Infructuous: stats.Infructuous,
		FailedCards: stats.FailedCards,
		NewEntries:  stats.NewEntries,
		SinkErrors:  stats.SinkErrors,
		StartedAt:   started.Unix(),
		Duration:    time.Since(started).Milliseconds(),
		Status:      "success",
	}
	if runErr != nil {
		run.Status = "error"
		run.Error = runErr.Error()
	}
	return run
}
