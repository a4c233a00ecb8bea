package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"award_spider/internal/models"
	"award_spider/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	facets []string
	runs   []*models.RunHistory
	err    error
}

func (s *recordingSink) SaveRecords(_ context.Context, facet string, records []models.ListingRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facets = append(s.facets, facet)
	return len(records), s.err
}

func (s *recordingSink) SaveRunHistory(_ context.Context, run *models.RunHistory) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *recordingSink) Close() error { return nil }

var twoNatures = map[string]string{"1": "Travaux", "2": "Fournitures / Matériel"}

func twoFacetResults() map[string][][]testCard {
	return map[string][][]testCard{
		"1": {{{Ref: "T1", Awarded: true}, {Ref: "T2"}}},
		"2": {{{Ref: "F1", Awarded: true}, {Ref: "F2"}}},
	}
}

func TestRun_IncrementalWritesAwardedPerFacet(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	cfg := testConfig(t, server.URL)
	app := NewSpiderApp(cfg, nil, testLogger(t))

	stats, err := app.RunUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Facets)
	assert.Equal(t, 2, stats.NewEntries)
	assert.Equal(t, 2, stats.Awarded)
	assert.Equal(t, 2, stats.Infructuous)

	travaux, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "travaux.json"))
	require.NoError(t, err)
	require.Len(t, travaux, 1)
	assert.Equal(t, "T1", travaux[0].Ref())

	fournitures, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "fournitures___matériel.json"))
	require.NoError(t, err)
	require.Len(t, fournitures, 1)
	assert.Equal(t, "F1", fournitures[0].Ref())

	_, err = os.Stat(filepath.Join(cfg.Storage.DataDir, cfg.Storage.InfructuousFile))
	assert.True(t, os.IsNotExist(err))

	// the catalogue was discovered and cached
	natures, err := store.LoadNatures(app.NaturesPath())
	require.NoError(t, err)
	assert.Len(t, natures, 2)

	again, err := app.RunUpdate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.NewEntries)
}

func TestRun_FullCombinesInfructuous(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	cfg := testConfig(t, server.URL)
	sink := &recordingSink{}
	app := NewSpiderApp(cfg, sink, testLogger(t))

	stats, err := app.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Awarded)

	infructuous, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "infructueux.json"))
	require.NoError(t, err)
	require.Len(t, infructuous, 2)
	assert.ElementsMatch(t, []string{"T2", "F2"}, []string{infructuous[0].Ref(), infructuous[1].Ref()})

	travaux, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "travaux.json"))
	require.NoError(t, err)
	require.Len(t, travaux, 1)
	assert.True(t, travaux[0].IsAwarded)

	assert.ElementsMatch(t, []string{"Travaux", "Fournitures / Matériel"}, sink.facets)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, "full", sink.runs[0].Mode)
	assert.Equal(t, "success", sink.runs[0].Status)
	assert.NotEmpty(t, sink.runs[0].ID)
}

func TestRun_FullSkipsEmptyAwardedFile(t *testing.T) {
	server := newSite(t, map[string]string{"1": "Travaux"}, map[string][][]testCard{"1": {{{Ref: "T2"}}}})
	cfg := testConfig(t, server.URL)

	_, err := NewSpiderApp(cfg, nil, testLogger(t)).RunFull(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Storage.DataDir, "travaux.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MultiPageFacet(t *testing.T) {
	results := map[string][][]testCard{
		"1": {
			{{Ref: "A", Awarded: true}, {Ref: "B", Awarded: true}},
			{{Ref: "C", Awarded: true}, {Ref: "D"}},
			{{Ref: "E", Awarded: true}},
		},
	}
	server := newSite(t, map[string]string{"1": "Travaux"}, results)
	cfg := testConfig(t, server.URL) // page size 2, 5 results -> 3 pages

	stats, err := NewSpiderApp(cfg, nil, testLogger(t)).RunUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 4, stats.NewEntries)
}

func TestRun_SinkFailureIsNotFatal(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	cfg := testConfig(t, server.URL)
	sink := &recordingSink{err: errors.New("mongo down")}

	stats, err := NewSpiderApp(cfg, sink, testLogger(t)).RunUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SinkErrors)
	assert.Equal(t, 2, stats.NewEntries)
}

func TestRun_StoreErrorIsFatal(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	cfg := testConfig(t, server.URL)
	app := NewSpiderApp(cfg, nil, testLogger(t))
	_, err := app.RefreshNatures()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.DataDir, "travaux.json"), []byte("{not json"), 0o644))

	_, err = app.RunUpdate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Travaux")
}

func TestRun_RejectsCollidingStores(t *testing.T) {
	o := NewOrchestrator(nil, nil, testConfig(t, "http://unused").Storage, nil, 2, testLogger(t))
	facets := []models.Facet{
		models.NatureFacet(models.Nature{ID: "1", Label: "Travaux publics"}),
		models.NatureFacet(models.Nature{ID: "2", Label: "travaux-publics"}),
	}
	_, err := o.Run(context.Background(), facets, ModeIncremental)
	assert.Error(t, err)
}

func TestRun_JSONLFormat(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	cfg := testConfig(t, server.URL)
	cfg.Storage.Format = "jsonl"

	_, err := NewSpiderApp(cfg, nil, testLogger(t)).RunFull(context.Background())
	require.NoError(t, err)

	records, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "infructueux.jsonl"))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRun_FullAppendAddsLines(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	cfg := testConfig(t, server.URL)
	cfg.Storage.Format = "jsonl"
	app := NewSpiderApp(cfg, nil, testLogger(t))
	app.Orchestrator().Append = true

	for i := 0; i < 2; i++ {
		_, err := app.RunFull(context.Background())
		require.NoError(t, err)
	}

	travaux, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "travaux.jsonl"))
	require.NoError(t, err)
	assert.Len(t, travaux, 2)
	infructuous, err := store.ReadRecords(filepath.Join(cfg.Storage.DataDir, "infructueux.jsonl"))
	require.NoError(t, err)
	assert.Len(t, infructuous, 4)
}

func TestRun_AppendNeedsJSONL(t *testing.T) {
	server := newSite(t, twoNatures, twoFacetResults())
	app := NewSpiderApp(testConfig(t, server.URL), nil, testLogger(t))
	app.Orchestrator().Append = true

	_, err := app.RunFull(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jsonl")
}
