package app

import (
	"context"

	"award_spider/internal/extract"
	"award_spider/internal/models"
	"award_spider/internal/query"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HarvestResult aggregates every page of one facet. Record order across
// pages follows completion order and carries no meaning.
type HarvestResult struct {
	Records     []models.ListingRecord
	Pages       int
	EmptyPages  int
	FailedCards int
}

// Harvester fetches a facet's pages over a bounded pool.
type Harvester struct {
	fetcher   PageFetcher
	extractor *extract.Extractor
	urls      query.Builder
	workers   int
	log       *zap.Logger
}

func NewHarvester(f PageFetcher, e *extract.Extractor, urls query.Builder, workers int, log *zap.Logger) *Harvester {
	if workers < 1 {
		workers = 1
	}
	return &Harvester{fetcher: f, extractor: e, urls: urls, workers: workers, log: log}
}

type fetchedPage struct {
	page int
	html string
}

// Harvest fetches pages 1..pages. Fetches run concurrently up to the worker
// bound; parsing happens here as each fetch completes. A failed page counts
// as empty.
func (h *Harvester) Harvest(ctx context.Context, facet models.Facet, pages int) HarvestResult {
	res := HarvestResult{Pages: pages}
	if pages < 1 {
		return res
	}

	done := make(chan fetchedPage, pages)
	var g errgroup.Group
	g.SetLimit(h.workers)

	go func() {
		for page := 1; page <= pages; page++ {
			g.Go(func() error {
				done <- fetchedPage{page: page, html: h.fetcher.Fetch(ctx, h.urls.URL(facet, page))}
				return nil
			})
		}
		_ = g.Wait()
		close(done)
	}()

	for fp := range done {
		pr := h.extractor.Page(fp.html, fp.page)
		records, failed := pr.Valid()
		if len(pr.Records) == 0 {
			res.EmptyPages++
		}
		res.FailedCards += failed
		res.Records = append(res.Records, records...)
	}

	h.log.Debug("facet harvested",
		zap.String("facet", facet.Name()),
		zap.Int("pages", pages),
		zap.Int("empty_pages", res.EmptyPages),
		zap.Int("records", len(res.Records)),
		zap.Int("failed_cards", res.FailedCards))
	return res
}
