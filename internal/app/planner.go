package app

import (
	"context"

	"award_spider/internal/extract"
	"award_spider/internal/models"
	"award_spider/internal/query"

	"go.uber.org/zap"
)

// PageFetcher is the part of fetcher.Client the pipeline depends on.
type PageFetcher interface {
	// Get performs a single attempt.
	Get(ctx context.Context, url string) (string, error)
	// Fetch retries and returns "" once attempts are exhausted.
	Fetch(ctx context.Context, url string) string
}

// Planner reads the result count from a facet's first page.
type Planner struct {
	fetcher  PageFetcher
	urls     query.Builder
	pageSize int
	log      *zap.Logger
}

func NewPlanner(f PageFetcher, urls query.Builder, log *zap.Logger) *Planner {
	return &Planner{fetcher: f, urls: urls, pageSize: urls.PageSize, log: log}
}

// Plan returns the page count and total result count for facet. Any failure
// degrades to a single page with an unknown total of 0.
func (p *Planner) Plan(ctx context.Context, facet models.Facet) (maxPages, total int) {
	url := p.urls.URL(facet, 0)
	body, err := p.fetcher.Get(ctx, url)
	if err != nil {
		p.log.Warn("pagination lookup failed, assuming one page",
			zap.String("facet", facet.Name()), zap.Error(err))
		return 1, 0
	}

	total, ok := extract.TotalResults(body)
	if !ok || total <= 0 || p.pageSize <= 0 {
		p.log.Debug("no result count found, assuming one page", zap.String("facet", facet.Name()))
		return 1, 0
	}
	return (total + p.pageSize - 1) / p.pageSize, total
}
