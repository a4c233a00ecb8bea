package app

import (
	"context"
	"fmt"
	"time"

	"award_spider/internal/models"

	"go.uber.org/zap"
)

// DaysSinceWednesday lists calendar days from the most recent Wednesday up
// to and including today. On a Wednesday it is just today.
func DaysSinceWednesday(today time.Time) []time.Time {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(today.Weekday()) - int(time.Wednesday) + 7) % 7
	days := make([]time.Time, 0, back+1)
	for d := today.AddDate(0, 0, -back); !d.After(today); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// PublishedOnDay keeps records that have a reference and were published on
// the facet's day.
func PublishedOnDay(facet models.Facet, r models.ListingRecord) bool {
	if r.Reference == nil || facet.Day == nil {
		return false
	}
	pub, ok := r.PublishedOn()
	if !ok {
		return false
	}
	return pub.Equal(*facet.Day)
}

// DayFacets crosses one day with every nature, or returns a single
// nature-less facet when the catalogue is empty.
func DayFacets(day time.Time, natures []models.Nature) []models.Facet {
	if len(natures) == 0 {
		return []models.Facet{models.DayFacet(day, nil)}
	}
	facets := make([]models.Facet, 0, len(natures))
	for i := range natures {
		n := natures[i]
		facets = append(facets, models.DayFacet(day, &n))
	}
	return facets
}

// RunDays runs the incremental pipeline once per day, in order. Days never
// overlap, so each per-nature store has one writer at a time.
func RunDays(ctx context.Context, o *Orchestrator, days []time.Time, natures []models.Nature, log *zap.Logger) (RunStats, error) {
	prev := o.Filter
	o.Filter = PublishedOnDay
	defer func() { o.Filter = prev }()

	var total RunStats
	for _, day := range days {
		log.Info("daily scrape", zap.String("day", day.Format("2006-01-02")))
		stats, err := o.Run(ctx, DayFacets(day, natures), ModeIncremental)
		total.add(stats)
		if err != nil {
			return total, fmt.Errorf("day %s: %w", day.Format("2006-01-02"), err)
		}
		log.Info("day complete",
			zap.String("day", day.Format("2006-01-02")),
			zap.Int("records", stats.Records),
			zap.Int("new", stats.NewEntries))
	}
	return total, nil
}
