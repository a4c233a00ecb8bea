package db

import (
	"context"
	"errors"

	"award_spider/internal/models"
)

// ErrNoReader is returned when no configured sink can answer queries.
var ErrNoReader = errors.New("no mirror database can answer queries")

// FacetStats summarises what a mirror holds for one facet.
type FacetStats struct {
	Facet       string
	Records     int64
	Awarded     int64
	LastScraped int64 // unix seconds, 0 when nothing was scraped
}

// Reader answers queries about mirrored records. GetRecord returns nil, nil
// for an unknown reference.
type Reader interface {
	FacetStats(ctx context.Context, facet string) (FacetStats, error)
	GetRecord(ctx context.Context, reference string) (*models.RecordDocument, error)
}

// FacetStats asks each reading member in turn and returns the first answer.
func (m Multi) FacetStats(ctx context.Context, facet string) (FacetStats, error) {
	var errs []error
	for _, s := range m {
		r, ok := s.(Reader)
		if !ok {
			continue
		}
		st, err := r.FacetStats(ctx, facet)
		if err == nil {
			return st, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return FacetStats{}, ErrNoReader
	}
	return FacetStats{}, errors.Join(errs...)
}

// GetRecord returns the first member's copy of reference.
func (m Multi) GetRecord(ctx context.Context, reference string) (*models.RecordDocument, error) {
	var errs []error
	readers := 0
	for _, s := range m {
		r, ok := s.(Reader)
		if !ok {
			continue
		}
		readers++
		doc, err := r.GetRecord(ctx, reference)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if doc != nil {
			return doc, nil
		}
	}
	if readers == 0 {
		return nil, ErrNoReader
	}
	return nil, errors.Join(errs...)
}
