package db

import (
	"context"
	"errors"

	"award_spider/internal/config"
	"award_spider/internal/models"

	"go.uber.org/zap"
)

// Sink mirrors merged records to an external database. The JSON store stays
// the system of record, so sink failures are reported but never fatal.
type Sink interface {
	// SaveRecords upserts records by reference and returns how many were
	// inserted or changed.
	SaveRecords(ctx context.Context, facet string, records []models.ListingRecord) (int, error)
	SaveRunHistory(ctx context.Context, run *models.RunHistory) error
	Close() error
}

// Multi fans one call out to several sinks.
type Multi []Sink

func (m Multi) SaveRecords(ctx context.Context, facet string, records []models.ListingRecord) (int, error) {
	best := 0
	var errs []error
	for _, s := range m {
		n, err := s.SaveRecords(ctx, facet, records)
		if err != nil {
			errs = append(errs, err)
		}
		if n > best {
			best = n
		}
	}
	return best, errors.Join(errs...)
}

func (m Multi) SaveRunHistory(ctx context.Context, run *models.RunHistory) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveRunHistory(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open connects every enabled sink. It returns nil when none is enabled.
func Open(cfg config.DBConfig, log *zap.Logger) (Sink, error) {
	var sinks Multi
	if cfg.Mongo.Enabled {
		m, err := NewMongoDB(cfg.Mongo, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, m)
	}
	if cfg.Postgres.Enabled {
		p, err := NewPostgres(cfg.Postgres, log)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, p)
	}
	if cfg.Redis.Enabled {
		r, err := NewRedis(cfg.Redis, log)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, r)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}
