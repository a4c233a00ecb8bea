package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS award_records (
	reference TEXT PRIMARY KEY,
	facet TEXT NOT NULL,
	objet TEXT,
	acheteur TEXT,
	date_publication TEXT,
	nombre_devis TEXT,
	attribue BOOLEAN NOT NULL DEFAULT FALSE,
	entreprise_attributaire TEXT,
	montant TEXT,
	content_hash TEXT NOT NULL,
	first_scraped TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_scraped TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	scraped_count INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_award_records_facet ON award_records(facet);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	facets INTEGER NOT NULL,
	pages INTEGER NOT NULL,
	records INTEGER NOT NULL,
	awarded INTEGER NOT NULL,
	infructuous INTEGER NOT NULL,
	failed_cards INTEGER NOT NULL,
	new_entries INTEGER NOT NULL,
	sink_errors INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	error TEXT
);
`

// upsertSQL leaves rows whose content hash is unchanged untouched, so a
// returned row means the record was inserted or changed.
const upsertSQL = `
INSERT INTO award_records (reference, facet, objet, acheteur, date_publication, nombre_devis,
	attribue, entreprise_attributaire, montant, content_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (reference) DO UPDATE SET
	facet = EXCLUDED.facet,
	objet = EXCLUDED.objet,
	acheteur = EXCLUDED.acheteur,
	date_publication = EXCLUDED.date_publication,
	nombre_devis = EXCLUDED.nombre_devis,
	attribue = EXCLUDED.attribue,
	entreprise_attributaire = EXCLUDED.entreprise_attributaire,
	montant = EXCLUDED.montant,
	content_hash = EXCLUDED.content_hash,
	last_scraped = NOW(),
	scraped_count = award_records.scraped_count + 1
WHERE award_records.content_hash IS DISTINCT FROM EXCLUDED.content_hash
RETURNING reference;
`

type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgres(cfg config.PostgresConfig, log *zap.Logger) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	p := &Postgres{pool: pool, log: log}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) SaveRecords(ctx context.Context, facet string, records []models.ListingRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		if r.Reference == nil {
			continue
		}
		batch.Queue(upsertSQL,
			*r.Reference, facet, r.ObjectDescription, r.Buyer, r.PublicationDate, r.QuoteCount,
			r.IsAwarded, r.AwardedCompany, r.Amount, r.ContentHash())
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	changed := 0
	for i := 0; i < batch.Len(); i++ {
		var ref string
		err := br.QueryRow().Scan(&ref)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("postgres batch upsert item %d: %w", i, err)
		}
		changed++
	}
	return changed, nil
}

func (p *Postgres) FacetStats(ctx context.Context, facet string) (FacetStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats := FacetStats{Facet: facet}
	err := p.pool.QueryRow(ctx, `
	SELECT COUNT(*), COUNT(*) FILTER (WHERE attribue),
		COALESCE(EXTRACT(EPOCH FROM MAX(last_scraped))::BIGINT, 0)
	FROM award_records WHERE facet = $1`, facet).Scan(&stats.Records, &stats.Awarded, &stats.LastScraped)
	if err != nil {
		return FacetStats{}, fmt.Errorf("facet stats %s: %w", facet, err)
	}
	return stats, nil
}

func (p *Postgres) GetRecord(ctx context.Context, reference string) (*models.RecordDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc models.RecordDocument
	err := p.pool.QueryRow(ctx, `
	SELECT reference, facet, objet, acheteur, date_publication, nombre_devis, attribue,
		entreprise_attributaire, montant, content_hash,
		EXTRACT(EPOCH FROM first_scraped)::BIGINT, EXTRACT(EPOCH FROM last_scraped)::BIGINT, scraped_count
	FROM award_records WHERE reference = $1`, reference).Scan(
		&doc.Reference, &doc.Facet, &doc.ObjectDescription, &doc.Buyer, &doc.PublicationDate,
		&doc.QuoteCount, &doc.IsAwarded, &doc.AwardedCompany, &doc.Amount, &doc.ContentHash,
		&doc.FirstScraped, &doc.LastScraped, &doc.ScrapedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", reference, err)
	}
	return &doc, nil
}

func (p *Postgres) SaveRunHistory(ctx context.Context, run *models.RunHistory) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
	INSERT INTO scrape_runs (id, mode, facets, pages, records, awarded, infructuous, failed_cards,
		new_entries, sink_errors, started_at, duration_ms, status, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''))`,
		run.ID, run.Mode, run.Facets, run.Pages, run.Records, run.Awarded, run.Infructuous,
		run.FailedCards, run.NewEntries, run.SinkErrors, time.Unix(run.StartedAt, 0),
		run.Duration, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}
