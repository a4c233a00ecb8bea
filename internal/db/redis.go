package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxRuns bounds the run history list.
const maxRuns = 1000

// Redis keeps one hash per record under <prefix>record:<reference>, a set of
// references per facet and a capped list of run summaries.
type Redis struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

func NewRedis(cfg config.RedisConfig, log *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("can't ping Redis: %w", err)
	}

	return &Redis{client: client, prefix: cfg.Prefix, log: log, now: time.Now}, nil
}

func (r *Redis) recordKey(ref string) string { return r.prefix + "record:" + ref }
func (r *Redis) facetKey(facet string) string { return r.prefix + "facet:" + facet }
func (r *Redis) runsKey() string { return r.prefix + "runs" }

// recordFields is the hash written for a new or changed record.
func recordFields(rec models.ListingRecord, facet, hash string, now int64) map[string]any {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return map[string]any{
		"reference":               rec.Ref(),
		"facet":                   facet,
		"objet":                   deref(rec.ObjectDescription),
		"acheteur":                deref(rec.Buyer),
		"date_publication":        deref(rec.PublicationDate),
		"nombre_devis":            deref(rec.QuoteCount),
		"attribue":                rec.IsAwarded,
		"entreprise_attributaire": deref(rec.AwardedCompany),
		"montant":                 deref(rec.Amount),
		"content_hash":            hash,
		"last_modified":           now,
	}
}

// SaveRecords reads the stored hashes in one round trip, then writes every
// new or changed record and bumps the scrape counters in a second one.
func (r *Redis) SaveRecords(ctx context.Context, facet string, records []models.ListingRecord) (int, error) {
	keyed := make([]models.ListingRecord, 0, len(records))
	for _, rec := range records {
		if rec.Ref() != "" {
			keyed = append(keyed, rec)
		}
	}
	if len(keyed) == 0 {
		return 0, nil
	}

	read := r.client.Pipeline()
	hashes := make([]*redis.StringCmd, len(keyed))
	for i, rec := range keyed {
		hashes[i] = read.HGet(ctx, r.recordKey(rec.Ref()), "content_hash")
	}
	if _, err := read.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read record hashes: %w", err)
	}

	now := r.now().Unix()
	write := r.client.TxPipeline()
	changed := 0
	refs := make([]any, 0, len(keyed))
	for i, rec := range keyed {
		key := r.recordKey(rec.Ref())
		hash := rec.ContentHash()
		stored, err := hashes[i].Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, err
		}
		if stored != hash {
			changed++
			write.HSet(ctx, key, recordFields(rec, facet, hash, now))
		}
		write.HSetNX(ctx, key, "first_scraped", now)
		write.HSet(ctx, key, "last_scraped", now)
		write.HIncrBy(ctx, key, "scraped_count", 1)
		refs = append(refs, rec.Ref())
	}
	write.SAdd(ctx, r.facetKey(facet), refs...)

	if _, err := write.Exec(ctx); err != nil {
		return 0, fmt.Errorf("write records: %w", err)
	}
	r.log.Debug("redis records saved", zap.String("facet", facet), zap.Int("changed", changed), zap.Int("seen", len(keyed)))
	return changed, nil
}

func (r *Redis) SaveRunHistory(ctx context.Context, run *models.RunHistory) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.runsKey(), data)
	pipe.LTrim(ctx, r.runsKey(), 0, maxRuns-1)
	_, err = pipe.Exec(ctx)
	return err
}

// FacetStats counts the facet's references whose latest save was under
// this facet.
func (r *Redis) FacetStats(ctx context.Context, facet string) (FacetStats, error) {
	stats := FacetStats{Facet: facet}
	refs, err := r.client.SMembers(ctx, r.facetKey(facet)).Result()
	if err != nil {
		return stats, fmt.Errorf("facet members %s: %w", facet, err)
	}
	if len(refs) == 0 {
		return stats, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(refs))
	for i, ref := range refs {
		cmds[i] = pipe.HMGet(ctx, r.recordKey(ref), "facet", "attribue", "last_scraped")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return stats, fmt.Errorf("facet records %s: %w", facet, err)
	}

	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 {
			continue
		}
		if f, _ := vals[0].(string); f != facet {
			continue
		}
		stats.Records++
		if a, _ := vals[1].(string); a == "1" {
			stats.Awarded++
		}
		if ts, _ := vals[2].(string); ts != "" {
			if n, err := strconv.ParseInt(ts, 10, 64); err == nil && n > stats.LastScraped {
				stats.LastScraped = n
			}
		}
	}
	return stats, nil
}

func (r *Redis) GetRecord(ctx context.Context, reference string) (*models.RecordDocument, error) {
	vals, err := r.client.HGetAll(ctx, r.recordKey(reference)).Result()
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", reference, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return recordFromHash(vals), nil
}

// recordFromHash reverses recordFields. Empty strings come back as nil.
func recordFromHash(vals map[string]string) *models.RecordDocument {
	opt := func(k string) *string {
		if v := vals[k]; v != "" {
			return &v
		}
		return nil
	}
	num := func(k string) int64 {
		n, _ := strconv.ParseInt(vals[k], 10, 64)
		return n
	}

	doc := &models.RecordDocument{
		ListingRecord: models.ListingRecord{
			Reference:         opt("reference"),
			ObjectDescription: opt("objet"),
			Buyer:             opt("acheteur"),
			PublicationDate:   opt("date_publication"),
			QuoteCount:        opt("nombre_devis"),
			IsAwarded:         vals["attribue"] == "1",
			AwardedCompany:    opt("entreprise_attributaire"),
			Amount:            opt("montant"),
		},
		Facet:        vals["facet"],
		ContentHash:  vals["content_hash"],
		FirstScraped: num("first_scraped"),
		LastScraped:  num("last_scraped"),
		LastModified: num("last_modified"),
		ScrapedCount: int(num("scraped_count")),
	}
	return doc
}

func (r *Redis) Close() error {
	return r.client.Close()
}
