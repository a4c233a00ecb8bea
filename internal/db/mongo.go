package db

import (
	"context"
	"fmt"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoDB struct {
	client  *mongo.Client
	records *mongo.Collection
	runs    *mongo.Collection
	log     *zap.Logger
	now     func() time.Time
}

func NewMongoDB(cfg config.MongoConfig, log *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)
	d := &MongoDB{
		client:  client,
		records: database.Collection(cfg.Collections.Records),
		runs:    database.Collection(cfg.Collections.Runs),
		log:     log,
		now:     time.Now,
	}
	d.createIndexes(ctx)
	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "last_scraped", Value: 1}}},
		{Keys: bson.D{{Key: "facet", Value: 1}}},
	}
	if _, err := d.records.Indexes().CreateMany(ctx, indexes); err != nil {
		d.log.Warn("failed to create record indexes", zap.Error(err))
	}
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// recordUpdate builds the upsert for one record. An unchanged content hash
// only touches last_scraped; a new or changed record rewrites every field.
func recordUpdate(doc *models.RecordDocument, existingHash string, found bool, now int64) bson.M {
	if found && existingHash == doc.ContentHash {
		return bson.M{
			"$set": bson.M{"last_scraped": now},
			"$inc": bson.M{"scraped_count": 1},
		}
	}

	set := bson.M{
		"reference":               doc.Reference,
		"objet":                   doc.ObjectDescription,
		"acheteur":                doc.Buyer,
		"date_publication":        doc.PublicationDate,
		"nombre_devis":            doc.QuoteCount,
		"attribue":                doc.IsAwarded,
		"entreprise_attributaire": doc.AwardedCompany,
		"montant":                 doc.Amount,
		"facet":                   doc.Facet,
		"content_hash":            doc.ContentHash,
		"last_scraped":            now,
		"last_modified":           now,
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"scraped_count": 1},
	}
	if !found {
		update["$setOnInsert"] = bson.M{"first_scraped": now}
	}
	return update
}

func (d *MongoDB) SaveRecords(ctx context.Context, facet string, records []models.ListingRecord) (int, error) {
	changed := 0
	for _, r := range records {
		if r.Reference == nil {
			continue
		}
		ok, err := d.saveRecord(ctx, facet, r)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (d *MongoDB) saveRecord(ctx context.Context, facet string, r models.ListingRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := &models.RecordDocument{ListingRecord: r, Facet: facet, ContentHash: r.ContentHash()}
	filter := bson.M{"reference": *r.Reference}

	var existing struct {
		ContentHash string `bson:"content_hash"`
	}
	err := d.records.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"content_hash": 1})).Decode(&existing)
	found := err == nil
	if err != nil && err != mongo.ErrNoDocuments {
		return false, fmt.Errorf("find record %s: %w", *r.Reference, err)
	}

	update := recordUpdate(doc, existing.ContentHash, found, d.now().Unix())
	if _, err := d.records.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return false, fmt.Errorf("upsert record %s: %w", *r.Reference, err)
	}
	return !found || existing.ContentHash != doc.ContentHash, nil
}

func (d *MongoDB) GetRecord(ctx context.Context, reference string) (*models.RecordDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc models.RecordDocument
	err := d.records.FindOne(ctx, bson.M{"reference": reference}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", reference, err)
	}
	return &doc, nil
}

// FacetStats aggregates counts for one facet.
func (d *MongoDB) FacetStats(ctx context.Context, facet string) (FacetStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "facet", Value: facet}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_records", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "awarded_records", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{"$attribue", 1, 0}}}}}},
			{Key: "last_scraped", Value: bson.D{{Key: "$max", Value: "$last_scraped"}}},
		}}},
	}

	cursor, err := d.records.Aggregate(ctx, pipeline)
	if err != nil {
		return FacetStats{}, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		Records     int64 `bson:"total_records"`
		Awarded     int64 `bson:"awarded_records"`
		LastScraped int64 `bson:"last_scraped"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return FacetStats{}, err
	}
	stats := FacetStats{Facet: facet}
	if len(results) > 0 {
		stats.Records = results[0].Records
		stats.Awarded = results[0].Awarded
		stats.LastScraped = results[0].LastScraped
	}
	return stats, nil
}

func (d *MongoDB) SaveRunHistory(ctx context.Context, run *models.RunHistory) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.runs.InsertOne(ctx, run)
	return err
}
