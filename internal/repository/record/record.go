package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/jgivc/emogoexport/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	opFind   = "find"
	opInsert = "insert"
	opCount  = "count"

	statusOK    = "ok"
	statusError = "error"

	keyAttributes = "attributes"
)

// document is the shape records are written in. Payload fields are flattened
// so the collections stay readable from the mongo shell.
type document struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Timestamp  string             `bson:"timestamp"`
	UserID     string             `bson:"userId,omitempty"`
	MediaURL   string             `bson:"mediaUrl,omitempty"`
	Score      *float64           `bson:"score,omitempty"`
	Text       string             `bson:"text,omitempty"`
	Latitude   *float64           `bson:"latitude,omitempty"`
	Longitude  *float64           `bson:"longitude,omitempty"`
	Attributes bson.M             `bson:"attributes,omitempty"`
}

// Normalizer reads stored documents of any writer into records.
type Normalizer interface {
	FromStored(category entity.Category, doc map[string]any) (*entity.Record, error)
}

type recordRepository struct {
	db         *mongo.Database
	normalizer Normalizer
	timeout    time.Duration
	log        *slog.Logger
}

func NewRecordRepository(db *mongo.Database, normalizer Normalizer, timeout time.Duration, log *slog.Logger) *recordRepository {
	return &recordRepository{
		db:         db,
		normalizer: normalizer,
		timeout:    timeout,
		log:        log.With(slog.String("item", "RecordRepository")),
	}
}

func (r *recordRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}

	return nil
}

// ListAll returns every record of the category in insertion order. Documents
// that cannot be read are logged and left out.
func (r *recordRepository) ListAll(ctx context.Context, category entity.Category) (records []*entity.Record, err error) {
	defer r.observe(opFind, category, time.Now(), &err)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cursor, err := r.db.Collection(category.String()).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, r.storeError(ctx, "cannot find records", err)
	}
	defer cursor.Close(ctx)

	records = make([]*entity.Record, 0)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			r.log.Warn("Cannot decode record, skipped", slog.String("category", category.String()), slog.Any("error", err))

			continue
		}

		rec, err := r.fromStored(category, raw)
		if err != nil {
			r.log.Warn("Cannot read record, skipped", slog.String("category", category.String()), slog.Any("error", err))

			continue
		}

		records = append(records, rec)
	}

	if err := cursor.Err(); err != nil {
		return nil, r.storeError(ctx, "cannot read records", err)
	}

	return records, nil
}

func (r *recordRepository) Count(ctx context.Context, category entity.Category) (n int64, err error) {
	defer r.observe(opCount, category, time.Now(), &err)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err = r.db.Collection(category.String()).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, r.storeError(ctx, "cannot count records", err)
	}

	return n, nil
}

func (r *recordRepository) InsertOne(ctx context.Context, category entity.Category, rec *entity.Record) (id string, err error) {
	defer r.observe(opInsert, category, time.Now(), &err)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.Collection(category.String()).InsertOne(ctx, toDocument(rec))
	if err != nil {
		return "", r.writeError(ctx, "cannot insert record", err)
	}

	return objectIDString(res.InsertedID), nil
}

func (r *recordRepository) InsertMany(ctx context.Context, category entity.Category, recs []*entity.Record) (ids []string, err error) {
	if len(recs) == 0 {
		return []string{}, nil
	}

	defer r.observe(opInsert, category, time.Now(), &err)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	docs := make([]any, 0, len(recs))
	for _, rec := range recs {
		docs = append(docs, toDocument(rec))
	}

	res, err := r.db.Collection(category.String()).InsertMany(ctx, docs)
	if err != nil {
		return nil, r.writeError(ctx, "cannot insert records", err)
	}

	ids = make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		ids = append(ids, objectIDString(id))
	}

	return ids, nil
}

func (r *recordRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.timeout)
}

// storeError keeps caller cancellation as is and reports everything else as
// an unavailable store.
func (r *recordRepository) storeError(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", msg, err)
	}

	r.log.Error("Store operation failed", slog.String("op", msg), slog.Any("error", err))

	return fmt.Errorf("%s: %w: %w", msg, common.ErrStoreUnavailable, err)
}

// writeError reports documents rejected by the server as invalid records.
func (r *recordRepository) writeError(ctx context.Context, msg string, err error) error {
	var we mongo.WriteException
	if errors.As(err, &we) && len(we.WriteErrors) > 0 {
		return fmt.Errorf("%s: %w: %w", msg, common.ErrInvalidRecord, err)
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return fmt.Errorf("%s: %w: %w", msg, common.ErrInvalidRecord, err)
	}

	return r.storeError(ctx, msg, err)
}

func (r *recordRepository) observe(op string, category entity.Category, start time.Time, errp *error) {
	status := statusOK
	if *errp != nil {
		status = statusError
	}

	metrics.StoreOperations.WithLabelValues(op, category.String(), status).Inc()
	metrics.StoreOperationDuration.WithLabelValues(op, category.String()).Observe(time.Since(start).Seconds())
}

func toDocument(rec *entity.Record) *document {
	doc := &document{
		Timestamp: rec.Timestamp,
		UserID:    rec.UserID,
	}

	if len(rec.Attributes) > 0 {
		doc.Attributes = bson.M(rec.Attributes)
	}

	switch {
	case rec.Vlog != nil:
		doc.MediaURL = rec.Vlog.MediaURL
	case rec.Sentiment != nil:
		doc.Score = rec.Sentiment.Score
		doc.Text = rec.Sentiment.Text
	case rec.GPS != nil:
		doc.Latitude = rec.GPS.Latitude
		doc.Longitude = rec.GPS.Longitude
	}

	return doc
}

func (r *recordRepository) fromStored(category entity.Category, raw bson.M) (*entity.Record, error) {
	id := objectIDString(raw["_id"])

	doc := make(map[string]any, len(raw))
	for k, v := range raw {
		doc[k] = plain(v)
	}

	attrs, _ := doc[keyAttributes].(map[string]any)
	delete(doc, keyAttributes)

	rec, err := r.normalizer.FromStored(category, doc)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	rec.ID = id

	for k, v := range attrs {
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any, len(attrs))
		}
		if _, exists := rec.Attributes[k]; !exists {
			rec.Attributes[k] = v
		}
	}

	return rec, nil
}

// plain converts driver types into the ones records carry.
func plain(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}

		return t.String()
	case primitive.M:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = plain(v)
		}

		return m
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}

		return m
	case primitive.A:
		a := make([]any, 0, len(t))
		for _, v := range t {
			a = append(a, plain(v))
		}

		return a
	default:
		return v
	}
}

func objectIDString(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}

	return fmt.Sprint(id)
}
