package writer

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// Document fields added to every item written by MongoWriter.
const (
	MongoOffsetField = "_offset"
	MongoKeyField    = "_id"
)

// BulkWriter is the part of *mongo.Collection used by MongoWriter.
type BulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// MongoWriter upserts every item as a document keyed by its source offset.
// MongoDB cannot join the chunk transaction; replaying a rolled back chunk overwrites the
// same documents, so a restarted step leaves exactly one document per record.
type MongoWriter struct {
	name      string
	coll      BulkWriter
	keyPrefix string
}

var _ port.ItemWriter = (*MongoWriter)(nil)

// NewMongoWriter creates a MongoWriter. Documents are keyed "<keyPrefix>:<offset>";
// keyPrefix defaults to name.
func NewMongoWriter(name string, coll BulkWriter, keyPrefix string) (*MongoWriter, error) {
	if coll == nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("mongo writer '%s': collection is required", name), nil)
	}
	if keyPrefix == "" {
		keyPrefix = name
	}
	return &MongoWriter{name: name, coll: coll, keyPrefix: keyPrefix}, nil
}

// Key returns the document key of the record at offset.
func (w *MongoWriter) Key(offset int64) string {
	return fmt.Sprintf("%s:%d", w.keyPrefix, offset)
}

// Write upserts items in one ordered bulk write.
func (w *MongoWriter) Write(ctx context.Context, t tx.Tx, items []any) error {
	chunk := port.GetChunkFromContext(ctx)
	if chunk == nil || len(chunk.Offsets) != len(items) {
		return exception.NewWriteError(len(items), errors.New("mongo writer needs the chunk offsets in the context"))
	}

	writes := make([]mongo.WriteModel, 0, len(items))
	for i, item := range items {
		doc, err := toDocument(item)
		if err != nil {
			return exception.NewWriteError(len(items), fmt.Errorf("mongo writer '%s': item at offset %d: %w", w.name, chunk.Offsets[i], err))
		}
		doc[MongoOffsetField] = chunk.Offsets[i]
		filter := bson.M{MongoKeyField: w.Key(chunk.Offsets[i])}
		writes = append(writes, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(bson.M{"$set": doc}).SetUpsert(true))
	}

	res, err := w.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return exception.NewWriteError(len(items), fmt.Errorf("mongo writer '%s': %w", w.name, err))
	}
	logger.Debugf("MongoWriter '%s': BulkWrite matched %d, modified %d, upserted %d.", w.name, res.MatchedCount, res.ModifiedCount, res.UpsertedCount)
	return nil
}

// toDocument converts item into a document through its bson encoding.
func toDocument(item any) (bson.M, error) {
	raw, err := bson.Marshal(item)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, MongoKeyField)
	return doc, nil
}

// ConnectMongo connects to uri and returns the named collection. The caller disconnects the client.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, client.Database(database).Collection(collection), nil
}
