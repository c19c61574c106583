package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/memory/model"
)

const (
	mongoCollection = "long_term_memory"

	mongoSimilarityThreshold = 0.9

	mongoCloseTimeout = 5 * time.Second
)

// MongoStore runs nearest-neighbour search through a MongoDB Atlas
// $vectorSearch index named "vector_index" on the embedding field.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	embedder   embed.Embedder
}

var _ MemoryStore = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB and pings it before returning, so
// configuration problems surface at construction.
func NewMongoStore(ctx context.Context, uri, database string, embedder embed.Embedder) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	if embedder == nil {
		return nil, errors.New("mongo: embedder is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(mongoCollection),
		embedder:   embedder,
	}, nil
}

// Close releases the underlying client.
func (ms *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

type mongoMemoryDocument struct {
	ID        string         `bson:"_id"`
	Text      string         `bson:"text"`
	Timestamp string         `bson:"timestamp"`
	Metadata  map[string]any `bson:"metadata"`
	Embedding []float64      `bson:"embedding"`
}

func (doc mongoMemoryDocument) toMemory(score float64) model.Memory {
	metadata := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata["id"] = doc.ID
	metadata["timestamp"] = doc.Timestamp
	return model.Memory{Text: doc.Text, Metadata: metadata, Score: score}
}

// FindSimilar returns the best match with similarity >= 0.9, or nil.
func (ms *MongoStore) FindSimilar(ctx context.Context, text string) (*model.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	results, err := ms.Search(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && results[0].Score >= mongoSimilarityThreshold {
		return &results[0], nil
	}
	return nil, nil
}

// Store upserts a memory document keyed by its identity.
func (ms *MongoStore) Store(ctx context.Context, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	similar, err := ms.FindSimilar(ctx, text)
	if err != nil {
		return err
	}

	id := ""
	if similar != nil {
		id = similar.ID()
	}
	if id == "" {
		id = model.StringFromAny(metadata["id"])
	}
	if id == "" {
		id = uuid.NewString()
	}

	embedding, err := ms.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("mongo embed %q: %w", truncate(text, 50), err)
	}

	doc := mongoMemoryDocument{
		ID:        id,
		Text:      text,
		Timestamp: model.NormalizeTimestamp(metadata["timestamp"]),
		Metadata:  passthroughMetadata(metadata),
		Embedding: float64Embedding(embedding),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		log.Printf("mongo store %q: %v", truncate(text, 50), err)
		return fmt.Errorf("mongo store: %w", err)
	}
	return nil
}

// Search runs a $vectorSearch aggregation. Backend failures are logged and
// degrade to an empty result.
func (ms *MongoStore) Search(ctx context.Context, query string, k int) ([]model.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyText
	}
	if k <= 0 {
		k = DefaultTopK
	}

	embedding, err := ms.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("mongo search %q: embed: %v", truncate(query, 50), err)
		return nil, nil
	}

	pipeline := mongo.Pipeline{
		{
			{Key: "$vectorSearch", Value: bson.D{
				{Key: "index", Value: "vector_index"},
				{Key: "path", Value: "embedding"},
				{Key: "queryVector", Value: float64Embedding(embedding)},
				{Key: "numCandidates", Value: int64(k * 10)},
				{Key: "limit", Value: int64(k)},
			}},
		},
		{
			{Key: "$addFields", Value: bson.D{
				{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
			}},
		},
	}

	cursor, err := ms.collection.Aggregate(ctx, pipeline)
	if err != nil {
		log.Printf("mongo search %q: %v", truncate(query, 50), err)
		return nil, nil
	}
	defer cursor.Close(ctx)

	var results []model.Memory
	for cursor.Next(ctx) {
		var doc struct {
			mongoMemoryDocument `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			log.Printf("mongo search %q: decode: %v", truncate(query, 50), err)
			return nil, nil
		}
		results = append(results, doc.toMemory(doc.Score))
	}
	if err := cursor.Err(); err != nil {
		log.Printf("mongo search %q: cursor: %v", truncate(query, 50), err)
		return nil, nil
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func float64Embedding(embedding []float32) []float64 {
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = float64(v)
	}
	return out
}
