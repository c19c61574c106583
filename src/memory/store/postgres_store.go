package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/memory/model"
)

const (
	postgresTable = "long_term_memory"

	postgresSimilarityThreshold = 0.9
)

// PostgresStore persists memories in Postgres with pgvector. Connections are
// pooled; each logical call acquires one and releases it on return.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embed.Embedder
}

var _ MemoryStore = (*PostgresStore)(nil)

// NewPostgresStore connects to Postgres and pings it before returning.
func NewPostgresStore(ctx context.Context, dsn string, embedder embed.Embedder) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	if embedder == nil {
		return nil, errors.New("postgres: embedder is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, embedder: embedder}, nil
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) tableExists(ctx context.Context) (bool, error) {
	conn, err := ps.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, postgresTable).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ensureTable creates the memory table on first write; the vector
// dimensionality is fixed from one real embedding.
func (ps *PostgresStore) ensureTable(ctx context.Context) error {
	exists, err := ps.tableExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	sample, err := ps.embedder.Embed(ctx, "sample text")
	if err != nil {
		return fmt.Errorf("sample embedding: %w", err)
	}

	conn, err := ps.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		"timestamp" TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d) NOT NULL
	)`, postgresTable, len(sample))
	_, err = conn.Exec(ctx, ddl)
	return err
}

// FindSimilar returns the best match with similarity >= 0.9, or nil.
func (ps *PostgresStore) FindSimilar(ctx context.Context, text string) (*model.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	results, err := ps.Search(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && results[0].Score >= postgresSimilarityThreshold {
		return &results[0], nil
	}
	return nil, nil
}

// Store upserts a memory row keyed by its identity.
func (ps *PostgresStore) Store(ctx context.Context, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if err := ps.ensureTable(ctx); err != nil {
		return fmt.Errorf("postgres ensure table: %w", err)
	}

	similar, err := ps.FindSimilar(ctx, text)
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

	embedding, err := ps.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("postgres embed %q: %w", truncate(text, 50), err)
	}

	metaJSON, err := json.Marshal(passthroughMetadata(metadata))
	if err != nil {
		return fmt.Errorf("postgres marshal metadata: %w", err)
	}

	conn, err := ps.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres acquire: %w", err)
	}
	defer conn.Release()

	query := fmt.Sprintf(`INSERT INTO %s (id, text, "timestamp", metadata, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			"timestamp" = EXCLUDED."timestamp",
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, postgresTable)
	_, err = conn.Exec(ctx, query,
		id, text, model.NormalizeTimestamp(metadata["timestamp"]), metaJSON, vectorLiteral(embedding))
	if err != nil {
		log.Printf("postgres store %q: %v", truncate(text, 50), err)
		return fmt.Errorf("postgres store: %w", err)
	}
	return nil
}

// Search orders rows by cosine distance to the query embedding. Backend
// failures are logged and degrade to an empty result.
func (ps *PostgresStore) Search(ctx context.Context, query string, k int) ([]model.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyText
	}
	if k <= 0 {
		k = DefaultTopK
	}

	exists, err := ps.tableExists(ctx)
	if err != nil {
		log.Printf("postgres search %q: %v", truncate(query, 50), err)
		return nil, nil
	}
	if !exists {
		return nil, nil
	}

	embedding, err := ps.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("postgres search %q: embed: %v", truncate(query, 50), err)
		return nil, nil
	}

	conn, err := ps.pool.Acquire(ctx)
	if err != nil {
		log.Printf("postgres search %q: acquire: %v", truncate(query, 50), err)
		return nil, nil
	}
	defer conn.Release()

	sql := fmt.Sprintf(`SELECT id, text, "timestamp", metadata,
			1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, postgresTable)
	rows, err := conn.Query(ctx, sql, vectorLiteral(embedding), k)
	if err != nil {
		log.Printf("postgres search %q: %v", truncate(query, 50), err)
		return nil, nil
	}
	defer rows.Close()

	var results []model.Memory
	for rows.Next() {
		var (
			id, text, timestamp string
			metaJSON            []byte
			score               float64
		)
		if err := rows.Scan(&id, &text, &timestamp, &metaJSON, &score); err != nil {
			log.Printf("postgres search %q: scan: %v", truncate(query, 50), err)
			return nil, nil
		}
		metadata := map[string]any{}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &metadata)
		}
		metadata["id"] = id
		metadata["timestamp"] = timestamp
		results = append(results, model.Memory{Text: text, Metadata: metadata, Score: score})
	}
	if err := rows.Err(); err != nil {
		log.Printf("postgres search %q: rows: %v", truncate(query, 50), err)
		return nil, nil
	}
	return results, nil
}

// vectorLiteral renders an embedding in pgvector's input syntax.
func vectorLiteral(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
