package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	commonlog "vec_server/server/common/log"
	"vec_server/server/vecman/domain"
)

// PgVectorService is the Postgres/pgvector backend. The payload lives in a
// jsonb column; content_id and type are mirrored into real columns so the
// filter paths stay indexable.
type PgVectorService struct {
	dsn        string
	table      string
	vectorSize int
	pool       *pgxpool.Pool
}

var metadataKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func NewPgVectorService(dsn, table string, vectorSize int) *PgVectorService {
	normalizedTable := strings.TrimSpace(table)
	if normalizedTable == "" {
		normalizedTable = "unified_collection"
	}
	return &PgVectorService{dsn: dsn, table: normalizedTable, vectorSize: vectorSize}
}

func (p *PgVectorService) Connect(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	cfg, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				p.pool = pool
				return nil
			}
			pool.Close()
		}
		lastErr = err
		if attempt < maxRetries {
			commonlog.Warnf("postgres connect attempt %d/%d failed: %v", attempt, maxRetries, err)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

func (p *PgVectorService) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *PgVectorService) EnsureCollection(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("ensure pgvector extension: %w", err)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			point_id uuid PRIMARY KEY,
			content_id text NOT NULL,
			content_type text NOT NULL,
			payload jsonb NOT NULL,
			embedding vector(%d) NOT NULL
		)`, p.table, p.vectorSize)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("ensure table %s: %w", p.table, err)
	}
	return nil
}

func (p *PgVectorService) EnsureIndexes(ctx context.Context, metadataKeys []string) {
	statements := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_content_id_idx ON %s (content_id)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_content_type_idx ON %s (content_type)`, p.table, p.table),
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			commonlog.Warnf("create index: %v", err)
		}
	}
	for _, key := range metadataKeys {
		p.EnsureMetadataIndex(ctx, key)
	}
}

func (p *PgVectorService) EnsureMetadataIndex(ctx context.Context, key string) {
	if !metadataKeyPattern.MatchString(key) {
		commonlog.Warnf("skip metadata index for unsafe key %q", key)
		return
	}
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_meta_%s_idx ON %s ((payload->'metadata'->>'%s'))`,
		p.table, key, p.table, key,
	)
	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		commonlog.Warnf("create metadata index for %s: %v", key, err)
	}
}

func (p *PgVectorService) Upsert(ctx context.Context, points []UpsertPoint) error {
	for _, point := range points {
		payloadJSON, err := json.Marshal(point.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		stmt := fmt.Sprintf(`
			INSERT INTO %s (point_id, content_id, content_type, payload, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (point_id) DO UPDATE SET
				content_id = EXCLUDED.content_id,
				content_type = EXCLUDED.content_type,
				payload = EXCLUDED.payload,
				embedding = EXCLUDED.embedding`, p.table)
		if _, err := p.pool.Exec(ctx, stmt,
			point.ID,
			point.Payload.ContentID,
			string(point.Payload.Type),
			payloadJSON,
			pgvector.NewVector(point.Vector),
		); err != nil {
			return err
		}
	}
	return nil
}

func (p *PgVectorService) Delete(ctx context.Context, pointID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE point_id = $1`, p.table)
	_, err := p.pool.Exec(ctx, stmt, pointID)
	return err
}

func (p *PgVectorService) FindByContentID(ctx context.Context, contentID string) (*FoundPoint, error) {
	stmt := fmt.Sprintf(`SELECT point_id, payload, embedding FROM %s WHERE content_id = $1 LIMIT 1`, p.table)

	var pointID string
	var payloadJSON []byte
	var embedding pgvector.Vector
	err := p.pool.QueryRow(ctx, stmt, contentID).Scan(&pointID, &payloadJSON, &embedding)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payload domain.Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &FoundPoint{ID: pointID, Vector: embedding.Slice(), Payload: payload}, nil
}

func (p *PgVectorService) Search(ctx context.Context, vector []float32, filters []FieldFilter, limit int) ([]ScoredPoint, error) {
	args := []any{pgvector.NewVector(vector)}
	where := make([]string, 0, len(filters))
	for _, filter := range filters {
		value := fmt.Sprintf("%v", filter.Value)
		switch {
		case filter.Key == "content_id":
			args = append(args, value)
			where = append(where, fmt.Sprintf("content_id = $%d", len(args)))
		case filter.Key == "type":
			args = append(args, value)
			where = append(where, fmt.Sprintf("content_type = $%d", len(args)))
		case strings.HasPrefix(filter.Key, "metadata."):
			args = append(args, strings.TrimPrefix(filter.Key, "metadata."), value)
			where = append(where, fmt.Sprintf("payload->'metadata'->>$%d = $%d", len(args)-1, len(args)))
		default:
			args = append(args, filter.Key, value)
			where = append(where, fmt.Sprintf("payload->>$%d = $%d", len(args)-1, len(args)))
		}
	}

	stmt := fmt.Sprintf(`SELECT point_id, payload, 1 - (embedding <=> $1) AS score FROM %s`, p.table)
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	stmt += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]ScoredPoint, 0)
	for rows.Next() {
		var pointID string
		var payloadJSON []byte
		var score float64
		if err := rows.Scan(&pointID, &payloadJSON, &score); err != nil {
			return nil, err
		}
		var payload domain.Payload
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		items = append(items, ScoredPoint{ID: pointID, Score: score, Payload: payload})
	}
	return items, rows.Err()
}
