package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/catdevman/image-transform/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore keeps records in a single table with JSONB columns for the
// open-schema parts. Strict mode relies on a unique index on key.
type PostgresStore struct {
	db     DBTX
	table  string
	strict bool
}

func NewPostgresStore(db DBTX, table string, strict bool) *PostgresStore {
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize(), strict: strict}
}

// Migrate creates the table and its key index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_id UUID PRIMARY KEY,
			key TEXT NOT NULL,
			source_location TEXT NOT NULL,
			derived_locations JSONB NOT NULL,
			basic_attributes JSONB NOT NULL,
			extended_attributes JSONB NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	index := "CREATE INDEX IF NOT EXISTS %s ON %s (key)"
	name := "key_idx"
	if s.strict {
		index = "CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (key)"
		name = "key_unique_idx"
	}
	_, err = s.db.Exec(ctx, fmt.Sprintf(index, pgx.Identifier{name}.Sanitize(), s.table))
	if err != nil {
		return fmt.Errorf("create key index: %w", err)
	}
	return nil
}

const recordColumns = `record_id, key, source_location, derived_locations, basic_attributes, extended_attributes, processed_at`

func (s *PostgresStore) FindByKey(ctx context.Context, key string) (*model.ProcessingRecord, error) {
	row := s.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE key = $1 LIMIT 1", recordColumns, s.table), key)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record by key: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *model.ProcessingRecord) (string, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	processedAt, err := time.Parse(time.RFC3339, rec.ProcessedAt)
	if err != nil {
		return "", fmt.Errorf("processedAt %q: %w", rec.ProcessedAt, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)", s.table, recordColumns)
	if s.strict {
		query += " ON CONFLICT (key) DO NOTHING"
	}

	tag, err := s.db.Exec(ctx, query,
		rec.RecordID,
		rec.Key,
		rec.SourceLocation,
		rec.DerivedLocations,
		rec.BasicAttributes,
		rec.ExtendedAttributes,
		processedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("%w: %s", ErrConflict, rec.Key)
	}
	return rec.RecordID, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int32) ([]model.ProcessingRecord, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY processed_at DESC LIMIT $1", recordColumns, s.table), limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []model.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*model.ProcessingRecord, error) {
	var rec model.ProcessingRecord
	var id uuid.UUID
	var processedAt time.Time
	err := row.Scan(
		&id,
		&rec.Key,
		&rec.SourceLocation,
		&rec.DerivedLocations,
		&rec.BasicAttributes,
		&rec.ExtendedAttributes,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.RecordID = id.String()
	rec.Stamp(processedAt)
	return &rec, nil
}
