package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/storage"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Store implements DocumentStore using SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.DocumentStore = (*Store)(nil)

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writers from the ingest API and the pruner share one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// InsertDocuments persists raw field bags with generated IDs. The document
// timestamp is resolved from the fields, falling back to the insert time.
func (s *Store) InsertDocuments(ctx context.Context, collection string, records []telemetry.RawRecord) ([]storage.Document, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, collection, fields_json, ts_ms, created_ms)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	created := s.now()
	docs := make([]storage.Document, 0, len(records))
	for _, rec := range records {
		fieldsJSON, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal fields: %w", err)
		}

		ts := created
		if ms := telemetry.CoerceTimestamp(rec.Timestamp()); ms > 0 {
			ts = time.UnixMilli(ms)
		}

		doc := storage.Document{
			ID:         uuid.NewString(),
			Collection: collection,
			Fields:     rec,
			Timestamp:  ts,
			CreatedAt:  created,
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, collection, string(fieldsJSON), ts.UnixMilli(), created.UnixMilli()); err != nil {
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit documents: %w", err)
	}
	return docs, nil
}

// QueryDocuments retrieves documents of one collection with optional filtering
func (s *Store) QueryDocuments(ctx context.Context, q storage.Query) ([]storage.Document, error) {
	conditions := []string{"collection = ?"}
	args := []interface{}{q.Collection}

	if q.Since != nil {
		conditions = append(conditions, "ts_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	query := `SELECT id, collection, fields_json, ts_ms, created_ms FROM documents` + buildWhereClause(conditions)

	if q.Descending {
		query += " ORDER BY ts_ms DESC, created_ms DESC, id"
	} else {
		query += " ORDER BY ts_ms ASC, created_ms ASC, id"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = storage.DefaultLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		var doc storage.Document
		var fieldsJSON string
		var tsMs, createdMs int64

		if err := rows.Scan(&doc.ID, &doc.Collection, &fieldsJSON, &tsMs, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(fieldsJSON), &doc.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
		doc.Timestamp = time.UnixMilli(tsMs)
		doc.CreatedAt = time.UnixMilli(createdMs)

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return docs, nil
}

// Prune deletes documents of a collection whose timestamp is before the cutoff
func (s *Store) Prune(ctx context.Context, collection string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND ts_ms < ?",
		collection, before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return n, nil
}

// StoreSLODefinition persists an SLO definition
func (s *Store) StoreSLODefinition(ctx context.Context, def slo.Definition) error {
	query := `
		INSERT INTO slo_definitions (operation, display_name, p50_target, p95_target, p99_target, error_rate_target, key_operation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation) DO UPDATE SET
			display_name = excluded.display_name,
			p50_target = excluded.p50_target,
			p95_target = excluded.p95_target,
			p99_target = excluded.p99_target,
			error_rate_target = excluded.error_rate_target,
			key_operation = excluded.key_operation,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		def.Operation,
		def.DisplayName,
		def.P50Target,
		def.P95Target,
		def.P99Target,
		def.ErrorRateTarget,
		def.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to store SLO definition: %w", err)
	}

	return nil
}

// ListSLODefinitions returns every persisted definition ordered by operation
func (s *Store) ListSLODefinitions(ctx context.Context) ([]slo.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation, display_name, p50_target, p95_target, p99_target, error_rate_target, key_operation
		FROM slo_definitions
		ORDER BY operation
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query SLO definitions: %w", err)
	}
	defer rows.Close()

	var defs []slo.Definition
	for rows.Next() {
		var d slo.Definition
		if err := rows.Scan(&d.Operation, &d.DisplayName, &d.P50Target, &d.P95Target, &d.P99Target, &d.ErrorRateTarget, &d.Key); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		defs = append(defs, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return defs, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// buildWhereClause joins conditions into a WHERE clause
func buildWhereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}
