package storage

import (
	"context"
	"time"

	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Collections held by the document store
const (
	CollectionMetrics    = "performance_metrics"
	CollectionViolations = "slo_violations"
)

// DocumentStore defines the interface for the remote telemetry store
type DocumentStore interface {
	// InsertDocuments persists raw field bags into a collection
	InsertDocuments(ctx context.Context, collection string, records []telemetry.RawRecord) ([]Document, error)

	// QueryDocuments retrieves documents with optional filtering
	QueryDocuments(ctx context.Context, q Query) ([]Document, error)

	// Prune deletes documents older than before and reports how many went
	Prune(ctx context.Context, collection string, before time.Time) (int64, error)

	// StoreSLODefinition persists an SLO definition
	StoreSLODefinition(ctx context.Context, def slo.Definition) error

	// ListSLODefinitions returns every persisted definition
	ListSLODefinitions(ctx context.Context) ([]slo.Definition, error)

	// Close closes the storage connection
	Close() error
}

// Query defines filtering options for document queries
type Query struct {
	Collection string
	Since      *time.Time // inclusive lower bound on the document timestamp
	Descending bool       // order by timestamp, newest first
	Limit      int        // 0 means DefaultLimit
}

// DefaultLimit applies when a query does not set one
const DefaultLimit = 100

// Document represents a single stored record
type Document struct {
	ID         string
	Collection string
	Fields     telemetry.RawRecord
	Timestamp  time.Time // resolved from the fields, else CreatedAt
	CreatedAt  time.Time
}
