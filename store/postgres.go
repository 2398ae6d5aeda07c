package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultDocumentName is the row key used by PostgresBackend.
const DefaultDocumentName = "twitch-monitor"

// PostgresBackend keeps the document as one JSONB row in monitor_documents.
// The table is created by db.RunMigrations / db.Migrate.
type PostgresBackend struct {
	DB           *sql.DB
	DocumentName string
}

// NewPostgresBackend returns a backend over db using the default row key.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{DB: db, DocumentName: DefaultDocumentName}
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) key() string {
	if p.DocumentName == "" {
		return DefaultDocumentName
	}
	return p.DocumentName
}

// Load fetches the document row. No row yields ErrNoDocument.
func (p *PostgresBackend) Load(ctx context.Context) (*Document, error) {
	var body []byte
	err := p.DB.QueryRowContext(ctx, `SELECT body FROM monitor_documents WHERE name=$1`, p.key()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Save upserts the document in a single statement.
func (p *PostgresBackend) Save(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO monitor_documents (name, body, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET body=EXCLUDED.body, updated_at=NOW()`, p.key(), body)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (p *PostgresBackend) Ping(ctx context.Context) error { return p.DB.PingContext(ctx) }
