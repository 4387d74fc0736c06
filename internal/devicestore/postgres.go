package devicestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/devicegate/devicegate/internal/device"
)

// DefaultDocumentID names the row that holds the device table.
const DefaultDocumentID = "devices"

// PgxConn is the subset of *pgxpool.Pool used by PostgresDocument.
type PgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresDocument stores the whole device table as one JSON row. The column is
// json rather than jsonb so the stored key order survives a round trip.
type PostgresDocument struct {
	conn PgxConn
	id   string
}

// NewPostgresDocument creates a Document stored in row id of device_documents.
func NewPostgresDocument(conn PgxConn, id string) *PostgresDocument {
	if id == "" {
		id = DefaultDocumentID
	}
	return &PostgresDocument{conn: conn, id: id}
}

// EnsureSchema creates the device_documents table if it does not exist.
func (d *PostgresDocument) EnsureSchema(ctx context.Context) error {
	_, err := d.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS device_documents (
			id         TEXT PRIMARY KEY,
			body       JSON NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create device_documents: %w", err)
	}
	return nil
}

// Read loads the document. A missing row is an empty table.
func (d *PostgresDocument) Read(ctx context.Context) (*device.Table, error) {
	var body []byte
	err := d.conn.QueryRow(ctx, `SELECT body FROM device_documents WHERE id = $1`, d.id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return device.NewTable(), nil
		}
		return nil, fmt.Errorf("read device document: %w", err)
	}

	table := device.NewTable()
	if err := json.Unmarshal(body, table); err != nil {
		return nil, err
	}
	return table, nil
}

// Write replaces the document body.
func (d *PostgresDocument) Write(ctx context.Context, table *device.Table) error {
	body, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode device table: %w", err)
	}

	_, err = d.conn.Exec(ctx, `
		INSERT INTO device_documents (id, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`, d.id, body)
	if err != nil {
		return fmt.Errorf("write device document: %w", err)
	}
	return nil
}
