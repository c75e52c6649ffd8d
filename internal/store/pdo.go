package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/metarefresh/metarefresh/internal/models"
)

// DefaultTable of the SQL sink
const DefaultTable = "metarefresh_metadata"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PDO upserts every entity into a keyed SQL table:
// (entity_id, entity_set) -> entity_data as JSON.
type PDO struct {
	db     *sql.DB
	driver string
	table  string
}

// OpenPDO connects and creates the table if needed. Supported drivers
// are sqlite3 and postgres.
func OpenPDO(ctx context.Context, cfg models.PDOConfig) (*PDO, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported pdo driver %q (use sqlite3 or postgres)", driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pdo output requires a dsn")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid pdo table name %q", table)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PDO{db: db, driver: driver, table: table}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PDO) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  entity_id TEXT NOT NULL,
  entity_set TEXT NOT NULL,
  entity_data TEXT NOT NULL,
  PRIMARY KEY (entity_id, entity_set)
)`, p.table)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", p.table, err)
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (p *PDO) rebind(query string) string {
	if p.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (p *PDO) Format() string { return models.FormatPDO }

func (p *PDO) Close() error { return p.db.Close() }

// Upsert inserts or replaces one entity.
func (p *PDO) Upsert(ctx context.Context, entityID, entityType string, rec models.Record) error {
	return p.upsert(ctx, p.db, entityID, entityType, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *PDO) upsert(ctx context.Context, ex execer, entityID, entityType string, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", entityID, err)
	}
	query := p.rebind(fmt.Sprintf(`INSERT INTO %s (entity_id, entity_set, entity_data) VALUES (?, ?, ?)
ON CONFLICT (entity_id, entity_set) DO UPDATE SET entity_data = excluded.entity_data`, p.table))
	if _, err := ex.ExecContext(ctx, query, entityID, entityType, string(data)); err != nil {
		return fmt.Errorf("failed to upsert %q: %w", entityID, err)
	}
	return nil
}

// Write upserts every entry of one type in a single transaction.
func (p *PDO) Write(ctx context.Context, entityType string, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, e := range entries {
		if err := p.upsert(ctx, tx, e.Record.EntityID(), entityType, e.Record); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// MetadataSet returns all records of entityType ordered by entity id.
func (p *PDO) MetadataSet(ctx context.Context, entityType string) ([]models.Record, error) {
	query := p.rebind(fmt.Sprintf(`SELECT entity_data FROM %s WHERE entity_set = ? ORDER BY entity_id`, p.table))
	rows, err := p.db.QueryContext(ctx, query, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
