package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS governance_records (
	record_id    TEXT PRIMARY KEY,
	record_type  TEXT NOT NULL,
	authority    TEXT NOT NULL,
	created_ms   BIGINT NOT NULL,
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT '',
	version      BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS governance_records_type_created ON governance_records (record_type, created_ms DESC);
CREATE INDEX IF NOT EXISTS governance_records_status ON governance_records (status);
`

// Postgres mirrors records into a relational table.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres opens dsn with lib/pq and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mirror: %v: %w", err, sentinel.ErrUnavailable)
	}
	m := NewPostgres(db)
	if err := m.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// NewPostgres wraps an existing handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (m *Postgres) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate mirror: %w", err)
	}
	return nil
}

func (m *Postgres) Upsert(ctx context.Context, row Row) error {
	rec := row.Record
	updated := row.UpdatedAt
	if updated.IsZero() {
		updated = m.now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO governance_records
			(record_id, record_type, authority, created_ms, content, content_hash, status, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (record_id) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			authority = EXCLUDED.authority,
			created_ms = EXCLUDED.created_ms,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, string(rec.Type), rec.Authority, rec.Timestamp, string(rec.Content), rec.ContentHash,
		string(row.Status), row.Version, updated,
	)
	if err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

const rowColumns = `record_id, record_type, authority, created_ms, content, content_hash, status, version, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var (
		rec     models.Record
		typ     string
		content string
		status  string
		row     Row
	)
	err := sc.Scan(&rec.ID, &typ, &rec.Authority, &rec.Timestamp, &content, &rec.ContentHash, &status, &row.Version, &row.UpdatedAt)
	if err != nil {
		return Row{}, err
	}
	rec.Type = models.RecordType(typ)
	rec.Content = []byte(content)
	row.Record = &rec
	row.Status = models.Status(status)
	return row, nil
}

func (m *Postgres) Get(ctx context.Context, id string) (Row, error) {
	row, err := scanRow(m.db.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM governance_records WHERE record_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Row{}, unavailable("get", err)
	}
	return row, nil
}

func (m *Postgres) List(ctx context.Context, f Filter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("record_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + rowColumns + ` FROM governance_records`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_ms DESC, record_id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (m *Postgres) Verify(ctx context.Context) (Report, error) {
	rows, err := m.List(ctx, Filter{})
	if err != nil {
		return Report{}, err
	}
	r := Report{Rows: len(rows)}
	for _, row := range rows {
		if row.Record.VerifyContent() != nil {
			r.Stale = append(r.Stale, row.Record.ID)
		}
	}
	return r, nil
}

func (m *Postgres) Close() error {
	return m.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("mirror %s: %v: %w", op, err, sentinel.ErrUnavailable)
}
