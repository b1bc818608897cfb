package tamper

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"steward/internal/ledger/models"
	"steward/pkg/platform/failover"
	"steward/pkg/platform/sentinel"
)

// chainLockKey serializes appends so prev_hash always names the current head.
const chainLockKey int64 = 0x5354_5741_5244 // "STWARD"

const schema = `
CREATE TABLE IF NOT EXISTS tamper_entries (
	seq         BIGSERIAL PRIMARY KEY,
	record_id   TEXT NOT NULL UNIQUE,
	record_type TEXT NOT NULL,
	record      BYTEA NOT NULL,
	prev_hash   TEXT NOT NULL,
	entry_hash  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tamper_entries_type_seq ON tamper_entries (record_type, seq DESC);
`

// Postgres stores the chain in a single table.
type Postgres struct {
	pool     *pgxpool.Pool
	endpoint string
}

// OpenPostgres connects to the first reachable DSN in endpoints and ensures
// the schema exists.
func OpenPostgres(ctx context.Context, endpoints []string, policy failover.Policy) (*Postgres, error) {
	pool, ep, err := failover.Connect(ctx, endpoints, policy, func(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect tamper store: %w", err)
	}
	s := NewPostgres(pool)
	s.endpoint = failover.Redact(ep)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Endpoint is the redacted DSN currently in use.
func (s *Postgres) Endpoint() string { return s.endpoint }

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate tamper store: %w", err)
	}
	return nil
}

func (s *Postgres) Store(ctx context.Context, rec *models.Record) (Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return Entry{}, unavailable("lock chain", err)
	}

	var (
		seq  int64
		prev = GenesisHash
	)
	err = tx.QueryRow(ctx, `SELECT seq, entry_hash FROM tamper_entries ORDER BY seq DESC LIMIT 1`).Scan(&seq, &prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, unavailable("read head", err)
	}

	e, err := newEntry(0, prev, rec)
	if err != nil {
		return Entry{}, err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO tamper_entries (record_id, record_type, record, prev_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`,
		e.RecordID, string(rec.Type), e.Record, e.PrevHash, e.EntryHash,
	).Scan(&e.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, sentinel.ErrConflict
		}
		return Entry{}, unavailable("insert entry", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, unavailable("commit", err)
	}
	return e, nil
}

const entryColumns = `seq, record_id, record, prev_hash, entry_hash`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.Seq, &e.RecordID, &e.Record, &e.PrevHash, &e.EntryHash)
	return e, err
}

func (s *Postgres) Get(ctx context.Context, id string) (*models.Record, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM tamper_entries WHERE record_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get entry", err)
	}
	return open(e)
}

func (s *Postgres) ListByType(ctx context.Context, t models.RecordType, limit int) ([]*models.Record, error) {
	q := `SELECT ` + entryColumns + ` FROM tamper_entries WHERE record_type = $1 ORDER BY seq DESC`
	args := []any{string(t)}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list entries", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable("scan entry", err)
		}
		rec, err := open(e)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list entries", err)
	}
	return out, nil
}

func (s *Postgres) RecentIDs(ctx context.Context, n int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT record_id FROM tamper_entries ORDER BY seq DESC LIMIT $1`, n)
	if err != nil {
		return nil, unavailable("recent ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("recent ids", err)
	}
	return ids, nil
}

func (s *Postgres) Verify(ctx context.Context) (Report, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM tamper_entries ORDER BY seq ASC`)
	if err != nil {
		return Report{}, unavailable("walk chain", err)
	}
	defer rows.Close()

	w := newWalker()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Report{}, unavailable("scan entry", err)
		}
		w.step(e)
	}
	if err := rows.Err(); err != nil {
		return Report{}, unavailable("walk chain", err)
	}
	return w.report, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("tamper store %s: %v: %w", op, err, sentinel.ErrUnavailable)
}
