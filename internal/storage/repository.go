package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	// Rows for addresses without samples in the window form no group, and the
	// HAVING clause keeps an empty group from ever producing a NULL average.
	// The numeric(40,30) divisor forces a 30-digit quotient before rounding to
	// averageScale, matching MemoryStore.
	aggregateInsertSQL = `INSERT INTO %[2]s (address, %[3]s)
    SELECT address, trim_scale(round(SUM(%[3]s::numeric) / COUNT(*)::numeric(40, 30), %[4]d))::text
    FROM %[1]s
    WHERE created_at >= now() - make_interval(secs => $1)
      AND address = ANY($2::text[])
    GROUP BY address
    HAVING COUNT(*) > 0
    RETURNING id, address, %[3]s, created_at;`
)

// Store implements Gateway on PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	guard addressGuard
}

// NewStore wires a pgx pool into a Store. When addresses are given, appends for any
// other address are rejected.
func NewStore(pool *pgxpool.Pool, addresses ...string) *Store {
	return &Store{pool: pool, guard: newAddressGuard(addresses)}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the pgx pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, ErrNotConfigured)
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: acquire connection: %w", ErrStore, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("%w: try advisory lock: %w", ErrStore, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// AppendSamples inserts all rows with one multi-row INSERT.
func (s *Store) AppendSamples(ctx context.Context, table Table, rows []Row) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if err := validateAppend(s.guard, table, rows); err != nil {
		return err
	}

	query, args := buildAppend(table, rows)
	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrStore, table, err)
	}
	return nil
}

func buildAppend(table Table, rows []Row) (string, []any) {
	columns := []string{"address", table.ValueColumn()}
	if table.HasSource() {
		columns = []string{"source", "address", table.ValueColumn()}
	}

	args := make([]any, 0, len(rows)*len(columns))
	tuples := make([]string, 0, len(rows))
	for _, r := range rows {
		placeholders := make([]string, len(columns))
		for i := range columns {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+i+1)
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ",")+")")
		if table.HasSource() {
			args = append(args, r.Source)
		}
		args = append(args, r.Address, r.Value.String())
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s;", table, strings.Join(columns, ", "), strings.Join(tuples, ", "))
	return query, args
}

func selectColumns(table Table) string {
	source := "''::text"
	if table.HasSource() {
		source = "source"
	}
	return fmt.Sprintf("id, %s, address, %s, created_at", source, table.ValueColumn())
}

// QueryLatest returns the newest row for the address.
func (s *Store) QueryLatest(ctx context.Context, table Table, address string) (Row, error) {
	pool, err := s.getPool()
	if err != nil {
		return Row{}, err
	}
	if !table.valid() {
		return Row{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE address = $1 ORDER BY created_at DESC, id DESC LIMIT 1;`, selectColumns(table), table)
	rows, err := pool.Query(ctx, query, address)
	if err != nil {
		return Row{}, fmt.Errorf("%w: latest %s: %w", ErrStore, table, err)
	}
	result, err := collectRows(rows, table)
	if err != nil {
		return Row{}, err
	}
	if len(result) == 0 {
		return Row{}, ErrNotFound
	}
	return result[0], nil
}

// QueryAll returns the full history for the address, oldest first.
func (s *Store) QueryAll(ctx context.Context, table Table, address string) ([]Row, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if !table.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE address = $1 ORDER BY created_at, id;`, selectColumns(table), table)
	rows, err := pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("%w: history %s: %w", ErrStore, table, err)
	}
	return collectRows(rows, table)
}

// QueryBetween lists rows within a time window.
func (s *Store) QueryBetween(ctx context.Context, table Table, address string, from, to time.Time) ([]Row, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if !table.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE address = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at, id;`, selectColumns(table), table)
	rows, err := pool.Query(ctx, query, address, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: range %s: %w", ErrStore, table, err)
	}
	return collectRows(rows, table)
}

// AggregateInsert runs the insert-from-aggregation in one round trip.
func (s *Store) AggregateInsert(ctx context.Context, spec AggregateSpec) ([]Row, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(aggregateInsertSQL, spec.Source, spec.Destination, spec.Destination.ValueColumn(), averageScale)
	rows, err := pool.Query(ctx, query, spec.Window.Seconds(), spec.Addresses)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate %s -> %s: %w", ErrStore, spec.Source, spec.Destination, err)
	}
	defer rows.Close()

	written := make([]Row, 0, len(spec.Addresses))
	for rows.Next() {
		var (
			r     = Row{Table: spec.Destination}
			value string
		)
		if err := rows.Scan(&r.ID, &r.Address, &value, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan aggregate: %w", ErrStore, err)
		}
		if r.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("%w: parse aggregate %q: %w", ErrStore, value, err)
		}
		written = append(written, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: aggregate %s -> %s: %w", ErrStore, spec.Source, spec.Destination, err)
	}
	return written, nil
}

func collectRows(rows pgx.Rows, table Table) ([]Row, error) {
	defer rows.Close()

	result := make([]Row, 0)
	for rows.Next() {
		r, err := scanRow(rows, table)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrStore, table, err)
	}
	return result, nil
}

func scanRow(rows pgx.Rows, table Table) (Row, error) {
	var (
		r     = Row{Table: table}
		value string
	)
	if err := rows.Scan(&r.ID, &r.Source, &r.Address, &value, &r.CreatedAt); err != nil {
		return Row{}, fmt.Errorf("%w: scan %s: %w", ErrStore, table, err)
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return Row{}, fmt.Errorf("%w: parse %s value %q: %w", ErrStore, table, value, err)
	}
	r.Value = parsed
	return r, nil
}

var (
	_ Gateway        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
