// Package postgres implements kv.Store on a single PostgreSQL table.
//
// Items live in kv_items(partition, sort_key, value), both key columns using
// the "C" collation so ORDER BY matches the byte-wise ordering of the badger
// backend. The schema is managed by goose migrations embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/kv/postgres/migrations"
)

const (
	pgUniqueViolation       = "23505"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	defaultMaxOpenConns int = 16
)

// Config configures the postgres backend.
type Config struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`

	// SkipMigrations disables running goose migrations at startup.
	SkipMigrations bool `mapstructure:"skip_migrations"`
}

// Store is a kv.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := &Store{db: db}
	if !cfg.SkipMigrations {
		if err := s.RunMigrations(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration error: %w", err)
		}
	}
	return s, nil
}

// RunMigrations applies the embedded schema migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return err
	}
	logger.Debug("kv/postgres: migrations applied")
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func mapTxError(err error) error {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return kv.ErrTransactionConflict
	}
	return err
}

func (s *Store) Get(ctx context.Context, key kv.Key) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_items WHERE partition = $1 AND sort_key = $2`,
		key.Partition, key.Sort,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key kv.Key, value []byte, cond *kv.Condition) error {
	return s.TransactWrite(ctx, []kv.WriteOp{kv.Put(key, value, cond)})
}

func (s *Store) Delete(ctx context.Context, key kv.Key, cond *kv.Condition) error {
	return s.TransactWrite(ctx, []kv.WriteOp{kv.Delete(key, cond)})
}

// TransactWrite runs all ops in one READ COMMITTED transaction.
//
// Existing rows touched by a condition are locked with SELECT ... FOR UPDATE
// before evaluation. Rows that do not exist yet cannot be locked, so a put
// guarded by a condition that observed absence is issued as a plain INSERT:
// a concurrent creator then trips the primary key and the loser sees a
// condition failure, exactly as if it had observed the row.
func (s *Store) TransactWrite(ctx context.Context, ops []kv.WriteOp) error {
	if err := kv.ValidateOps(ops); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	absent := make([]bool, len(ops))
	for i, op := range ops {
		if op.Condition == nil {
			continue
		}
		var current []byte
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM kv_items WHERE partition = $1 AND sort_key = $2 FOR UPDATE`,
			op.Key.Partition, op.Key.Sort,
		).Scan(&current)
		exists := true
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else if err != nil {
			return mapTxError(fmt.Errorf("failed to read %s: %w", op.Key, err))
		}
		if !op.Condition.Holds(current, exists) {
			return &kv.ConditionFailedError{Index: i, Key: op.Key, Condition: op.Condition.String()}
		}
		absent[i] = !exists
	}

	for i, op := range ops {
		switch op.Type {
		case kv.OpPut:
			query := `INSERT INTO kv_items (partition, sort_key, value) VALUES ($1, $2, $3)
				ON CONFLICT (partition, sort_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
			if absent[i] {
				query = `INSERT INTO kv_items (partition, sort_key, value) VALUES ($1, $2, $3)`
			}
			if _, err := tx.ExecContext(ctx, query, op.Key.Partition, op.Key.Sort, op.Value); err != nil {
				if pgCode(err) == pgUniqueViolation {
					return &kv.ConditionFailedError{Index: i, Key: op.Key, Condition: op.Condition.String()}
				}
				return mapTxError(fmt.Errorf("failed to put %s: %w", op.Key, err))
			}
		case kv.OpDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM kv_items WHERE partition = $1 AND sort_key = $2`,
				op.Key.Partition, op.Key.Sort,
			); err != nil {
				return mapTxError(fmt.Errorf("failed to delete %s: %w", op.Key, err))
			}
		case kv.OpCheck:
		default:
			return fmt.Errorf("kv: unknown op type %d", op.Type)
		}
	}

	if err := tx.Commit(); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return &kv.ConditionFailedError{Key: ops[0].Key, Condition: "unique"}
		}
		return mapTxError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, in kv.QueryInput) (*kv.QueryResult, error) {
	if in.Partition == "" {
		return nil, fmt.Errorf("kv: query without partition")
	}
	query, args, err := buildQuery(in)
	if err != nil {
		return nil, err
	}
	limit := in.EffectiveLimit()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", in.Partition, err)
	}
	defer rows.Close()

	result := &kv.QueryResult{}
	for rows.Next() {
		var item kv.Item
		item.Key.Partition = in.Partition
		if err := rows.Scan(&item.Key.Sort, &item.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Items = append(result.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	if len(result.Items) > limit {
		result.Items = result.Items[:limit]
		result.NextCursor = kv.EncodeCursor(result.Items[limit-1].Key.Sort)
	}
	return result, nil
}

// buildQuery renders a QueryInput as SQL. The cursor is compared with a
// strict sort_key > $n: TEXT parameters cannot carry the NUL byte a folded
// lower bound would need.
func buildQuery(in kv.QueryInput) (string, []any, error) {
	lower, after, upper, err := in.Range()
	if err != nil {
		return "", nil, err
	}

	args := []any{in.Partition, lower, in.Prefix, in.EffectiveLimit() + 1}
	query := `SELECT sort_key, value FROM kv_items
		WHERE partition = $1 AND sort_key >= $2 AND starts_with(sort_key, $3)`
	if after != "" {
		args = append(args, after)
		query += fmt.Sprintf(" AND sort_key > $%d", len(args))
	}
	if upper != "" {
		args = append(args, upper)
		query += fmt.Sprintf(" AND sort_key < $%d", len(args))
	}
	query += ` ORDER BY sort_key LIMIT $4`
	return query, args, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ kv.Store = (*Store)(nil)
