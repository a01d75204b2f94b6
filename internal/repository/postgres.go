package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"

	"github.com/xenking/pos-register/db"
)

// PoolConfig controls the PostgreSQL connection pool.
type PoolConfig struct {
	URL        string
	MaxConns   int32
	LogQueries bool
}

// NewPool creates a pgxpool.Pool. When LogQueries is set every statement is
// traced to lg at debug level.
func NewPool(ctx context.Context, cfg PoolConfig, lg *zap.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.LogQueries && lg != nil {
		pcfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zapTraceLogger{lg: lg.Named("pgx")},
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// withinTx runs fn in a transaction on a connection borrowed from pool.
// The transaction is committed when fn returns nil and rolled back on error
// or panic.
func withinTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type zapTraceLogger struct {
	lg *zap.Logger
}

func (l zapTraceLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}
	switch level {
	case tracelog.LogLevelError:
		l.lg.Error(msg, fields...)
	case tracelog.LogLevelWarn:
		l.lg.Warn(msg, fields...)
	case tracelog.LogLevelInfo:
		l.lg.Info(msg, fields...)
	default:
		l.lg.Debug(msg, fields...)
	}
}
