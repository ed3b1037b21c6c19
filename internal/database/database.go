// Package database implements the SQL persistence gateway on PostgreSQL
// and MySQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/errors"
)

// DB wraps the database connection with additional functionality
type DB struct {
	*sqlx.DB
	config *config.DatabaseConfig
}

// New opens a connection for the configured SQL store driver
func New(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}
	driver := cfg.Store.Driver
	if driver != config.StorePostgres && driver != config.StoreMySQL {
		return nil, errors.NewValidationError(fmt.Sprintf("store driver %q is not a SQL driver", driver))
	}

	db, err := sqlx.Connect(driver, cfg.DatabaseURL())
	if err != nil {
		return nil, errors.NewInternalError("failed to connect to database").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to ping database").WithCause(err)
	}

	return Wrap(db, &cfg.Database), nil
}

// Wrap adopts an existing sqlx connection
func Wrap(db *sqlx.DB, cfg *config.DatabaseConfig) *DB {
	return &DB{DB: db, config: cfg}
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	if db.DB == nil {
		return errors.NewInternalError("database connection is nil")
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.NewInternalError("database health check failed").WithCause(err)
	}

	return nil
}

// BeginTx starts a new transaction with the given options
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	tx, err := db.DB.BeginTxx(ctx, opts)
	if err != nil {
		return nil, errors.NewInternalError("failed to begin transaction").WithCause(err)
	}
	return tx, nil
}

// WithTransaction executes a function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.NewInternalError("failed to rollback transaction").
				WithCause(fmt.Errorf("original error: %v, rollback error: %v", err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternalError("failed to commit transaction").WithCause(err)
	}

	return nil
}

// Stats returns database connection statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// Config returns the database configuration
func (db *DB) Config() *config.DatabaseConfig {
	return db.config
}

// BatchInsert inserts values in multi-row statements of at most batchSize rows
func (db *DB) BatchInsert(ctx context.Context, ext sqlx.ExtContext, table string, columns []string, values [][]interface{}, batchSize int) error {
	if len(values) == 0 {
		return nil
	}

	if batchSize <= 0 {
		batchSize = 1000
	}

	for i := 0; i < len(values); i += batchSize {
		end := i + batchSize
		if end > len(values) {
			end = len(values)
		}

		if err := db.executeBatch(ctx, ext, table, columns, values[i:end]); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) executeBatch(ctx context.Context, ext sqlx.ExtContext, table string, columns []string, batch [][]interface{}) error {
	if len(batch) == 0 {
		return nil
	}

	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	rows := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*len(columns))
	for i, values := range batch {
		if len(values) != len(columns) {
			return errors.NewValidationError(fmt.Sprintf("batch row %d has %d values, want %d", i, len(values), len(columns)))
		}
		rows[i] = row
		args = append(args, values...)
	}

	query := db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		table, strings.Join(columns, ", "), strings.Join(rows, ", ")))

	if _, err := ext.ExecContext(ctx, query, args...); err != nil {
		return errors.NewInternalError("batch insert failed").WithCause(err)
	}

	return nil
}
