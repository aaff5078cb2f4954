package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type (
	DBExecutor interface {
		sqlx.ExecerContext
		sqlx.QueryerContext

		DriverName() string
		Rebind(query string) string
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
		Close() error
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

var (
	_ DB           = (*sqlx.DB)(nil)
	_ DBTransactor = (*sqlx.Tx)(nil)
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// InTx runs fn inside a transaction, committing when fn succeeds and rolling back otherwise.
func InTx(ctx context.Context, db DB, fn func(tx DBExecutor) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
