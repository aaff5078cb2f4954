package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
)

// repository holds what every sqlx repository shares: the default executor,
// and helpers that build queries with squirrel then rebind them for the executor's driver.
type repository struct {
	exec core.DBExecutor
}

// getExec returns the executor provided by the service (e.g. a transaction), or the default one.
func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

func toSQL(exec core.DBExecutor, b sq.Sqlizer) (string, []interface{}, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, errors.Wrap(err, "building query")
	}
	return exec.Rebind(query), args, nil
}

func (repo repository) get(ctx context.Context, exec core.DBExecutor, dest interface{}, b sq.Sqlizer) error {
	query, args, err := toSQL(exec, b)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, exec, dest, query, args...)
}

func (repo repository) selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, b sq.Sqlizer) error {
	query, args, err := toSQL(exec, b)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, exec, dest, query, args...)
}

func (repo repository) execute(ctx context.Context, exec core.DBExecutor, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := toSQL(exec, b)
	if err != nil {
		return nil, err
	}
	return exec.ExecContext(ctx, query, args...)
}

// orderingColumns maps each field to prefix+field.
func orderingColumns(prefix string, fields ...string) map[string]string {
	cols := make(map[string]string, len(fields))
	for _, f := range fields {
		cols[f] = prefix + f
	}
	return cols
}

// orderBy maps ordering to "<expr> ASC|DESC" clauses using columns, skipping unknown fields.
func orderBy(ordering []core.DBOrdering, columns map[string]string) []string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if expr, ok := columns[ord.Field]; ok {
			clauses = append(clauses, core.DBOrdering{Field: expr, Ascending: ord.Ascending}.String())
		}
	}
	return clauses
}

func withColumn(cols map[string]string, field, expr string) map[string]string {
	cols[field] = expr
	return cols
}
