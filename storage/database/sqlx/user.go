package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

const userTable = `"user"`

var (
	userColumns = []string{
		"id", "first_name", "last_name", "email", "national_id", "role",
		"password_hash", "is_active", "created_at", "updated_at",
	}
	userOrderingFields = orderingColumns("", user.OrderingFields...)
)

type userRow struct {
	ID           string    `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Email        string    `db:"email"`
	NationalID   string    `db:"national_id"`
	Role         string    `db:"role"`
	PasswordHash []byte    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{repository{exec: exec}}
}

func (repo userRepository) toRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		FirstName:    usr.FirstName,
		LastName:     usr.LastName,
		Email:        usr.Email,
		NationalID:   usr.NationalID,
		Role:         usr.Role,
		PasswordHash: usr.PasswordHash,
		IsActive:     usr.IsActive,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		Email:        row.Email,
		NationalID:   row.NationalID,
		Role:         row.Role,
		PasswordHash: row.PasswordHash,
		IsActive:     row.IsActive,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

func (repo userRepository) fromRows(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users
}

// trapNoRowsErr maps the "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUniqueness(
	ctx context.Context,
	email, nationalID string,
	excludedUsers []user.User,
	exec ...core.DBExecutor,
) error {
	email = strings.ToLower(email)
	nationalID = strings.ToUpper(nationalID)

	var match sq.Or
	if email != "" {
		match = append(match, sq.Expr("LOWER(email) = ?", email))
	}
	if nationalID != "" {
		match = append(match, sq.Eq{"national_id": nationalID})
	}
	if len(match) == 0 {
		return nil
	}

	where := sq.And{match}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		where = append(where, sq.NotEq{"id": ids})
	}

	var rows []userRow
	b := sq.Select(userColumns...).From(userTable).Where(where).Limit(2)
	if err := repo.selectAll(ctx, repo.getExec(exec), &rows, b); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, row := range rows {
		if email != "" && strings.ToLower(row.Email) == email {
			return user.ErrEmailExists
		}
	}
	if len(rows) > 0 {
		return user.ErrNationalIDExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.NewString()
	row := repo.toRow(usr)
	b := sq.Insert(userTable).
		Columns(userColumns...).
		Values(
			row.ID, row.FirstName, row.LastName, row.Email, row.NationalID, row.Role,
			row.PasswordHash, row.IsActive, row.CreatedAt, row.UpdatedAt,
		)
	if _, err := repo.execute(ctx, repo.getExec(exec), b); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) QueryUsers(
	ctx context.Context,
	filter *user.QueryFilter,
	ordering []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]user.User, error) {
	b := sq.Select(userColumns...).From(userTable)

	if filter != nil {
		// users with first name, last name, email or national ID matching the search keyword
		if filter.Search != "" {
			val := "%" + strings.ToLower(filter.Search) + "%"
			b = b.Where(sq.Or{
				sq.Expr("LOWER(first_name) LIKE ?", val),
				sq.Expr("LOWER(last_name) LIKE ?", val),
				sq.Expr("LOWER(email) LIKE ?", val),
				sq.Expr("LOWER(national_id) LIKE ?", val),
			})
		}
		if len(filter.Roles) > 0 {
			b = b.Where(sq.Eq{"role": filter.Roles})
		}
	}
	if clauses := orderBy(ordering, userOrderingFields); len(clauses) > 0 {
		b = b.OrderBy(clauses...)
	}

	var rows []userRow
	if err := repo.selectAll(ctx, repo.getExec(exec), &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	return repo.fromRows(rows), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var where sq.Sqlizer
	switch {
	case filter.ID != "":
		where = sq.Eq{"id": filter.ID}
	case filter.NationalID != "":
		where = sq.Eq{"national_id": strings.ToUpper(filter.NationalID)}
	case filter.Email != "":
		where = sq.Expr("LOWER(email) = ?", strings.ToLower(filter.Email))
	case filter.NationalIDOrEmail != "":
		where = sq.Or{
			sq.Eq{"national_id": strings.ToUpper(filter.NationalIDOrEmail)},
			sq.Expr("LOWER(email) = ?", strings.ToLower(filter.NationalIDOrEmail)),
		}
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	b := sq.Select(userColumns...).From(userTable).Where(where).Limit(1)
	if err := repo.get(ctx, repo.getExec(exec), &row, b); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "selecting user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) GetUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []userRow
	b := sq.Select(userColumns...).From(userTable).Where(sq.Eq{"id": ids})
	if err := repo.selectAll(ctx, repo.getExec(exec), &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	return repo.fromRows(rows), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := repo.toRow(usr)
	b := sq.Update(userTable).
		Set("first_name", row.FirstName).
		Set("last_name", row.LastName).
		Set("email", row.Email).
		Set("password_hash", row.PasswordHash).
		Set("is_active", row.IsActive).
		Set("updated_at", row.UpdatedAt).
		Where(sq.Eq{"id": row.ID})

	res, err := repo.execute(ctx, repo.getExec(exec), b)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.fromRow(row), nil
}
