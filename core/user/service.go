package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/kazi/core"
)

var (
	// errors
	ErrNotFound         = errors.New("no user exists with this national ID")
	ErrEmailExists      = errors.New("a user with this email already exists")
	ErrNationalIDExists = errors.New("a user with this national ID already exists")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrEmailExists or ErrNationalIDExists if another user,
		// not in excludedUsers, already uses email or nationalID. Empty values are not checked.
		CheckUniqueness(ctx context.Context, email, nationalID string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.FirstName, User.LastName,
		// User.Email or User.NationalID.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		GetUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
	}

	ServiceInterface interface {
		CheckUniqueness(ctx context.Context, email, nationalID string, excludedUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByNationalID(ctx context.Context, dni string) (User, error)
		GetByNationalIDOrEmail(ctx context.Context, dniOrEmail string) (User, error)
		GetManyByID(ctx context.Context, ids []string) ([]User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		ResetPassword(ctx context.Context, usr User, pwd string) (User, error)
	}

	Service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) CheckUniqueness(ctx context.Context, email, nationalID string, exclUsers ...User) error {
	if err := svc.repo.CheckUniqueness(ctx, email, nationalID, exclUsers); err != nil {
		var field string
		switch err {
		case ErrEmailExists:
			field = "email"
		case ErrNationalIDExists:
			field = "national_id"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Create persists a new User. The password is hashed, never stored in clear text.
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		FirstName:  nu.FirstName,
		LastName:   nu.LastName,
		Email:      nu.Email,
		NationalID: nu.NationalID,
		Role:       nu.Role,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	id = core.CleanString(id, true /* lower */)
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByNationalID(ctx context.Context, dni string) (User, error) {
	dni = core.CleanNationalID(dni)
	if dni == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{NationalID: dni})
}

func (svc *Service) GetByNationalIDOrEmail(ctx context.Context, dniOrEmail string) (User, error) {
	dniOrEmail = core.CleanString(dniOrEmail)
	if dniOrEmail == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{NationalIDOrEmail: dniOrEmail})
}

// GetManyByID returns the users with the given IDs, in no particular order. Unknown IDs are skipped.
func (svc *Service) GetManyByID(ctx context.Context, ids []string) ([]User, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	return svc.repo.GetUsersByID(ctx, valid)
}

// Update saves the personal data in uu, which must have been validated against usr.
func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.FirstName = uu.FirstName
	usr.LastName = uu.LastName
	usr.Email = uu.Email
	usr.UpdatedAt = time.Now().UTC()
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) ResetPassword(ctx context.Context, usr User, pwd string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, err
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}
