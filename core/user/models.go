package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/kazi/core"
)

// Roles
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

var (
	AllRoles = []string{RoleStudent, RoleTeacher}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	NationalID   string    `json:"national_id"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u User) IsStudent() bool {
	return u.Role == RoleStudent
}

func (u User) IsTeacher() bool {
	return u.Role == RoleTeacher
}

// NewUser contains information needed to register a new User.
type NewUser struct {
	FirstName  string `json:"first_name" validate:"required,max=150"`
	LastName   string `json:"last_name" validate:"max=150"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required"`
	NationalID string `json:"national_id" validate:"required,nationalid"`
	Role       string `json:"role" validate:"required,role"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc ServiceInterface) error {
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.NationalID = core.CleanNationalID(nu.NationalID)
	nu.Role = core.CleanString(nu.Role, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Email, nu.NationalID)
}

// UpdateUser defines what information may be provided to modify an existing User's personal data.
// National ID and role are not editable.
type UpdateUser struct {
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	Password  string `json:"password" validate:"omitempty"`

	nationalID string
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc ServiceInterface) error {
	if name := core.CleanString(uu.FirstName); name != "" {
		uu.FirstName = name
	} else {
		uu.FirstName = origUsr.FirstName
	}

	if name := core.CleanString(uu.LastName); name != "" {
		uu.LastName = name
	} else {
		uu.LastName = origUsr.LastName
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}
	uu.nationalID = origUsr.NationalID

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Email, "", origUsr)
}

type QueryFilter struct {
	Search string   `query:"search"`
	Roles  []string `query:"role"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	roles := qf.Roles[:0]
	for _, r := range qf.Roles {
		if r = core.CleanString(r, true /* lower */); r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		roles = nil
	}
	qf.Roles = roles
}

// OrderingFields are the fields users can be ordered by.
var OrderingFields = []string{"first_name", "last_name", "email", "national_id", "role", "created_at", "updated_at"}

// DefaultOrdering lists users by role, then by name, then by email.
var DefaultOrdering = []core.DBOrdering{
	{Field: "role", Ascending: true},
	{Field: "last_name", Ascending: true},
	{Field: "first_name", Ascending: true},
	{Field: "email", Ascending: true},
}

// GetFilter selects a single User; the first non-empty field wins.
type GetFilter struct {
	ID                string
	NationalID        string
	Email             string
	NationalIDOrEmail string
}
