package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/coursework"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/storage/database"
)

// Password is the password of every user created by CreateUser.
const Password = "Qw7!Zx9#Kp"

// PrepareDB opens a fresh, migrated, in-memory database. It is closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open(core.NewTestConfig())
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	firstName, lastName, email, nationalID, role string,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		FirstName:  firstName,
		LastName:   lastName,
		Email:      email,
		NationalID: nationalID,
		Role:       role,
		IsActive:   true,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	if err := usr.SetPassword(Password); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateAssignment persists an assignment and its pending submissions, bypassing the service rules.
func CreateAssignment(
	t *testing.T,
	repo coursework.Repository,
	creator user.User,
	title string,
	dueAt time.Time,
	gradable bool,
	kind string,
	students ...user.User,
) coursework.Assignment {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	a := coursework.Assignment{
		Title:     title,
		Statement: title + " statement",
		DueAt:     dueAt.UTC(),
		CreatorID: creator.ID,
		CreatedAt: now,
		Kind:      kind,
	}
	for _, s := range students {
		a.StudentIDs = append(a.StudentIDs, s.ID)
	}
	if gradable {
		a.Grading = &coursework.Grading{RequiresValidation: true, ValidatorID: creator.ID}
	}

	a, err := repo.CreateAssignment(ctx, a)
	if err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}

	subs := make([]coursework.Submission, 0, len(students))
	for _, s := range students {
		sub := coursework.Submission{
			AssignmentID: a.ID,
			StudentID:    s.ID,
			State:        coursework.StatePending,
			DueAt:        a.DueAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if gradable {
			sub.ValidatorID = creator.ID
		}
		subs = append(subs, sub)
	}
	if _, err = repo.CreateSubmissions(ctx, subs); err != nil {
		t.Fatalf("CreateAssignment() failed: %v", err)
	}
	return a
}
