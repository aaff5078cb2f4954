package coursework_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/coursework"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/email"
	"github.com/trezcool/kazi/services/logger"
	"github.com/trezcool/kazi/storage/database/sqlx"
	"github.com/trezcool/kazi/tests"
)

type fixture struct {
	db      core.DB
	usrRepo user.Repository
	repo    coursework.Repository
	mailSvc *emailsvc.ConsoleServiceMock
	svc     *coursework.Service

	teacher user.User
	ana     user.User
	bob     user.User
	cris    user.User
}

func setup(t *testing.T) fixture {
	conf := core.NewTestConfig()
	logger := logsvc.NewTestLogger()
	core.ParseEmailTemplates(conf, logger)

	db := testutil.PrepareDB(t)
	f := fixture{
		db:      db,
		usrRepo: sqlxrepos.NewUserRepository(db),
		repo:    sqlxrepos.NewCourseworkRepository(db),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
	}
	f.svc = coursework.NewService(db, f.repo, user.NewService(f.usrRepo), f.mailSvc, logger)

	f.teacher = testutil.CreateUser(t, f.usrRepo, "Teo", "Ruiz", "teo@test.cd", "12345678Z", user.RoleTeacher)
	f.ana = testutil.CreateUser(t, f.usrRepo, "Ana", "Diaz", "ana@test.cd", "11111111A", user.RoleStudent)
	f.bob = testutil.CreateUser(t, f.usrRepo, "Bob", "Abad", "bob@test.cd", "22222222B", user.RoleStudent)
	f.cris = testutil.CreateUser(t, f.usrRepo, "Cris", "Vega", "cris@test.cd", "33333333C", user.RoleStudent)
	return f
}

func (f fixture) countAssignments(t *testing.T) int {
	all, err := f.repo.QueryAssignments(context.Background(), coursework.AssignmentFilter{}, nil)
	require.NoError(t, err)
	return len(all)
}

// requireFieldError asserts that err is a *core.ValidationError with an error on field.
func requireFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "want a validation error, got %v", err)
	fields := make([]string, 0, len(vErr.Fields))
	for _, fe := range vErr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, field)
}

func requireValidationError(t *testing.T, err error, want error) {
	t.Helper()
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "want a validation error, got %v", err)
	assert.Equal(t, want, vErr.Err)
}

func TestService_gradableIndividualScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, err := f.svc.CreateIndividual(ctx, coursework.NewIndividualAssignment{
		CreatorNationalID: "12345678Z",
		Title:             "Essay",
		Statement:         "Write an essay",
		DueAt:             time.Now().Add(24 * time.Hour),
		StudentID:         f.ana.ID,
		Gradable:          true,
	})
	require.NoError(t, err)

	got, err := f.svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, coursework.KindIndividual, got.Kind)
	assert.Equal(t, []string{f.ana.ID}, got.StudentIDs)
	require.NotNil(t, got.Grading)
	assert.False(t, got.Grading.Validated)
	assert.Equal(t, f.teacher.ID, got.Grading.ValidatorID)
	assert.Equal(t, 1, f.countAssignments(t))

	sub, err := f.repo.GetSubmission(ctx, a.ID, f.ana.ID)
	require.NoError(t, err)
	assert.Equal(t, coursework.StatePending, sub.State)
	assert.Equal(t, f.teacher.ID, sub.ValidatorID)

	// the student submits before the deadline
	sub, err = f.svc.Submit(ctx, f.ana.NationalID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, coursework.StateSubmitted, sub.State)

	// the student cannot validate a gradable assignment
	_, err = f.svc.Validate(ctx, f.ana.NationalID, a.ID, "")
	requireValidationError(t, err, coursework.ErrTeacherValidationRequired)

	// the teacher validates
	sub, err = f.svc.Validate(ctx, "12345678Z", a.ID, f.ana.ID)
	require.NoError(t, err)
	assert.Equal(t, coursework.StateValidated, sub.State)
	assert.Equal(t, f.teacher.ID, sub.ValidatorID)
	assert.NotNil(t, sub.ValidatedAt)

	got, err = f.svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Grading.Validated)

	sub, err = f.repo.GetSubmission(ctx, a.ID, f.ana.ID)
	require.NoError(t, err)
	assert.Equal(t, coursework.StateValidated, sub.State)
}

func TestService_CreateIndividual(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	tests := []struct {
		name      string
		na        coursework.NewIndividualAssignment
		wantField string
	}{
		{
			name:      "gradable by a student",
			na:        coursework.NewIndividualAssignment{CreatorNationalID: f.ana.NationalID, Title: "T", Statement: "S", DueAt: due, Gradable: true},
			wantField: "gradable",
		},
		{
			name:      "unknown creator",
			na:        coursework.NewIndividualAssignment{CreatorNationalID: "99999999X", Title: "T", Statement: "S", DueAt: due},
			wantField: "creator_national_id",
		},
		{
			name: "teacher assigned as student",
			na: coursework.NewIndividualAssignment{
				CreatorNationalID: f.teacher.NationalID, Title: "T", Statement: "S", DueAt: due, StudentID: f.teacher.ID,
			},
			wantField: "student_id",
		},
		{
			name: "unknown student",
			na: coursework.NewIndividualAssignment{
				CreatorNationalID: f.teacher.NationalID, Title: "T", Statement: "S", DueAt: due,
				StudentID: "0b5a3d0c-6ab6-4c55-9d4c-1d2b0b8f3f10",
			},
			wantField: "student_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateIndividual(ctx, tt.na)
			requireFieldError(t, err, tt.wantField)
			assert.Equal(t, 0, f.countAssignments(t))
		})
	}

	t.Run("non-gradable by a student, unassigned", func(t *testing.T) {
		a, err := f.svc.CreateIndividual(ctx, coursework.NewIndividualAssignment{
			CreatorNationalID: " 11111111a ", Title: "Notes", Statement: "S", DueAt: due,
		})
		require.NoError(t, err)
		assert.Equal(t, f.ana.ID, a.CreatorID)
		assert.Nil(t, a.Grading)
		assert.Empty(t, a.StudentIDs)

		subs, err := f.repo.QuerySubmissions(ctx, coursework.SubmissionFilter{AssignmentID: a.ID}, nil)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestService_CreateGroup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, err := f.svc.CreateGroup(ctx, coursework.NewGroupAssignment{
		CreatorNationalID: f.teacher.NationalID,
		Title:             "Project",
		Statement:         "Build a bridge",
		DueAt:             time.Now().Add(48 * time.Hour),
		StudentIDs:        []string{f.ana.ID, f.bob.ID, f.cris.ID, f.bob.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, coursework.KindGroup, a.Kind)
	assert.ElementsMatch(t, []string{f.ana.ID, f.bob.ID, f.cris.ID}, a.StudentIDs)

	subs, err := f.repo.QuerySubmissions(ctx, coursework.SubmissionFilter{AssignmentID: a.ID}, nil)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	students := make([]string, 0, len(subs))
	for _, sub := range subs {
		assert.Equal(t, coursework.StatePending, sub.State)
		assert.Empty(t, sub.ValidatorID)
		assert.True(t, a.DueAt.Equal(sub.DueAt))
		students = append(students, sub.StudentID)
	}
	assert.ElementsMatch(t, []string{f.ana.ID, f.bob.ID, f.cris.ID}, students)

	// every member is notified
	sent := f.mailSvc.SentMessages()
	require.Len(t, sent, 3)
	recipients := make([]string, 0, len(sent))
	for _, msg := range sent {
		recipients = append(recipients, msg.To[0].Address)
		assert.Contains(t, msg.TextContent, "Project")
		// the statement travels as a text attachment
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "statement.txt", msg.Attachments[0].Filename)
		assert.Equal(t, "text/plain; charset=utf-8", msg.Attachments[0].ContentType)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("Build a bridge")), msg.Attachments[0].Content.String())
	}
	assert.ElementsMatch(t, []string{f.ana.Email, f.bob.Email, f.cris.Email}, recipients)

	t.Run("no students", func(t *testing.T) {
		_, err := f.svc.CreateGroup(ctx, coursework.NewGroupAssignment{
			CreatorNationalID: f.teacher.NationalID, Title: "T", Statement: "S", DueAt: time.Now(),
		})
		requireFieldError(t, err, "student_ids")
	})

	t.Run("gradable by a student", func(t *testing.T) {
		_, err := f.svc.CreateGroup(ctx, coursework.NewGroupAssignment{
			CreatorNationalID: f.ana.NationalID, Title: "T", Statement: "S", DueAt: time.Now(),
			StudentIDs: []string{f.bob.ID}, Gradable: true,
		})
		requireFieldError(t, err, "gradable")
		assert.Equal(t, 1, f.countAssignments(t))
	})

	t.Run("teacher as member", func(t *testing.T) {
		_, err := f.svc.CreateGroup(ctx, coursework.NewGroupAssignment{
			CreatorNationalID: f.teacher.NationalID, Title: "T", Statement: "S", DueAt: time.Now(),
			StudentIDs: []string{f.bob.ID, f.teacher.ID},
		})
		requireFieldError(t, err, "student_ids")
		assert.Equal(t, 1, f.countAssignments(t))
	})
}

func TestService_Submit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	open := testutil.CreateAssignment(t, f.repo, f.teacher, "Open", time.Now().Add(time.Hour), false, coursework.KindIndividual, f.ana)
	expired := testutil.CreateAssignment(t, f.repo, f.teacher, "Expired", time.Now().Add(-time.Hour), false, coursework.KindIndividual, f.ana)

	t.Run("deadline expired", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, f.ana.NationalID, expired.ID)
		requireValidationError(t, err, coursework.ErrDeadlineExpired)

		sub, err := f.repo.GetSubmission(ctx, expired.ID, f.ana.ID)
		require.NoError(t, err)
		assert.Equal(t, coursework.StatePending, sub.State)
		assert.Nil(t, sub.SubmittedAt)
	})

	t.Run("not assigned", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, f.bob.NationalID, open.ID)
		assert.Equal(t, coursework.ErrSubmissionNotFound, errors.Cause(err))
	})

	t.Run("unknown assignment", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, f.ana.NationalID, "lol")
		assert.Equal(t, coursework.ErrAssignmentNotFound, errors.Cause(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, "99999999X", open.ID)
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	})

	t.Run("submitted", func(t *testing.T) {
		sub, err := f.svc.Submit(ctx, f.ana.NationalID, open.ID)
		require.NoError(t, err)
		assert.Equal(t, coursework.StateSubmitted, sub.State)
		assert.NotNil(t, sub.SubmittedAt)
	})

	t.Run("submitted twice", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, f.ana.NationalID, open.ID)
		requireValidationError(t, err, coursework.ErrNotSubmittable)
	})
}

// racingRepository lets another writer update a submission right before the service does.
type racingRepository struct {
	coursework.Repository
	race func(sub coursework.Submission)
}

func (repo *racingRepository) UpdateSubmission(
	ctx context.Context,
	sub coursework.Submission,
	from coursework.State,
	exec ...core.DBExecutor,
) (coursework.Submission, error) {
	if race := repo.race; race != nil {
		repo.race = nil
		race(sub)
	}
	return repo.Repository.UpdateSubmission(ctx, sub, from, exec...)
}

func TestService_concurrentTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	conf := core.NewTestConfig()
	logger := logsvc.NewTestLogger()

	repo := &racingRepository{Repository: f.repo}
	svc := coursework.NewService(f.db, repo, user.NewService(f.usrRepo), emailsvc.NewConsoleServiceMock(conf, logger), logger)

	a := testutil.CreateAssignment(t, f.repo, f.teacher, "Essay", time.Now().Add(time.Hour), true, coursework.KindIndividual, f.ana)

	t.Run("submitted twice at once", func(t *testing.T) {
		repo.race = func(sub coursework.Submission) {
			_, err := f.svc.Submit(ctx, f.ana.NationalID, a.ID)
			require.NoError(t, err)
		}
		_, err := svc.Submit(ctx, f.ana.NationalID, a.ID)
		requireValidationError(t, err, coursework.ErrNotSubmittable)
	})

	t.Run("rejected while validated", func(t *testing.T) {
		repo.race = func(sub coursework.Submission) {
			_, err := f.svc.Validate(ctx, f.teacher.NationalID, a.ID, f.ana.ID)
			require.NoError(t, err)
		}
		_, err := svc.Reject(ctx, f.teacher.NationalID, a.ID, f.ana.ID, "redo it")
		requireValidationError(t, err, coursework.ErrNotRejectable)

		sub, err := f.repo.GetSubmission(ctx, a.ID, f.ana.ID)
		require.NoError(t, err)
		assert.Equal(t, coursework.StateValidated, sub.State)
		assert.Empty(t, sub.Comments)
	})
}

func TestService_Validate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	other := testutil.CreateUser(t, f.usrRepo, "Eva", "Soto", "eva@test.cd", "44444444D", user.RoleTeacher)
	free := testutil.CreateAssignment(t, f.repo, f.teacher, "Free", due, false, coursework.KindGroup, f.ana, f.bob)
	graded := testutil.CreateAssignment(t, f.repo, f.teacher, "Graded", due, true, coursework.KindGroup, f.ana, f.bob)

	for _, a := range []coursework.Assignment{free, graded} {
		for _, s := range []user.User{f.ana, f.bob} {
			_, err := f.svc.Submit(ctx, s.NationalID, a.ID)
			require.NoError(t, err)
		}
	}

	t.Run("student self-validates non-gradable", func(t *testing.T) {
		sub, err := f.svc.Validate(ctx, f.ana.NationalID, free.ID, "")
		require.NoError(t, err)
		assert.Equal(t, coursework.StateValidated, sub.State)
		assert.Empty(t, sub.ValidatorID)
	})

	t.Run("student validates another student", func(t *testing.T) {
		_, err := f.svc.Validate(ctx, f.ana.NationalID, free.ID, f.bob.ID)
		assert.Equal(t, coursework.ErrPermissionDenied, err)
	})

	t.Run("student self-validates gradable", func(t *testing.T) {
		_, err := f.svc.Validate(ctx, f.bob.NationalID, graded.ID, "")
		requireValidationError(t, err, coursework.ErrTeacherValidationRequired)
	})

	t.Run("teacher without student", func(t *testing.T) {
		_, err := f.svc.Validate(ctx, f.teacher.NationalID, graded.ID, "")
		requireFieldError(t, err, "student_id")
	})

	t.Run("any teacher validates", func(t *testing.T) {
		sub, err := f.svc.Validate(ctx, other.NationalID, graded.ID, f.bob.ID)
		require.NoError(t, err)
		assert.Equal(t, coursework.StateValidated, sub.State)
		assert.Equal(t, other.ID, sub.ValidatorID)

		a, err := f.svc.GetAssignment(ctx, graded.ID)
		require.NoError(t, err)
		assert.True(t, a.Grading.Validated)
	})

	t.Run("already validated", func(t *testing.T) {
		_, err := f.svc.Validate(ctx, f.teacher.NationalID, graded.ID, f.bob.ID)
		requireValidationError(t, err, coursework.ErrNotValidatable)
	})
}

func TestService_Reject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a := testutil.CreateAssignment(t, f.repo, f.teacher, "Essay", time.Now().Add(time.Hour), true, coursework.KindIndividual, f.ana)

	_, err := f.svc.Reject(ctx, f.teacher.NationalID, a.ID, f.ana.ID, "too early")
	requireValidationError(t, err, coursework.ErrNotRejectable)

	_, err = f.svc.Submit(ctx, f.ana.NationalID, a.ID)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, f.ana.NationalID, a.ID, f.ana.ID, "nope")
	assert.Equal(t, coursework.ErrPermissionDenied, err)

	sub, err := f.svc.Reject(ctx, f.teacher.NationalID, a.ID, f.ana.ID, " incomplete ")
	require.NoError(t, err)
	assert.Equal(t, coursework.StateRejected, sub.State)
	assert.Equal(t, "incomplete", sub.Comments)
	assert.Equal(t, f.teacher.ID, sub.ValidatorID)
}

func TestService_views(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now()

	essay := testutil.CreateAssignment(t, f.repo, f.teacher, "Essay", now.Add(3*time.Hour), true, coursework.KindIndividual, f.ana)
	project := testutil.CreateAssignment(t, f.repo, f.teacher, "Project", now.Add(2*time.Hour), false, coursework.KindGroup, f.ana, f.bob)
	notes := testutil.CreateAssignment(t, f.repo, f.ana, "Notes", now.Add(4*time.Hour), false, coursework.KindIndividual)
	testutil.CreateAssignment(t, f.repo, f.teacher, "Lab", now.Add(time.Hour), false, coursework.KindIndividual, f.cris)

	_, err := f.svc.Submit(ctx, f.ana.NationalID, essay.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.bob.NationalID, project.ID)
	require.NoError(t, err)

	t.Run("student assignments", func(t *testing.T) {
		res, err := f.svc.StudentAssignments(ctx, f.ana.NationalID)
		require.NoError(t, err)
		assert.Equal(t, []string{essay.ID}, ids(res.Individual...))
		assert.Equal(t, []string{project.ID}, ids(res.Group...))
		assert.Equal(t, []string{notes.ID}, ids(res.Created...))
	})

	t.Run("validation queue", func(t *testing.T) {
		res, err := f.svc.ValidationQueue(ctx, f.teacher.NationalID)
		require.NoError(t, err)
		assert.Equal(t, []string{essay.ID}, ids(res.Assignments...))

		// most urgent first
		require.Len(t, res.Submissions, 2)
		assert.Equal(t, project.ID, res.Submissions[0].AssignmentID)
		assert.Equal(t, f.bob.ID, res.Submissions[0].StudentID)
		require.NotNil(t, res.Submissions[0].Student)
		assert.Equal(t, f.bob.NationalID, res.Submissions[0].Student.NationalID)
		require.NotNil(t, res.Submissions[0].Assignment)
		assert.Equal(t, "Project", res.Submissions[0].Assignment.Title)
		assert.Equal(t, essay.ID, res.Submissions[1].AssignmentID)
	})

	t.Run("validation queue is for teachers", func(t *testing.T) {
		_, err := f.svc.ValidationQueue(ctx, f.ana.NationalID)
		assert.Equal(t, coursework.ErrPermissionDenied, err)
	})

	t.Run("student submissions", func(t *testing.T) {
		subs, err := f.svc.StudentSubmissions(ctx, f.ana.NationalID)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		// latest delivery first: project is due in 2h, essay was handed in now
		assert.Equal(t, project.ID, subs[0].AssignmentID)
		assert.Equal(t, coursework.StatePending, subs[0].State)
		assert.Equal(t, essay.ID, subs[1].AssignmentID)
		assert.Equal(t, coursework.StateSubmitted, subs[1].State)
		require.NotNil(t, subs[1].Assignment)
		assert.Equal(t, "Essay", subs[1].Assignment.Title)
		assert.Nil(t, subs[1].Student)
	})
}

func ids(assignments ...coursework.Assignment) []string {
	res := make([]string, 0, len(assignments))
	for _, a := range assignments {
		res = append(res, a.ID)
	}
	return res
}
