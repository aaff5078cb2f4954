package coursework

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

var (
	// errors
	ErrAssignmentNotFound        = errors.New("assignment not found")
	ErrSubmissionNotFound        = errors.New("submission not found")
	ErrPermissionDenied          = errors.New("permission denied")
	ErrDeadlineExpired           = errors.New("the deadline for this assignment has expired")
	ErrTeacherValidationRequired = errors.New("this assignment must be validated by a teacher")
	ErrNotSubmittable            = errors.New("only a pending submission can be submitted")
	ErrNotValidatable            = errors.New("only a submitted submission can be validated")
	ErrNotRejectable             = errors.New("only a submitted submission can be rejected")
	ErrCreatorNotFound           = errors.New("no user exists with this national ID")
	ErrGradableRequiresTeacher   = errors.New("only a teacher can create a gradable assignment")
	ErrStudentNotFound           = errors.New("no student exists with this ID")
	ErrStudentRequired           = errors.New("a student is required")

	assignedTmpl      = "assignment_assigned"
	statementFilename = "statement.txt"
)

type (
	Repository interface {
		// CreateAssignment persists a, its kind specialization, its group members and its Grading (if any).
		CreateAssignment(ctx context.Context, a Assignment, exec ...core.DBExecutor) (Assignment, error)
		// CreateSubmissions inserts subs, skipping those whose (AssignmentID, StudentID) already exists.
		// It returns the number of inserted rows.
		CreateSubmissions(ctx context.Context, subs []Submission, exec ...core.DBExecutor) (int64, error)
		GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (Assignment, error)
		QueryAssignments(ctx context.Context, filter AssignmentFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Assignment, error)
		MarkGradingValidated(ctx context.Context, assignmentID string, exec ...core.DBExecutor) error
		GetSubmission(ctx context.Context, assignmentID, studentID string, exec ...core.DBExecutor) (Submission, error)
		QuerySubmissions(ctx context.Context, filter SubmissionFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Submission, error)
		// UpdateSubmission persists sub only if its stored state is still from.
		// Otherwise it returns TransitionError(sub.State).
		UpdateSubmission(ctx context.Context, sub Submission, from State, exec ...core.DBExecutor) (Submission, error)
	}

	ServiceInterface interface {
		CreateIndividual(ctx context.Context, na NewIndividualAssignment) (Assignment, error)
		CreateGroup(ctx context.Context, na NewGroupAssignment) (Assignment, error)
		GetAssignment(ctx context.Context, id string) (Assignment, error)
		Submit(ctx context.Context, nationalID, assignmentID string) (Submission, error)
		Validate(ctx context.Context, nationalID, assignmentID, studentID string) (Submission, error)
		Reject(ctx context.Context, nationalID, assignmentID, studentID, comments string) (Submission, error)
		StudentAssignments(ctx context.Context, nationalID string) (StudentAssignments, error)
		ValidationQueue(ctx context.Context, nationalID string) (ValidationQueue, error)
		StudentSubmissions(ctx context.Context, nationalID string) ([]Submission, error)
	}

	Service struct {
		db      core.DB
		repo    Repository
		usrSvc  user.ServiceInterface
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil)

var (
	DefaultAssignmentOrdering = []core.DBOrdering{
		{Field: "due_at", Ascending: true},
		{Field: "created_at", Ascending: true},
	}
	queueOrdering = []core.DBOrdering{
		{Field: "due_at", Ascending: true},
		{Field: "created_at", Ascending: true},
	}
	// delivered_at is the submission time, or the due time while not submitted
	studentSubmissionsOrdering = []core.DBOrdering{
		{Field: "delivered_at", Ascending: false},
		{Field: "due_at", Ascending: false},
	}
)

func NewService(
	db core.DB,
	repo Repository,
	usrSvc user.ServiceInterface,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

// CreateIndividual creates an individual Assignment and, if a student is assigned, its pending Submission.
func (svc *Service) CreateIndividual(ctx context.Context, na NewIndividualAssignment) (Assignment, error) {
	na.clean()
	creator, err := svc.resolveCreator(ctx, na.CreatorNationalID, na.Gradable)
	if err != nil {
		return Assignment{}, err
	}

	var students []user.User
	if na.StudentID != "" {
		if students, err = svc.resolveStudents(ctx, "student_id", na.StudentID); err != nil {
			return Assignment{}, err
		}
	}

	a := svc.newAssignment(creator, KindIndividual, na.Title, na.Statement, na.DueAt, na.Gradable, students)
	if a, err = svc.create(ctx, a); err != nil {
		return Assignment{}, err
	}
	svc.notifyAssigned(a, creator, students)
	return a, nil
}

// CreateGroup creates a group Assignment and one pending Submission per member.
func (svc *Service) CreateGroup(ctx context.Context, na NewGroupAssignment) (Assignment, error) {
	na.clean()
	creator, err := svc.resolveCreator(ctx, na.CreatorNationalID, na.Gradable)
	if err != nil {
		return Assignment{}, err
	}

	if len(na.StudentIDs) == 0 {
		return Assignment{}, core.NewValidationError(nil, core.FieldError{Field: "student_ids", Error: ErrStudentRequired.Error()})
	}
	students, err := svc.resolveStudents(ctx, "student_ids", na.StudentIDs...)
	if err != nil {
		return Assignment{}, err
	}

	a := svc.newAssignment(creator, KindGroup, na.Title, na.Statement, na.DueAt, na.Gradable, students)
	if a, err = svc.create(ctx, a); err != nil {
		return Assignment{}, err
	}
	svc.notifyAssigned(a, creator, students)
	return a, nil
}

func (svc *Service) resolveCreator(ctx context.Context, dni string, gradable bool) (user.User, error) {
	creator, err := svc.usrSvc.GetByNationalID(ctx, dni)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, core.NewValidationError(
				nil,
				core.FieldError{Field: "creator_national_id", Error: ErrCreatorNotFound.Error()},
			)
		}
		return user.User{}, err
	}
	if gradable && !creator.IsTeacher() {
		return user.User{}, core.NewValidationError(
			nil,
			core.FieldError{Field: "gradable", Error: ErrGradableRequiresTeacher.Error()},
		)
	}
	return creator, nil
}

// resolveStudents loads the users with `ids`, in the same order, and checks that they are all students.
func (svc *Service) resolveStudents(ctx context.Context, field string, ids ...string) ([]user.User, error) {
	fieldErr := func(id string) error {
		return core.NewValidationError(nil, core.FieldError{Field: field, Error: ErrStudentNotFound.Error() + ": " + id})
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fieldErr(id)
		}
	}

	found, err := svc.usrSvc.GetManyByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]user.User, len(found))
	for _, usr := range found {
		byID[usr.ID] = usr
	}

	students := make([]user.User, 0, len(ids))
	for _, id := range ids {
		usr, ok := byID[id]
		if !ok || !usr.IsStudent() {
			return nil, fieldErr(id)
		}
		students = append(students, usr)
	}
	return students, nil
}

func (svc *Service) newAssignment(
	creator user.User,
	kind, title, statement string,
	dueAt time.Time,
	gradable bool,
	students []user.User,
) Assignment {
	a := Assignment{
		Title:      title,
		Statement:  statement,
		DueAt:      dueAt.UTC(),
		CreatorID:  creator.ID,
		CreatedAt:  time.Now().UTC(),
		Kind:       kind,
		StudentIDs: make([]string, 0, len(students)),
	}
	for _, s := range students {
		a.StudentIDs = append(a.StudentIDs, s.ID)
	}
	if gradable {
		a.Grading = &Grading{RequiresValidation: true, ValidatorID: creator.ID}
	}
	return a
}

// create persists `a` and the pending submissions of its students in a single transaction.
func (svc *Service) create(ctx context.Context, a Assignment) (Assignment, error) {
	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if a, err = svc.repo.CreateAssignment(ctx, a, tx); err != nil {
			return errors.Wrap(err, "creating assignment")
		}
		if len(a.StudentIDs) == 0 {
			return nil
		}

		subs := make([]Submission, 0, len(a.StudentIDs))
		for _, studentID := range a.StudentIDs {
			sub := Submission{
				AssignmentID: a.ID,
				StudentID:    studentID,
				State:        StatePending,
				DueAt:        a.DueAt,
				CreatedAt:    a.CreatedAt,
				UpdatedAt:    a.CreatedAt,
			}
			if a.Grading != nil {
				sub.ValidatorID = a.Grading.ValidatorID
			}
			subs = append(subs, sub)
		}
		if _, err = svc.repo.CreateSubmissions(ctx, subs, tx); err != nil {
			return errors.Wrap(err, "creating submissions")
		}
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (svc *Service) notifyAssigned(a Assignment, creator user.User, students []user.User) {
	if len(students) == 0 {
		return
	}
	msgs := make([]*core.EmailMessage, 0, len(students))
	for _, s := range students {
		msg := &core.EmailMessage{
			To:           []mail.Address{{Name: s.FullName(), Address: s.Email}},
			Subject:      "New assignment: " + a.Title,
			TemplateName: assignedTmpl,
			TemplateData: map[string]interface{}{
				"StudentName": s.FirstName,
				"CreatorName": creator.FullName(),
				"Title":       a.Title,
				"Statement":   a.Statement,
				"DueAt":       a.DueAt,
				"Gradable":    a.RequiresTeacherValidation(),
			},
		}
		if err := msg.Attach(strings.NewReader(a.Statement), statementFilename, "text/plain; charset=utf-8"); err != nil {
			svc.logger.Error("attaching assignment statement", err)
		}
		msgs = append(msgs, msg)
	}
	svc.logger.Debug(fmt.Sprintf("notifying %d student(s) of assignment %s", len(msgs), a.ID))
	svc.mailSvc.SendMessages(msgs...)
}

func (svc *Service) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	id = core.CleanString(id, true /* lower */)
	if _, err := uuid.Parse(id); err != nil {
		return Assignment{}, ErrAssignmentNotFound
	}
	return svc.repo.GetAssignment(ctx, id)
}

func (svc *Service) getSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return Submission{}, ErrSubmissionNotFound
	}
	return svc.repo.GetSubmission(ctx, assignmentID, studentID)
}

// Submit moves the student's pending submission of an assignment to submitted.
// A submission after the assignment's due time is refused and left unchanged.
func (svc *Service) Submit(ctx context.Context, nationalID, assignmentID string) (Submission, error) {
	student, err := svc.usrSvc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return Submission{}, err
	}
	a, err := svc.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	sub, err := svc.getSubmission(ctx, a.ID, student.ID)
	if err != nil {
		return Submission{}, err
	}

	sub.DueAt = a.DueAt
	from := sub.State
	if err = sub.Submit(time.Now().UTC()); err != nil {
		return Submission{}, core.NewValidationError(err)
	}
	return svc.updateSubmission(ctx, sub, from)
}

// Validate moves a submitted submission to validated.
//
// A student may only validate their own submission, and only if the assignment does not require teacher validation.
// A teacher must name the student whose submission is validated; the assignment's grading is then marked validated.
func (svc *Service) Validate(ctx context.Context, nationalID, assignmentID, studentID string) (Submission, error) {
	actor, err := svc.usrSvc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return Submission{}, err
	}
	a, err := svc.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	studentID = core.CleanString(studentID, true /* lower */)
	now := time.Now().UTC()

	if actor.IsStudent() {
		if studentID != "" && studentID != actor.ID {
			return Submission{}, ErrPermissionDenied
		}
		if a.RequiresTeacherValidation() {
			return Submission{}, core.NewValidationError(ErrTeacherValidationRequired)
		}
		sub, err := svc.getSubmission(ctx, a.ID, actor.ID)
		if err != nil {
			return Submission{}, err
		}
		from := sub.State
		if err = sub.Validate("", now); err != nil {
			return Submission{}, core.NewValidationError(err)
		}
		return svc.updateSubmission(ctx, sub, from)
	}

	if !actor.IsTeacher() {
		return Submission{}, ErrPermissionDenied
	}
	if studentID == "" {
		return Submission{}, core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: ErrStudentRequired.Error()})
	}
	sub, err := svc.getSubmission(ctx, a.ID, studentID)
	if err != nil {
		return Submission{}, err
	}
	from := sub.State
	if err = sub.Validate(actor.ID, now); err != nil {
		return Submission{}, core.NewValidationError(err)
	}

	err = core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if sub, err = svc.updateSubmission(ctx, sub, from, tx); err != nil {
			return err
		}
		if a.Grading != nil {
			if err = svc.repo.MarkGradingValidated(ctx, a.ID, tx); err != nil {
				return errors.Wrap(err, "validating grading")
			}
		}
		return nil
	})
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Reject moves a submitted submission to rejected. Only teachers may reject.
func (svc *Service) Reject(ctx context.Context, nationalID, assignmentID, studentID, comments string) (Submission, error) {
	actor, err := svc.usrSvc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return Submission{}, err
	}
	if !actor.IsTeacher() {
		return Submission{}, ErrPermissionDenied
	}
	a, err := svc.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	sub, err := svc.getSubmission(ctx, a.ID, core.CleanString(studentID, true /* lower */))
	if err != nil {
		return Submission{}, err
	}
	from := sub.State
	if err = sub.Reject(actor.ID, core.CleanString(comments), time.Now().UTC()); err != nil {
		return Submission{}, core.NewValidationError(err)
	}
	return svc.updateSubmission(ctx, sub, from)
}

// updateSubmission persists a transition from state from. A submission changed meanwhile is a validation error.
func (svc *Service) updateSubmission(ctx context.Context, sub Submission, from State, exec ...core.DBExecutor) (Submission, error) {
	updated, err := svc.repo.UpdateSubmission(ctx, sub, from, exec...)
	if err != nil {
		switch cause := errors.Cause(err); cause {
		case ErrNotSubmittable, ErrNotValidatable, ErrNotRejectable:
			return Submission{}, core.NewValidationError(cause)
		}
		return Submission{}, errors.Wrap(err, "updating submission")
	}
	return updated, nil
}

// StudentAssignments returns the assignments individually assigned to the user,
// those of the groups they belong to, and those they created.
func (svc *Service) StudentAssignments(ctx context.Context, nationalID string) (StudentAssignments, error) {
	usr, err := svc.usrSvc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return StudentAssignments{}, err
	}

	var res StudentAssignments
	if res.Individual, err = svc.repo.QueryAssignments(ctx, AssignmentFilter{StudentID: usr.ID}, DefaultAssignmentOrdering); err != nil {
		return StudentAssignments{}, err
	}
	if res.Group, err = svc.repo.QueryAssignments(ctx, AssignmentFilter{MemberID: usr.ID}, DefaultAssignmentOrdering); err != nil {
		return StudentAssignments{}, err
	}
	if res.Created, err = svc.repo.QueryAssignments(ctx, AssignmentFilter{CreatorID: usr.ID}, DefaultAssignmentOrdering); err != nil {
		return StudentAssignments{}, err
	}
	return res, nil
}

// ValidationQueue returns the gradable assignments awaiting the teacher's validation,
// and every submitted submission awaiting validation, the most urgent first.
func (svc *Service) ValidationQueue(ctx context.Context, nationalID string) (ValidationQueue, error) {
	teacher, err := svc.usrSvc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return ValidationQueue{}, err
	}
	if !teacher.IsTeacher() {
		return ValidationQueue{}, ErrPermissionDenied
	}

	var res ValidationQueue
	res.Assignments, err = svc.repo.QueryAssignments(
		ctx,
		AssignmentFilter{ValidatorID: teacher.ID, Unvalidated: true},
		DefaultAssignmentOrdering,
	)
	if err != nil {
		return ValidationQueue{}, err
	}

	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{States: []State{StateSubmitted}}, queueOrdering)
	if err != nil {
		return ValidationQueue{}, err
	}
	if res.Submissions, err = svc.withRelations(ctx, subs, true); err != nil {
		return ValidationQueue{}, err
	}
	return res, nil
}

// StudentSubmissions returns the student's submissions along with their assignment, the most recent first.
func (svc *Service) StudentSubmissions(ctx context.Context, nationalID string) ([]Submission, error) {
	student, err := svc.usrSvc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return nil, err
	}
	subs, err := svc.repo.QuerySubmissions(ctx, SubmissionFilter{StudentID: student.ID}, studentSubmissionsOrdering)
	if err != nil {
		return nil, err
	}
	return svc.withRelations(ctx, subs, false)
}

// withRelations populates Submission.Assignment and, if withStudents, Submission.Student.
func (svc *Service) withRelations(ctx context.Context, subs []Submission, withStudents bool) ([]Submission, error) {
	if len(subs) == 0 {
		return subs, nil
	}

	aIDs := make([]string, 0, len(subs))
	sIDs := make([]string, 0, len(subs))
	seen := make(map[string]bool, 2*len(subs))
	for _, sub := range subs {
		if !seen[sub.AssignmentID] {
			seen[sub.AssignmentID] = true
			aIDs = append(aIDs, sub.AssignmentID)
		}
		if !seen[sub.StudentID] {
			seen[sub.StudentID] = true
			sIDs = append(sIDs, sub.StudentID)
		}
	}

	assignments, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{IDs: aIDs}, DefaultAssignmentOrdering)
	if err != nil {
		return nil, err
	}
	aByID := make(map[string]Assignment, len(assignments))
	for _, a := range assignments {
		aByID[a.ID] = a
	}

	uByID := make(map[string]user.User)
	if withStudents {
		students, err := svc.usrSvc.GetManyByID(ctx, sIDs)
		if err != nil {
			return nil, err
		}
		for _, s := range students {
			uByID[s.ID] = s
		}
	}

	for i := range subs {
		if a, ok := aByID[subs[i].AssignmentID]; ok {
			subs[i].Assignment = &a
		}
		if s, ok := uByID[subs[i].StudentID]; ok {
			subs[i].Student = &s
		}
	}
	return subs, nil
}
