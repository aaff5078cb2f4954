package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/coursework"
)

var (
	assignmentColumns = []string{
		"a.id", "a.title", "a.statement", "a.due_at", "a.creator_id", "a.created_at",
		"ia.assignment_id AS individual_id",
		"ia.student_id AS individual_student_id",
		"ga.assignment_id AS group_id",
		"g.assignment_id AS grading_id",
		"g.requires_validation",
		"g.validated",
		"g.validator_id AS grading_validator_id",
	}
	assignmentOrderingFields = orderingColumns("a.", "title", "due_at", "created_at")

	submissionColumns = []string{
		"id", "assignment_id", "student_id", "state", "due_at", "submitted_at",
		"validated_at", "validator_id", "comments", "created_at", "updated_at",
	}
	submissionOrderingFields = withColumn(
		orderingColumns("", "state", "due_at", "submitted_at", "validated_at", "created_at", "updated_at"),
		// when the work was handed in, or is due if it was not
		"delivered_at", "COALESCE(submitted_at, due_at)",
	)
)

type assignmentRow struct {
	ID                  string      `db:"id"`
	Title               string      `db:"title"`
	Statement           string      `db:"statement"`
	DueAt               time.Time   `db:"due_at"`
	CreatorID           string      `db:"creator_id"`
	CreatedAt           time.Time   `db:"created_at"`
	IndividualID        null.String `db:"individual_id"`
	IndividualStudentID null.String `db:"individual_student_id"`
	GroupID             null.String `db:"group_id"`
	GradingID           null.String `db:"grading_id"`
	RequiresValidation  null.Bool   `db:"requires_validation"`
	Validated           null.Bool   `db:"validated"`
	GradingValidatorID  null.String `db:"grading_validator_id"`
}

type memberRow struct {
	AssignmentID string `db:"assignment_id"`
	StudentID    string `db:"student_id"`
}

type submissionRow struct {
	ID           string      `db:"id"`
	AssignmentID string      `db:"assignment_id"`
	StudentID    string      `db:"student_id"`
	State        string      `db:"state"`
	DueAt        time.Time   `db:"due_at"`
	SubmittedAt  null.Time   `db:"submitted_at"`
	ValidatedAt  null.Time   `db:"validated_at"`
	ValidatorID  null.String `db:"validator_id"`
	Comments     string      `db:"comments"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

type courseworkRepository struct {
	repository
}

var _ coursework.Repository = (*courseworkRepository)(nil) // interface compliance check

func NewCourseworkRepository(exec core.DBExecutor) *courseworkRepository {
	return &courseworkRepository{repository{exec: exec}}
}

func (repo courseworkRepository) fromAssignmentRow(row assignmentRow) coursework.Assignment {
	a := coursework.Assignment{
		ID:         row.ID,
		Title:      row.Title,
		Statement:  row.Statement,
		DueAt:      row.DueAt.UTC(),
		CreatorID:  row.CreatorID,
		CreatedAt:  row.CreatedAt.UTC(),
		StudentIDs: []string{},
	}
	switch {
	case row.IndividualID.Valid:
		a.Kind = coursework.KindIndividual
		if row.IndividualStudentID.Valid {
			a.StudentIDs = append(a.StudentIDs, row.IndividualStudentID.String)
		}
	case row.GroupID.Valid:
		a.Kind = coursework.KindGroup
	}
	if row.GradingID.Valid {
		a.Grading = &coursework.Grading{
			AssignmentID:       row.GradingID.String,
			RequiresValidation: row.RequiresValidation.Bool,
			Validated:          row.Validated.Bool,
			ValidatorID:        row.GradingValidatorID.String,
		}
	}
	return a
}

func (repo courseworkRepository) toSubmissionRow(sub coursework.Submission) submissionRow {
	return submissionRow{
		ID:           sub.ID,
		AssignmentID: sub.AssignmentID,
		StudentID:    sub.StudentID,
		State:        string(sub.State),
		DueAt:        sub.DueAt.UTC(),
		SubmittedAt:  nullTime(sub.SubmittedAt),
		ValidatedAt:  nullTime(sub.ValidatedAt),
		ValidatorID:  null.NewString(sub.ValidatorID, sub.ValidatorID != ""),
		Comments:     sub.Comments,
		CreatedAt:    sub.CreatedAt.UTC(),
		UpdatedAt:    sub.UpdatedAt.UTC(),
	}
}

func (repo courseworkRepository) fromSubmissionRow(row submissionRow) coursework.Submission {
	return coursework.Submission{
		ID:           row.ID,
		AssignmentID: row.AssignmentID,
		StudentID:    row.StudentID,
		State:        coursework.State(row.State),
		DueAt:        row.DueAt.UTC(),
		SubmittedAt:  timePtr(row.SubmittedAt),
		ValidatedAt:  timePtr(row.ValidatedAt),
		ValidatorID:  row.ValidatorID.String,
		Comments:     row.Comments,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func (repo courseworkRepository) CreateAssignment(
	ctx context.Context,
	a coursework.Assignment,
	exec ...core.DBExecutor,
) (coursework.Assignment, error) {
	ex := repo.getExec(exec)
	a.ID = uuid.NewString()
	a.DueAt = a.DueAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()

	b := sq.Insert("assignment").
		Columns("id", "title", "statement", "due_at", "creator_id", "created_at").
		Values(a.ID, a.Title, a.Statement, a.DueAt, a.CreatorID, a.CreatedAt)
	if _, err := repo.execute(ctx, ex, b); err != nil {
		return coursework.Assignment{}, errors.Wrap(err, "inserting assignment")
	}

	switch a.Kind {
	case coursework.KindIndividual:
		var studentID null.String
		if len(a.StudentIDs) > 0 {
			studentID = null.StringFrom(a.StudentIDs[0])
		}
		b = sq.Insert("individual_assignment").
			Columns("assignment_id", "student_id").
			Values(a.ID, studentID)
		if _, err := repo.execute(ctx, ex, b); err != nil {
			return coursework.Assignment{}, errors.Wrap(err, "inserting individual assignment")
		}

	case coursework.KindGroup:
		b = sq.Insert("group_assignment").Columns("assignment_id").Values(a.ID)
		if _, err := repo.execute(ctx, ex, b); err != nil {
			return coursework.Assignment{}, errors.Wrap(err, "inserting group assignment")
		}
		if len(a.StudentIDs) > 0 {
			b = sq.Insert("group_assignment_student").Columns("assignment_id", "student_id")
			for _, studentID := range a.StudentIDs {
				b = b.Values(a.ID, studentID)
			}
			if _, err := repo.execute(ctx, ex, b); err != nil {
				return coursework.Assignment{}, errors.Wrap(err, "inserting group members")
			}
		}

	default:
		return coursework.Assignment{}, errors.Errorf("unknown assignment kind: %q", a.Kind)
	}

	if a.Grading != nil {
		a.Grading.AssignmentID = a.ID
		b = sq.Insert("grading").
			Columns("assignment_id", "requires_validation", "validated", "validator_id").
			Values(
				a.ID,
				a.Grading.RequiresValidation,
				a.Grading.Validated,
				null.NewString(a.Grading.ValidatorID, a.Grading.ValidatorID != ""),
			)
		if _, err := repo.execute(ctx, ex, b); err != nil {
			return coursework.Assignment{}, errors.Wrap(err, "inserting grading")
		}
	}
	if a.StudentIDs == nil {
		a.StudentIDs = []string{}
	}
	return a, nil
}

func (repo courseworkRepository) CreateSubmissions(
	ctx context.Context,
	subs []coursework.Submission,
	exec ...core.DBExecutor,
) (int64, error) {
	if len(subs) == 0 {
		return 0, nil
	}

	b := sq.Insert("submission").Columns(submissionColumns...)
	for _, sub := range subs {
		sub.ID = uuid.NewString()
		row := repo.toSubmissionRow(sub)
		b = b.Values(
			row.ID, row.AssignmentID, row.StudentID, row.State, row.DueAt, row.SubmittedAt,
			row.ValidatedAt, row.ValidatorID, row.Comments, row.CreatedAt, row.UpdatedAt,
		)
	}
	b = b.Suffix("ON CONFLICT (assignment_id, student_id) DO NOTHING")

	res, err := repo.execute(ctx, repo.getExec(exec), b)
	if err != nil {
		return 0, errors.Wrap(err, "inserting submissions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting inserted submissions")
	}
	return n, nil
}

func (repo courseworkRepository) selectAssignments() sq.SelectBuilder {
	return sq.Select(assignmentColumns...).
		From("assignment a").
		LeftJoin("individual_assignment ia ON ia.assignment_id = a.id").
		LeftJoin("group_assignment ga ON ga.assignment_id = a.id").
		LeftJoin("grading g ON g.assignment_id = a.id")
}

// loadMembers sets the StudentIDs of group assignments.
func (repo courseworkRepository) loadMembers(ctx context.Context, ex core.DBExecutor, assignments []coursework.Assignment) error {
	ids := make([]string, 0, len(assignments))
	idx := make(map[string]int, len(assignments))
	for i, a := range assignments {
		if a.Kind == coursework.KindGroup {
			ids = append(ids, a.ID)
			idx[a.ID] = i
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var rows []memberRow
	b := sq.Select("assignment_id", "student_id").
		From("group_assignment_student").
		Where(sq.Eq{"assignment_id": ids}).
		OrderBy("assignment_id", "student_id")
	if err := repo.selectAll(ctx, ex, &rows, b); err != nil {
		return errors.Wrap(err, "selecting group members")
	}
	for _, row := range rows {
		i := idx[row.AssignmentID]
		assignments[i].StudentIDs = append(assignments[i].StudentIDs, row.StudentID)
	}
	return nil
}

func (repo courseworkRepository) GetAssignment(ctx context.Context, id string, exec ...core.DBExecutor) (coursework.Assignment, error) {
	ex := repo.getExec(exec)

	var row assignmentRow
	b := repo.selectAssignments().Where(sq.Eq{"a.id": id}).Limit(1)
	if err := repo.get(ctx, ex, &row, b); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return coursework.Assignment{}, coursework.ErrAssignmentNotFound
		}
		return coursework.Assignment{}, errors.Wrap(err, "selecting assignment")
	}

	assignments := []coursework.Assignment{repo.fromAssignmentRow(row)}
	if err := repo.loadMembers(ctx, ex, assignments); err != nil {
		return coursework.Assignment{}, err
	}
	return assignments[0], nil
}

func (repo courseworkRepository) QueryAssignments(
	ctx context.Context,
	filter coursework.AssignmentFilter,
	ordering []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]coursework.Assignment, error) {
	ex := repo.getExec(exec)
	b := repo.selectAssignments()

	if filter.IDs != nil {
		b = b.Where(sq.Eq{"a.id": filter.IDs})
	}
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"ia.student_id": filter.StudentID})
	}
	if filter.MemberID != "" {
		b = b.Where("a.id IN (SELECT assignment_id FROM group_assignment_student WHERE student_id = ?)", filter.MemberID)
	}
	if filter.CreatorID != "" {
		b = b.Where(sq.Eq{"a.creator_id": filter.CreatorID})
	}
	if filter.ValidatorID != "" {
		b = b.Where(sq.Eq{"g.validator_id": filter.ValidatorID})
	}
	if filter.Unvalidated {
		b = b.Where(sq.Eq{"g.validated": false})
	}
	if clauses := orderBy(ordering, assignmentOrderingFields); len(clauses) > 0 {
		b = b.OrderBy(clauses...)
	}

	var rows []assignmentRow
	if err := repo.selectAll(ctx, ex, &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting assignments")
	}
	assignments := make([]coursework.Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, repo.fromAssignmentRow(row))
	}
	if err := repo.loadMembers(ctx, ex, assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (repo courseworkRepository) MarkGradingValidated(ctx context.Context, assignmentID string, exec ...core.DBExecutor) error {
	b := sq.Update("grading").Set("validated", true).Where(sq.Eq{"assignment_id": assignmentID})
	if _, err := repo.execute(ctx, repo.getExec(exec), b); err != nil {
		return errors.Wrap(err, "updating grading")
	}
	return nil
}

func (repo courseworkRepository) GetSubmission(
	ctx context.Context,
	assignmentID, studentID string,
	exec ...core.DBExecutor,
) (coursework.Submission, error) {
	var row submissionRow
	b := sq.Select(submissionColumns...).
		From("submission").
		Where(sq.Eq{"assignment_id": assignmentID, "student_id": studentID}).
		Limit(1)
	if err := repo.get(ctx, repo.getExec(exec), &row, b); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return coursework.Submission{}, coursework.ErrSubmissionNotFound
		}
		return coursework.Submission{}, errors.Wrap(err, "selecting submission")
	}
	return repo.fromSubmissionRow(row), nil
}

func (repo courseworkRepository) QuerySubmissions(
	ctx context.Context,
	filter coursework.SubmissionFilter,
	ordering []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]coursework.Submission, error) {
	b := sq.Select(submissionColumns...).From("submission")
	if filter.AssignmentID != "" {
		b = b.Where(sq.Eq{"assignment_id": filter.AssignmentID})
	}
	if filter.StudentID != "" {
		b = b.Where(sq.Eq{"student_id": filter.StudentID})
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, s := range filter.States {
			states = append(states, string(s))
		}
		b = b.Where(sq.Eq{"state": states})
	}
	if clauses := orderBy(ordering, submissionOrderingFields); len(clauses) > 0 {
		b = b.OrderBy(clauses...)
	}

	var rows []submissionRow
	if err := repo.selectAll(ctx, repo.getExec(exec), &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	subs := make([]coursework.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, repo.fromSubmissionRow(row))
	}
	return subs, nil
}

func (repo courseworkRepository) UpdateSubmission(
	ctx context.Context,
	sub coursework.Submission,
	from coursework.State,
	exec ...core.DBExecutor,
) (coursework.Submission, error) {
	row := repo.toSubmissionRow(sub)
	b := sq.Update("submission").
		Set("state", row.State).
		Set("submitted_at", row.SubmittedAt).
		Set("validated_at", row.ValidatedAt).
		Set("validator_id", row.ValidatorID).
		Set("comments", row.Comments).
		Set("updated_at", row.UpdatedAt).
		Where(sq.Eq{"id": row.ID, "state": string(from)})

	res, err := repo.execute(ctx, repo.getExec(exec), b)
	if err != nil {
		return coursework.Submission{}, errors.Wrap(err, "updating submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// missing, or moved out of from by someone else
		return coursework.Submission{}, coursework.TransitionError(sub.State)
	}
	return repo.fromSubmissionRow(row), nil
}
