package coursework

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

// Assignment kinds
const (
	KindIndividual = "individual"
	KindGroup      = "group"
)

type Assignment struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Statement string    `json:"statement"`
	DueAt     time.Time `json:"due_at"`     // UTC
	CreatorID string    `json:"creator_id"` // User.ID
	CreatedAt time.Time `json:"created_at"` // UTC

	Kind string `json:"kind"`
	// StudentIDs holds the assigned student of an individual assignment (if any),
	// or the members of a group assignment.
	StudentIDs []string `json:"student_ids"`
	Grading    *Grading `json:"grading,omitempty"`
}

// RequiresTeacherValidation reports whether submissions must be validated by a teacher.
func (a Assignment) RequiresTeacherValidation() bool {
	return a.Grading != nil && a.Grading.RequiresValidation
}

// IsPastDue reports whether `now` is after the assignment's due time.
func (a Assignment) IsPastDue(now time.Time) bool {
	return now.After(a.DueAt)
}

// Grading marks an Assignment as gradable: its submissions must be validated by a teacher.
type Grading struct {
	AssignmentID       string `json:"-"`
	RequiresValidation bool   `json:"requires_validation"`
	Validated          bool   `json:"validated"`
	ValidatorID        string `json:"validator_id,omitempty"` // teacher
}

// Submission states
type State string

const (
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateValidated State = "validated"
	StateRejected  State = "rejected"
)

// TransitionError returns the error reported when a submission cannot move to state to.
func TransitionError(to State) error {
	switch to {
	case StateSubmitted:
		return ErrNotSubmittable
	case StateValidated:
		return ErrNotValidatable
	case StateRejected:
		return ErrNotRejectable
	}
	return ErrSubmissionNotFound
}

// Submission is one student's work on one assignment.
// There is at most one Submission per (AssignmentID, StudentID).
type Submission struct {
	ID           string     `json:"id"`
	AssignmentID string     `json:"assignment_id"`
	StudentID    string     `json:"student_id"`
	State        State      `json:"state"`
	DueAt        time.Time  `json:"due_at"` // copied from the Assignment
	SubmittedAt  *time.Time `json:"submitted_at"`
	ValidatedAt  *time.Time `json:"validated_at"`
	ValidatorID  string     `json:"validator_id,omitempty"`
	Comments     string     `json:"comments"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// populated on listings
	Assignment *Assignment `json:"assignment,omitempty"`
	Student    *user.User  `json:"student,omitempty"`
}

// Submit moves a pending submission to submitted, unless the deadline has passed.
// The submission is left untouched on error.
func (s *Submission) Submit(now time.Time) error {
	if now.After(s.DueAt) {
		return ErrDeadlineExpired
	}
	if s.State != StatePending {
		return ErrNotSubmittable
	}
	s.State = StateSubmitted
	s.SubmittedAt = &now
	s.UpdatedAt = now
	return nil
}

// Validate moves a submitted submission to validated.
// validatorID is the validating teacher, empty when the student validates their own work.
func (s *Submission) Validate(validatorID string, now time.Time) error {
	if s.State != StateSubmitted {
		return ErrNotValidatable
	}
	s.State = StateValidated
	s.ValidatedAt = &now
	if validatorID != "" {
		s.ValidatorID = validatorID
	}
	s.UpdatedAt = now
	return nil
}

// Reject moves a submitted submission to rejected.
func (s *Submission) Reject(validatorID, comments string, now time.Time) error {
	if s.State != StateSubmitted {
		return ErrNotRejectable
	}
	s.State = StateRejected
	s.ValidatedAt = &now
	s.ValidatorID = validatorID
	s.Comments = comments
	s.UpdatedAt = now
	return nil
}

// NewIndividualAssignment contains information needed to create an individual Assignment.
type NewIndividualAssignment struct {
	CreatorNationalID string    `json:"creator_national_id" validate:"required"`
	Title             string    `json:"title" validate:"required,notblank,max=100"`
	Statement         string    `json:"statement" validate:"required,notblank"`
	DueAt             time.Time `json:"due_at" validate:"required"`
	StudentID         string    `json:"student_id" validate:"omitempty,uuid"`
	Gradable          bool      `json:"gradable"`
}

func (na *NewIndividualAssignment) clean() {
	na.CreatorNationalID = core.CleanNationalID(na.CreatorNationalID)
	na.Title = core.CleanString(na.Title)
	na.Statement = core.CleanString(na.Statement)
	na.StudentID = core.CleanString(na.StudentID, true /* lower */)
	na.DueAt = na.DueAt.UTC()
}

func (na *NewIndividualAssignment) Validate(validate *validator.Validate) error {
	na.clean()
	return validate.Struct(na)
}

// NewGroupAssignment contains information needed to create a group Assignment.
type NewGroupAssignment struct {
	CreatorNationalID string    `json:"creator_national_id" validate:"required"`
	Title             string    `json:"title" validate:"required,notblank,max=100"`
	Statement         string    `json:"statement" validate:"required,notblank"`
	DueAt             time.Time `json:"due_at" validate:"required"`
	StudentIDs        []string  `json:"student_ids" validate:"required,min=1,dive,uuid"`
	Gradable          bool      `json:"gradable"`
}

func (na *NewGroupAssignment) clean() {
	na.CreatorNationalID = core.CleanNationalID(na.CreatorNationalID)
	na.Title = core.CleanString(na.Title)
	na.Statement = core.CleanString(na.Statement)
	na.DueAt = na.DueAt.UTC()

	// drop duplicates, keep order
	seen := make(map[string]bool, len(na.StudentIDs))
	ids := make([]string, 0, len(na.StudentIDs))
	for _, id := range na.StudentIDs {
		id = core.CleanString(id, true /* lower */)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	na.StudentIDs = ids
}

func (na *NewGroupAssignment) Validate(validate *validator.Validate) error {
	na.clean()
	return validate.Struct(na)
}

// AssignmentFilter selects assignments; set fields are AND-ed.
type AssignmentFilter struct {
	IDs         []string
	StudentID   string // individually assigned to
	MemberID    string // member of the group
	CreatorID   string
	ValidatorID string // grading overlay validator
	Unvalidated bool   // grading overlay not validated yet
}

// SubmissionFilter selects submissions; set fields are AND-ed.
type SubmissionFilter struct {
	AssignmentID string
	StudentID    string
	States       []State
}

// StudentAssignments is the "my assignments" view of a User.
type StudentAssignments struct {
	Individual []Assignment `json:"individual"`
	Group      []Assignment `json:"group"`
	Created    []Assignment `json:"created"`
}

// ValidationQueue is the teacher's validation view.
type ValidationQueue struct {
	Assignments []Assignment `json:"assignments"` // gradable assignments pending this teacher's validation
	Submissions []Submission `json:"submissions"` // submitted, not validated yet
}
