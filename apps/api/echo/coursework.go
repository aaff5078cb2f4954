package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core/coursework"
	"github.com/trezcool/kazi/core/user"
)

type courseworkApi struct {
	svc      coursework.ServiceInterface
	validate *validator.Validate
}

func registerCourseworkAPI(g, dg *echo.Group, svc coursework.ServiceInterface, validate *validator.Validate) {
	api := courseworkApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/assignments")
	ag.POST("/individual", api.createIndividual)
	ag.POST("/group", api.createGroup)
	ag.GET("/:id", api.retrieveAssignment)

	// user scoped endpoints
	dg.GET("/assignments", api.studentAssignments)
	dg.GET("/validations", api.validationQueue, roleMiddleware(user.RoleTeacher))
	dg.GET("/submissions", api.studentSubmissions)

	sg := dg.Group("/submissions/:assignment_id")
	sg.POST("/submit", api.submit, roleMiddleware(user.RoleStudent))
	sg.POST("/validate", api.selfValidate, roleMiddleware(user.RoleStudent))
	sg.POST("/students/:student_id/validate", api.validateSubmission, roleMiddleware(user.RoleTeacher))
	sg.POST("/students/:student_id/reject", api.reject, roleMiddleware(user.RoleTeacher))
}

type AssignmentResponse struct {
	Success    string                `json:"success"`
	Assignment coursework.Assignment `json:"assignment"`
}

type SubmissionResponse struct {
	Success    string                `json:"success"`
	Submission coursework.Submission `json:"submission"`
}

type RejectRequest struct {
	Comments string `json:"comments" validate:"max=1000"`
}

// Handlers

func (api *courseworkApi) createIndividual(ctx echo.Context) error {
	var data coursework.NewIndividualAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewIndividualAssignment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.CreateIndividual(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating individual assignment")
	}
	return ctx.JSON(http.StatusCreated, AssignmentResponse{Success: "the assignment has been created", Assignment: a})
}

func (api *courseworkApi) createGroup(ctx echo.Context) error {
	var data coursework.NewGroupAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroupAssignment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.CreateGroup(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating group assignment")
	}
	return ctx.JSON(http.StatusCreated, AssignmentResponse{Success: "the assignment has been created", Assignment: a})
}

func (api *courseworkApi) retrieveAssignment(ctx echo.Context) error {
	a, err := api.svc.GetAssignment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *courseworkApi) studentAssignments(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.StudentAssignments(ctx.Request().Context(), usr.NationalID)
	if err != nil {
		return errors.Wrap(err, "getting student assignments")
	}
	res.Individual = nonNilAssignments(res.Individual)
	res.Group = nonNilAssignments(res.Group)
	res.Created = nonNilAssignments(res.Created)
	return ctx.JSON(http.StatusOK, res)
}

func (api *courseworkApi) validationQueue(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.ValidationQueue(ctx.Request().Context(), usr.NationalID)
	if err != nil {
		return errors.Wrap(err, "getting validation queue")
	}
	res.Assignments = nonNilAssignments(res.Assignments)
	res.Submissions = nonNilSubmissions(res.Submissions)
	return ctx.JSON(http.StatusOK, res)
}

func (api *courseworkApi) studentSubmissions(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.StudentSubmissions(ctx.Request().Context(), usr.NationalID)
	if err != nil {
		return errors.Wrap(err, "getting student submissions")
	}
	return ctx.JSON(http.StatusOK, nonNilSubmissions(subs))
}

func (api *courseworkApi) submit(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.Submit(ctx.Request().Context(), usr.NationalID, ctx.Param("assignment_id"))
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusOK, SubmissionResponse{Success: "your work has been submitted", Submission: sub})
}

func (api *courseworkApi) selfValidate(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.Validate(ctx.Request().Context(), usr.NationalID, ctx.Param("assignment_id"), "")
	if err != nil {
		return errors.Wrap(err, "validating own submission")
	}
	return ctx.JSON(http.StatusOK, SubmissionResponse{Success: "your submission has been validated", Submission: sub})
}

func (api *courseworkApi) validateSubmission(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.Validate(ctx.Request().Context(), usr.NationalID, ctx.Param("assignment_id"), ctx.Param("student_id"))
	if err != nil {
		return errors.Wrap(err, "validating submission")
	}
	return ctx.JSON(http.StatusOK, SubmissionResponse{Success: "the submission has been validated", Submission: sub})
}

func (api *courseworkApi) reject(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data RejectRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	sub, err := api.svc.Reject(ctx.Request().Context(), usr.NationalID, ctx.Param("assignment_id"), ctx.Param("student_id"), data.Comments)
	if err != nil {
		return errors.Wrap(err, "rejecting submission")
	}
	return ctx.JSON(http.StatusOK, SubmissionResponse{Success: "the submission has been rejected", Submission: sub})
}

func nonNilAssignments(as []coursework.Assignment) []coursework.Assignment {
	if as == nil {
		return []coursework.Assignment{}
	}
	return as
}

func nonNilSubmissions(subs []coursework.Submission) []coursework.Submission {
	if subs == nil {
		return []coursework.Submission{}
	}
	return subs
}
