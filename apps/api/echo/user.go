package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core/user"
)

type userApi struct {
	svc      user.ServiceInterface
	validate *validator.Validate
}

func registerUserAPI(g, dg *echo.Group, svc user.ServiceInterface, validate *validator.Validate) {
	api := userApi{
		svc:      svc,
		validate: validate,
	}

	ug := g.Group("/users")
	ug.GET("", api.query)
	ug.POST("", api.create)
	ug.GET("/roles", api.queryRoles)
	ug.POST("/search", api.search)

	// detail endpoints
	dg.GET("", api.retrieve)
	dg.GET("/portal", api.portal)
	dg.GET("/profile", api.retrieve)
	dg.PUT("/profile", api.update)
}

type UserResponse struct {
	Success string    `json:"success"`
	User    user.User `json:"user"`
}

type SearchRequest struct {
	NationalID string `json:"national_id" query:"national_id" validate:"required"`
}

func userPath(usr user.User, sub ...string) string {
	path := "/v1/users/" + usr.NationalID
	if len(sub) > 0 {
		path += "/" + sub[0]
	}
	return path
}

// Handlers

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	var filter user.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	var ordering Ordering
	if err := ordering.Bind(ctx, user.OrderingFields); err != nil {
		return err
	}

	users, err := api.svc.Query(ctx.Request().Context(), &filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

// search redirects to the home of the user having the given national ID.
func (api *userApi) search(ctx echo.Context) error {
	var data SearchRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SearchRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	usr, err := api.svc.GetByNationalID(ctx.Request().Context(), data.NationalID)
	if err != nil {
		return errors.Wrap(err, "getting user by national ID")
	}
	return ctx.Redirect(http.StatusSeeOther, userPath(usr))
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

// portal sends students to their assignments and teachers to their validation queue.
func (api *userApi) portal(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if usr.IsTeacher() {
		return ctx.Redirect(http.StatusSeeOther, userPath(usr, "validations"))
	}
	return ctx.Redirect(http.StatusSeeOther, userPath(usr, "assignments"))
}

func (api *userApi) update(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	var data user.UpdateUser
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err = data.Validate(ctx.Request().Context(), usr, api.validate, api.svc); err != nil {
		return err
	}

	usr, err = api.svc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, UserResponse{Success: "your data has been updated", User: usr})
}
