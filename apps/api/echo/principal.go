package echoapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/principal"
)

var (
	errObjNotFoundInCtx   = errors.New("principal object not found in echo.Context")
	errNoPermsToGrantRole = "not enough rights to grant this role"
)

type principalApi struct {
	svc *principal.Service
}

func registerPrincipalAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *principal.Service) {
	api := principalApi{svc: svc}

	pg := g.Group("/principals")

	// un-authed endpoints
	pg.POST("/login", api.login)
	pg.POST("/password-reset", api.resetPassword)
	pg.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag := pg.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("", api.create, adminMiddleware())
	ag.GET("", api.query, adminMiddleware())
	ag.DELETE("", api.destroyMultiple, adminMiddleware())
	ag.GET("/roles", api.queryRoles, adminMiddleware())

	// detail endpoints
	dg := ag.Group("/:id", selfOrAdminMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, adminMiddleware())
}

// Handlers

func (api *principalApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := authenticate(ctx, data.Email, data.Password, api.svc)
	if err != nil {
		return err
	}
	token, err := GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *principalApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *principalApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == principal.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *principalApi) confirmPasswordReset(ctx echo.Context) error {
	var data principal.ResetPrincipalPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetPrincipalPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *principalApi) create(ctx echo.Context) error {
	var data principal.NewPrincipal
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPrincipal")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	// caller cannot grant a role above their own
	if principal.RolePriority(data.Role) > principal.RolePriority(ac.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToGrantRole})
	}

	p, err := api.svc.Create(ctx.Request().Context(), ac, data)
	if err != nil {
		return errors.Wrap(err, "creating principal")
	}

	return ctx.JSON(http.StatusCreated, p)
}

func (api *principalApi) query(ctx echo.Context) error {
	filter := new(principal.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []principal.Principal{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	ps, err := api.svc.Query(ctx.Request().Context(), ac, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying principals")
	}
	if ps == nil {
		ps = []principal.Principal{}
	}
	return ctx.JSON(http.StatusOK, ps)
}

func (api *principalApi) retrieve(ctx echo.Context) error {
	p, ok := ctx.Get("object").(principal.Principal)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *principalApi) update(ctx echo.Context) error {
	p, ok := ctx.Get("object").(principal.Principal)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}

	var data principal.UpdatePrincipal
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePrincipal")
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}
	if !ac.HasRole(principal.RoleAdmin, principal.RoleSuperAdmin) {
		// `IsActive`, `Role`, `Email` and `Relations` can only be changed by admin
		if data.IsActive != nil || data.Role != "" || data.Email != "" || data.Relations != nil {
			return errHttpForbidden
		}
	}

	if err := data.Validate(p, api.svc); err != nil {
		return err
	}

	// caller cannot grant a role above their own
	if principal.RolePriority(data.Role) > principal.RolePriority(ac.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToGrantRole})
	}

	p, err = api.svc.Update(ctx.Request().Context(), ac, p.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating principal")
	}

	return ctx.JSON(http.StatusOK, p)
}

func (api *principalApi) destroy(ctx echo.Context) error {
	p, ok := ctx.Get("object").(principal.Principal)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}
	// Say No to Suicide! callers cannot delete themselves
	if p.ID == ac.PrincipalID {
		return errHttpForbidden
	}

	if err := api.svc.Delete(ctx.Request().Context(), ac, p.ID); err != nil {
		return errors.Wrap(err, "deleting principal")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *principalApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}
	// Say No to Suicide! callers cannot delete themselves
	sort.Strings(query.IDs)
	if i := sort.SearchStrings(query.IDs, ac.PrincipalID); i < len(query.IDs) {
		if match := query.IDs[i]; ac.PrincipalID == match {
			return errHttpForbidden
		}
	}

	if err := api.svc.Delete(ctx.Request().Context(), ac, query.IDs...); err != nil {
		return errors.Wrap(err, "deleting principals")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *principalApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, principal.Roles)
}

// selfOrAdminMiddleware loads the target principal for detail routes. The
// lookup runs under the caller's scope, so a record from another institute
// yields the same 404 as a missing one.
func selfOrAdminMiddleware(svc *principal.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ac, err := getAccessContext(ctx)
			if err != nil {
				return errors.Wrap(err, "getting access context")
			}

			if ctx.Param("id") == ac.PrincipalID || ac.HasRole(principal.RoleAdmin, principal.RoleSuperAdmin) {
				if p, err := svc.GetByID(ctx.Request().Context(), ac, ctx.Param("id")); err == nil {
					ctx.Set("object", p)
					return next(ctx)
				} else if errors.Cause(err) != principal.ErrNotFound {
					return errors.Wrap(err, "finding principal by ID")
				}
			}
			return errHttpNotFound
		}
	}
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return core.Validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate() error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return core.Validate.Struct(pr)
}
