package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/principal"
)

// reconcileApi exposes the operator-only consistency passes. Every route is
// gated on super_admin.
type reconcileApi struct {
	rec *principal.Reconciler
}

func registerReconcileAPI(g *echo.Group, jwt echo.MiddlewareFunc, rec *principal.Reconciler) {
	api := reconcileApi{rec: rec}

	rg := g.Group("/reconcile", jwt, superAdminMiddleware())
	rg.GET("/orphans", api.queryOrphans)
	rg.GET("/email-conflicts", api.queryEmailConflicts)
	rg.POST("/relink", api.relink)
	rg.POST("/resolve-email-conflict", api.resolveEmailConflict)
}

// Handlers

func (api *reconcileApi) queryOrphans(ctx echo.Context) error {
	orphans, err := api.rec.FindOrphans(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "finding orphans")
	}
	if orphans == nil {
		orphans = []principal.Principal{}
	}
	return ctx.JSON(http.StatusOK, orphans)
}

func (api *reconcileApi) queryEmailConflicts(ctx echo.Context) error {
	conflicts, err := api.rec.FindEmailConflicts(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "finding email conflicts")
	}
	if conflicts == nil {
		conflicts = []principal.EmailConflict{}
	}
	return ctx.JSON(http.StatusOK, conflicts)
}

func (api *reconcileApi) relink(ctx echo.Context) error {
	var data RelinkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RelinkRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	p, err := api.rec.RelinkInstitute(ctx.Request().Context(), ac.PrincipalID, data.PrincipalID, data.InstituteID)
	if err != nil {
		return errors.Wrap(err, "relinking institute")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *reconcileApi) resolveEmailConflict(ctx echo.Context) error {
	var data ResolveEmailConflictRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResolveEmailConflictRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	removed, err := api.rec.ResolveEmailConflict(ctx.Request().Context(), ac.PrincipalID, data.Email, data.KeepID)
	if err != nil {
		return errors.Wrap(err, "resolving email conflict")
	}
	return ctx.JSON(http.StatusOK, ResolveEmailConflictResponse{Removed: removed})
}

type (
	RelinkRequest struct {
		PrincipalID string `json:"principal_id" validate:"required,uuid4"`
		InstituteID string `json:"institute_id" validate:"required,uuid4"`
	}

	ResolveEmailConflictRequest struct {
		Email  string `json:"email" validate:"required,email"`
		KeepID string `json:"keep_id" validate:"required,uuid4"`
	}

	ResolveEmailConflictResponse struct {
		Removed int `json:"removed"`
	}
)

func (rr *RelinkRequest) Validate() error { return core.Validate.Struct(rr) }

func (rr *ResolveEmailConflictRequest) Validate() error {
	rr.Email = core.CleanString(rr.Email, true /* lower */)
	return core.Validate.Struct(rr)
}
