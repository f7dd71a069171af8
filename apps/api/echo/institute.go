package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
)

type instituteApi struct {
	svc          *institute.Service
	principalSvc *principal.Service
}

func registerInstituteAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *institute.Service, principalSvc *principal.Service) {
	api := instituteApi{svc: svc, principalSvc: principalSvc}

	ig := g.Group("/institutes")

	// authed endpoints
	ag := ig.Group("", jwt)
	ag.GET("", api.query, superAdminMiddleware())

	// un-authed endpoints; registered after the authed group because the
	// group's catch-all routes would otherwise shadow POST "".
	ig.POST("", api.register)
	ig.GET("/subdomain/:subdomain", api.retrieveBySubdomain)

	dg := ag.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.POST("/deactivate", api.deactivate, adminMiddleware())
	dg.POST("/transfer-ownership", api.transferOwnership, adminMiddleware())
}

// Handlers

// register is the public signup: it creates an institute and its owning admin
// principal as one atomic unit.
func (api *instituteApi) register(ctx echo.Context) error {
	var data institute.NewInstitute
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewInstitute")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	inst, owner, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering institute")
	}

	return ctx.JSON(http.StatusCreated, RegisterInstituteResponse{Institute: inst, Owner: owner})
}

func (api *instituteApi) retrieveBySubdomain(ctx echo.Context) error {
	inst, err := api.svc.GetBySubdomain(ctx.Request().Context(), ctx.Param("subdomain"))
	if err != nil {
		return errors.Wrap(err, "finding institute by subdomain")
	}
	return ctx.JSON(http.StatusOK, PublicInstituteResponse{
		ID:        inst.ID,
		Name:      inst.Name,
		Subdomain: inst.Subdomain,
		Settings:  inst.Settings,
	})
}

func (api *instituteApi) query(ctx echo.Context) error {
	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	insts, err := api.svc.QueryAll(ctx.Request().Context(), ac)
	if err != nil {
		return errors.Wrap(err, "querying institutes")
	}
	if insts == nil {
		insts = []institute.Institute{}
	}
	return ctx.JSON(http.StatusOK, insts)
}

func (api *instituteApi) retrieve(ctx echo.Context) error {
	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	inst, err := api.svc.GetByID(ctx.Request().Context(), ac, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding institute by ID")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *instituteApi) update(ctx echo.Context) error {
	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	orig, err := api.svc.GetByID(ctx.Request().Context(), ac, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding institute by ID")
	}

	var data institute.UpdateInstitute
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateInstitute")
	}
	if err := data.Validate(orig, api.svc); err != nil {
		return err
	}

	inst, err := api.svc.Update(ctx.Request().Context(), ac, orig.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating institute")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *instituteApi) deactivate(ctx echo.Context) error {
	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	inst, err := api.svc.Deactivate(ctx.Request().Context(), ac, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "deactivating institute")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *instituteApi) transferOwnership(ctx echo.Context) error {
	var data TransferOwnershipRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TransferOwnershipRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ac, err := getAccessContext(ctx)
	if err != nil {
		return errors.Wrap(err, "getting access context")
	}

	// the new owner must be visible in the caller's scope
	newOwner, err := api.principalSvc.GetByID(ctx.Request().Context(), ac, data.NewOwnerID)
	if err != nil {
		return errors.Wrap(err, "finding new owner")
	}

	inst, err := api.svc.TransferOwnership(ctx.Request().Context(), ac, ctx.Param("id"), newOwner)
	if err != nil {
		return errors.Wrap(err, "transferring ownership")
	}
	return ctx.JSON(http.StatusOK, inst)
}

type (
	RegisterInstituteResponse struct {
		Institute institute.Institute `json:"institute"`
		Owner     principal.Principal `json:"owner"`
	}

	// PublicInstituteResponse exposes only the branding fields needed before
	// authentication.
	PublicInstituteResponse struct {
		ID        string             `json:"id"`
		Name      string             `json:"name"`
		Subdomain string             `json:"subdomain,omitempty"`
		Settings  institute.Settings `json:"settings,omitempty"`
	}

	TransferOwnershipRequest struct {
		NewOwnerID string `json:"new_owner_id" validate:"required,uuid4"`
	}
)

func (tr *TransferOwnershipRequest) Validate() error { return core.Validate.Struct(tr) }
