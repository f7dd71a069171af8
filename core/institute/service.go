package institute

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/access"
	"github.com/darasahq/darasa/core/principal"
)

var (
	// errors
	ErrNotFound        = errors.New("institute not found")
	ErrSubdomainExists = errors.New("an institute with this subdomain already exists")
	ErrNotActive       = errors.New("institute is deactivated")
)

type (
	// Repository is the tenant registry collaborator. Subdomain uniqueness is
	// enforced atomically at creation, and CreateInstituteWithOwner persists
	// the institute and its owner principal as one atomic unit (on failure,
	// neither exists).
	Repository interface {
		CheckSubdomainUniqueness(ctx context.Context, subdomain string, excluded ...Institute) error
		CreateInstituteWithOwner(ctx context.Context, inst Institute, owner principal.Principal) (Institute, principal.Principal, error)
		GetInstitute(ctx context.Context, filter GetFilter) (Institute, error)
		QueryInstitutes(ctx context.Context) ([]Institute, error)
		QueryInstitutesByOwner(ctx context.Context, ownerID string) ([]Institute, error)
		UpdateInstitute(ctx context.Context, inst Institute, isActive *bool) (Institute, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// interface compliance: the service doubles as the principal package's view
// of the tenant registry.
var _ principal.InstituteDirectory = (*Service)(nil)

func (svc *Service) checkSubdomainUniqueness(subdomain string, excluded ...Institute) error {
	if subdomain == "" {
		return nil
	}
	if err := svc.repo.CheckSubdomainUniqueness(context.Background(), subdomain, excluded...); err != nil {
		if errors.Cause(err) == ErrSubdomainExists {
			return core.NewValidationError(err, core.FieldError{Field: "subdomain", Error: err.Error()})
		}
		return err
	}
	return nil
}

// Register creates an institute and its owning admin principal atomically.
// The owner's institute link is set to the new institute's ID (never trusted
// from the request), and the owner's role is forced to admin.
func (svc *Service) Register(ctx context.Context, ni NewInstitute) (Institute, principal.Principal, error) {
	now := time.Now().UTC()
	inst := Institute{
		Name:      ni.Name,
		Subdomain: ni.Subdomain,
		Settings:  ni.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inst.SetActive(true)

	owner := principal.Principal{
		Name:      ni.Owner.Name,
		Email:     ni.Owner.Email,
		Role:      principal.RoleAdmin,
		Relations: ni.Owner.Relations,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner.SetActive(true)
	if err := owner.SetPassword(ni.Owner.Password); err != nil {
		return Institute{}, principal.Principal{}, errors.Wrap(err, "hashing owner password")
	}

	inst, owner, err := svc.repo.CreateInstituteWithOwner(ctx, inst, owner)
	if err != nil {
		switch errors.Cause(err) {
		case principal.ErrEmailExists:
			return Institute{}, principal.Principal{}, core.NewValidationError(err, core.FieldError{Field: "owner.email", Error: err.Error()})
		case ErrSubdomainExists:
			return Institute{}, principal.Principal{}, core.NewValidationError(err, core.FieldError{Field: "subdomain", Error: err.Error()})
		}
		return Institute{}, principal.Principal{}, errors.Wrap(err, "creating institute")
	}
	return inst, owner, nil
}

// GetByID fetches an institute within the caller's scope: non-super-admin
// callers can only see their own institute, and a foreign one is
// indistinguishable from a missing one.
func (svc *Service) GetByID(ctx context.Context, ac access.Context, id string) (Institute, error) {
	inst, err := svc.repo.GetInstitute(ctx, GetFilter{ID: id})
	if err != nil {
		return Institute{}, err
	}
	if err := ac.CheckRecord(inst.ID); err != nil {
		return Institute{}, ErrNotFound
	}
	return inst, nil
}

// GetBySubdomain is unscoped: it serves the public institute lookup used
// before authentication (eg. the branded login page).
func (svc *Service) GetBySubdomain(ctx context.Context, subdomain string) (Institute, error) {
	inst, err := svc.repo.GetInstitute(ctx, GetFilter{Subdomain: core.CleanString(subdomain, true /* lower */)})
	if err != nil {
		return Institute{}, err
	}
	if !inst.Active() {
		return Institute{}, ErrNotFound
	}
	return inst, nil
}

// QueryAll lists all institutes; super admin only, enforced by the API layer's
// role gate and double-checked here.
func (svc *Service) QueryAll(ctx context.Context, ac access.Context) ([]Institute, error) {
	if !ac.QueryScope().All {
		return nil, access.ErrForbidden
	}
	return svc.repo.QueryInstitutes(ctx)
}

func (svc *Service) Update(ctx context.Context, ac access.Context, id string, ui UpdateInstitute) (Institute, error) {
	orig, err := svc.GetByID(ctx, ac, id)
	if err != nil {
		return Institute{}, err
	}

	inst := Institute{
		ID:        orig.ID,
		Name:      ui.Name,
		Subdomain: ui.Subdomain,
		OwnerID:   orig.OwnerID,
		Settings:  ui.Settings,
		UpdatedAt: time.Now().UTC(),
	}
	return svc.repo.UpdateInstitute(ctx, inst, nil)
}

// Deactivate soft-deletes an institute; historical domain data keeps its
// references. Institutes are never hard-deleted.
func (svc *Service) Deactivate(ctx context.Context, ac access.Context, id string) (Institute, error) {
	inst, err := svc.GetByID(ctx, ac, id)
	if err != nil {
		return Institute{}, err
	}
	inst.UpdatedAt = time.Now().UTC()
	isActive := false
	inst, err = svc.repo.UpdateInstitute(ctx, inst, &isActive)
	if err != nil {
		return Institute{}, err
	}

	svc.logger.Info("institute deactivated",
		map[string]interface{}{"actor": ac.PrincipalID, "institute": inst.ID})
	return inst, nil
}

// TransferOwnership reassigns the owner. The new owner must already belong to
// the institute, preserving the owner/tenant-link invariant.
func (svc *Service) TransferOwnership(ctx context.Context, ac access.Context, id string, newOwner principal.Principal) (Institute, error) {
	inst, err := svc.GetByID(ctx, ac, id)
	if err != nil {
		return Institute{}, err
	}
	if newOwner.InstituteID != inst.ID {
		return Institute{}, ErrNotFound
	}

	inst.OwnerID = newOwner.ID
	inst.UpdatedAt = time.Now().UTC()
	inst, err = svc.repo.UpdateInstitute(ctx, inst, nil)
	if err != nil {
		return Institute{}, err
	}

	svc.logger.Info("institute ownership transferred",
		map[string]interface{}{"actor": ac.PrincipalID, "institute": inst.ID, "owner": newOwner.ID})
	return inst, nil
}

// principal.InstituteDirectory

func (svc *Service) InstituteExists(ctx context.Context, id string) (bool, error) {
	if _, err := svc.repo.GetInstitute(ctx, GetFilter{ID: id}); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (svc *Service) OwnedInstituteIDs(ctx context.Context, principalID string) ([]string, error) {
	insts, err := svc.repo.QueryInstitutesByOwner(ctx, principalID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(insts))
	for _, inst := range insts {
		ids = append(ids, inst.ID)
	}
	return ids, nil
}
