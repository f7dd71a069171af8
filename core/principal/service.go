package principal

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/access"
)

var (
	// errors
	ErrNotFound           = errors.New("principal not found")
	ErrEmailExists        = errors.New("a principal with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrSoleInstituteOwner = errors.New("principal is the sole owner of an institute")
	ErrRelinkConflict     = errors.New("principal changed concurrently; re-read and retry")
	ErrMissingInstitute   = errors.New("an institute link is required for this role")
)

type (
	// Repository is the credential store collaborator. Email uniqueness is its
	// responsibility and must be atomic with creation: CreatePrincipal returns
	// ErrEmailExists on a (case-insensitive) collision, even under concurrent
	// calls.
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excluded ...Principal) error
		CreatePrincipal(ctx context.Context, p Principal) (Principal, error)
		GetPrincipal(ctx context.Context, filter GetFilter) (Principal, error)
		// FilterPrincipals applies AND on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Name or Email.
		FilterPrincipals(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Principal, error)
		UpdatePrincipal(ctx context.Context, p Principal, isActive *bool) (Principal, error)
		// DeletePrincipalsByID also removes the deleted IDs from any other
		// principal's relation list.
		DeletePrincipalsByID(ctx context.Context, ids ...string) (int, error)

		// reconciliation support
		FindOrphanPrincipals(ctx context.Context) ([]Principal, error)
		FindEmailConflicts(ctx context.Context) ([]EmailConflict, error)
		GetPrincipalsByEmail(ctx context.Context, email string) ([]Principal, error)
		// RelinkPrincipalInstitute atomically sets the institute link iff the
		// current link still equals prevInstituteID (compare-and-set). It
		// reports whether a row was updated.
		RelinkPrincipalInstitute(ctx context.Context, id, instituteID, prevInstituteID string) (bool, error)
	}

	// InstituteDirectory is the tenant registry collaborator needed for
	// deletion preconditions and relink target checks.
	InstituteDirectory interface {
		InstituteExists(ctx context.Context, id string) (bool, error)
		OwnedInstituteIDs(ctx context.Context, principalID string) ([]string, error)
	}

	Service struct {
		repo       Repository
		institutes InstituteDirectory
		mailSvc    core.EmailService
		logger     core.Logger
	}
)

func NewService(repo Repository, institutes InstituteDirectory, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:       repo,
		institutes: institutes,
		mailSvc:    mailSvc,
		logger:     logger,
	}
}

func (svc *Service) checkUniqueness(email string, excluded ...Principal) error {
	if err := svc.repo.CheckEmailUniqueness(context.Background(), email, excluded...); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

// Register creates a self-registered principal with the least-privileged role
// unless a role was provided by an authorized creation path. The institute
// link is mandatory for all roles but super_admin.
func (svc *Service) Register(ctx context.Context, np NewPrincipal) (Principal, error) {
	if np.Role == "" {
		np.Role = RoleStudent
	}
	if np.Role != RoleSuperAdmin && np.InstituteID == "" {
		return Principal{}, ErrMissingInstitute
	}

	now := time.Now().UTC()
	p := Principal{
		Name:        np.Name,
		Email:       np.Email,
		Role:        np.Role,
		InstituteID: np.InstituteID,
		Relations:   np.Relations,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.SetActive(true)
	if err := p.SetPassword(np.Password); err != nil {
		return Principal{}, errors.Wrap(err, "hashing password")
	}

	p, err := svc.repo.CreatePrincipal(ctx, p)
	if err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return Principal{}, core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return Principal{}, errors.Wrap(err, "creating principal")
	}

	svc.sendWelcomeEmail(p)
	return p, nil
}

// Create is the authorized-administrator creation path: the new principal's
// institute is stamped from the caller's context, overriding any
// client-supplied value.
func (svc *Service) Create(ctx context.Context, ac access.Context, np NewPrincipal) (Principal, error) {
	instituteID, err := ac.StampInstitute(np.InstituteID)
	if err != nil {
		return Principal{}, err
	}
	np.InstituteID = instituteID
	if np.Role == RoleSuperAdmin {
		// super admins are never bound to an institute
		np.InstituteID = ""
	}
	return svc.Register(ctx, np)
}

// Authenticate verifies credentials. The failure is identical whether the
// email is unknown or the password is wrong, so accounts cannot be
// enumerated.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (Principal, error) {
	p, err := svc.repo.GetPrincipal(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, errors.Wrap(err, "finding principal by email")
	}
	if err := p.CheckPassword(pwd); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	if !p.Active() {
		return Principal{}, ErrAccountDeactivated
	}
	return svc.SetLastLogin(ctx, p)
}

func (svc *Service) SetLastLogin(ctx context.Context, p Principal) (Principal, error) {
	p.LastLogin = time.Now().UTC()
	p, err := svc.repo.UpdatePrincipal(ctx, p, nil)
	return p, errors.Wrap(err, "setting lastLogin")
}

// GetByID fetches a principal within the caller's scope. A record belonging
// to another institute is indistinguishable from a missing one.
func (svc *Service) GetByID(ctx context.Context, ac access.Context, id string) (Principal, error) {
	p, err := svc.repo.GetPrincipal(ctx, GetFilter{ID: id})
	if err != nil {
		return Principal{}, err
	}
	if err := ac.CheckRecord(p.InstituteID); err != nil {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

// GetByEmail is unscoped; it serves the authentication and password-reset
// paths only and must not be reachable from domain handlers.
func (svc *Service) GetByEmail(ctx context.Context, email string) (Principal, error) {
	return svc.repo.GetPrincipal(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// Query lists principals confined to the caller's scope.
func (svc *Service) Query(ctx context.Context, ac access.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Principal, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	scope := ac.QueryScope()
	filter.AllTenants = scope.All
	filter.InstituteID = scope.InstituteID
	return svc.repo.FilterPrincipals(ctx, *filter, ordering)
}

func (svc *Service) Update(ctx context.Context, ac access.Context, id string, up UpdatePrincipal) (Principal, error) {
	orig, err := svc.GetByID(ctx, ac, id)
	if err != nil {
		return Principal{}, err
	}

	p := Principal{
		ID:          orig.ID,
		Name:        up.Name,
		Email:       up.Email,
		Role:        up.Role,
		InstituteID: orig.InstituteID, // immutable outside reconciliation
		Relations:   up.Relations,
		UpdatedAt:   time.Now().UTC(),
	}
	if up.Password != "" {
		if err := p.SetPassword(up.Password); err != nil {
			return Principal{}, errors.Wrap(err, "hashing password")
		}
	}
	return svc.repo.UpdatePrincipal(ctx, p, up.IsActive)
}

// Delete removes principals within the caller's scope. Deleting the sole
// owner of an institute is refused until ownership is reassigned.
func (svc *Service) Delete(ctx context.Context, ac access.Context, ids ...string) error {
	for _, id := range ids {
		p, err := svc.GetByID(ctx, ac, id)
		if err != nil {
			return err
		}
		owned, err := svc.institutes.OwnedInstituteIDs(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "checking institute ownership")
		}
		if len(owned) > 0 {
			return ErrSoleInstituteOwner
		}
	}
	_, err := svc.repo.DeletePrincipalsByID(ctx, ids...)
	return err
}

func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	p, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !p.Active() {
		return ErrNotFound
	}
	svc.sendPasswordResetEmail(p)
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, rp ResetPrincipalPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	p, err := svc.repo.GetPrincipal(ctx, GetFilter{ID: uid})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return errors.Wrap(err, "finding principal by UID")
	}
	if err := verifyToken(p, rp.Token); err != nil {
		return core.NewValidationError(err)
	}
	if err := p.SetPassword(rp.Password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	p.UpdatedAt = time.Now().UTC()
	if _, err := svc.repo.UpdatePrincipal(ctx, p, nil); err != nil {
		return errors.Wrap(err, "updating password")
	}
	return nil
}

func (svc *Service) sendWelcomeEmail(p Principal) {
	if svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.Name, Address: p.Email}},
		Subject:      "Welcome",
		TemplateName: "welcome",
		TemplateData: struct{ Name string }{p.Name},
	})
}

func (svc *Service) sendPasswordResetEmail(p Principal) {
	if svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.Name, Address: p.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			Name  string
			UID   string
			Token string
		}{p.Name, EncodeUID(p), MakeToken(p)},
	})
}
