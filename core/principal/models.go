package principal

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/darasahq/darasa/core"
)

// Roles. A principal holds exactly one.
const (
	RoleSuperAdmin = "super_admin" // platform operator; not bound to an institute
	RoleAdmin      = "admin"       // institute administrator/owner
	RoleTeacher    = "teacher"
	RoleStudent    = "student"
	RoleParent     = "parent"
	// "staff" is reserved for a future support-staff role.
)

var (
	AllRoles = []string{RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

	// InstituteRoles are the roles that must be linked to an institute.
	InstituteRoles = []string{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

	rolePriorities = map[string]int{
		RoleSuperAdmin: 50,
		RoleAdmin:      40,
		RoleTeacher:    30,
		RoleStudent:    20,
		RoleParent:     10,
	}

	Roles = []Role{
		{Name: "Parent", Value: RoleParent},
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Super Admin", Value: RoleSuperAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Principal is an authenticated actor: a user with exactly one role and
// (except for super admins) a link to exactly one institute.
type Principal struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	InstituteID  string    `json:"institute_id,omitempty"` // empty only for super_admin
	Relations    []string  `json:"relations,omitempty"`    // linked principal IDs (eg. parent -> students)
	IsActive     *bool     `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (p *Principal) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return nil
}

// CheckPassword compares pwd against the stored hash using bcrypt's own
// constant-time comparison.
func (p *Principal) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(pwd))
}

func (p *Principal) SetActive(active bool) {
	p.IsActive = &active
}

func (p *Principal) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

func (p *Principal) IsSuperAdmin() bool { return p.Role == RoleSuperAdmin }
func (p *Principal) IsAdmin() bool      { return p.Role == RoleAdmin || p.Role == RoleSuperAdmin }

// Linked reports whether the principal has an institute link.
func (p *Principal) Linked() bool { return p.InstituteID != "" }

// NewPrincipal contains information needed to create a new Principal.
// InstituteID is never trusted from clients: the service stamps it from the
// caller's context (or, at self-registration, from the registration flow).
type NewPrincipal struct {
	Name            string   `json:"name" validate:"required"`
	Email           string   `json:"email" validate:"required,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string   `json:"role" validate:"omitempty,role"`
	InstituteID     string   `json:"institute_id"`
	Relations       []string `json:"relations" validate:"omitempty,dive,uuid4"`
}

func (np *NewPrincipal) Validate(svc *Service) error {
	np.Name = core.CleanString(np.Name)
	np.Email = core.CleanString(np.Email, true /* lower */)

	if err := core.Validate.Struct(np); err != nil {
		return err
	}
	return svc.checkUniqueness(np.Email)
}

// UpdatePrincipal defines what information may be provided to modify an
// existing Principal. Role and IsActive changes are restricted to admins by
// the API layer; the institute link can only change through reconciliation.
type UpdatePrincipal struct {
	Name            string   `json:"name"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Role            string   `json:"role" validate:"omitempty,role"`
	IsActive        *bool    `json:"is_active"`
	Relations       []string `json:"relations" validate:"omitempty,dive,uuid4"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (up *UpdatePrincipal) Validate(orig Principal, svc *Service) error {
	name := core.CleanString(up.Name)
	if name != "" {
		up.Name = name
	} else {
		up.Name = orig.Name
	}

	email := core.CleanString(up.Email, true /* lower */)
	if email != "" {
		up.Email = email
	} else {
		up.Email = orig.Email
	}

	if up.Role == "" {
		up.Role = orig.Role
	}

	if err := core.Validate.Struct(up); err != nil {
		return err
	}
	return svc.checkUniqueness(up.Email, orig)
}

type ResetPrincipalPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetPrincipalPassword) Validate() error { return core.Validate.Struct(rp) }

// QueryFilter narrows principal listings. InstituteID is always forced from
// the caller's scope by the service, never bound from the request.
type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`

	InstituteID string `query:"-"`
	AllTenants  bool   `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero() &&
		qf.InstituteID == "" && !qf.AllTenants
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter fetches a single principal. Exactly one of the lookups is used;
// ID takes precedence.
type GetFilter struct {
	ID    string
	Email string
}
