package institute

import (
	"time"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/principal"
)

// Settings is a small branding-like configuration blob. It is opaque to the
// access-control core.
type Settings map[string]string

// Institute is an isolated data scope (tenant). Every domain record belongs
// to exactly one institute; an institute always has exactly one owner
// principal whose own institute link points back here.
type Institute struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain,omitempty"` // unique if present
	OwnerID   string    `json:"owner_id"`
	Settings  Settings  `json:"settings,omitempty"`
	IsActive  *bool     `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (inst *Institute) SetActive(active bool) {
	inst.IsActive = &active
}

func (inst *Institute) Active() bool {
	return inst.IsActive == nil || *inst.IsActive
}

// NewInstitute contains the information needed to register an institute
// together with its owning admin principal. Creation of both is one atomic
// unit: neither exists without the other.
type NewInstitute struct {
	Name      string   `json:"name" validate:"required"`
	Subdomain string   `json:"subdomain" validate:"omitempty,min=3,alphanum_"`
	Settings  Settings `json:"settings"`

	Owner principal.NewPrincipal `json:"owner"`
}

func (ni *NewInstitute) Validate(svc *Service) error {
	ni.Name = core.CleanString(ni.Name)
	ni.Subdomain = core.CleanString(ni.Subdomain, true /* lower */)
	ni.Owner.Name = core.CleanString(ni.Owner.Name)
	ni.Owner.Email = core.CleanString(ni.Owner.Email, true /* lower */)

	if err := core.Validate.Struct(ni); err != nil {
		return err
	}
	return svc.checkSubdomainUniqueness(ni.Subdomain)
}

// UpdateInstitute modifies an institute's presentation; the owner and active
// flag change only through TransferOwnership and Deactivate.
type UpdateInstitute struct {
	Name      string   `json:"name"`
	Subdomain string   `json:"subdomain" validate:"omitempty,min=3,alphanum_"`
	Settings  Settings `json:"settings"`
}

func (ui *UpdateInstitute) Validate(orig Institute, svc *Service) error {
	name := core.CleanString(ui.Name)
	if name != "" {
		ui.Name = name
	} else {
		ui.Name = orig.Name
	}

	sub := core.CleanString(ui.Subdomain, true /* lower */)
	if sub != "" {
		ui.Subdomain = sub
	} else {
		ui.Subdomain = orig.Subdomain
	}

	if err := core.Validate.Struct(ui); err != nil {
		return err
	}
	return svc.checkSubdomainUniqueness(ui.Subdomain, orig)
}

// GetFilter fetches a single institute; ID takes precedence.
type GetFilter struct {
	ID        string
	Subdomain string
	OwnerID   string
}
