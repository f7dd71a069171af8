package main

import (
	"context"
	"time"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/principal"
)

// addSuperAdmin updates or creates a platform operator. Super admins are never
// bound to an institute.
func (cli *commandLine) addSuperAdmin(name, email, pwd string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)

	now := time.Now().UTC()
	p, err := cli.principalRepo.GetPrincipal(ctx, principal.GetFilter{Email: email})
	if err != nil {
		if err != principal.ErrNotFound {
			return err
		}
		p = principal.Principal{
			Name:      name,
			Email:     email,
			CreatedAt: now,
		}
	}
	prevLink := p.InstituteID
	p.Role = principal.RoleSuperAdmin
	p.InstituteID = ""
	p.UpdatedAt = now
	p.SetActive(true)
	if err := p.SetPassword(pwd); err != nil {
		return err
	}

	if p.ID == "" {
		_, err = cli.principalRepo.CreatePrincipal(ctx, p)
		return err
	}

	// the generic update never touches the institute link; unlink explicitly,
	// with the same compare-and-set the reconciler uses
	if prevLink != "" {
		ok, err := cli.principalRepo.RelinkPrincipalInstitute(ctx, p.ID, "", prevLink)
		if err != nil {
			return err
		}
		if !ok {
			return principal.ErrRelinkConflict
		}
	}

	isActive := true
	_, err = cli.principalRepo.UpdatePrincipal(ctx, p, &isActive)
	return err
}
