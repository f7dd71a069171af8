package main

import (
	"context"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/principal"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	p, err := cli.principalRepo.GetPrincipal(ctx, principal.GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return err
	}
	if err := p.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.principalRepo.UpdatePrincipal(ctx, p, nil); err != nil {
		return err
	}
	return nil
}
