package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
)

// NopLogger discards everything; keeps test output clean.
type NopLogger struct{}

var _ core.Logger = (*NopLogger)(nil)

func (NopLogger) Enable(bool)                       {}
func (NopLogger) Debug(string, ...interface{})      {}
func (NopLogger) Info(string, ...interface{})       {}
func (NopLogger) Warn(string, ...interface{})       {}
func (NopLogger) Error(string, ...interface{})      {}
func (NopLogger) Fatal(string, ...interface{})      {}

func CreatePrincipal(
	t *testing.T,
	repo principal.Repository,
	name, email, pwd, role, instituteID string,
	isActive bool,
	createdAt ...time.Time,
) principal.Principal {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	p := principal.Principal{
		Name:        name,
		Email:       email,
		Role:        role,
		InstituteID: instituteID,
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
	}
	p.SetActive(isActive)
	if pwd != "" {
		if err := p.SetPassword(pwd); err != nil {
			t.Fatalf("CreatePrincipal() failed: %v", err)
		}
	}
	p, err := repo.CreatePrincipal(context.Background(), p)
	if err != nil {
		t.Fatalf("CreatePrincipal() failed: %v", err)
	}
	return p
}

// CreateInstitute registers an institute with its owning admin in one shot and
// returns both.
func CreateInstitute(
	t *testing.T,
	repo institute.Repository,
	name, subdomain, ownerName, ownerEmail, ownerPwd string,
) (institute.Institute, principal.Principal) {
	t.Helper()

	now := time.Now().UTC()
	inst := institute.Institute{
		Name:      name,
		Subdomain: subdomain,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inst.SetActive(true)

	owner := principal.Principal{
		Name:      ownerName,
		Email:     ownerEmail,
		Role:      principal.RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner.SetActive(true)
	if ownerPwd != "" {
		if err := owner.SetPassword(ownerPwd); err != nil {
			t.Fatalf("CreateInstitute() failed: %v", err)
		}
	}

	inst, owner, err := repo.CreateInstituteWithOwner(context.Background(), inst, owner)
	if err != nil {
		t.Fatalf("CreateInstitute() failed: %v", err)
	}
	return inst, owner
}
