package institute_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/access"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
	"github.com/darasahq/darasa/storage/database/inmem"
	"github.com/darasahq/darasa/tests"
)

func setup(t *testing.T) (institute.Repository, principal.Repository, *institute.Service) {
	t.Helper()

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	iRepo := inmemdb.NewInstituteRepository(db)
	pRepo := inmemdb.NewPrincipalRepository(db)
	return iRepo, pRepo, institute.NewService(iRepo, testutil.NopLogger{})
}

func adminCtx(p principal.Principal) access.Context {
	return access.Context{PrincipalID: p.ID, Role: p.Role, InstituteID: p.InstituteID}
}

func newInstitute(name, subdomain, ownerEmail string) institute.NewInstitute {
	return institute.NewInstitute{
		Name:      name,
		Subdomain: subdomain,
		Owner: principal.NewPrincipal{
			Name:            "Owner",
			Email:           ownerEmail,
			Password:        "S3cretz#z",
			PasswordConfirm: "S3cretz#z",
		},
	}
}

func TestService_Register(t *testing.T) {
	_, pRepo, svc := setup(t)
	ctx := context.Background()

	t.Run("creates institute and owner atomically", func(t *testing.T) {
		inst, owner, err := svc.Register(ctx, newInstitute("Alpha", "alpha", "owner@alpha.cd"))
		if err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		if inst.OwnerID != owner.ID {
			t.Errorf("Register() OwnerID = %s, want %s", inst.OwnerID, owner.ID)
		}
		if owner.InstituteID != inst.ID {
			t.Errorf("Register() owner institute = %s, want %s", owner.InstituteID, inst.ID)
		}
		if owner.Role != principal.RoleAdmin {
			t.Errorf("Register() owner role = %s, want %s", owner.Role, principal.RoleAdmin)
		}
	})

	t.Run("duplicate subdomain fails whole unit", func(t *testing.T) {
		_, _, err := svc.Register(ctx, newInstitute("Alpha 2", "ALPHA", "owner2@alpha.cd"))
		var vErr *core.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("Register() error = %v, want ValidationError", err)
		}
		// the owner must not have been created
		if _, err := pRepo.GetPrincipal(ctx, principal.GetFilter{Email: "owner2@alpha.cd"}); errors.Cause(err) != principal.ErrNotFound {
			t.Errorf("GetPrincipal() error = %v, want ErrNotFound (no partial creation)", err)
		}
	})

	t.Run("duplicate owner email fails whole unit", func(t *testing.T) {
		_, _, err := svc.Register(ctx, newInstitute("Beta", "beta", "OWNER@alpha.cd"))
		var vErr *core.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("Register() error = %v, want ValidationError", err)
		}
		if _, err := svc.GetBySubdomain(ctx, "beta"); errors.Cause(err) != institute.ErrNotFound {
			t.Errorf("GetBySubdomain() error = %v, want ErrNotFound (no partial creation)", err)
		}
	})
}

func TestService_GetByID_masksCrossTenant(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	instA, ownerA, err := svc.Register(ctx, newInstitute("Alpha", "alpha", "owner@alpha.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	instB, _, err := svc.Register(ctx, newInstitute("Beta", "beta", "owner@beta.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if _, err := svc.GetByID(ctx, adminCtx(ownerA), instA.ID); err != nil {
		t.Errorf("GetByID() own institute failed: %v", err)
	}
	if _, err := svc.GetByID(ctx, adminCtx(ownerA), instB.ID); errors.Cause(err) != institute.ErrNotFound {
		t.Errorf("GetByID() foreign institute error = %v, want ErrNotFound", err)
	}

	super := access.Context{PrincipalID: "root", Role: principal.RoleSuperAdmin}
	if _, err := svc.GetByID(ctx, super, instB.ID); err != nil {
		t.Errorf("GetByID() as super admin failed: %v", err)
	}
}

func TestService_GetBySubdomain(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	inst, owner, err := svc.Register(ctx, newInstitute("Alpha", "alpha", "owner@alpha.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if got, err := svc.GetBySubdomain(ctx, "ALPHA"); err != nil || got.ID != inst.ID {
		t.Errorf("GetBySubdomain() = (%v, %v), want institute %s", got.ID, err, inst.ID)
	}

	// deactivated institutes are not publicly resolvable
	if _, err := svc.Deactivate(ctx, adminCtx(owner), inst.ID); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}
	if _, err := svc.GetBySubdomain(ctx, "alpha"); errors.Cause(err) != institute.ErrNotFound {
		t.Errorf("GetBySubdomain() error = %v, want ErrNotFound", err)
	}
}

func TestService_QueryAll(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	_, owner, err := svc.Register(ctx, newInstitute("Alpha", "alpha", "owner@alpha.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if _, err := svc.QueryAll(ctx, adminCtx(owner)); errors.Cause(err) != access.ErrForbidden {
		t.Errorf("QueryAll() as admin error = %v, want ErrForbidden", err)
	}

	super := access.Context{PrincipalID: "root", Role: principal.RoleSuperAdmin}
	insts, err := svc.QueryAll(ctx, super)
	if err != nil {
		t.Fatalf("QueryAll() failed: %v", err)
	}
	if len(insts) != 1 {
		t.Errorf("QueryAll() count = %d, want 1", len(insts))
	}
}

func TestService_TransferOwnership(t *testing.T) {
	_, pRepo, svc := setup(t)
	ctx := context.Background()

	inst, owner, err := svc.Register(ctx, newInstitute("Alpha", "alpha", "owner@alpha.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	member := testutil.CreatePrincipal(t, pRepo, "Member", "member@alpha.cd", "", principal.RoleTeacher, inst.ID, true)
	instB, _, err := svc.Register(ctx, newInstitute("Beta", "beta", "owner@beta.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	foreign := testutil.CreatePrincipal(t, pRepo, "Far", "far@beta.cd", "", principal.RoleTeacher, instB.ID, true)

	t.Run("new owner must belong to the institute", func(t *testing.T) {
		_, err := svc.TransferOwnership(ctx, adminCtx(owner), inst.ID, foreign)
		if errors.Cause(err) != institute.ErrNotFound {
			t.Errorf("TransferOwnership() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("transfers to a member", func(t *testing.T) {
		got, err := svc.TransferOwnership(ctx, adminCtx(owner), inst.ID, member)
		if err != nil {
			t.Fatalf("TransferOwnership() failed: %v", err)
		}
		if got.OwnerID != member.ID {
			t.Errorf("TransferOwnership() OwnerID = %s, want %s", got.OwnerID, member.ID)
		}
	})
}

func TestService_OwnedInstituteIDs(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	inst, owner, err := svc.Register(ctx, newInstitute("Alpha", "alpha", "owner@alpha.cd"))
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	ids, err := svc.OwnedInstituteIDs(ctx, owner.ID)
	if err != nil {
		t.Fatalf("OwnedInstituteIDs() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != inst.ID {
		t.Errorf("OwnedInstituteIDs() = %v, want [%s]", ids, inst.ID)
	}

	ids, err = svc.OwnedInstituteIDs(ctx, "nobody")
	if err != nil {
		t.Fatalf("OwnedInstituteIDs() failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("OwnedInstituteIDs() = %v, want empty", ids)
	}
}
