package main

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
	"github.com/darasahq/darasa/storage/database/inmem"
	"github.com/darasahq/darasa/tests"
)

func setupCLI(t *testing.T) (*commandLine, principal.Repository, institute.Repository) {
	t.Helper()
	core.Conf.TestMode = true

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	pRepo := inmemdb.NewPrincipalRepository(db)
	iRepo := inmemdb.NewInstituteRepository(db)

	logger := testutil.NopLogger{}
	instSvc := institute.NewService(iRepo, logger)
	cli := &commandLine{
		principalRepo: pRepo,
		reconciler:    principal.NewReconciler(pRepo, instSvc, logger),
	}
	return cli, pRepo, iRepo
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	origReadPassword := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = origReadPassword })
}

func Test_run_help(t *testing.T) {
	cli, _, _ := setupCLI(t)
	mockPassword(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: []string{"admin"}},
		{name: "unknown command", args: []string{"admin", "lol"}},
		{name: "migrate without goose command", args: []string{"admin", "migrate"}},
		{name: "addsuperadmin missing flags", args: []string{"admin", "addsuperadmin", "-name", "Root"}},
		{name: "addsuperadmin empty password", args: []string{"admin", "addsuperadmin", "-name", "Root", "-email", "root@darasa.cd"}},
		{name: "resetpassword missing email", args: []string{"admin", "resetpassword"}},
		{name: "relink missing flags", args: []string{"admin", "relink", "-principal", "x"}},
		{name: "resolveconflict missing flags", args: []string{"admin", "resolveconflict", "-email", "dup@darasa.cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(tt.args); err != errHelp {
				t.Errorf("run() error = %v, want errHelp", err)
			}
		})
	}
}

func Test_run_migrate(t *testing.T) {
	cli, _, _ := setupCLI(t)

	var gotCommand, gotDir string
	var gotArgs []string
	origGooseRun := gooseRunFunc
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		gotCommand, gotDir, gotArgs = command, dir, args
		return nil
	}
	t.Cleanup(func() { gooseRunFunc = origGooseRun })

	tests := []struct {
		name     string
		args     []string
		wantCmd  string
		wantArgs int
	}{
		{name: "up", args: []string{"admin", "migrate", "up"}, wantCmd: "up"},
		{name: "down", args: []string{"admin", "migrate", "down"}, wantCmd: "down"},
		{name: "create with arguments", args: []string{"admin", "migrate", "create", "add_audit_table", "sql"}, wantCmd: "create", wantArgs: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(tt.args); err != nil {
				t.Fatalf("run() failed: %v", err)
			}
			if gotCommand != tt.wantCmd {
				t.Errorf("goose command = %s, want %s", gotCommand, tt.wantCmd)
			}
			if gotDir != "migrations" {
				t.Errorf("goose dir = %s, want migrations", gotDir)
			}
			if len(gotArgs) != tt.wantArgs {
				t.Errorf("goose args = %v, want %d of them", gotArgs, tt.wantArgs)
			}
		})
	}
}

func Test_run_addSuperAdmin(t *testing.T) {
	cli, pRepo, iRepo := setupCLI(t)
	mockPassword(t, "S3cretz#z")
	ctx := context.Background()

	args := []string{"admin", "addsuperadmin", "-name", "Root", "-email", "Root@Darasa.CD"}

	t.Run("creates", func(t *testing.T) {
		if err := cli.run(args); err != nil {
			t.Fatalf("run() failed: %v", err)
		}
		p, err := pRepo.GetPrincipal(ctx, principal.GetFilter{Email: "root@darasa.cd"})
		if err != nil {
			t.Fatalf("GetPrincipal() failed: %v", err)
		}
		if p.Role != principal.RoleSuperAdmin {
			t.Errorf("role = %s, want super_admin", p.Role)
		}
		if p.InstituteID != "" {
			t.Errorf("institute = %s, want none", p.InstituteID)
		}
		if err := p.CheckPassword("S3cretz#z"); err != nil {
			t.Errorf("CheckPassword() failed on the prompted password: %v", err)
		}
	})

	t.Run("updates in place on repeat", func(t *testing.T) {
		if err := cli.run(args); err != nil {
			t.Fatalf("run() failed: %v", err)
		}
		principals, err := pRepo.FilterPrincipals(ctx, principal.QueryFilter{Search: "root@darasa.cd"}, nil)
		if err != nil {
			t.Fatalf("FilterPrincipals() failed: %v", err)
		}
		if len(principals) != 1 {
			t.Errorf("principals = %d, want 1 (updated, not duplicated)", len(principals))
		}
	})

	t.Run("promoting a linked principal clears the institute link", func(t *testing.T) {
		inst, _ := testutil.CreateInstitute(t, iRepo, "Alpha", "alpha", "Owner", "owner@alpha.cd", "S3cretz#z")
		testutil.CreatePrincipal(t, pRepo, "Member", "member@alpha.cd", "", principal.RoleTeacher, inst.ID, true)

		if err := cli.run([]string{"admin", "addsuperadmin", "-name", "Member", "-email", "member@alpha.cd"}); err != nil {
			t.Fatalf("run() failed: %v", err)
		}
		p, err := pRepo.GetPrincipal(ctx, principal.GetFilter{Email: "member@alpha.cd"})
		if err != nil {
			t.Fatalf("GetPrincipal() failed: %v", err)
		}
		if p.Role != principal.RoleSuperAdmin {
			t.Errorf("role = %s, want super_admin", p.Role)
		}
		if p.InstituteID != "" {
			t.Errorf("institute = %s, want none", p.InstituteID)
		}
	})
}

func Test_run_resetPassword(t *testing.T) {
	cli, pRepo, iRepo := setupCLI(t)
	mockPassword(t, "N3w#secretz")
	ctx := context.Background()

	_, owner := testutil.CreateInstitute(t, iRepo, "Alpha", "alpha", "Owner", "owner@alpha.cd", "S3cretz#z")

	if err := cli.run([]string{"admin", "resetpassword", "-email", "OWNER@alpha.cd"}); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	p, err := pRepo.GetPrincipal(ctx, principal.GetFilter{ID: owner.ID})
	if err != nil {
		t.Fatalf("GetPrincipal() failed: %v", err)
	}
	if err := p.CheckPassword("N3w#secretz"); err != nil {
		t.Errorf("CheckPassword() failed on the new password: %v", err)
	}

	t.Run("unknown email", func(t *testing.T) {
		err := cli.run([]string{"admin", "resetpassword", "-email", "nobody@alpha.cd"})
		if errors.Cause(err) != principal.ErrNotFound {
			t.Errorf("run() error = %v, want ErrNotFound", err)
		}
	})
}

func Test_run_reconcile(t *testing.T) {
	cli, pRepo, iRepo := setupCLI(t)
	ctx := context.Background()

	inst, _ := testutil.CreateInstitute(t, iRepo, "Alpha", "alpha", "Owner", "owner@alpha.cd", "S3cretz#z")

	seeder, ok := pRepo.(interface {
		SeedPrincipal(p principal.Principal) principal.Principal
	})
	if !ok {
		t.Fatal("repository does not support seeding")
	}
	orphan := seeder.SeedPrincipal(principal.Principal{Name: "Lost", Email: "lost@alpha.cd", Role: principal.RoleStudent})
	keep := seeder.SeedPrincipal(principal.Principal{Name: "Dup 1", Email: "dup@alpha.cd", Role: principal.RoleStudent, InstituteID: inst.ID})
	seeder.SeedPrincipal(principal.Principal{Name: "Dup 2", Email: "DUP@alpha.cd", Role: principal.RoleStudent, InstituteID: inst.ID})

	t.Run("orphans and emailconflicts run clean", func(t *testing.T) {
		if err := cli.run([]string{"admin", "orphans"}); err != nil {
			t.Errorf("run(orphans) failed: %v", err)
		}
		if err := cli.run([]string{"admin", "emailconflicts"}); err != nil {
			t.Errorf("run(emailconflicts) failed: %v", err)
		}
	})

	t.Run("relink", func(t *testing.T) {
		if err := cli.run([]string{"admin", "relink", "-principal", orphan.ID, "-institute", inst.ID}); err != nil {
			t.Fatalf("run(relink) failed: %v", err)
		}
		p, err := pRepo.GetPrincipal(ctx, principal.GetFilter{ID: orphan.ID})
		if err != nil {
			t.Fatalf("GetPrincipal() failed: %v", err)
		}
		if p.InstituteID != inst.ID {
			t.Errorf("institute = %s, want %s", p.InstituteID, inst.ID)
		}
	})

	t.Run("resolveconflict", func(t *testing.T) {
		if err := cli.run([]string{"admin", "resolveconflict", "-email", "dup@alpha.cd", "-keep", keep.ID}); err != nil {
			t.Fatalf("run(resolveconflict) failed: %v", err)
		}
		principals, err := pRepo.GetPrincipalsByEmail(ctx, "dup@alpha.cd")
		if err != nil {
			t.Fatalf("GetPrincipalsByEmail() failed: %v", err)
		}
		if len(principals) != 1 {
			t.Errorf("principals = %d, want 1 after resolution", len(principals))
		}
	})
}
