package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	. "github.com/darasahq/darasa/apps/api/echo"
	"github.com/darasahq/darasa/core/principal"
	"github.com/darasahq/darasa/tests"
)

// seedRaw inserts a principal bypassing uniqueness checks, the way legacy rows
// predating the unique email index would look.
func seedRaw(t *testing.T, name, email, role, instituteID string) principal.Principal {
	t.Helper()
	seeder, ok := principalRepo.(interface {
		SeedPrincipal(p principal.Principal) principal.Principal
	})
	if !ok {
		t.Fatal("repository does not support seeding")
	}
	return seeder.SeedPrincipal(principal.Principal{
		Name:        name,
		Email:       email,
		Role:        role,
		InstituteID: instituteID,
	})
}

func Test_reconcileApi_superAdminOnly(t *testing.T) {
	resetState()

	instA, ownerA := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner A", "owner@alpha.cd", "S3cretz#z")
	student := testutil.CreatePrincipal(t, principalRepo, "Stu", "stu@alpha.cd", "", principal.RoleStudent, instA.ID, true)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "student refused", token: getToken(t, student), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "institute admin refused", token: getToken(t, ownerA), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/reconcile/orphans", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_reconcileApi_orphansAndRelink(t *testing.T) {
	resetState()

	inst, _ := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner", "owner@alpha.cd", "S3cretz#z")
	orphan := seedRaw(t, "Lost", "lost@alpha.cd", principal.RoleStudent, "")
	super := testutil.CreatePrincipal(t, principalRepo, "Root", "root@darasa.cd", "S3cretz#z", principal.RoleSuperAdmin, "", true)
	token := getToken(t, super)

	listOrphans := func() []principal.Principal {
		req, rec := newAuthRequest(http.MethodGet, "/v1/reconcile/orphans", token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("orphans failed! code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var orphans []principal.Principal
		if err := json.Unmarshal(rec.Body.Bytes(), &orphans); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		return orphans
	}

	if orphans := listOrphans(); len(orphans) != 1 || orphans[0].ID != orphan.ID {
		t.Fatalf("orphans = %v, want [%s]", orphans, orphan.ID)
	}

	t.Run("relink repairs the link", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"principal_id": orphan.ID, "institute_id": inst.ID})
		req, rec := newAuthRequest(http.MethodPost, "/v1/reconcile/relink", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("relink failed! code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var p principal.Principal
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if p.InstituteID != inst.ID {
			t.Errorf("institute = %s, want %s", p.InstituteID, inst.ID)
		}
		if orphans := listOrphans(); len(orphans) != 0 {
			t.Errorf("orphans after relink = %v, want none", orphans)
		}
	})

	t.Run("relink to unknown institute", func(t *testing.T) {
		body := marchallObj(t, map[string]string{
			"principal_id": orphan.ID,
			"institute_id": "00000000-0000-4000-8000-000000000000",
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/reconcile/relink", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("code = %v, want 404; body = %s", rec.Code, rec.Body.String())
		}
	})
}

func Test_reconcileApi_emailConflicts(t *testing.T) {
	resetState()

	inst, _ := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner", "owner@alpha.cd", "S3cretz#z")
	keep := seedRaw(t, "Dup 1", "dup@alpha.cd", principal.RoleStudent, inst.ID)
	seedRaw(t, "Dup 2", "DUP@alpha.cd", principal.RoleStudent, inst.ID)
	super := testutil.CreatePrincipal(t, principalRepo, "Root", "root@darasa.cd", "S3cretz#z", principal.RoleSuperAdmin, "", true)
	token := getToken(t, super)

	t.Run("lists conflicting groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/reconcile/email-conflicts", token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var conflicts []principal.EmailConflict
		if err := json.Unmarshal(rec.Body.Bytes(), &conflicts); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if len(conflicts) != 1 || conflicts[0].Email != "dup@alpha.cd" || len(conflicts[0].Principals) != 2 {
			t.Errorf("conflicts = %v, want one group of 2 for dup@alpha.cd", conflicts)
		}
	})

	t.Run("resolve keeps the named principal", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"email": "dup@alpha.cd", "keep_id": keep.ID})
		req, rec := newAuthRequest(http.MethodPost, "/v1/reconcile/resolve-email-conflict", token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var res ResolveEmailConflictResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if res.Removed != 1 {
			t.Errorf("removed = %d, want 1", res.Removed)
		}
	})
}
