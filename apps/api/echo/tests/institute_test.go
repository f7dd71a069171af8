package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/pkg/errors"

	. "github.com/darasahq/darasa/apps/api/echo"
	"github.com/darasahq/darasa/core/institute"
	"github.com/darasahq/darasa/core/principal"
	"github.com/darasahq/darasa/tests"
)

func registerBody(t *testing.T, name, subdomain, ownerEmail string) []byte {
	t.Helper()
	return marchallObj(t, map[string]interface{}{
		"name":      name,
		"subdomain": subdomain,
		"owner": map[string]string{
			"name":             "Owner",
			"email":            ownerEmail,
			"password":         "S3cretz#z",
			"password_confirm": "S3cretz#z",
		},
	})
}

func Test_instituteApi_register(t *testing.T) {
	resetState()

	t.Run("creates institute and owner", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/institutes", registerBody(t, "Alpha", "alpha", "owner@alpha.cd"))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var res RegisterInstituteResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if res.Institute.OwnerID != res.Owner.ID {
			t.Errorf("owner_id = %s, want %s", res.Institute.OwnerID, res.Owner.ID)
		}
		if res.Owner.Role != principal.RoleAdmin {
			t.Errorf("owner role = %s, want admin", res.Owner.Role)
		}
		if res.Owner.InstituteID != res.Institute.ID {
			t.Errorf("owner institute = %s, want %s", res.Owner.InstituteID, res.Institute.ID)
		}
	})

	t.Run("duplicate subdomain fails with no partial creation", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/institutes", registerBody(t, "Alpha 2", "ALPHA", "owner2@alpha.cd"))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %v, want 400; body = %s", rec.Code, rec.Body.String())
		}
		ctx := context.Background()
		if _, err := principalRepo.GetPrincipal(ctx, principal.GetFilter{Email: "owner2@alpha.cd"}); errors.Cause(err) != principal.ErrNotFound {
			t.Errorf("GetPrincipal() error = %v, want ErrNotFound (no partial creation)", err)
		}
	})

	t.Run("duplicate owner email fails with no partial creation", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/institutes", registerBody(t, "Beta", "beta", "OWNER@alpha.cd"))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %v, want 400; body = %s", rec.Code, rec.Body.String())
		}
		if _, err := instSvc.GetBySubdomain(context.Background(), "beta"); errors.Cause(err) != institute.ErrNotFound {
			t.Errorf("GetBySubdomain() error = %v, want ErrNotFound (no partial creation)", err)
		}
	})
}

func Test_instituteApi_retrieveBySubdomain(t *testing.T) {
	resetState()

	inst, _ := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner", "owner@alpha.cd", "S3cretz#z")

	tests := []httpTest{
		{
			name: "public branding fields only", path: "/v1/institutes/subdomain/ALPHA",
			wantData: marchallObj(t, PublicInstituteResponse{ID: inst.ID, Name: inst.Name, Subdomain: inst.Subdomain}),
		},
		{name: "unknown subdomain", path: "/v1/institutes/subdomain/nope", wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_instituteApi_query(t *testing.T) {
	resetState()

	instA, ownerA := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner A", "owner@alpha.cd", "S3cretz#z")
	instB, _ := testutil.CreateInstitute(t, instRepo, "Beta", "beta", "Owner B", "owner@beta.cd", "S3cretz#z")
	super := testutil.CreatePrincipal(t, principalRepo, "Root", "root@darasa.cd", "S3cretz#z", principal.RoleSuperAdmin, "", true)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "super admin required", token: getToken(t, ownerA), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "super admin lists all", token: getToken(t, super), wantData: marchallList(t, instA, instB)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/institutes", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_instituteApi_retrieve(t *testing.T) {
	resetState()

	instA, ownerA := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner A", "owner@alpha.cd", "S3cretz#z")
	instB, _ := testutil.CreateInstitute(t, instRepo, "Beta", "beta", "Owner B", "owner@beta.cd", "S3cretz#z")
	member := testutil.CreatePrincipal(t, principalRepo, "Member", "member@alpha.cd", "", principal.RoleStudent, instA.ID, true)

	tests := []httpTest{
		{name: "own institute", path: "/v1/institutes/" + instA.ID, token: getToken(t, member), wantData: marchallObj(t, instA)},
		{
			name: "foreign institute masked as 404", path: "/v1/institutes/" + instB.ID, token: getToken(t, ownerA),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_instituteApi_update(t *testing.T) {
	resetState()

	instA, ownerA := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner A", "owner@alpha.cd", "S3cretz#z")
	member := testutil.CreatePrincipal(t, principalRepo, "Member", "member@alpha.cd", "", principal.RoleStudent, instA.ID, true)

	t.Run("admin required", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"name": "Nope"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/institutes/"+instA.ID, getToken(t, member), body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("code = %v, want 403; body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("owner renames and sets settings", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{"name": "Alpha Academy", "settings": map[string]string{"theme": "dark"}})
		req, rec := newAuthRequest(http.MethodPut, "/v1/institutes/"+instA.ID, getToken(t, ownerA), body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var inst institute.Institute
		if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if inst.Name != "Alpha Academy" {
			t.Errorf("name = %s, want Alpha Academy", inst.Name)
		}
		if inst.Settings["theme"] != "dark" {
			t.Errorf("settings = %v, want theme=dark", inst.Settings)
		}
		if inst.Subdomain != instA.Subdomain {
			t.Errorf("subdomain = %s, want unchanged %s", inst.Subdomain, instA.Subdomain)
		}
	})
}

func Test_instituteApi_deactivate(t *testing.T) {
	resetState()

	instA, ownerA := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner A", "owner@alpha.cd", "S3cretz#z")

	req, rec := newAuthRequest(http.MethodPost, "/v1/institutes/"+instA.ID+"/deactivate", getToken(t, ownerA))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %v, body = %s", rec.Code, rec.Body.String())
	}

	// deactivated institutes are no longer publicly resolvable
	req, rec = newRequest(http.MethodGet, "/v1/institutes/subdomain/alpha")
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("subdomain lookup after deactivation: code = %v, want 404", rec.Code)
	}
}

func Test_instituteApi_transferOwnership(t *testing.T) {
	resetState()

	instA, ownerA := testutil.CreateInstitute(t, instRepo, "Alpha", "alpha", "Owner A", "owner@alpha.cd", "S3cretz#z")
	instB, _ := testutil.CreateInstitute(t, instRepo, "Beta", "beta", "Owner B", "owner@beta.cd", "S3cretz#z")
	member := testutil.CreatePrincipal(t, principalRepo, "Member", "member@alpha.cd", "", principal.RoleTeacher, instA.ID, true)
	foreign := testutil.CreatePrincipal(t, principalRepo, "Far", "far@beta.cd", "", principal.RoleTeacher, instB.ID, true)

	ownerToken := getToken(t, ownerA)

	t.Run("foreign new owner masked as 404", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"new_owner_id": foreign.ID})
		req, rec := newAuthRequest(http.MethodPost, "/v1/institutes/"+instA.ID+"/transfer-ownership", ownerToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("code = %v, want 404; body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("transfers to a member", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"new_owner_id": member.ID})
		req, rec := newAuthRequest(http.MethodPost, "/v1/institutes/"+instA.ID+"/transfer-ownership", ownerToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v, body = %s", rec.Code, rec.Body.String())
		}
		var inst institute.Institute
		if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if inst.OwnerID != member.ID {
			t.Errorf("owner_id = %s, want %s", inst.OwnerID, member.ID)
		}
	})
}
