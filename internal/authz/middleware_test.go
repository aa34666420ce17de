package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	mgr := testManager(t)
	handler := Authenticate(mgr)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateRejectsMalformedHeader(t *testing.T) {
	mgr := testManager(t)
	handler := Authenticate(mgr)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	mgr := testManager(t)
	token, err := mgr.GenerateAccessToken("user-1", "alice", []string{"backup:run"})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	var seen *Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Authenticate(mgr)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.UserID != "user-1" {
		t.Fatalf("expected claims to be propagated into the request context, got %+v", seen)
	}
}

func TestRequirePermissionRejectsMissingPermission(t *testing.T) {
	mgr := testManager(t)
	token, err := mgr.GenerateAccessToken("user-1", "alice", []string{"backup:run"})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	handler := Authenticate(mgr)(RequirePermission("backup:restore")(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequirePermissionAllowsGrantedPermission(t *testing.T) {
	mgr := testManager(t)
	token, err := mgr.GenerateAccessToken("user-1", "alice", []string{"backup:restore"})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	handler := Authenticate(mgr)(RequirePermission("backup:restore")(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
