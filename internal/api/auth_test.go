package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/monitor/status", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestTokenAuthDisabledAllowsAll(t *testing.T) {
	auth := newTokenAuth("")
	if auth.Enabled() {
		t.Fatal("empty token must disable auth")
	}
	if !auth.Validate(authedRequest("")) {
		t.Fatal("disabled auth must accept anonymous requests")
	}
}

func TestTokenAuthValidate(t *testing.T) {
	auth := newTokenAuth("  secret  ")
	if !auth.Enabled() {
		t.Fatal("expected auth enabled")
	}

	if auth.Validate(authedRequest("")) {
		t.Fatal("missing token must be rejected")
	}
	if auth.Validate(authedRequest("wrong")) {
		t.Fatal("wrong token must be rejected")
	}
	if !auth.Validate(authedRequest("secret")) {
		t.Fatal("configured token must be accepted")
	}

	mixedCase := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	mixedCase.Header.Set("Authorization", "BEARER secret")
	if !auth.Validate(mixedCase) {
		t.Fatal("bearer scheme is case-insensitive")
	}

	query := httptest.NewRequest(http.MethodGet, "/api/requests?token=secret", nil)
	if !auth.Validate(query) {
		t.Fatal("token query parameter must be accepted")
	}
}

func TestTokenAuthMiddleware(t *testing.T) {
	auth := newTokenAuth("secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := auth.Middleware(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("secret"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
