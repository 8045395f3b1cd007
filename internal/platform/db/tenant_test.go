package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID_HeaderWins(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "citycare")
	c := e.NewContext(req, httptest.NewRecorder())

	if got := extractTenantID(c, "default"); got != "citycare" {
		t.Errorf("expected header tenant, got %q", got)
	}
}

func TestExtractTenantID_JWTClaimBeatsHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "citycare")
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("jwt_tenant_id", "mediplus")

	if got := extractTenantID(c, "default"); got != "mediplus" {
		t.Errorf("expected JWT tenant, got %q", got)
	}
}

func TestExtractTenantID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if got := extractTenantID(c, "default"); got != "default" {
		t.Errorf("expected default tenant, got %q", got)
	}
}

func TestTenantIDPattern(t *testing.T) {
	valid := []string{"default", "chain_01", "A1"}
	for _, id := range valid {
		if !tenantIDPattern.MatchString(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "a-b", "x;DROP TABLE", "a b"}
	for _, id := range invalid {
		if tenantIDPattern.MatchString(id) {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "citycare")
	if got := TenantFromContext(ctx); got != "citycare" {
		t.Errorf("expected citycare, got %q", got)
	}
	if got := TenantFromContext(context.Background()); got != "" {
		t.Errorf("expected empty tenant, got %q", got)
	}
}
