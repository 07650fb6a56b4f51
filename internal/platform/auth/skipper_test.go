package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextForPath(path string) echo.Context {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
	c.SetPath(path)
	return c
}

func TestAuthSkipper(t *testing.T) {
	for _, p := range []string{"/health", "/health/db"} {
		if !AuthSkipper(contextForPath(p)) {
			t.Errorf("expected %s to be skipped", p)
		}
	}
	for _, p := range []string{"/api/v1/calculated-fields", "/api/v1/formulas/evaluate", "/"} {
		if AuthSkipper(contextForPath(p)) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("expected /health to be public")
	}
	if IsPublicPath("/api/v1/calculated-fields") {
		t.Error("expected /api/v1/calculated-fields to NOT be public")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	c := contextForPath("/health")

	var handlerCalled bool
	handler := func(c echo.Context) error {
		handlerCalled = true
		return c.String(http.StatusOK, "ok")
	}

	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	if err := JWTMiddleware(cfg)(handler)(c); err != nil {
		t.Fatalf("expected no error for skipped path, got: %v", err)
	}
	if !handlerCalled {
		t.Error("expected handler to be called for skipped path")
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedPaths(t *testing.T) {
	c := contextForPath("/api/v1/calculated-fields")
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	err := JWTMiddleware(cfg)(okHandler)(c)
	expectUnauthorized(t, err)
}

func TestDevAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	c := contextForPath("/health")
	handler := func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "" {
			t.Errorf("expected no identity on a public path, got %s", uid)
		}
		return nil
	}
	if err := DevAuthMiddleware(AuthSkipper)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
