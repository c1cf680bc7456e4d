package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// tokenValidator maps fixed tokens to sessions
type tokenValidator map[string]*auth.Session

func (v tokenValidator) SessionFromToken(_ context.Context, token string) (*auth.Session, error) {
	if s, ok := v[token]; ok {
		return s, nil
	}
	return nil, auth.NewCredentialError(errors.New("unknown token"))
}

type guardFixture struct {
	app    *fiber.App
	sink   *recordingSink
	tokens map[auth.Role]string
}

func newGuardFixture(t *testing.T, opts ...auth.RouteGuardOption) *guardFixture {
	t.Helper()

	validator := tokenValidator{}
	finder := newGatedProfileFinder()
	tokens := map[auth.Role]string{}

	add := func(token string, role auth.Role, status auth.ProfileStatus) {
		session := testSession(token + "@school.edu")
		session.AccessToken = token
		validator[token] = session
		finder.Add(&auth.Profile{
			ID:          uuid.New(),
			PrincipalID: session.Principal.ID,
			Role:        role,
			Status:      status,
		})
	}

	add("admin-token", auth.RoleAdmin, auth.ProfileStatusActive)
	add("staff-token", auth.RoleStaff, auth.ProfileStatusActive)
	add("student-token", auth.RoleStudent, auth.ProfileStatusActive)
	add("pending-token", auth.RoleStaff, auth.ProfileStatusPending)
	add("suspended-token", auth.RoleStaff, auth.ProfileStatusSuspended)
	tokens[auth.RoleAdmin] = "admin-token"
	tokens[auth.RoleStaff] = "staff-token"
	tokens[auth.RoleStudent] = "student-token"

	// principal without a profile
	orphan := testSession("orphan@school.edu")
	orphan.AccessToken = "orphan-token"
	validator["orphan-token"] = orphan

	sink := &recordingSink{}
	opts = append([]auth.RouteGuardOption{auth.WithGuardActivitySink(sink)}, opts...)
	guard := auth.NewRouteGuard(validator, finder, opts...)

	app := fiber.New()
	app.Use(guard.Middleware())

	ok := func(c *fiber.Ctx) error {
		profile, _ := auth.ProfileFromContext(c.UserContext())
		state, _ := auth.SessionStateFromFiber(c)
		role := ""
		if profile != nil {
			role = string(profile.Role)
		}
		return c.JSON(fiber.Map{"role": role, "authenticated": state.IsAuthenticated()})
	}

	for _, path := range []string{"/login", "/dashboard", "/approvals", "/students", "/staff/:id", "/api/reports"} {
		app.Get(path, ok)
	}
	app.Get("/api/admin-only", guard.Require(auth.RequireAdmin), ok)

	return &guardFixture{app: app, sink: sink, tokens: tokens}
}

func (f *guardFixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRouteGuardPublicRoute(t *testing.T) {
	f := newGuardFixture(t)

	resp := f.get(t, "/login", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeJSON(t, resp)["authenticated"])
}

func TestRouteGuardPageRedirects(t *testing.T) {
	f := newGuardFixture(t)

	cases := []struct {
		name     string
		path     string
		token    string
		status   int
		location string
	}{
		{"signed out", "/dashboard", "", http.StatusFound, auth.LoginPath},
		{"unknown token", "/dashboard", "forged-token", http.StatusFound, auth.LoginPath},
		{"no profile", "/dashboard", "orphan-token", http.StatusFound, auth.LoginPath},
		{"pending", "/students", "pending-token", http.StatusFound, auth.PendingPath},
		{"suspended", "/dashboard", "suspended-token", http.StatusFound, auth.UnauthorizedPath},
		{"student on staff", "/students", "student-token", http.StatusFound, auth.UnauthorizedPath},
		{"staff on admin", "/approvals", "staff-token", http.StatusFound, auth.UnauthorizedPath},
		{"staff nested path", "/staff/12", "staff-token", http.StatusOK, ""},
		{"admin on staff", "/students", "admin-token", http.StatusOK, ""},
		{"admin on admin", "/approvals", "admin-token", http.StatusOK, ""},
		{"student on dashboard", "/dashboard", "student-token", http.StatusOK, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.get(t, tc.path, tc.token)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.location, resp.Header.Get("Location"))
		})
	}
}

func TestRouteGuardRemembersReturnPath(t *testing.T) {
	f := newGuardFixture(t)

	resp := f.get(t, "/students?page=2", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	cookie := findCookie(resp, auth.ReturnToCookie)
	require.NotNil(t, cookie)
	assert.Equal(t, "/students?page=2", cookie.Value)

	resp = f.get(t, "/approvals", f.tokens[auth.RoleStaff])
	assert.Nil(t, findCookie(resp, auth.ReturnToCookie))
}

func TestRouteGuardAPIResponses(t *testing.T) {
	f := newGuardFixture(t)

	resp := f.get(t, "/api/reports", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "redirect-to-login", body["decision"])
	assert.Equal(t, auth.LoginPath, body["redirect"])

	resp = f.get(t, "/api/admin-only", f.tokens[auth.RoleStaff])
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Equal(t, string(auth.RedirectToUnauthorized), body["decision"])

	resp = f.get(t, "/api/admin-only", f.tokens[auth.RoleAdmin])
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin", decodeJSON(t, resp)["role"])
}

func TestRouteGuardReadsCookieToken(t *testing.T) {
	f := newGuardFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: f.tokens[auth.RoleStaff]})
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouteGuardQueryTokenLookup(t *testing.T) {
	f := newGuardFixture(t, auth.WithGuardTokenLookup("query:token"))

	resp := f.get(t, "/students?token="+f.tokens[auth.RoleStaff], "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/students", f.tokens[auth.RoleStaff])
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestRouteGuardRecordsDenials(t *testing.T) {
	f := newGuardFixture(t)

	f.get(t, "/approvals", "pending-token")

	event, ok := f.sink.Find(auth.ActivityEventAccessDenied)
	require.True(t, ok)
	assert.Equal(t, "/approvals", event.Metadata["path"])
	assert.Equal(t, string(auth.RequireAdmin), event.Metadata["requirement"])
	assert.Equal(t, string(auth.RedirectToPending), event.Metadata["decision"])
	assert.Equal(t, "pending", event.Metadata["status"])
	assert.Equal(t, "user", event.Actor.Type)
}

func TestRouteGuardCustomRouteTable(t *testing.T) {
	table := auth.NewRouteTable(auth.RequireNone, map[string]auth.RouteRequirement{
		"/dashboard": auth.RequireAdmin,
	})
	f := newGuardFixture(t, auth.WithRouteTable(table))

	resp := f.get(t, "/students", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/dashboard", f.tokens[auth.RoleStaff])
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, auth.UnauthorizedPath, resp.Header.Get("Location"))
}

func TestRouteGuardLookupFailure(t *testing.T) {
	session := testSession("ada@school.edu")
	finder := &MockProfileFinder{}
	finder.On("FindByPrincipalID", mock.Anything, session.Principal.ID).
		Return(nil, auth.NewStoreError(errors.New("db offline")))

	guard := auth.NewRouteGuard(tokenValidator{"t": session}, finder)
	app := fiber.New()
	app.Get("/dashboard", guard.Middleware(), func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer t")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decodeJSON(t, resp)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, auth.TextCodeStoreFailure, errBody["text_code"])
	assert.NotContains(t, errBody, "metadata")
}

func TestRouteGuardConfigLoginPath(t *testing.T) {
	f := newGuardFixture(t, auth.WithGuardConfig(guardConfig{login: "/signin"}))

	resp := f.get(t, "/dashboard", "")
	assert.Equal(t, "/signin", resp.Header.Get("Location"))

	resp = f.get(t, "/approvals", f.tokens[auth.RoleStudent])
	assert.Equal(t, auth.UnauthorizedPath, resp.Header.Get("Location"))
}

type guardConfig struct {
	reconcilerConfig
	login string
}

func (c guardConfig) GetRejectedRouteDefault() string { return c.login }
func (c guardConfig) GetTokenLookup() string          { return "header:Authorization" }

func TestBearerSchemeIsCaseInsensitive(t *testing.T) {
	f := newGuardFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", strings.ToLower("BEARER ")+f.tokens[auth.RoleAdmin])
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
