package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// DefaultTokenLookup reads the bearer header first, then the session cookie
const DefaultTokenLookup = "header:Authorization,cookie:campus_session"

// ReturnToCookie remembers the page a signed out visitor asked for
const ReturnToCookie = "campus_return_to"

const sessionStateLocalsKey = "campus.session_state"

type tokenSource struct {
	kind string
	name string
}

// RouteGuard resolves the caller behind a request and applies the access
// decision for the route. Page routes get redirects, API routes get JSON.
type RouteGuard struct {
	validator    SessionValidator
	profiles     ProfileFinder
	routes       *RouteTable
	sources      []tokenSource
	authScheme   string
	apiPrefix    string
	loginPath    string
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// RouteGuardOption customizes a RouteGuard
type RouteGuardOption func(*RouteGuard)

// WithRouteTable replaces the default console route table
func WithRouteTable(table *RouteTable) RouteGuardOption {
	return func(g *RouteGuard) {
		if table != nil {
			g.routes = table
		}
	}
}

// WithGuardTokenLookup sets token sources, e.g. "header:Authorization,cookie:session"
func WithGuardTokenLookup(lookup string) RouteGuardOption {
	return func(g *RouteGuard) {
		if sources := parseTokenLookup(lookup); len(sources) > 0 {
			g.sources = sources
		}
	}
}

// WithGuardConfig applies token lookup and login redirect from cfg
func WithGuardConfig(cfg Config) RouteGuardOption {
	return func(g *RouteGuard) {
		if cfg == nil {
			return
		}
		WithGuardTokenLookup(cfg.GetTokenLookup())(g)
		if path := strings.TrimSpace(cfg.GetRejectedRouteDefault()); path != "" {
			g.loginPath = path
		}
	}
}

// WithGuardAPIPrefix sets the prefix of routes answered with JSON
func WithGuardAPIPrefix(prefix string) RouteGuardOption {
	return func(g *RouteGuard) {
		g.apiPrefix = prefix
	}
}

// WithGuardLogger sets the guard logger
func WithGuardLogger(logger Logger) RouteGuardOption {
	return func(g *RouteGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardActivitySink records access.denied events
func WithGuardActivitySink(sink ActivitySink) RouteGuardOption {
	return func(g *RouteGuard) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithGuardClock injects a custom clock
func WithGuardClock(now func() time.Time) RouteGuardOption {
	return func(g *RouteGuard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewRouteGuard(validator SessionValidator, profiles ProfileFinder, opts ...RouteGuardOption) *RouteGuard {
	g := &RouteGuard{
		validator:    validator,
		profiles:     profiles,
		routes:       DefaultRouteTable(),
		sources:      parseTokenLookup(DefaultTokenLookup),
		authScheme:   "Bearer",
		apiPrefix:    "/api",
		loginPath:    LoginPath,
		logger:       defLogger("guard"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Middleware guards every request using the route table requirement for its path
func (g *RouteGuard) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return g.guard(c, g.routes.Requirement(c.Path()))
	}
}

// Require guards a route with an explicit requirement
func (g *RouteGuard) Require(req RouteRequirement) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return g.guard(c, req)
	}
}

// Resolve loads the session state for the request without enforcing anything
func (g *RouteGuard) Resolve(c *fiber.Ctx) (SessionState, error) {
	if state, ok := SessionStateFromFiber(c); ok {
		return state, nil
	}

	state := SessionState{}
	token := g.extractToken(c)
	if token != "" {
		session, err := g.validator.SessionFromToken(c.UserContext(), token)
		if err != nil {
			// expired or malformed tokens count as signed out
			g.logger.Debug("guard rejected token for %s: %v", c.Path(), err)
		} else {
			state, err = ResolveSession(c.UserContext(), g.profiles, session)
			if err != nil {
				return SessionState{}, err
			}
		}
	}

	c.Locals(sessionStateLocalsKey, state)
	c.SetUserContext(WithSessionState(c.UserContext(), state))
	return state, nil
}

func (g *RouteGuard) guard(c *fiber.Ctx, req RouteRequirement) error {
	state, err := g.Resolve(c)
	if err != nil {
		g.logger.Error("guard failed to resolve session for %s: %v", c.Path(), err)
		return writeError(c, err)
	}

	decision := state.Decide(req)
	if decision.IsAllowed() {
		return c.Next()
	}

	return g.deny(c, state, req, decision)
}

func (g *RouteGuard) deny(c *fiber.Ctx, state SessionState, req RouteRequirement, decision Decision) error {
	redirect := decision.RedirectPath()
	if decision == RedirectToLogin {
		redirect = g.loginPath
	}

	meta := map[string]any{
		"path":        c.Path(),
		"requirement": string(req),
		"decision":    string(decision),
	}
	event := ActivityEvent{
		EventType:   ActivityEventAccessDenied,
		PrincipalID: state.Session.PrincipalID(),
		Metadata:    meta,
	}
	if state.Profile != nil {
		event.Actor = ActorFromProfile(state.Profile)
		event.ProfileID = state.Profile.ID.String()
		meta["role"] = string(state.Profile.Role)
		meta["status"] = string(state.Profile.Status)
	}
	recordActivity(c.UserContext(), g.activitySink, g.logger, g.now, event)

	g.logger.Info("access denied: %s", print.MaybePrettyJSON(meta))

	if g.isAPI(c.Path()) {
		status := fiber.StatusForbidden
		if decision == RedirectToLogin {
			status = fiber.StatusUnauthorized
		}
		return c.Status(status).JSON(fiber.Map{
			"error":    string(decision),
			"decision": string(decision),
			"redirect": redirect,
		})
	}

	if decision == RedirectToLogin {
		g.setReturnTo(c)
	}
	return c.Redirect(redirect, fiber.StatusFound)
}

func (g *RouteGuard) isAPI(path string) bool {
	if g.apiPrefix == "" {
		return false
	}
	return path == g.apiPrefix || strings.HasPrefix(path, g.apiPrefix+"/")
}

func (g *RouteGuard) setReturnTo(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     ReturnToCookie,
		Value:    c.OriginalURL(),
		Expires:  g.now().Add(5 * time.Minute),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (g *RouteGuard) extractToken(c *fiber.Ctx) string {
	for _, src := range g.sources {
		switch src.kind {
		case "header":
			raw := strings.TrimSpace(c.Get(src.name))
			if raw == "" {
				continue
			}
			if g.authScheme != "" && len(raw) > len(g.authScheme) &&
				strings.EqualFold(raw[:len(g.authScheme)], g.authScheme) {
				raw = strings.TrimSpace(raw[len(g.authScheme):])
			}
			if raw != "" {
				return raw
			}
		case "cookie":
			if raw := c.Cookies(src.name); raw != "" {
				return raw
			}
		case "query":
			if raw := c.Query(src.name); raw != "" {
				return raw
			}
		}
	}
	return ""
}

func parseTokenLookup(lookup string) []tokenSource {
	var out []tokenSource
	for _, part := range strings.Split(lookup, ",") {
		kind, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			continue
		}
		kind = strings.ToLower(strings.TrimSpace(kind))
		switch kind {
		case "header", "cookie", "query":
			out = append(out, tokenSource{kind: kind, name: strings.TrimSpace(name)})
		}
	}
	return out
}

// SessionStateFromFiber returns the state resolved by a RouteGuard for this request
func SessionStateFromFiber(c *fiber.Ctx) (SessionState, bool) {
	state, ok := c.Locals(sessionStateLocalsKey).(SessionState)
	return state, ok
}

// writeError renders err as JSON using its rich error code when present
func writeError(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "an unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{
		"message":   richErr.Message,
		"text_code": richErr.TextCode,
		"category":  fmt.Sprint(richErr.Category),
	}
	if status < 500 && len(richErr.Metadata) > 0 {
		body["metadata"] = richErr.Metadata
	}

	return c.Status(status).JSON(fiber.Map{"error": body})
}
