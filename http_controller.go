package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// SessionCookie is the default cookie holding the access token
const SessionCookie = "campus_session"

// ControllerRoutes holds the API paths served by the Controller
type ControllerRoutes struct {
	Signup    string
	Login     string
	Logout    string
	Session   string
	Approvals string
	Profiles  string
	Staff     string
	Students  string
	Metrics   string
}

// Controller exposes registration, approval and session endpoints as JSON
type Controller struct {
	Debug          bool
	Logger         Logger
	Routes         *ControllerRoutes
	Provider       IdentityProvider
	Validator      SessionValidator
	Repo           RepositoryManager
	Guard          *RouteGuard
	Register       *RegisterUserHandler
	Review         *ReviewApprovalHandler
	Status         *ChangeProfileStatusHandler
	Metrics        http.Handler
	CookieName     string
	CookieDuration time.Duration
}

// ControllerOption customizes the Controller
type ControllerOption func(*Controller) *Controller

// WithControllerDebug dumps request payloads and results to the logger
func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerGuard replaces the route guard
func WithControllerGuard(guard *RouteGuard) ControllerOption {
	return func(c *Controller) *Controller {
		if guard != nil {
			c.Guard = guard
		}
		return c
	}
}

// WithControllerHandlers replaces the command handlers, nil values keep the defaults
func WithControllerHandlers(register *RegisterUserHandler, review *ReviewApprovalHandler, status *ChangeProfileStatusHandler) ControllerOption {
	return func(c *Controller) *Controller {
		if register != nil {
			c.Register = register
		}
		if review != nil {
			c.Review = review
		}
		if status != nil {
			c.Status = status
		}
		return c
	}
}

// WithMetricsHandler serves h on the metrics route
func WithMetricsHandler(h http.Handler) ControllerOption {
	return func(c *Controller) *Controller {
		c.Metrics = h
		return c
	}
}

// WithSessionCookie sets the cookie name and lifetime used by login
func WithSessionCookie(name string, duration time.Duration) ControllerOption {
	return func(c *Controller) *Controller {
		if name != "" {
			c.CookieName = name
		}
		if duration > 0 {
			c.CookieDuration = duration
		}
		return c
	}
}

// NewController needs a provider that can also validate tokens
func NewController(provider IdentityProvider, repo RepositoryManager, opts ...ControllerOption) (*Controller, error) {
	if provider == nil {
		return nil, errors.New("controller requires an identity provider")
	}
	if repo == nil {
		return nil, errors.New("controller requires a repository manager")
	}

	validator, ok := provider.(SessionValidator)
	if !ok {
		return nil, errors.New("identity provider cannot validate session tokens")
	}

	c := &Controller{
		Logger:    defLogger("http"),
		Provider:  provider,
		Validator: validator,
		Repo:      repo,
		Routes: &ControllerRoutes{
			Signup:    "/api/signup",
			Login:     "/api/login",
			Logout:    "/api/logout",
			Session:   "/api/session",
			Approvals: "/api/approvals",
			Profiles:  "/api/profiles",
			Staff:     "/api/staff",
			Students:  "/api/students",
			Metrics:   "/metrics",
		},
		CookieName:     SessionCookie,
		CookieDuration: 24 * time.Hour,
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	if c.Guard == nil {
		c.Guard = NewRouteGuard(validator, repo.Profiles(), WithGuardLogger(c.Logger))
	}
	if c.Register == nil {
		c.Register = NewRegisterUserHandler(provider, repo, WithRegisterLogger(c.Logger))
	}
	if c.Review == nil {
		c.Review = NewReviewApprovalHandler(repo, WithReviewLogger(c.Logger))
	}
	if c.Status == nil {
		c.Status = NewChangeProfileStatusHandler(repo)
	}

	return c, nil
}

// RegisterRoutes mounts every endpoint on app
func (a *Controller) RegisterRoutes(app fiber.Router) {
	app.Post(a.Routes.Signup, a.Signup)
	app.Post(a.Routes.Login, a.Login)
	app.Post(a.Routes.Logout, a.Logout)
	app.Get(a.Routes.Session, a.Session)

	admin := a.Guard.Require(RequireAdmin)
	staff := a.Guard.Require(RequireStaff)

	app.Get(a.Routes.Approvals, admin, a.ListApprovals)
	app.Post(a.Routes.Approvals+"/:id/approve", admin, a.Approve)
	app.Post(a.Routes.Approvals+"/:id/reject", admin, a.Reject)
	app.Post(a.Routes.Profiles+"/:id/suspend", admin, a.Suspend)
	app.Post(a.Routes.Profiles+"/:id/reinstate", admin, a.Reinstate)

	app.Get(a.Routes.Staff, staff, a.ListStaff)
	app.Get(a.Routes.Students, staff, a.ListStudents)

	if a.Metrics != nil {
		app.Get(a.Routes.Metrics, adaptor.HTTPHandler(a.Metrics))
	}
}

// SignupRequest is the signup payload. Fields other than credentials and
// role are kept as submitted form data.
type SignupRequest struct {
	Email     string         `json:"email"`
	Password  string         `json:"password"`
	Role      string         `json:"role"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	FullName  string         `json:"full_name"`
	Phone     string         `json:"phone"`
	Extra     map[string]any `json:"extra"`
}

func (r SignupRequest) formData() map[string]any {
	data := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		data[k] = v
	}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			data[key] = value
		}
	}
	set(FormKeyFirstName, r.FirstName)
	set(FormKeyLastName, r.LastName)
	set(FormKeyFullName, r.FullName)
	set(FormKeyPhone, r.Phone)
	return data
}

func (a *Controller) Signup(c *fiber.Ctx) error {
	payload := new(SignupRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fiber.Map{"message": "failed to parse body", "text_code": TextCodeInvalidRegistration},
		})
	}

	var result *RegistrationResult
	msg := RegisterUserMessage{
		Email:    payload.Email,
		Password: payload.Password,
		Role:     payload.Role,
		FormData: payload.formData(),
		OnResponse: func(r *RegistrationResult) {
			result = r
		},
	}

	if err := a.Register.Execute(c.UserContext(), msg); err != nil {
		a.Logger.Error("signup failed for %s: %v", payload.Email, err)
		return writeError(c, err)
	}

	a.debug("signup", result)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"profile":          result.Profile,
		"approval_request": result.Request,
		"redirect":         PendingPath,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *Controller) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fiber.Map{"message": "failed to parse body"},
		})
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fiber.Map{"message": "invalid login payload", "validation": err},
		})
	}

	session, err := a.Provider.Authenticate(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		a.Logger.Info("login rejected for %s: %v", payload.Email, err)
		if limited, ok := findRateLimit(err); ok {
			return writeError(c, limited)
		}
		return writeError(c, NewCredentialError(err, map[string]any{"email": payload.Email}))
	}

	state, err := ResolveSession(c.UserContext(), a.Repo.Profiles(), session)
	if err != nil {
		return writeError(c, err)
	}

	a.setSessionCookie(c, session.AccessToken, session.ExpiresAt)

	redirect := a.returnTo(c)
	if decision := state.Decide(RequireAuthenticated); !decision.IsAllowed() {
		redirect = decision.RedirectPath()
	}

	return c.JSON(fiber.Map{
		"access_token": session.AccessToken,
		"expires_at":   session.ExpiresAt,
		"session":      sessionView(state),
		"redirect":     redirect,
	})
}

func (a *Controller) Logout(c *fiber.Ctx) error {
	token := a.Guard.extractToken(c)

	// only sign out the provider session the caller holds
	if current, err := a.Provider.CurrentSession(c.UserContext()); err == nil &&
		current != nil && token != "" && current.AccessToken == token {
		if err := a.Provider.SignOut(c.UserContext()); err != nil {
			a.Logger.Warn("provider sign out failed: %v", err)
		}
	}

	a.clearCookie(c, a.CookieName)
	return c.JSON(fiber.Map{"redirect": LoginPath})
}

func (a *Controller) Session(c *fiber.Ctx) error {
	state, err := a.Guard.Resolve(c)
	if err != nil {
		return writeError(c, err)
	}
	if !state.IsAuthenticated() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":    string(RedirectToLogin),
			"redirect": LoginPath,
		})
	}
	return c.JSON(sessionView(state))
}

func (a *Controller) ListApprovals(c *fiber.Ctx) error {
	status := ApprovalStatusPending
	if raw := c.Query("status"); raw != "" {
		status = ApprovalStatus(strings.ToLower(raw))
		if !status.IsValid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fiber.Map{"message": "unknown approval status"},
			})
		}
	}

	records, err := a.Repo.ApprovalRequests().ListByStatus(c.UserContext(), status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"approval_requests": records})
}

// ReviewRequest is the optional body of approve and reject calls
type ReviewRequest struct {
	Role string `json:"role"`
	Note string `json:"note"`
}

func (a *Controller) Approve(c *fiber.Ctx) error {
	return a.review(c, DecisionApprove)
}

func (a *Controller) Reject(c *fiber.Ctx) error {
	return a.review(c, DecisionReject)
}

func (a *Controller) review(c *fiber.Ctx, decision ApprovalDecision) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, NewNotFoundError("approval request not found", map[string]any{"request_id": c.Params("id")}))
	}

	payload := new(ReviewRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fiber.Map{"message": "failed to parse body"},
			})
		}
	}

	reviewer, _ := ProfileFromContext(c.UserContext())

	var result *ApprovalResult
	msg := ReviewApprovalMessage{
		RequestID:    id,
		Decision:     decision,
		RoleOverride: Role(strings.ToLower(strings.TrimSpace(payload.Role))),
		Note:         payload.Note,
		OnResponse: func(r *ApprovalResult) {
			result = r
		},
	}
	if reviewer != nil {
		msg.ReviewerProfileID = reviewer.ID
	}

	if err := a.Review.Execute(c.UserContext(), msg); err != nil {
		a.Logger.Warn("approval review failed for %s: %v", id, err)
		return writeError(c, err)
	}

	a.debug("approval", result)
	return c.JSON(result)
}

// StatusChangeRequest is the optional body of suspend and reinstate calls
type StatusChangeRequest struct {
	Reason string `json:"reason"`
}

func (a *Controller) Suspend(c *fiber.Ctx) error {
	return a.changeStatus(c, ProfileActionSuspend)
}

func (a *Controller) Reinstate(c *fiber.Ctx) error {
	return a.changeStatus(c, ProfileActionReinstate)
}

func (a *Controller) changeStatus(c *fiber.Ctx, action ProfileAction) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, NewNotFoundError("profile not found", map[string]any{"profile_id": c.Params("id")}))
	}

	payload := new(StatusChangeRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fiber.Map{"message": "failed to parse body"},
			})
		}
	}

	actor, _ := ProfileFromContext(c.UserContext())

	var updated *Profile
	msg := ChangeProfileStatusMessage{
		ProfileID: id,
		Action:    action,
		Reason:    payload.Reason,
		OnResponse: func(p *Profile) {
			updated = p
		},
	}
	if actor != nil {
		msg.ActorProfileID = actor.ID
	}

	if err := a.Status.Execute(c.UserContext(), msg); err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"profile": updated})
}

// DirectoryEntry is a profile as shown in the staff and student listings
type DirectoryEntry struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Phone     string     `json:"phone_number,omitempty"`
	Role      Role       `json:"role"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func (a *Controller) ListStaff(c *fiber.Ctx) error {
	return a.directory(c, RoleAdmin, RoleStaff)
}

func (a *Controller) ListStudents(c *fiber.Ctx) error {
	return a.directory(c, RoleStudent)
}

func (a *Controller) directory(c *fiber.Ctx, roles ...Role) error {
	records, err := a.Repo.Profiles().ListByStatus(c.UserContext(), ProfileStatusActive, roles...)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]DirectoryEntry, 0, len(records))
	for _, p := range records {
		out = append(out, DirectoryEntry{
			ID:        p.ID,
			Email:     p.Email,
			FirstName: p.FirstName(),
			LastName:  p.LastName(),
			Phone:     p.Phone,
			Role:      p.Role,
			CreatedAt: p.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"profiles": out})
}

func sessionView(state SessionState) fiber.Map {
	return fiber.Map{
		"principal": state.Principal,
		"profile":   state.Profile,
		"isAdmin":   state.IsAdmin(),
		"isStaff":   state.IsStaff(),
		"isStudent": state.IsStudent(),
	}
}

func (a *Controller) returnTo(c *fiber.Ctx) string {
	r := c.Cookies(ReturnToCookie)
	if r == "" || !strings.HasPrefix(r, "/") || strings.HasPrefix(r, "//") {
		return "/dashboard"
	}
	a.clearCookie(c, ReturnToCookie)
	return r
}

func (a *Controller) setSessionCookie(c *fiber.Ctx, token string, expires time.Time) {
	if expires.IsZero() {
		expires = time.Now().Add(a.CookieDuration)
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.CookieName,
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *Controller) clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *Controller) debug(label string, v any) {
	if !a.Debug {
		return
	}
	a.Logger.Debug("======= %s ======\n%s", label, print.MaybePrettyJSON(v))
}
