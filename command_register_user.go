package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// Form keys read from the submitted registration data
const (
	FormKeyFullName  = "full_name"
	FormKeyFirstName = "first_name"
	FormKeyLastName  = "last_name"
	FormKeyPhone     = "phone"
)

// MinPasswordLength is the shortest password accepted at signup
const MinPasswordLength = 8

type RegisterUserMessage struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Role     string         `json:"role"`
	FormData map[string]any `json:"form_data"`

	OnResponse func(*RegistrationResult) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "profile.register" }

// Validate checks the signup submission before anything is created
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(MinPasswordLength, 128)),
		validation.Field(&e.Role, validation.Required, validation.By(validateRole)),
	)
}

// FullName prefers an explicit full name, else joins first and last name
func (e RegisterUserMessage) FullName() string {
	if full := strings.TrimSpace(formString(e.FormData, FormKeyFullName)); full != "" {
		return full
	}
	first := formString(e.FormData, FormKeyFirstName)
	last := formString(e.FormData, FormKeyLastName)
	return strings.TrimSpace(first + " " + last)
}

// RegistrationResult is what a successful registration produced
type RegistrationResult struct {
	Principal *Principal       `json:"principal"`
	Profile   *Profile         `json:"profile"`
	Request   *ApprovalRequest `json:"approval_request"`
}

// RegisterUserOption customizes the registration handler
type RegisterUserOption func(*RegisterUserHandler)

// WithRegisterLogger sets the handler logger
func WithRegisterLogger(logger Logger) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRegisterActivitySink sets the sink used for registration events
func WithRegisterActivitySink(sink ActivitySink) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		h.activitySink = normalizeActivitySink(sink)
	}
}

// WithRegisterClock injects a custom clock
func WithRegisterClock(now func() time.Time) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithRegisterPhoneRegion sets the region used to parse phone numbers
// without a country prefix
func WithRegisterPhoneRegion(region string) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		h.phoneRegion = strings.ToUpper(strings.TrimSpace(region))
	}
}

// WithRegisterTimeout bounds the whole registration
func WithRegisterTimeout(d time.Duration) RegisterUserOption {
	return func(h *RegisterUserHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// RegisterUserHandler creates a principal, its pending profile and the
// pending approval request. Profile and request share one transaction;
// if it fails the principal is removed when the provider supports it.
type RegisterUserHandler struct {
	provider     IdentityProvider
	repo         RepositoryManager
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	phoneRegion  string
	timeout      time.Duration
}

func NewRegisterUserHandler(provider IdentityProvider, repo RepositoryManager, opts ...RegisterUserOption) *RegisterUserHandler {
	h := &RegisterUserHandler{
		provider:     provider,
		repo:         repo,
		logger:       defLogger("register"),
		activitySink: noopActivitySink{},
		now:          time.Now,
		timeout:      10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, ErrInvalidRegistration.Category, ErrInvalidRegistration.Message).
			WithTextCode(ErrInvalidRegistration.TextCode).
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	email := strings.ToLower(strings.TrimSpace(event.Email))
	role, _ := ParseRole(event.Role)
	payload := cloneFormData(event.FormData)

	// the validated role always wins over a "role" key in the form data
	metadata := cloneFormData(event.FormData)
	metadata["role"] = string(role)

	principal, err := h.provider.CreateAccount(ctx, email, event.Password, metadata)
	if err != nil {
		// provider store failures are not credential rejections
		if IsStoreError(err) {
			return err
		}
		return NewCredentialError(err, map[string]any{"email": email})
	}

	profile := &Profile{
		PrincipalID: principal.ID,
		Email:       email,
		FullName:    event.FullName(),
		Phone:       normalizePhone(formString(event.FormData, FormKeyPhone), h.phoneRegion),
		Role:        role,
		Status:      ProfileStatusPending,
	}

	request := &ApprovalRequest{
		TargetRole:       role,
		Status:           ApprovalStatusPending,
		SubmittedPayload: payload,
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Profiles().CreateTx(ctx, tx, profile)
		if err != nil {
			return err
		}
		profile = created

		request.RequesterProfileID = profile.ID
		createdRequest, err := h.repo.ApprovalRequests().CreateTx(ctx, tx, request)
		if err != nil {
			return err
		}
		request = createdRequest
		return nil
	})

	if err != nil {
		h.compensate(ctx, principal, err)
		return NewProfileWriteError(err, map[string]any{
			"principal_id": principal.ID,
			"email":        email,
		})
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType:   ActivityEventRegistrationSubmitted,
		Actor:       ActorRef{ID: principal.ID, Type: "principal"},
		PrincipalID: principal.ID,
		ProfileID:   profile.ID.String(),
		RequestID:   request.ID.String(),
		ToStatus:    ProfileStatusPending,
		Metadata:    map[string]any{"target_role": string(role)},
	})

	if event.OnResponse != nil {
		event.OnResponse(&RegistrationResult{
			Principal: principal,
			Profile:   profile,
			Request:   request,
		})
	}

	return nil
}

// compensate removes a principal left without a profile. When that is not
// possible the orphan is reported so the reconciler or an admin can act.
func (h *RegisterUserHandler) compensate(ctx context.Context, principal *Principal, cause error) {
	// the registration context may already be expired
	ctx = context.WithoutCancel(ctx)

	meta := map[string]any{"cause": cause.Error(), "email": principal.Email}

	remover, ok := h.provider.(AccountRemover)
	if !ok {
		h.logger.Error("registration left orphaned principal %s: %v", principal.ID, cause)
		recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
			EventType:   ActivityEventRegistrationOrphaned,
			PrincipalID: principal.ID,
			Metadata:    meta,
		})
		return
	}

	if err := remover.DeleteAccount(ctx, principal.ID); err != nil {
		meta["compensation_error"] = err.Error()
		h.logger.Error("registration compensation failed for principal %s: %v", principal.ID, err)
		recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
			EventType:   ActivityEventRegistrationOrphaned,
			PrincipalID: principal.ID,
			Metadata:    meta,
		})
		return
	}

	h.logger.Warn("registration rolled back principal %s: %v", principal.ID, cause)
	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType:   ActivityEventRegistrationCompensated,
		PrincipalID: principal.ID,
		Metadata:    meta,
	})
}

func validateRole(value any) error {
	s, _ := value.(string)
	if _, ok := ParseRole(s); !ok {
		return fmt.Errorf("must be one of %v", GetAllRoles())
	}
	return nil
}

// normalizePhone formats parseable numbers as E.164, anything else is kept trimmed
func normalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func formString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func cloneFormData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	return out
}
