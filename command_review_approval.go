package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ReviewApprovalMessage struct {
	RequestID         uuid.UUID        `json:"request_id"`
	Decision          ApprovalDecision `json:"decision"`
	RoleOverride      Role             `json:"role,omitempty"`
	ReviewerProfileID uuid.UUID        `json:"reviewer_profile_id"`
	Note              string           `json:"note,omitempty"`

	OnResponse func(*ApprovalResult) `json:"-"`
}

func (e ReviewApprovalMessage) Type() string { return "approval.review" }

// ApprovalResult holds both records after a decision was applied
type ApprovalResult struct {
	Request *ApprovalRequest `json:"approval_request"`
	Profile *Profile         `json:"profile"`
}

// ReviewApprovalOption customizes the approval handler
type ReviewApprovalOption func(*ReviewApprovalHandler)

// WithReviewLogger sets the handler logger
func WithReviewLogger(logger Logger) ReviewApprovalOption {
	return func(h *ReviewApprovalHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithReviewActivitySink sets the sink used for decision events, it is
// shared with the profile state machine
func WithReviewActivitySink(sink ActivitySink) ReviewApprovalOption {
	return func(h *ReviewApprovalHandler) {
		h.activitySink = normalizeActivitySink(sink)
	}
}

// WithReviewClock injects a custom clock
func WithReviewClock(now func() time.Time) ReviewApprovalOption {
	return func(h *ReviewApprovalHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithReviewStateMachine overrides the profile state machine
func WithReviewStateMachine(sm ProfileStateMachine) ReviewApprovalOption {
	return func(h *ReviewApprovalHandler) {
		h.stateMachine = sm
	}
}

// ReviewApprovalHandler applies an admin decision to one approval request
// and its requester profile in a single transaction
type ReviewApprovalHandler struct {
	repo         RepositoryManager
	stateMachine ProfileStateMachine
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

func NewReviewApprovalHandler(repo RepositoryManager, opts ...ReviewApprovalOption) *ReviewApprovalHandler {
	h := &ReviewApprovalHandler{
		repo:         repo,
		logger:       defLogger("review"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.stateMachine == nil {
		h.stateMachine = NewProfileStateMachine(repo.Profiles(),
			WithStateMachineActivitySink(h.activitySink),
			WithStateMachineClock(h.now),
			WithStateMachineLogger(h.logger),
		)
	}

	return h
}

func (h *ReviewApprovalHandler) Execute(ctx context.Context, event ReviewApprovalMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during approval review",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ReviewApprovalHandler) execute(ctx context.Context, event ReviewApprovalMessage) error {
	meta := map[string]any{
		"request_id": event.RequestID.String(),
		"decision":   string(event.Decision),
	}

	if !event.Decision.IsValid() {
		return withMetadata(goerrors.New(ErrInvalidDecision.Message, ErrInvalidDecision.Category).
			WithTextCode(ErrInvalidDecision.TextCode).
			WithCode(goerrors.CodeBadRequest), meta)
	}

	if event.RoleOverride != "" && !event.RoleOverride.IsValid() {
		meta["role"] = string(event.RoleOverride)
		return withMetadata(goerrors.New("invalid role override", ErrInvalidDecision.Category).
			WithTextCode(ErrInvalidDecision.TextCode).
			WithCode(goerrors.CodeBadRequest), meta)
	}

	reviewer, err := requireActiveAdmin(ctx, h.repo.Profiles(), event.ReviewerProfileID)
	if err != nil {
		return err
	}
	actor := ActorFromProfile(reviewer)

	var result ApprovalResult
	reviewedAt := h.now()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		request, err := h.repo.ApprovalRequests().FindByUUIDTx(ctx, tx, event.RequestID)
		if err != nil {
			return err
		}
		if request == nil || !request.IsPending() {
			return NewNotFoundError("approval request not found or already decided", meta)
		}

		review := Review{
			Status:     event.Decision.ApprovalStatus(),
			ReviewerID: reviewer.ID,
			Note:       event.Note,
			ReviewedAt: reviewedAt,
		}

		opts := []TransitionOption{
			WithTransitionTx(tx),
			WithTransitionReason(event.Note),
			WithTransitionMetadata(map[string]any{"request_id": request.ID.String()}),
		}

		if event.Decision == DecisionApprove {
			review.GrantedRole = request.TargetRole
			if event.RoleOverride != "" {
				review.GrantedRole = event.RoleOverride
			}
			opts = append(opts, WithTransitionRole(review.GrantedRole))
		}

		if request, err = h.repo.ApprovalRequests().DecideTx(ctx, tx, request.ID, review); err != nil {
			return err
		}

		profile, err := h.repo.Profiles().FindByUUIDTx(ctx, tx, request.RequesterProfileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return NewNotFoundError("requester profile not found", map[string]any{
				"request_id": request.ID.String(),
				"profile_id": request.RequesterProfileID.String(),
			})
		}

		profile, err = h.stateMachine.Transition(ctx, actor, profile, event.Decision.ProfileStatus(), opts...)
		if err != nil {
			return err
		}

		result = ApprovalResult{Request: request, Profile: profile}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return NewStoreError(err, meta)
	}

	decided := map[string]any{"decision": string(event.Decision)}
	if result.Request.GrantedRole != "" {
		decided["granted_role"] = string(result.Request.GrantedRole)
	}
	if event.Note != "" {
		decided["note"] = event.Note
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType:   ActivityEventApprovalDecided,
		Actor:       actor,
		PrincipalID: result.Profile.PrincipalID,
		ProfileID:   result.Profile.ID.String(),
		RequestID:   result.Request.ID.String(),
		FromStatus:  ProfileStatusPending,
		ToStatus:    result.Profile.Status,
		Metadata:    decided,
	})

	if event.OnResponse != nil {
		event.OnResponse(&result)
	}

	return nil
}

// requireActiveAdmin loads the acting profile and checks it may administer
func requireActiveAdmin(ctx context.Context, profiles Profiles, id uuid.UUID) (*Profile, error) {
	meta := map[string]any{"actor_profile_id": id.String()}
	if id == uuid.Nil {
		return nil, NewUnauthorizedError("an admin profile is required", meta)
	}

	actor, err := profiles.FindByUUID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor == nil || !Decide(actor, RequireAdmin).IsAllowed() {
		if actor != nil {
			meta["role"] = string(actor.Role)
			meta["status"] = string(actor.Status)
		}
		return nil, NewUnauthorizedError("only active admins may perform this action", meta)
	}

	return actor, nil
}
