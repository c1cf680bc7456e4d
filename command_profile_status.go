package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ProfileAction is an admin lifecycle action on an approved profile
type ProfileAction string

const (
	ProfileActionSuspend   ProfileAction = "suspend"
	ProfileActionReinstate ProfileAction = "reinstate"
)

type ChangeProfileStatusMessage struct {
	ProfileID      uuid.UUID     `json:"profile_id"`
	Action         ProfileAction `json:"action"`
	ActorProfileID uuid.UUID     `json:"actor_profile_id"`
	Reason         string        `json:"reason,omitempty"`

	OnResponse func(*Profile) `json:"-"`
}

func (e ChangeProfileStatusMessage) Type() string { return "profile.status.change" }

// ChangeProfileStatusHandler suspends or reinstates a profile on behalf of an admin
type ChangeProfileStatusHandler struct {
	repo RepositoryManager
	now  func() time.Time
}

func NewChangeProfileStatusHandler(repo RepositoryManager) *ChangeProfileStatusHandler {
	return &ChangeProfileStatusHandler{repo: repo, now: time.Now}
}

func (h *ChangeProfileStatusHandler) Execute(ctx context.Context, event ChangeProfileStatusMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during profile status change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangeProfileStatusHandler) execute(ctx context.Context, event ChangeProfileStatusMessage) error {
	meta := map[string]any{
		"profile_id": event.ProfileID.String(),
		"action":     string(event.Action),
	}

	if event.Action != ProfileActionSuspend && event.Action != ProfileActionReinstate {
		return newInvalidTransitionError(meta)
	}

	actor, err := requireActiveAdmin(ctx, h.repo.Profiles(), event.ActorProfileID)
	if err != nil {
		return err
	}

	if actor.ID == event.ProfileID {
		return NewUnauthorizedError("admins cannot change their own status", meta)
	}

	profile, err := h.repo.Profiles().FindByUUID(ctx, event.ProfileID)
	if err != nil {
		return err
	}
	if profile == nil {
		return NewNotFoundError("profile not found", meta)
	}

	opts := []TransitionOption{
		WithTransitionReason(event.Reason),
	}

	switch event.Action {
	case ProfileActionSuspend:
		opts = append(opts, WithSuspensionTime(h.now()))
		profile, err = h.repo.Profiles().Suspend(ctx, ActorFromProfile(actor), profile, opts...)
	default:
		profile, err = h.repo.Profiles().Reinstate(ctx, ActorFromProfile(actor), profile, opts...)
	}

	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(profile)
	}

	return nil
}
