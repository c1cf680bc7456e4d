package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Profile *Profile
	From    ProfileStatus
	To      ProfileStatus
	Role    Role
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes state machine behavior.
type TransitionOption func(*transitionOptions)

// ProfileStatusUpdater persists status changes.
type ProfileStatusUpdater interface {
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status ProfileStatus, opts ...StatusUpdateOption) (*Profile, error)
}

// ProfileStateMachine defines lifecycle operations for profiles.
type ProfileStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, profile *Profile, target ProfileStatus, opts ...TransitionOption) (*Profile, error)
	CanTransition(from, to ProfileStatus) bool
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*profileStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *profileStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *profileStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// The default handler returns the hook error wrapped with transition details.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *profileStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *profileStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithTransitionRole writes a new role together with the status change.
func WithTransitionRole(role Role) TransitionOption {
	return func(opts *transitionOptions) {
		opts.role = role
	}
}

// WithTransitionTx runs the status write inside an existing transaction.
func WithTransitionTx(tx bun.IDB) TransitionOption {
	return func(opts *transitionOptions) {
		opts.tx = tx
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WithSuspensionTime overrides the timestamp recorded when entering the suspended state.
func WithSuspensionTime(t time.Time) TransitionOption {
	return func(opts *transitionOptions) {
		opts.suspensionTime = &t
	}
}

// NewProfileStateMachine returns the default implementation backed by the provided repository.
// Rejected is terminal, there is no way back into the workflow.
func NewProfileStateMachine(profiles ProfileStatusUpdater, opts ...StateMachineOption) ProfileStateMachine {
	sm := &profileStateMachine{
		profiles: profiles,
		transitions: map[ProfileStatus]map[ProfileStatus]struct{}{
			ProfileStatusPending: {
				ProfileStatusActive:   {},
				ProfileStatusRejected: {},
			},
			ProfileStatusActive: {
				ProfileStatusSuspended: {},
			},
			ProfileStatusSuspended: {
				ProfileStatusActive: {},
			},
		},
		now:              time.Now,
		activitySink:     noopActivitySink{},
		logger:           defLogger("state_machine"),
		hookErrorHandler: defaultHookErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type profileStateMachine struct {
	profiles         ProfileStatusUpdater
	transitions      map[ProfileStatus]map[ProfileStatus]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata       TransitionMetadata
	role           Role
	tx             bun.IDB
	beforeHooks    []TransitionHook
	afterHooks     []TransitionHook
	suspensionTime *time.Time
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *profileStateMachine) Transition(ctx context.Context, actor ActorRef, profile *Profile, target ProfileStatus, opts ...TransitionOption) (*Profile, error) {
	if profile == nil {
		return nil, newInvalidTransitionError(map[string]any{
			"target": target,
			"reason": "profile is nil",
		})
	}

	profile.EnsureStatus()
	from := profile.Status
	if !target.IsValid() {
		return nil, newInvalidTransitionError(map[string]any{
			"target": target,
			"reason": "unknown target status",
		})
	}

	options := sm.buildTransitionOptions(opts...)

	if from == target && (options.role == "" || options.role == profile.Role) {
		return profile, nil
	}

	if from == ProfileStatusRejected {
		return nil, newTerminalStateError(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if from != target && !sm.CanTransition(from, target) {
		return nil, newInvalidTransitionError(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if options.role != "" && !options.role.IsValid() {
		return nil, newInvalidTransitionError(map[string]any{
			"role":   options.role,
			"reason": "unknown role",
		})
	}

	ctxData := TransitionContext{
		Actor:   actor,
		Profile: profile,
		From:    from,
		To:      target,
		Role:    options.role,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	statusOpts, chosenSuspension := sm.buildStatusOptions(profile, from, target, options)

	updated, err := sm.profiles.UpdateStatusTx(ctx, options.tx, profile.ID, target, statusOpts...)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(profile, updated, target, from, options.role, chosenSuspension)

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:   ActivityEventProfileStatusChanged,
		Actor:       actor,
		PrincipalID: profile.PrincipalID,
		ProfileID:   profile.ID.String(),
		FromStatus:  from,
		ToStatus:    target,
		Metadata:    sm.transitionMetadata(ctxData),
	})

	return profile, nil
}

func (sm *profileStateMachine) CanTransition(from, to ProfileStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *profileStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *profileStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *profileStateMachine) buildStatusOptions(profile *Profile, from, to ProfileStatus, opts *transitionOptions) ([]StatusUpdateOption, *time.Time) {
	statusOpts := []StatusUpdateOption{}
	var suspensionTime *time.Time

	if opts.role != "" {
		statusOpts = append(statusOpts, WithRole(opts.role))
	}

	if to == ProfileStatusSuspended {
		switch {
		case opts.suspensionTime != nil:
			suspensionTime = opts.suspensionTime
		case profile.SuspendedAt != nil:
			suspensionTime = profile.SuspendedAt
		default:
			now := sm.now()
			suspensionTime = &now
		}
		statusOpts = append(statusOpts, WithSuspendedAt(suspensionTime))
	} else if from == ProfileStatusSuspended && profile.SuspendedAt != nil {
		statusOpts = append(statusOpts, WithSuspendedAt(nil))
	}

	return statusOpts, suspensionTime
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	return fmt.Errorf("%s hook failed for profile %s (%s -> %s): %w", phase, tc.Profile.ID, tc.From, tc.To, err)
}

func (sm *profileStateMachine) applyUpdates(profile, updated *Profile, target, from ProfileStatus, role Role, suspensionTime *time.Time) {
	if updated != nil {
		if updated.Status != "" {
			profile.Status = updated.Status
		} else {
			profile.Status = target
		}
		if updated.Role != "" {
			profile.Role = updated.Role
		}
		profile.SuspendedAt = updated.SuspendedAt
		profile.UpdatedAt = updated.UpdatedAt
		return
	}

	profile.Status = target
	if role != "" {
		profile.Role = role
	}
	if target == ProfileStatusSuspended {
		profile.SuspendedAt = suspensionTime
	} else if from == ProfileStatusSuspended {
		profile.SuspendedAt = nil
	}
}

func (sm *profileStateMachine) transitionMetadata(tc TransitionContext) map[string]any {
	meta := tc.Meta
	if meta.Reason == "" && len(meta.Metadata) == 0 && tc.Role == "" {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	if tc.Role != "" {
		result["role"] = string(tc.Role)
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
