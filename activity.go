package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistrationSubmitted   ActivityEventType = "registration.submitted"
	ActivityEventRegistrationCompensated ActivityEventType = "registration.compensated"
	ActivityEventRegistrationOrphaned    ActivityEventType = "registration.orphaned"
	ActivityEventApprovalDecided         ActivityEventType = "approval.decided"
	ActivityEventProfileStatusChanged    ActivityEventType = "profile.status.changed"
	ActivityEventSessionResolved         ActivityEventType = "session.resolved"
	ActivityEventSessionResolutionFailed ActivityEventType = "session.resolution.failed"
	ActivityEventSessionSuperseded       ActivityEventType = "session.resolution.superseded"
	ActivityEventAccessDenied            ActivityEventType = "access.denied"
	ActivityEventOrphanRemoved           ActivityEventType = "reconcile.orphan.removed"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is used for actions not triggered by a person
var SystemActor = ActorRef{Type: "system"}

// ActorFromProfile builds a user actor reference for the given profile
func ActorFromProfile(p *Profile) ActorRef {
	if p == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: p.ID.String(), Type: "user"}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType   ActivityEventType
	Actor       ActorRef
	PrincipalID string
	ProfileID   string
	RequestID   string
	FromStatus  ProfileStatus
	ToStatus    ProfileStatus
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink, joining their errors
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort, sink failures are logged and dropped
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor
	}

	if event.OccurredAt.IsZero() {
		if now == nil {
			now = time.Now
		}
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
