package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-campus-auth"
)

const (
	// MetadataKeyActorType stores the actor type derived from auth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromStatus stores the source profile status for lifecycle transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target profile status for lifecycle transitions.
	MetadataKeyToStatus = "to_status"
	// MetadataKeyPrincipalID stores the identity provider principal.
	MetadataKeyPrincipalID = "principal_id"
	// MetadataKeyRequestID stores the approval request involved, if any.
	MetadataKeyRequestID = "request_id"
)

const (
	defaultChannel   = "campus"
	defaultActorID   = "system"
	objectProfile    = "profile"
	objectPrincipal  = "principal"
	objectApproval   = "approval_request"
	objectUnresolved = "unknown"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel        string
	objectType     string
	actorFallback  string
	objectResolver func(auth.ActivityEvent) (string, string)
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.PrincipalID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event, options.objectResolver)
	if options.objectType != "" {
		objectType = options.objectType
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType forces the object type for every normalized record.
func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectResolver overrides object extraction from ActivityEvent.
func WithObjectResolver(resolver func(auth.ActivityEvent) (objectType, objectID string)) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/principal ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
	}
}

// resolveObject picks the most specific record the event is about
func resolveObject(event auth.ActivityEvent, resolver func(auth.ActivityEvent) (string, string)) (string, string) {
	if resolver != nil {
		objectType, objectID := resolver(event)
		return strings.TrimSpace(objectType), strings.TrimSpace(objectID)
	}

	switch {
	case event.EventType == auth.ActivityEventApprovalDecided && event.RequestID != "":
		return objectApproval, strings.TrimSpace(event.RequestID)
	case event.ProfileID != "":
		return objectProfile, strings.TrimSpace(event.ProfileID)
	case event.PrincipalID != "":
		return objectPrincipal, strings.TrimSpace(event.PrincipalID)
	default:
		return objectUnresolved, ""
	}
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key, value string, overwrite bool) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeyPrincipalID, strings.TrimSpace(event.PrincipalID), false)
	set(MetadataKeyRequestID, strings.TrimSpace(event.RequestID), false)
	set(MetadataKeyFromStatus, string(event.FromStatus), true)
	set(MetadataKeyToStatus, string(event.ToStatus), true)

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
