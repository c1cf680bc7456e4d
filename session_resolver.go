package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SessionState is the read-only view of who is signed in
type SessionState struct {
	Principal *Principal `json:"principal"`
	Session   *Session   `json:"-"`
	Profile   *Profile   `json:"profile"`
	IsLoading bool       `json:"is_loading"`
}

func (s SessionState) IsAdmin() bool   { return s.Profile.HasRole(RoleAdmin) }
func (s SessionState) IsStaff() bool   { return s.Profile.HasRole(RoleStaff) }
func (s SessionState) IsStudent() bool { return s.Profile.HasRole(RoleStudent) }

// IsAuthenticated is true when the provider reported a session
func (s SessionState) IsAuthenticated() bool {
	return s.Principal != nil
}

// clone copies the state so callers never share pointers with the resolver
func (s SessionState) clone() SessionState {
	out := s
	out.Profile = cloneProfile(s.Profile)
	if s.Principal != nil {
		principal := clonePrincipal(*s.Principal)
		out.Principal = &principal
	}
	if s.Session != nil {
		session := *s.Session
		session.Principal = clonePrincipal(s.Session.Principal)
		out.Session = &session
	}
	return out
}

// Decide runs the access decision for the resolved profile
func (s SessionState) Decide(req RouteRequirement) Decision {
	return Decide(s.Profile, req)
}

// ProfileFinder looks up the profile linked to a principal.
// A missing profile is reported as nil, nil.
type ProfileFinder interface {
	FindByPrincipalID(ctx context.Context, principalID string) (*Profile, error)
}

// ResolveSession maps a provider session to its profile. A nil session
// resolves to an empty, non loading state.
func ResolveSession(ctx context.Context, profiles ProfileFinder, session *Session) (SessionState, error) {
	state := SessionState{}
	if session == nil {
		return state, nil
	}

	principal := session.Principal
	state.Principal = &principal
	state.Session = session

	profile, err := profiles.FindByPrincipalID(ctx, principal.ID)
	if err != nil {
		return state, err
	}
	state.Profile = profile
	return state, nil
}

// SessionListener is notified every time the resolved state changes
type SessionListener func(state SessionState)

// SessionResolverOption customizes a SessionResolver
type SessionResolverOption func(*SessionResolver)

// WithSessionResolverLogger sets the logger used to report lookup failures
func WithSessionResolverLogger(logger Logger) SessionResolverOption {
	return func(r *SessionResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSessionResolverActivitySink sets the sink for resolution events
func WithSessionResolverActivitySink(sink ActivitySink) SessionResolverOption {
	return func(r *SessionResolver) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionResolverClock injects a custom clock
func WithSessionResolverClock(now func() time.Time) SessionResolverOption {
	return func(r *SessionResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSessionResolverBuffer sets how many session events may queue
// before the provider callback blocks
func WithSessionResolverBuffer(size int) SessionResolverOption {
	return func(r *SessionResolver) {
		if size > 0 {
			r.bufferSize = size
		}
	}
}

// SessionResolver owns the process wide authentication state. Provider
// session changes are queued on a channel and consumed by a single
// goroutine; every event starts a new resolution and cancels the one in
// flight. Only the most recently started resolution may write state.
type SessionResolver struct {
	provider     IdentityProvider
	profiles     ProfileFinder
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	bufferSize   int

	events chan SessionEvent
	done   chan struct{}
	ready  chan struct{}
	wg     sync.WaitGroup

	// held while a resolution writes state and notifies, so listeners
	// observe writes in order
	notifyMu sync.Mutex

	mu          sync.RWMutex
	state       SessionState
	seq         uint64
	cancel      context.CancelFunc
	listeners   map[int]SessionListener
	nextID      int
	started     bool
	closed      bool
	readyOnce   sync.Once
	unsubscribe Unsubscribe
}

// NewSessionResolver creates a resolver in the loading state. Call Start
// to subscribe to the provider and Close to tear it down.
func NewSessionResolver(provider IdentityProvider, profiles ProfileFinder, opts ...SessionResolverOption) *SessionResolver {
	r := &SessionResolver{
		provider:     provider,
		profiles:     profiles,
		logger:       defLogger("session_resolver"),
		activitySink: noopActivitySink{},
		now:          time.Now,
		bufferSize:   16,
		done:         make(chan struct{}),
		ready:        make(chan struct{}),
		state:        SessionState{IsLoading: true},
		listeners:    map[int]SessionListener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.events = make(chan SessionEvent, r.bufferSize)

	return r
}

// Start subscribes to provider session changes and queues the initial
// event. The current session is read from the provider when that event is
// resolved, so changes queued ahead of it are never overwritten by an older
// snapshot. ctx only gates the call.
func (r *SessionResolver) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("session resolver is closed")
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.consume()

	unsubscribe := r.provider.OnSessionChange(r.enqueue)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return errors.New("session resolver is closed")
	}
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	r.enqueue(SessionEvent{Type: SessionEventInitial})
	return nil
}

// State returns a copy of the current session state
func (r *SessionResolver) State() SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// Ready is closed once the first resolution has completed
func (r *SessionResolver) Ready() <-chan struct{} {
	return r.ready
}

// WaitReady blocks until the first resolution completes or ctx is done
func (r *SessionResolver) WaitReady(ctx context.Context) (SessionState, error) {
	select {
	case <-r.ready:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// OnChange registers a listener for state changes
func (r *SessionResolver) OnChange(fn SessionListener) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// SignIn authenticates through the provider. The resulting state change
// arrives through the session subscription.
func (r *SessionResolver) SignIn(ctx context.Context, email, password string) (*Session, error) {
	session, err := r.provider.Authenticate(ctx, email, password)
	if err != nil {
		return nil, NewCredentialError(err, map[string]any{"email": email})
	}
	return session, nil
}

// SignOut ends the provider session
func (r *SessionResolver) SignOut(ctx context.Context) error {
	return r.provider.SignOut(ctx)
}

// Close unsubscribes from the provider, cancels any resolution in flight
// and waits for the consumer to exit. It is safe to call more than once.
func (r *SessionResolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	cancel := r.cancel
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *SessionResolver) enqueue(event SessionEvent) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.events <- event:
	case <-r.done:
	}
}

func (r *SessionResolver) consume() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case event := <-r.events:
			r.begin(event)
		}
	}
}

// begin supersedes the resolution in flight and starts a new one
func (r *SessionResolver) begin(event SessionEvent) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.seq++
	seq := r.seq
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		if event.Type == SessionEventInitial {
			event.Session = r.currentSession(ctx)
		}
		state, err := ResolveSession(ctx, r.profiles, event.Session)
		r.apply(ctx, seq, event, state, err)
	}()
}

// currentSession reads the provider session for the initial event. A failed
// lookup resolves as signed out.
func (r *SessionResolver) currentSession(ctx context.Context) *Session {
	session, err := r.provider.CurrentSession(ctx)
	if err == nil {
		return session
	}
	if ctx.Err() == nil {
		r.logger.Error("session resolver: current session lookup failed: %v", err)
		recordActivity(context.WithoutCancel(ctx), r.activitySink, r.logger, r.now, ActivityEvent{
			EventType: ActivityEventSessionResolutionFailed,
			Metadata:  map[string]any{"error": err.Error(), "event": string(SessionEventInitial)},
		})
	}
	return nil
}

func (r *SessionResolver) apply(ctx context.Context, seq uint64, event SessionEvent, state SessionState, err error) {
	// the resolution context is cancelled once superseded, sinks still need to run
	ctx = context.WithoutCancel(ctx)

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if seq != r.seq {
		r.mu.Unlock()
		recordActivity(ctx, r.activitySink, r.logger, r.now, ActivityEvent{
			EventType:   ActivityEventSessionSuperseded,
			PrincipalID: event.Session.PrincipalID(),
			Metadata:    map[string]any{"event": string(event.Type), "sequence": seq},
		})
		return
	}

	state.IsLoading = false
	state = state.clone()
	r.state = state
	r.mu.Unlock()

	r.readyOnce.Do(func() { close(r.ready) })

	if err != nil {
		r.logger.Error("session resolver: profile lookup failed for principal %s: %v", event.Session.PrincipalID(), err)
		recordActivity(ctx, r.activitySink, r.logger, r.now, ActivityEvent{
			EventType:   ActivityEventSessionResolutionFailed,
			PrincipalID: event.Session.PrincipalID(),
			Metadata:    map[string]any{"error": err.Error(), "event": string(event.Type)},
		})
	} else {
		meta := map[string]any{"event": string(event.Type), "profile_found": state.Profile != nil}
		profileID := ""
		if state.Profile != nil {
			profileID = state.Profile.ID.String()
			meta["status"] = string(state.Profile.Status)
		}
		recordActivity(ctx, r.activitySink, r.logger, r.now, ActivityEvent{
			EventType:   ActivityEventSessionResolved,
			PrincipalID: event.Session.PrincipalID(),
			ProfileID:   profileID,
			Metadata:    meta,
		})
	}

	// a newer resolution started while the sinks ran; it notifies instead
	r.mu.RLock()
	if r.closed || seq != r.seq {
		r.mu.RUnlock()
		return
	}
	listeners := make([]SessionListener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(state.clone())
	}
}

func cloneProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.SuspendedAt = cloneTime(p.SuspendedAt)
	cp.CreatedAt = cloneTime(p.CreatedAt)
	cp.UpdatedAt = cloneTime(p.UpdatedAt)
	cp.DeletedAt = cloneTime(p.DeletedAt)
	return &cp
}

func clonePrincipal(p Principal) Principal {
	if p.Metadata != nil {
		md := make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
