package auth_test

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockIdentityProvider implements auth.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) CreateAccount(ctx context.Context, email, password string, metadata map[string]any) (*auth.Principal, error) {
	args := m.Called(ctx, email, password, metadata)
	if p, ok := args.Get(0).(*auth.Principal); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityProvider) Authenticate(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	if s, ok := args.Get(0).(*auth.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityProvider) CurrentSession(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	if s, ok := args.Get(0).(*auth.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdentityProvider) OnSessionChange(fn auth.SessionChangeFunc) auth.Unsubscribe {
	args := m.Called(fn)
	if u, ok := args.Get(0).(auth.Unsubscribe); ok {
		return u
	}
	return func() {}
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockRemovableProvider also implements auth.AccountRemover and auth.AccountLister
type MockRemovableProvider struct {
	MockIdentityProvider
}

func (m *MockRemovableProvider) DeleteAccount(ctx context.Context, principalID string) error {
	args := m.Called(ctx, principalID)
	return args.Error(0)
}

func (m *MockRemovableProvider) ListAccounts(ctx context.Context, createdBefore time.Time) ([]auth.Principal, error) {
	args := m.Called(ctx, createdBefore)
	if p, ok := args.Get(0).([]auth.Principal); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockProfileFinder implements auth.ProfileFinder
type MockProfileFinder struct {
	mock.Mock
}

func (m *MockProfileFinder) FindByPrincipalID(ctx context.Context, principalID string) (*auth.Profile, error) {
	args := m.Called(ctx, principalID)
	if p, ok := args.Get(0).(*auth.Profile); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockProfileStatusUpdater implements auth.ProfileStatusUpdater
type MockProfileStatusUpdater struct {
	mock.Mock
}

func (m *MockProfileStatusUpdater) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status auth.ProfileStatus, opts ...auth.StatusUpdateOption) (*auth.Profile, error) {
	args := m.Called(ctx, tx, id, status, opts)
	if p, ok := args.Get(0).(*auth.Profile); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeSessionProvider is an identity provider whose session changes are
// driven by the test
type fakeSessionProvider struct {
	mu           sync.Mutex
	current      *auth.Session
	currentErr   error
	subs         map[int]auth.SessionChangeFunc
	next         int
	unsubscribed int
}

func newFakeSessionProvider(current *auth.Session) *fakeSessionProvider {
	return &fakeSessionProvider{current: current, subs: map[int]auth.SessionChangeFunc{}}
}

func (f *fakeSessionProvider) CreateAccount(context.Context, string, string, map[string]any) (*auth.Principal, error) {
	return nil, auth.ErrCredential
}

func (f *fakeSessionProvider) Authenticate(_ context.Context, email, _ string) (*auth.Session, error) {
	session := testSession(email)
	f.Emit(auth.SessionEventSignedIn, session)
	return session, nil
}

func (f *fakeSessionProvider) CurrentSession(context.Context) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.currentErr
}

func (f *fakeSessionProvider) OnSessionChange(fn auth.SessionChangeFunc) auth.Unsubscribe {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.unsubscribed++
			f.mu.Unlock()
		})
	}
}

func (f *fakeSessionProvider) SignOut(context.Context) error {
	f.Emit(auth.SessionEventSignedOut, nil)
	return nil
}

func (f *fakeSessionProvider) Emit(eventType auth.SessionEventType, session *auth.Session) {
	f.mu.Lock()
	f.current = session
	subs := make([]auth.SessionChangeFunc, 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(auth.SessionEvent{Type: eventType, Session: session})
	}
}

func (f *fakeSessionProvider) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// gatedProfileFinder blocks lookups for gated principals until released
type gatedProfileFinder struct {
	mu       sync.Mutex
	profiles map[string]*auth.Profile
	gates    map[string]chan struct{}
	started  chan string
}

func newGatedProfileFinder() *gatedProfileFinder {
	return &gatedProfileFinder{
		profiles: map[string]*auth.Profile{},
		gates:    map[string]chan struct{}{},
		started:  make(chan string, 16),
	}
}

func (g *gatedProfileFinder) Add(profile *auth.Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profiles[profile.PrincipalID] = profile
}

func (g *gatedProfileFinder) Gate(principalID string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[principalID] = ch
	return ch
}

// FindByPrincipalID ignores cancellation so a superseded lookup still
// completes after the newer one
func (g *gatedProfileFinder) FindByPrincipalID(_ context.Context, principalID string) (*auth.Profile, error) {
	g.mu.Lock()
	gate := g.gates[principalID]
	g.mu.Unlock()

	g.started <- principalID

	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profiles[principalID], nil
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Events() []auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	events := s.Events()
	out := make([]auth.ActivityEventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) Find(eventType auth.ActivityEventType) (auth.ActivityEvent, bool) {
	for _, e := range s.Events() {
		if e.EventType == eventType {
			return e, true
		}
	}
	return auth.ActivityEvent{}, false
}

// captureLogger implements auth.Logger
type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}
func (l *captureLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, format)
}

func (l *captureLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
