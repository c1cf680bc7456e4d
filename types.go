package auth

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionEventType describes why the identity provider session changed
type SessionEventType string

const (
	SessionEventInitial        SessionEventType = "initial_session"
	SessionEventSignedIn       SessionEventType = "signed_in"
	SessionEventSignedOut      SessionEventType = "signed_out"
	SessionEventTokenRefreshed SessionEventType = "token_refreshed"
)

// SessionEvent is a session change notification. Session is nil on sign out.
type SessionEvent struct {
	Type    SessionEventType
	Session *Session
}

// SessionChangeFunc receives session change notifications in emission order
type SessionChangeFunc func(event SessionEvent)

// Unsubscribe stops a session change subscription
type Unsubscribe func()

// IdentityProvider is the identity provider client. It owns credentials
// and session issuance, this package only consumes it.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password string, metadata map[string]any) (*Principal, error)
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	CurrentSession(ctx context.Context) (*Session, error)
	OnSessionChange(fn SessionChangeFunc) Unsubscribe
	SignOut(ctx context.Context) error
}

// SessionValidator resolves an access token issued by the identity provider
type SessionValidator interface {
	SessionFromToken(ctx context.Context, token string) (*Session, error)
}

// AccountRemover is implemented by providers that can delete principals,
// used to compensate a registration that failed after account creation
type AccountRemover interface {
	DeleteAccount(ctx context.Context, principalID string) error
}

// AccountLister is implemented by providers that can enumerate principals
type AccountLister interface {
	ListAccounts(ctx context.Context, createdBefore time.Time) ([]Principal, error)
}

// Config holds auth options
type Config interface {
	GetOrphanGracePeriod() time.Duration
	GetReconcileSchedule() string
	GetDefaultPhoneRegion() string
	GetTokenLookup() string
	GetRejectedRouteDefault() string
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger adapts a logrus logger, tagging every entry with component
func NewLogrusLogger(l *logrus.Logger, component string) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return logrusLogger{entry: entry}
}

func (l logrusLogger) Debug(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l logrusLogger) Info(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l logrusLogger) Warn(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l logrusLogger) Error(format string, args ...any) { l.entry.Errorf(format, args...) }

func defLogger(component string) Logger {
	return NewLogrusLogger(nil, "campus."+component)
}

func resolveLogger(component string, logger Logger) Logger {
	if logger == nil {
		return defLogger(component)
	}
	return logger
}
