package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Provider implements auth.IdentityProvider on top of a bun database
type Provider struct {
	db         *bun.DB
	principals repository.Repository[*PrincipalRecord]
	cfg        Config
	tokens     *tokenService
	logger     auth.Logger
	now        func() time.Time

	mu      sync.RWMutex
	current *auth.Session

	// emitMu orders state changes with their notifications
	emitMu  sync.Mutex
	subsMu  sync.Mutex
	subs    map[int]auth.SessionChangeFunc
	nextSub int
}

var (
	_ auth.IdentityProvider = (*Provider)(nil)
	_ auth.SessionValidator = (*Provider)(nil)
	_ auth.AccountRemover   = (*Provider)(nil)
	_ auth.AccountLister    = (*Provider)(nil)
)

// Option customizes the provider
type Option func(*Provider)

// WithLogger sets the provider logger
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects a custom clock
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a provider. The principals table must exist.
func New(db *bun.DB, cfg Config, opts ...Option) (*Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("local provider: database is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("local provider: signing key is required")
	}

	cfg = cfg.withDefaults()

	handlers := repository.ModelHandlers[*PrincipalRecord]{
		NewRecord: func() *PrincipalRecord {
			return &PrincipalRecord{}
		},
		GetID: func(record *PrincipalRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PrincipalRecord, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}

	p := &Provider{
		db:         db,
		principals: repository.NewRepository(db, handlers),
		cfg:        cfg,
		tokens:     newTokenService(cfg),
		logger:     auth.NewLogrusLogger(nil, "campus.local_provider"),
		now:        time.Now,
		subs:       map[int]auth.SessionChangeFunc{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// CreateAccount stores a new principal. It does not sign in.
func (p *Provider) CreateAccount(ctx context.Context, email, password string, metadata map[string]any) (*auth.Principal, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, auth.NewCredentialError(ErrInvalidCredentials, map[string]any{"reason": "email is required"})
	}

	if len(password) < p.cfg.MinPasswordLength {
		return nil, auth.NewCredentialError(ErrWeakPassword, map[string]any{
			"min_length": p.cfg.MinPasswordLength,
		})
	}

	existing, err := p.findByEmail(ctx, p.db, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, auth.NewCredentialError(ErrEmailAlreadyExists, map[string]any{"email": email})
	}

	hash, err := HashPassword(password, p.cfg.PasswordCost)
	if err != nil {
		return nil, auth.NewStoreError(err, map[string]any{"operation": "hash_password"})
	}

	now := p.now()
	record := &PrincipalRecord{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}

	if p.cfg.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			record.ID = id
		}
	}

	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}

	created, err := p.principals.CreateTx(ctx, p.db, record)
	if err != nil {
		return nil, auth.NewStoreError(err, map[string]any{"email": email})
	}

	p.logger.Info("created principal %s", created.ID)
	return created.Principal(), nil
}

// Authenticate verifies the credentials and makes the new session current
func (p *Provider) Authenticate(ctx context.Context, email, password string) (*auth.Session, error) {
	email = normalizeEmail(email)

	record, err := p.findByEmail(ctx, p.db, email)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, auth.NewCredentialError(ErrInvalidCredentials)
	}

	now := p.now()
	attempts := record.LoginAttempts
	if record.LoginAttemptAt != nil && now.Sub(*record.LoginAttemptAt) > p.cfg.CoolDownPeriod {
		attempts = 0
	}

	// too many attempts in the window, cool off
	if attempts >= p.cfg.MaxLoginAttempts {
		return nil, auth.NewCredentialError(ErrTooManyLoginAttempts, map[string]any{
			"principal_id": record.ID.String(),
		})
	}

	if err := ComparePasswordAndHash(password, record.PasswordHash); err != nil {
		if err2 := p.trackAttempt(ctx, record.ID, attempts+1, now); err2 != nil {
			p.logger.Error("failed to track login attempt for %s: %v", record.ID, err2)
		}
		return nil, auth.NewCredentialError(ErrInvalidCredentials)
	}

	if err := p.trackSuccess(ctx, record.ID, now); err != nil {
		p.logger.Error("failed to track successful login for %s: %v", record.ID, err)
	}

	session, err := p.issue(record, now)
	if err != nil {
		return nil, err
	}

	p.setCurrent(auth.SessionEventSignedIn, session)
	return cloneSession(session), nil
}

// CurrentSession returns the current session, nil when signed out or expired
func (p *Provider) CurrentSession(ctx context.Context) (*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil || !p.current.ExpiresAt.After(p.now()) {
		return nil, nil
	}
	return cloneSession(p.current), nil
}

// OnSessionChange registers fn for session change notifications. Events
// are delivered synchronously, in the order the changes happened.
func (p *Provider) OnSessionChange(fn auth.SessionChangeFunc) auth.Unsubscribe {
	if fn == nil {
		return func() {}
	}

	p.subsMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subsMu.Lock()
			delete(p.subs, id)
			p.subsMu.Unlock()
		})
	}
}

// SignOut clears the current session
func (p *Provider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	signedIn := p.current != nil
	p.mu.RUnlock()

	if !signedIn {
		return nil
	}

	p.setCurrent(auth.SessionEventSignedOut, nil)
	return nil
}

// RefreshSession issues a new token for the current principal
func (p *Provider) RefreshSession(ctx context.Context) (*auth.Session, error) {
	current, err := p.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, auth.NewCredentialError(ErrNoSession)
	}

	record, err := p.findByID(ctx, current.Principal.ID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		p.setCurrent(auth.SessionEventSignedOut, nil)
		return nil, auth.NewCredentialError(ErrPrincipalNotFound)
	}

	session, err := p.issue(record, p.now())
	if err != nil {
		return nil, err
	}

	p.setCurrent(auth.SessionEventTokenRefreshed, session)
	return cloneSession(session), nil
}

// SessionFromToken validates a token issued by this provider
func (p *Provider) SessionFromToken(ctx context.Context, token string) (*auth.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.NewCredentialError(ErrNoSession)
	}

	claims, err := p.tokens.validate(token, p.now())
	if err != nil {
		return nil, auth.NewCredentialError(err)
	}

	record, err := p.findByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, auth.NewCredentialError(ErrPrincipalNotFound, map[string]any{"principal_id": claims.Subject})
	}

	return &auth.Session{
		AccessToken: token,
		Principal:   *record.Principal(),
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// DeleteAccount removes a principal, signing it out if it is current
func (p *Provider) DeleteAccount(ctx context.Context, principalID string) error {
	id, err := uuid.Parse(strings.TrimSpace(principalID))
	if err != nil {
		return auth.NewNotFoundError("principal not found", map[string]any{"principal_id": principalID})
	}

	res, err := p.db.NewDelete().
		Model((*PrincipalRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return auth.NewStoreError(err, map[string]any{"principal_id": principalID})
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.NewNotFoundError("principal not found", map[string]any{"principal_id": principalID})
	}

	p.mu.RLock()
	isCurrent := p.current != nil && p.current.Principal.ID == id.String()
	p.mu.RUnlock()

	if isCurrent {
		p.setCurrent(auth.SessionEventSignedOut, nil)
	}

	p.logger.Info("deleted principal %s", id)
	return nil
}

// ListAccounts returns principals created before the given time, oldest first
func (p *Provider) ListAccounts(ctx context.Context, createdBefore time.Time) ([]auth.Principal, error) {
	records := []*PrincipalRecord{}
	err := p.db.NewSelect().
		Model(&records).
		Where("?TableAlias.created_at < ?", createdBefore).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, auth.NewStoreError(err, map[string]any{"operation": "list_accounts"})
	}

	out := make([]auth.Principal, 0, len(records))
	for _, r := range records {
		out = append(out, *r.Principal())
	}
	return out, nil
}

func (p *Provider) issue(record *PrincipalRecord, now time.Time) (*auth.Session, error) {
	token, claims, err := p.tokens.generate(record.ID.String(), record.Email, now)
	if err != nil {
		return nil, err
	}

	return &auth.Session{
		AccessToken: token,
		Principal:   *record.Principal(),
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (p *Provider) setCurrent(eventType auth.SessionEventType, session *auth.Session) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.current = session
	p.mu.Unlock()

	p.subsMu.Lock()
	subs := make([]auth.SessionChangeFunc, 0, len(p.subs))
	for i := 0; i < p.nextSub; i++ {
		if fn, ok := p.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	p.subsMu.Unlock()

	event := auth.SessionEvent{Type: eventType, Session: cloneSession(session)}
	for _, fn := range subs {
		fn(event)
	}
}

func (p *Provider) findByEmail(ctx context.Context, tx bun.IDB, email string) (*PrincipalRecord, error) {
	if email == "" {
		return nil, nil
	}

	record, err := p.principals.GetByIdentifierTx(ctx, tx, email)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, auth.NewStoreError(err, map[string]any{"email": email})
	}
	return record, nil
}

func (p *Provider) findByID(ctx context.Context, principalID string) (*PrincipalRecord, error) {
	id, err := uuid.Parse(strings.TrimSpace(principalID))
	if err != nil {
		return nil, nil
	}

	record := &PrincipalRecord{}
	err = p.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, auth.NewStoreError(err, map[string]any{"principal_id": principalID})
	}
	return record, nil
}

func (p *Provider) trackAttempt(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error {
	_, err := p.db.NewUpdate().
		Model((*PrincipalRecord)(nil)).
		Set("login_attempts = ?", attempts).
		Set("login_attempt_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (p *Provider) trackSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.db.NewUpdate().
		Model((*PrincipalRecord)(nil)).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Set("last_login_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func cloneSession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
