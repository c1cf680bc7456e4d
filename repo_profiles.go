package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Profiles interface {
	repository.Repository[*Profile]

	FindByPrincipalID(ctx context.Context, principalID string) (*Profile, error)
	FindByPrincipalIDTx(ctx context.Context, tx bun.IDB, principalID string) (*Profile, error)
	FindByUUID(ctx context.Context, id uuid.UUID) (*Profile, error)
	FindByUUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Profile, error)
	Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status ProfileStatus, opts ...StatusUpdateOption) (*Profile, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status ProfileStatus, opts ...StatusUpdateOption) (*Profile, error)
	ListByStatus(ctx context.Context, status ProfileStatus, roles ...Role) ([]*Profile, error)
	PurgeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	Suspend(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error)
	Reinstate(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db                  *bun.DB
	now                 func() time.Time
	stateMachine        ProfileStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Profiles                        = (*profiles)(nil)
	_ repository.Repository[*Profile] = (*profiles)(nil)
)

type ProfilesOption func(*profiles)

func NewProfilesRepository(db *bun.DB, opts ...ProfilesOption) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "principal_id"
		},
	})

	repoProfiles := &profiles{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoProfiles)
		}
	}

	return repoProfiles
}

func WithProfilesStateMachineOptions(options ...StateMachineOption) ProfilesOption {
	return func(p *profiles) {
		if len(options) == 0 {
			return
		}
		p.stateMachineOptions = append(p.stateMachineOptions, options...)
		p.stateMachine = nil
	}
}

func WithProfilesStateMachine(sm ProfileStateMachine) ProfilesOption {
	return func(p *profiles) {
		p.stateMachine = sm
	}
}

func WithProfilesClock(now func() time.Time) ProfilesOption {
	return func(p *profiles) {
		if now != nil {
			p.now = now
		}
	}
}

// FindByPrincipalID returns nil without error when no profile is linked
func (a *profiles) FindByPrincipalID(ctx context.Context, principalID string) (*Profile, error) {
	return a.FindByPrincipalIDTx(ctx, a.db, principalID)
}

func (a *profiles) FindByPrincipalIDTx(ctx context.Context, tx bun.IDB, principalID string) (*Profile, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, nil
	}

	record := &Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.principal_id = ?", principalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, NewStoreError(err, map[string]any{"principal_id": principalID})
	}

	return record, nil
}

// FindByUUID returns nil without error when the profile does not exist
func (a *profiles) FindByUUID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return a.FindByUUIDTx(ctx, a.db, id)
}

func (a *profiles) FindByUUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Profile, error) {
	record := &Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, NewStoreError(err, map[string]any{"profile_id": id.String()})
	}
	return record, nil
}

func (a *profiles) Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *profiles) CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	a.prepareDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *profiles) UpdateStatus(ctx context.Context, id uuid.UUID, status ProfileStatus, opts ...StatusUpdateOption) (*Profile, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status, opts...)
}

func (a *profiles) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status ProfileStatus, opts ...StatusUpdateOption) (*Profile, error) {
	if tx == nil {
		tx = a.db
	}

	update := &StatusUpdate{}
	for _, opt := range opts {
		if opt != nil {
			opt(update)
		}
	}

	// NOTE: partial update on purpose, a model update would overwrite
	// the descriptive columns with zero values.
	q := tx.NewUpdate().
		Model((*Profile)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", a.now()).
		Where("id = ?", id)

	if update.Role != "" {
		q = q.Set("role = ?", update.Role)
	}

	if update.SuspendedAt != nil {
		q = q.Set("suspended_at = ?", *update.SuspendedAt)
	} else if update.ClearSuspendedAt {
		q = q.Set("suspended_at = NULL")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, NewStoreError(err, map[string]any{"profile_id": id.String()})
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, NewNotFoundError("profile not found", map[string]any{"profile_id": id.String()})
	}

	record, err := a.FindByUUIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, NewNotFoundError("profile not found", map[string]any{"profile_id": id.String()})
	}
	return record, nil
}

// ListByStatus returns profiles with the given status, newest first,
// optionally restricted to a set of roles
func (a *profiles) ListByStatus(ctx context.Context, status ProfileStatus, roles ...Role) ([]*Profile, error) {
	records := []*Profile{}
	q := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", status).
		Order("created_at DESC")

	if len(roles) > 0 {
		q = q.Where("?TableAlias.role IN (?)", bun.In(roles))
	}

	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return records, nil
		}
		return nil, NewStoreError(err, map[string]any{"status": status})
	}

	return records, nil
}

// PurgeTx hard deletes a profile, bypassing the soft delete column
func (a *profiles) PurgeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*Profile)(nil)).
		Where("id = ?", id).
		ForceDelete().
		Exec(ctx)
	if err != nil {
		return NewStoreError(err, map[string]any{"profile_id": id.String()})
	}
	return nil
}

func (a *profiles) Suspend(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error) {
	return a.lifecycleMachine().Transition(ctx, actor, profile, ProfileStatusSuspended, opts...)
}

// Reinstate only lifts a suspension; pending profiles leave pending through
// the approval decision.
func (a *profiles) Reinstate(ctx context.Context, actor ActorRef, profile *Profile, opts ...TransitionOption) (*Profile, error) {
	if profile != nil && profile.Status != ProfileStatusSuspended {
		return nil, newInvalidTransitionError(map[string]any{
			"from":   profile.Status,
			"to":     ProfileStatusActive,
			"reason": "only suspended profiles can be reinstated",
		})
	}
	return a.lifecycleMachine().Transition(ctx, actor, profile, ProfileStatusActive, opts...)
}

func (a *profiles) lifecycleMachine() ProfileStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewProfileStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}

func (a *profiles) prepareDefaults(record *Profile) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := a.now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

// StatusUpdate collects the extra columns written with a status change
type StatusUpdate struct {
	Role             Role
	SuspendedAt      *time.Time
	ClearSuspendedAt bool
}

// StatusUpdateOption allows callers to write extra columns with a status change.
type StatusUpdateOption func(*StatusUpdate)

// WithRole sets the profile role during a status transition.
func WithRole(role Role) StatusUpdateOption {
	return func(u *StatusUpdate) {
		u.Role = role
	}
}

// WithSuspendedAt sets the SuspendedAt timestamp, nil clears it.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(u *StatusUpdate) {
		u.SuspendedAt = at
		u.ClearSuspendedAt = at == nil
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
