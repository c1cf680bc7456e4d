package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Profiles() Profiles
	ApprovalRequests() ApprovalRequests
}

type mngr struct {
	db               *bun.DB
	profiles         Profiles
	approvalRequests ApprovalRequests
}

// RepositoryManagerOption customizes the repositories created by the manager
type RepositoryManagerOption func(*mngr)

// WithManagedProfiles overrides the profiles repository
func WithManagedProfiles(p Profiles) RepositoryManagerOption {
	return func(m *mngr) {
		if p != nil {
			m.profiles = p
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	m := &mngr{
		db:               db,
		profiles:         NewProfilesRepository(db),
		approvalRequests: NewApprovalRequestsRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.approvalRequests == nil {
		return errors.New("repository approvalRequests should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}

func (m mngr) ApprovalRequests() ApprovalRequests {
	return m.approvalRequests
}
