package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ApprovalRequests interface {
	repository.Repository[*ApprovalRequest]

	Create(ctx context.Context, record *ApprovalRequest, criteria ...repository.InsertCriteria) (*ApprovalRequest, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *ApprovalRequest, criteria ...repository.InsertCriteria) (*ApprovalRequest, error)
	FindByUUID(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error)
	FindByUUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*ApprovalRequest, error)
	FindByRequesterProfileID(ctx context.Context, profileID uuid.UUID) (*ApprovalRequest, error)
	DecideTx(ctx context.Context, tx bun.IDB, id uuid.UUID, review Review) (*ApprovalRequest, error)
	ListByStatus(ctx context.Context, status ApprovalStatus) ([]*ApprovalRequest, error)
}

// Review is the outcome written to an approval request
type Review struct {
	Status      ApprovalStatus
	GrantedRole Role
	ReviewerID  uuid.UUID
	Note        string
	ReviewedAt  time.Time
}

type approvalRequests struct {
	repository.Repository[*ApprovalRequest]
	db  *bun.DB
	now func() time.Time
}

var _ ApprovalRequests = (*approvalRequests)(nil)

func NewApprovalRequestsRepository(db *bun.DB) ApprovalRequests {
	handlers := repository.ModelHandlers[*ApprovalRequest]{
		NewRecord: func() *ApprovalRequest {
			return &ApprovalRequest{}
		},
		GetID: func(record *ApprovalRequest) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *ApprovalRequest, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "requester_profile_id"
		},
	}

	return &approvalRequests{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
		now:        time.Now,
	}
}

func (a *approvalRequests) Create(ctx context.Context, record *ApprovalRequest, criteria ...repository.InsertCriteria) (*ApprovalRequest, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *approvalRequests) CreateTx(ctx context.Context, tx bun.IDB, record *ApprovalRequest, criteria ...repository.InsertCriteria) (*ApprovalRequest, error) {
	if record != nil {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.Status == "" {
			record.Status = ApprovalStatusPending
		}
		if record.SubmittedPayload == nil {
			record.SubmittedPayload = map[string]any{}
		}
		now := a.now()
		if record.CreatedAt == nil {
			record.CreatedAt = &now
		}
		if record.UpdatedAt == nil {
			record.UpdatedAt = &now
		}
	}
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

// FindByUUID returns nil without error when the request does not exist
func (a *approvalRequests) FindByUUID(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error) {
	return a.FindByUUIDTx(ctx, a.db, id)
}

func (a *approvalRequests) FindByUUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*ApprovalRequest, error) {
	record := &ApprovalRequest{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, NewStoreError(err, map[string]any{"request_id": id.String()})
	}
	return record, nil
}

// FindByRequesterProfileID returns the most recent request for a profile
func (a *approvalRequests) FindByRequesterProfileID(ctx context.Context, profileID uuid.UUID) (*ApprovalRequest, error) {
	record := &ApprovalRequest{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.requester_profile_id = ?", profileID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, NewStoreError(err, map[string]any{"requester_profile_id": profileID.String()})
	}
	return record, nil
}

// DecideTx moves a pending request to its terminal status. The update is
// guarded on status so a request can only be decided once.
func (a *approvalRequests) DecideTx(ctx context.Context, tx bun.IDB, id uuid.UUID, review Review) (*ApprovalRequest, error) {
	reviewedAt := review.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = a.now()
	}

	q := tx.NewUpdate().
		Model((*ApprovalRequest)(nil)).
		Set("status = ?", review.Status).
		Set("reviewed_at = ?", reviewedAt).
		Set("review_note = ?", review.Note).
		Set("updated_at = ?", reviewedAt).
		Where("id = ?", id).
		Where("status = ?", ApprovalStatusPending)

	if review.ReviewerID != uuid.Nil {
		q = q.Set("reviewed_by = ?", review.ReviewerID)
	}

	if review.GrantedRole != "" {
		q = q.Set("granted_role = ?", review.GrantedRole)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, NewStoreError(err, map[string]any{"request_id": id.String()})
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, NewNotFoundError("approval request not found or already decided", map[string]any{
			"request_id": id.String(),
		})
	}

	record, err := a.FindByUUIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, NewNotFoundError("approval request not found", map[string]any{"request_id": id.String()})
	}
	return record, nil
}

// ListByStatus returns requests with their requester profile, newest first
func (a *approvalRequests) ListByStatus(ctx context.Context, status ApprovalStatus) ([]*ApprovalRequest, error) {
	records := []*ApprovalRequest{}
	err := a.db.NewSelect().
		Model(&records).
		Relation("Requester").
		Where("?TableAlias.status = ?", status).
		Order("apr.created_at DESC").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return records, nil
		}
		return nil, NewStoreError(err, map[string]any{"status": status})
	}
	return records, nil
}
