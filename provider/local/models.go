package local

import (
	"time"

	"github.com/goliatone/go-campus-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PrincipalRecord is the stored identity behind an auth.Principal
type PrincipalRecord struct {
	bun.BaseModel  `bun:"table:principals,alias:pr"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email          string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash   string         `bun:"password_hash,notnull" json:"-"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	LoginAttempts  int            `bun:"login_attempts,notnull,default:0" json:"-"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at,nullzero" json:"-"`
	LastLoginAt    *time.Time     `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at"`
}

// Principal converts the record to the provider neutral principal
func (r *PrincipalRecord) Principal() *auth.Principal {
	if r == nil {
		return nil
	}
	p := &auth.Principal{
		ID:       r.ID.String(),
		Email:    r.Email,
		Metadata: r.Metadata,
	}
	if r.CreatedAt != nil {
		p.CreatedAt = *r.CreatedAt
	}
	return p
}
