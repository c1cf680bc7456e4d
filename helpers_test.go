package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/migrations"
	"github.com/goliatone/go-campus-auth/provider/local"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

var fixedNow = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// newTestDB returns a migrated in-memory database
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Up(sqldb, migrations.DefaultDialect))
	return db
}

func newTestRepo(t *testing.T, opts ...auth.StateMachineOption) (*bun.DB, auth.RepositoryManager) {
	t.Helper()
	db := newTestDB(t)
	repo := auth.NewRepositoryManager(db,
		auth.WithManagedProfiles(auth.NewProfilesRepository(db,
			auth.WithProfilesStateMachineOptions(opts...),
		)),
	)
	return db, repo
}

// seedProfile stores a profile with the given role and status
func seedProfile(t *testing.T, repo auth.RepositoryManager, email string, role auth.Role, status auth.ProfileStatus) *auth.Profile {
	t.Helper()
	profile, err := repo.Profiles().Create(context.Background(), &auth.Profile{
		PrincipalID: uuid.NewString(),
		Email:       email,
		FullName:    "Test " + string(role),
		Role:        role,
		Status:      status,
	})
	require.NoError(t, err)
	return profile
}

// seedPendingRequest stores a pending profile and its approval request
func seedPendingRequest(t *testing.T, repo auth.RepositoryManager, email string, role auth.Role) (*auth.Profile, *auth.ApprovalRequest) {
	t.Helper()
	profile := seedProfile(t, repo, email, role, auth.ProfileStatusPending)
	request, err := repo.ApprovalRequests().Create(context.Background(), &auth.ApprovalRequest{
		RequesterProfileID: profile.ID,
		TargetRole:         role,
		SubmittedPayload:   map[string]any{"email": email},
	})
	require.NoError(t, err)
	return profile, request
}

func testSession(email string) *auth.Session {
	return &auth.Session{
		AccessToken: "token-" + email,
		Principal:   auth.Principal{ID: "principal-" + email, Email: email},
		IssuedAt:    fixedNow,
		ExpiresAt:   fixedNow.Add(time.Hour),
	}
}

func activeProfile(role auth.Role) *auth.Profile {
	return &auth.Profile{ID: uuid.New(), Role: role, Status: auth.ProfileStatusActive}
}

const testSigningKey = "campus-test-signing-key-0123456789abcdef"

func newLocalProvider(t *testing.T, db *bun.DB) *local.Provider {
	t.Helper()
	cfg := local.DefaultConfig([]byte(testSigningKey))
	cfg.PasswordCost = bcrypt.MinCost
	provider, err := local.New(db, cfg)
	require.NoError(t, err)
	return provider
}

func countRows(t *testing.T, db *bun.DB, table string) int {
	t.Helper()
	n, err := db.NewSelect().Table(table).Count(context.Background())
	require.NoError(t, err)
	return n
}
