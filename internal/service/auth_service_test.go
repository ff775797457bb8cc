package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func newAuthService(users repository.UserRepository) *AuthService {
	return NewAuthService(config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 15,
		BcryptCost:            bcrypt.MinCost,
	}, users, nil)
}

func TestAuthLogin(t *testing.T) {
	users := repository.NewMemoryUserRepository(clock.Real())
	svc := newAuthService(users)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, "Ana", " Ana@Example.com ", "s3cret", domain.UserRoleAgent)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", created.Email)

	user, token, exp, err := svc.Login(ctx, "ana@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	assert.False(t, exp.IsZero())

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, claims.UserID)
	assert.Equal(t, domain.UserRoleAgent, claims.Role)
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	users := repository.NewMemoryUserRepository(clock.Real())
	svc := newAuthService(users)
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, "Ana", "ana@example.com", "s3cret", domain.UserRoleAgent)
	require.NoError(t, err)

	_, _, _, err = svc.Login(ctx, "ana@example.com", "wrong")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))

	_, _, _, err = svc.Login(ctx, "nobody@example.com", "s3cret")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))
}

func TestAuthLoginRejectsInactiveUser(t *testing.T) {
	users := repository.NewMemoryUserRepository(clock.Real())
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), &domain.User{
		Email: "off@example.com", PasswordHash: string(hash), Role: domain.UserRoleAgent,
	}))

	_, _, _, err = newAuthService(users).Login(context.Background(), "off@example.com", "s3cret")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))
}

func TestAuthCreateUserValidation(t *testing.T) {
	svc := newAuthService(repository.NewMemoryUserRepository(clock.Real()))
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "x", "", "pw", domain.UserRoleAgent)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = svc.CreateUser(ctx, "x", "x@example.com", "pw", "ROOT")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = svc.CreateUser(ctx, "x", "x@example.com", "pw", domain.UserRoleAgent)
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, "y", "X@example.com", "pw", domain.UserRoleAgent)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestBootstrapAdminIsIdempotent(t *testing.T) {
	users := repository.NewMemoryUserRepository(clock.Real())
	svc := newAuthService(users)
	ctx := context.Background()

	require.NoError(t, svc.BootstrapAdmin(ctx, "", ""))
	require.NoError(t, svc.BootstrapAdmin(ctx, "admin@example.com", "root-pw"))
	require.NoError(t, svc.BootstrapAdmin(ctx, "admin@example.com", "other-pw"))

	admin, err := users.GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.UserRoleAdmin, admin.Role)
	assert.True(t, admin.Active)

	_, _, _, err = svc.Login(ctx, "admin@example.com", "root-pw")
	assert.NoError(t, err)
}
