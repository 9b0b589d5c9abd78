package account

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/gochat-auth/internal/auth"
	"github.com/Tyrowin/gochat-auth/internal/users"
)

func newTestService(t *testing.T) (*Service, *auth.Authority) {
	t.Helper()
	authority, err := auth.NewAuthority(auth.Config{
		Secret:     []byte("account-test-secret-0123456789"),
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)
	return NewService(users.NewMemoryStore(), authority, WithBcryptCost(bcrypt.MinCost)), authority
}

func TestSignUp_ReturnsTokensAndProfile(t *testing.T) {
	svc, authority := newTestService(t)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Password: "p", FirstName: "Ann"})
	require.NoError(t, err)

	require.NotNil(t, resp.User)
	assert.Equal(t, "a@x.com", resp.User.Email)
	assert.Equal(t, "Ann", resp.User.FirstName)
	assert.NotEqual(t, "p", resp.User.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(resp.User.PasswordHash), []byte("p")))

	subject, err := authority.DecodeToken(resp.Token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", subject)

	access, err := svc.Refresh(resp.Token.RefreshToken)
	require.NoError(t, err)
	subject, err = authority.DecodeToken(access)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", subject)
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Password: "other"})
	require.ErrorIs(t, err, users.ErrConflict)
}

func TestSignUp_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   SignUpRequest
		field string
	}{
		{"missing email", SignUpRequest{Password: "p"}, "email"},
		{"malformed email", SignUpRequest{Email: "not-an-email", Password: "p"}, "email"},
		{"missing password", SignUpRequest{Email: "a@x.com"}, "password"},
		{"long first name", SignUpRequest{Email: "a@x.com", Password: "p", FirstName: strings.Repeat("x", 101)}, "first_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(ctx, tt.req)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestSignUp_PasswordTooLongForBcrypt(t *testing.T) {
	svc, _ := newTestService(t)

	// 72 runes but more than 72 bytes.
	_, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@x.com", Password: strings.Repeat("é", 72)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSignIn(t *testing.T) {
	svc, authority := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		resp, err := svc.SignIn(ctx, SignInRequest{Email: "A@X.com", Password: "p"})
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", resp.User.Email)

		subject, err := authority.DecodeToken(resp.Token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", subject)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "a@x.com", Password: "nope"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "b@x.com", Password: "p"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)

	_, err = svc.Refresh(resp.Token.AccessToken)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestUserOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.SignUp(ctx, SignUpRequest{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, SignUpRequest{Email: "b@x.com", Password: "p"})
	require.NoError(t, err)

	list, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	got, err := svc.GetUser(ctx, a.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)

	_, err = svc.GetUser(ctx, 99)
	require.ErrorIs(t, err, users.ErrNotFound)

	name := "Alice"
	updated, err := svc.UpdateUser(ctx, UpdateRequest{ID: a.User.ID, FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FirstName)

	_, err = svc.UpdateUser(ctx, UpdateRequest{ID: 99, FirstName: &name})
	require.ErrorIs(t, err, users.ErrNotFound)

	_, err = svc.UpdateUser(ctx, UpdateRequest{FirstName: &name})
	require.ErrorIs(t, err, ErrValidation)
}
