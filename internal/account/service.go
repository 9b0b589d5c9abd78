// Package account implements signup, signin and the user operations behind
// the HTTP API. It orchestrates the credential store and the token authority.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/gochat-auth/internal/users"
)

var (
	// ErrInvalidCredentials is returned by SignIn for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrValidation wraps request validation failures.
	ErrValidation = errors.New("validation failed")
)

// Tokens issues and refreshes the token pair handed to clients.
type Tokens interface {
	EncodeToken(subject string) (string, error)
	EncodeRefreshToken(subject string) (string, error)
	RefreshToken(refreshToken string) (string, error)
}

// SignUpRequest is the body of POST /v1/signup.
type SignUpRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// SignInRequest is the body of POST /v1/signin.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateRequest is the body of POST /v1/user/update.
type UpdateRequest struct {
	ID        int64   `json:"id" validate:"required,gt=0"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
}

// TokenPair is the token object of an AuthResponse.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is returned by signup and signin.
type AuthResponse struct {
	Token TokenPair   `json:"token"`
	User  *users.User `json:"user"`
}

// Service is the account API's business logic.
type Service struct {
	store      users.Store
	tokens     Tokens
	validate   *validator.Validate
	bcryptCost int
	logger     *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires a Service to its store and token authority.
func NewService(store users.Store, tokens Tokens, opts ...Option) *Service {
	s := &Service{
		store:      store,
		tokens:     tokens,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.Default(),
	}
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp registers a new user and returns a fresh token pair.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*AuthResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: field password is too long", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.Create(ctx, &users.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return s.issue(user)
}

// SignIn checks credentials and returns a fresh token pair.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*AuthResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	user, err := s.store.FindByEmail(ctx, req.Email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.InfoContext(ctx, "signin rejected", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(refreshToken string) (string, error) {
	return s.tokens.RefreshToken(refreshToken)
}

// ListUsers returns every user ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]*users.User, error) {
	return s.store.List(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (*users.User, error) {
	return s.store.FindByID(ctx, id)
}

// UpdateUser changes a user's profile fields.
func (s *Service) UpdateUser(ctx context.Context, req UpdateRequest) (*users.User, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, req.ID, users.Update{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
}

func (s *Service) issue(user *users.User) (*AuthResponse, error) {
	access, err := s.tokens.EncodeToken(user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.EncodeRefreshToken(user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &AuthResponse{
		Token: TokenPair{AccessToken: access, RefreshToken: refresh},
		User:  user,
	}, nil
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q", ErrValidation, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
