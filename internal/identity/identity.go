// Package identity implements username/password registration and login,
// minting bearer tokens the gateway's verifier accepts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = store.ErrUsernameTaken
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("invalid username or password format")
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

// UserStore is the persistence the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// User is the public view of a registered account.
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Service registers users and logs them in.
type Service struct {
	users  UserStore
	issuer *auth.Issuer
	cost   int
	dummy  []byte // compared against when the user is unknown
	logger *zap.Logger
}

// NewService creates a Service. cost <= 0 uses bcrypt.DefaultCost.
func NewService(users UserStore, issuer *auth.Issuer, cost int, logger *zap.Logger) (*Service, error) {
	if users == nil || issuer == nil {
		return nil, errors.New("identity.NewService: users and issuer are required")
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("querygate-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("identity.NewService: %w", err)
	}
	return &Service{users: users, issuer: issuer, cost: cost, dummy: dummy, logger: logger}, nil
}

func validateCredentials(username, password string) error {
	if username == "" || len(username) > 64 || strings.ContainsAny(username, " \t\r\n") {
		return ErrInvalidInput
	}
	if password == "" || len(password) > maxPasswordBytes {
		return ErrInvalidInput
	}
	return nil
}

// Register creates an account. New accounts always get the user role.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	u, err := s.users.CreateUser(ctx, username, string(hash), string(auth.RoleUser))
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("Register: %w", err)
	}

	s.logger.Info("user registered", zap.String("username", u.Username))
	return &User{ID: u.ID, Username: u.Username, Role: auth.ParseRole(u.Role)}, nil
}

// Login checks the password and issues a bearer token carrying the user's role.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("Login: %w", err)
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login failed", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(u.Username, auth.ParseRole(u.Role))
	if err != nil {
		return nil, fmt.Errorf("Login: %w", err)
	}
	return &Token{AccessToken: token, TokenType: "bearer"}, nil
}
