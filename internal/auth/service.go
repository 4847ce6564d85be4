package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vovakirdan/channelchat-server/internal/core"
	"github.com/vovakirdan/channelchat-server/internal/store"
	"github.com/vovakirdan/channelchat-server/internal/utils"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidDisplayName is returned when the display name is too long.
	ErrInvalidDisplayName = errors.New("invalid display name")
	// ErrInvalidActivationCode is returned for unknown, used or expired codes.
	ErrInvalidActivationCode = errors.New("invalid or expired activation code")
	// ErrUserBanned is returned when a banned user tries to log in.
	ErrUserBanned = errors.New("user is banned")
)

const (
	minUsernameLen    = 3
	maxUsernameLen    = 20
	maxDisplayNameLen = 30
)

// Users is the storage the auth service needs.
type Users interface {
	store.UserStore
	store.ActivationCodeStore
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Username       string
	Password       string
	DisplayName    string
	ActivationCode string
}

// Service provides authentication operations.
type Service struct {
	store     Users
	jwtConfig *JWTConfig
	now       func() time.Time
}

// NewService creates a new authentication service.
func NewService(users Users, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     users,
		jwtConfig: jwtConfig,
		now:       time.Now,
	}
}

// Register redeems an activation code, creates the user and returns it with a JWT token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, string, error) {
	username := strings.TrimSpace(in.Username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return nil, "", ErrInvalidUsername
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, "", err
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		return nil, "", ErrInvalidDisplayName
	}
	code := strings.ToUpper(strings.TrimSpace(in.ActivationCode))
	if code == "" {
		return nil, "", ErrInvalidActivationCode
	}

	hashedPassword, err := HashPassword(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           utils.NewID(),
		Username:     username,
		PasswordHash: hashedPassword,
		DisplayName:  displayName,
		CreatedAt:    s.now().UTC(),
	}
	err = s.store.RedeemAndCreateUser(ctx, user, code, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, "", ErrInvalidActivationCode
	case errors.Is(err, store.ErrConflict):
		return nil, "", ErrUserExists
	case err != nil:
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := IssueToken(s.jwtConfig, user, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and returns the user with a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", err
	}
	if user.IsBanned {
		return nil, "", ErrUserBanned
	}

	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, "", fmt.Errorf("touch last login: %w", err)
	}
	user.LastLoginAt = &now

	token, err := IssueToken(s.jwtConfig, user, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ParseToken(s.jwtConfig, tokenString)
}

// CurrentUser validates a token and loads the user it names, rejecting banned users.
func (s *Service) CurrentUser(ctx context.Context, tokenString string) (*store.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.IsBanned {
		return nil, ErrUserBanned
	}
	return user, nil
}

// Resolve implements core.IdentityResolver. Every failure maps to core.ErrUnauthenticated.
func (s *Service) Resolve(ctx context.Context, credential string) (core.Identity, error) {
	user, err := s.CurrentUser(ctx, credential)
	if err != nil {
		return core.Identity{}, core.ErrUnauthenticated
	}
	return IdentityOf(user), nil
}

// IdentityOf converts a stored user into a core identity.
func IdentityOf(user *store.User) core.Identity {
	return core.Identity{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
		IsAdmin:     user.IsAdmin,
		IsBanned:    user.IsBanned,
	}
}

// IssueActivationCode creates a new single-use registration code.
func (s *Service) IssueActivationCode(ctx context.Context, createdBy string) (*store.ActivationCode, error) {
	value, err := utils.NewActivationCode()
	if err != nil {
		return nil, fmt.Errorf("generate activation code: %w", err)
	}
	code := &store.ActivationCode{
		Code:      value,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateActivationCode(ctx, code); err != nil {
		return nil, fmt.Errorf("store activation code: %w", err)
	}
	return code, nil
}

// EnsureAdmin creates the bootstrap administrator if no user with that name exists.
// It reports whether a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (*store.User, bool, error) {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup admin: %w", err)
	}
	if err := checkPassword(password); err != nil {
		return nil, false, err
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	user := &store.User{
		ID:           utils.NewID(),
		Username:     username,
		PasswordHash: hashedPassword,
		DisplayName:  "Administrator",
		IsAdmin:      true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create admin: %w", err)
	}
	return user, true, nil
}
