package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/7930navid/users-server/internal/cache"
	"github.com/7930navid/users-server/internal/entities"
	"github.com/7930navid/users-server/internal/logger"
	"github.com/7930navid/users-server/internal/repository"
)

var (
	// ErrMissingFields means a required field was empty or absent.
	ErrMissingFields = errors.New("missing required fields")

	// ErrEmailTaken means registration hit an existing account.
	ErrEmailTaken = errors.New("user with this email already exists")

	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password at the sign-in boundary, so callers cannot tell which
	// field was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserNotFound means no account exists for the given email.
	ErrUserNotFound = errors.New("user not found")

	// ErrWrongPassword is the verify-password mismatch. Unlike sign-in,
	// verification is explicit about what failed.
	ErrWrongPassword = errors.New("wrong password")
)

const (
	usersListCacheKey = "users:all"
	usersListCacheTTL = 5 * time.Minute
)

// UserService defines the interface for account business logic. Every
// returned user is the sanitized projection; the full row with the
// password hash never leaves this package.
type UserService interface {
	Register(ctx context.Context, username, email, password, bio, avatar string) (*entities.PublicUser, error)
	Authenticate(ctx context.Context, email, password string) (*entities.PublicUser, error)
	UpdateProfile(ctx context.Context, email, username, password, bio, avatar string) (*entities.PublicUser, error)
	VerifyPassword(ctx context.Context, email, password string) error
	Delete(ctx context.Context, email string) error
	List(ctx context.Context) ([]*entities.PublicUser, error)
}

type userService struct {
	repo  repository.UserRepository
	cache cache.Cache
}

// NewUserService creates a new user service. The cache may be nil, in
// which case every read goes straight to the database.
func NewUserService(repo repository.UserRepository, cacheClient cache.Cache) UserService {
	return &userService{
		repo:  repo,
		cache: cacheClient,
	}
}

// Register creates a new user account. The raw password is hashed with
// bcrypt at the default cost before anything is stored.
func (s *userService) Register(ctx context.Context, username, email, password, bio, avatar string) (*entities.PublicUser, error) {
	if username == "" || email == "" || password == "" || bio == "" || avatar == "" {
		return nil, ErrMissingFields
	}

	// Check if user already exists
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, username, email, string(hashedPassword), bio, avatar)
	if err != nil {
		// A concurrent registration can win the race between the
		// pre-check and the insert; the unique constraint settles it.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.invalidateListCache(ctx)
	logger.Info("user registered", zap.String("email", email))

	return user.Public(), nil
}

// Authenticate checks the credentials for sign-in. Unknown email and wrong
// password collapse into the same error.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*entities.PublicUser, error) {
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user.Public(), nil
}

// UpdateProfile replaces username, bio and avatar, and rehashes the
// password only when a new one is supplied. The whole mutation happens in
// one store transaction.
func (s *userService) UpdateProfile(ctx context.Context, email, username, password, bio, avatar string) (*entities.PublicUser, error) {
	if email == "" || username == "" || bio == "" || avatar == "" {
		return nil, ErrMissingFields
	}

	passwordUpdate := repository.KeepPassword()
	if password != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		passwordUpdate = repository.ReplacePassword(string(hashedPassword))
	}

	user, err := s.repo.Update(ctx, email, username, bio, avatar, passwordUpdate)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.invalidateListCache(ctx)
	logger.Info("profile updated", zap.String("email", email))

	return user.Public(), nil
}

// VerifyPassword re-checks the password before a sensitive action. Only
// the hash column is read; unlike sign-in, the errors say exactly what
// went wrong.
func (s *userService) VerifyPassword(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return ErrMissingFields
	}

	hash, err := s.repo.FindPasswordHashByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to find password hash: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrWrongPassword
	}

	return nil
}

// Delete removes the account for the given email.
func (s *userService) Delete(ctx context.Context, email string) error {
	if email == "" {
		return ErrMissingFields
	}

	if err := s.repo.Delete(ctx, email); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.invalidateListCache(ctx)
	logger.Info("user deleted", zap.String("email", email))

	return nil
}

// List returns every account, sanitized. The result is served from the
// cache when possible and repopulated on a miss.
func (s *userService) List(ctx context.Context) ([]*entities.PublicUser, error) {
	if s.cache != nil {
		var cached []*entities.PublicUser
		err := s.cache.GetJSON(ctx, usersListCacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("failed to read users list from cache", zap.Error(err))
		}
	}

	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	public := make([]*entities.PublicUser, 0, len(users))
	for _, user := range users {
		public = append(public, user.Public())
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, usersListCacheKey, public, usersListCacheTTL); err != nil {
			logger.Warn("failed to cache users list", zap.Error(err))
		}
	}

	return public, nil
}

// invalidateListCache drops the cached users list after any write. Cache
// failures are logged and ignored; the entry expires on its own anyway.
func (s *userService) invalidateListCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, usersListCacheKey); err != nil {
		logger.Warn("failed to invalidate users list cache", zap.Error(err))
	}
}
