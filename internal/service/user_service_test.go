package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/7930navid/users-server/internal/cache"
	"github.com/7930navid/users-server/internal/entities"
	"github.com/7930navid/users-server/internal/logger"
	"github.com/7930navid/users-server/internal/repository"
)

func TestMain(m *testing.M) {
	// Error logs from failure-path tests are expected; keep them quiet.
	if err := logger.Init("error"); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	m.Run()
}

// MockUserRepository mocks repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, username, email, passwordHash, bio, avatar string) (*entities.User, error) {
	args := m.Called(ctx, username, email, passwordHash, bio, avatar)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*entities.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) FindPasswordHashByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, email, username, bio, avatar string, password repository.PasswordUpdate) (*entities.User, error) {
	args := m.Called(ctx, email, username, bio, avatar, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) Delete(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockUserRepository) List(ctx context.Context) ([]*entities.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.User), args.Error(1)
}

// MockCache mocks cache.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(hash)
}

func testUser(passwordHash string) *entities.User {
	return &entities.User{
		ID:           1,
		Username:     "ann",
		Email:        "a@x.com",
		PasswordHash: passwordHash,
		Bio:          "hi",
		Avatar:       "img.png",
	}
}

func TestRegister_Success(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("FindByEmail", ctx, "a@x.com").Return(nil, repository.ErrUserNotFound)
	repo.On("Create", ctx, "ann", "a@x.com", mock.MatchedBy(func(hash string) bool {
		// The stored value must be a bcrypt hash of the raw password.
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret1")) == nil
	}), "hi", "img.png").Return(testUser("hashed"), nil)

	user, err := svc.Register(ctx, "ann", "a@x.com", "secret1", "hi", "img.png")

	require.NoError(t, err)
	assert.Equal(t, "ann", user.Username)
	assert.Equal(t, "a@x.com", user.Email)
	repo.AssertExpectations(t)
}

func TestRegister_MissingFields(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)

	_, err := svc.Register(context.Background(), "ann", "", "secret1", "hi", "img.png")

	assert.ErrorIs(t, err, ErrMissingFields)
	repo.AssertNotCalled(t, "Create")
}

func TestRegister_EmailTaken(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("FindByEmail", ctx, "a@x.com").Return(testUser("hashed"), nil)

	_, err := svc.Register(ctx, "ann", "a@x.com", "secret1", "hi", "img.png")

	assert.ErrorIs(t, err, ErrEmailTaken)
	repo.AssertNotCalled(t, "Create")
}

func TestRegister_ConcurrentDuplicate(t *testing.T) {
	// The pre-check misses, but the insert loses the race and hits the
	// unique constraint. The caller sees the same conflict error.
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("FindByEmail", ctx, "a@x.com").Return(nil, repository.ErrUserNotFound)
	repo.On("Create", ctx, "ann", "a@x.com", mock.AnythingOfType("string"), "hi", "img.png").
		Return(nil, repository.ErrDuplicateEmail)

	_, err := svc.Register(ctx, "ann", "a@x.com", "secret1", "hi", "img.png")

	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthenticate_Success(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("FindByEmail", ctx, "a@x.com").Return(testUser(mustHash(t, "secret1")), nil)

	user, err := svc.Authenticate(ctx, "a@x.com", "secret1")

	require.NoError(t, err)
	assert.Equal(t, "ann", user.Username)
}

func TestAuthenticate_WrongPasswordAndUnknownEmailIndistinguishable(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("FindByEmail", ctx, "a@x.com").Return(testUser(mustHash(t, "secret1")), nil)
	repo.On("FindByEmail", ctx, "ghost@x.com").Return(nil, repository.ErrUserNotFound)

	_, wrongPassErr := svc.Authenticate(ctx, "a@x.com", "wrong")
	_, unknownErr := svc.Authenticate(ctx, "ghost@x.com", "secret1")

	assert.ErrorIs(t, wrongPassErr, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.Equal(t, wrongPassErr, unknownErr)
}

func TestUpdateProfile_KeepsPasswordWhenEmpty(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("Update", ctx, "a@x.com", "ann2", "hi2", "img2.png",
		mock.MatchedBy(func(p repository.PasswordUpdate) bool {
			return !p.Replace && p.Hash == ""
		})).Return(testUser("hashed"), nil)

	_, err := svc.UpdateProfile(ctx, "a@x.com", "ann2", "", "hi2", "img2.png")

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestUpdateProfile_ReplacesPasswordWhenSupplied(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("Update", ctx, "a@x.com", "ann2", "hi2", "img2.png",
		mock.MatchedBy(func(p repository.PasswordUpdate) bool {
			return p.Replace && bcrypt.CompareHashAndPassword([]byte(p.Hash), []byte("newpass")) == nil
		})).Return(testUser("hashed"), nil)

	_, err := svc.UpdateProfile(ctx, "a@x.com", "ann2", "newpass", "hi2", "img2.png")

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestUpdateProfile_NotFound(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("Update", ctx, "ghost@x.com", "ann", "hi", "img.png",
		mock.AnythingOfType("repository.PasswordUpdate")).
		Return(nil, repository.ErrUserNotFound)

	_, err := svc.UpdateProfile(ctx, "ghost@x.com", "ann", "", "hi", "img.png")

	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfile_MissingFields(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)

	_, err := svc.UpdateProfile(context.Background(), "a@x.com", "", "", "hi", "img.png")

	assert.ErrorIs(t, err, ErrMissingFields)
	repo.AssertNotCalled(t, "Update")
}

func TestVerifyPassword(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()
	hash := mustHash(t, "secret1")

	repo.On("FindPasswordHashByEmail", ctx, "a@x.com").Return(hash, nil)
	repo.On("FindPasswordHashByEmail", ctx, "ghost@x.com").Return("", repository.ErrUserNotFound)

	assert.NoError(t, svc.VerifyPassword(ctx, "a@x.com", "secret1"))
	assert.ErrorIs(t, svc.VerifyPassword(ctx, "a@x.com", "wrong"), ErrWrongPassword)
	assert.ErrorIs(t, svc.VerifyPassword(ctx, "ghost@x.com", "secret1"), ErrUserNotFound)
}

func TestDelete(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("Delete", ctx, "a@x.com").Return(nil)
	repo.On("Delete", ctx, "ghost@x.com").Return(repository.ErrUserNotFound)

	assert.NoError(t, svc.Delete(ctx, "a@x.com"))
	assert.ErrorIs(t, svc.Delete(ctx, "ghost@x.com"), ErrUserNotFound)
}

func TestList_Sanitized(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("List", ctx).Return([]*entities.User{
		testUser("hash-one"),
		{ID: 2, Username: "bob", Email: "b@x.com", PasswordHash: "hash-two", Bio: "yo", Avatar: "b.png"},
	}, nil)

	users, err := svc.List(ctx)

	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ann", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}

func TestList_Empty(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewUserService(repo, nil)
	ctx := context.Background()

	repo.On("List", ctx).Return([]*entities.User{}, nil)

	users, err := svc.List(ctx)

	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestList_CacheHitSkipsRepository(t *testing.T) {
	repo := new(MockUserRepository)
	cacheClient := new(MockCache)
	svc := NewUserService(repo, cacheClient)
	ctx := context.Background()

	cacheClient.On("GetJSON", ctx, "users:all", mock.Anything).Return(nil)

	_, err := svc.List(ctx)

	require.NoError(t, err)
	repo.AssertNotCalled(t, "List")
}

func TestList_CacheMissFallsBackAndRepopulates(t *testing.T) {
	repo := new(MockUserRepository)
	cacheClient := new(MockCache)
	svc := NewUserService(repo, cacheClient)
	ctx := context.Background()

	cacheClient.On("GetJSON", ctx, "users:all", mock.Anything).Return(cache.ErrCacheMiss)
	repo.On("List", ctx).Return([]*entities.User{testUser("hashed")}, nil)
	cacheClient.On("SetJSON", ctx, "users:all", mock.Anything, mock.Anything).Return(nil)

	users, err := svc.List(ctx)

	require.NoError(t, err)
	require.Len(t, users, 1)
	cacheClient.AssertExpectations(t)
}

func TestDelete_InvalidatesListCache(t *testing.T) {
	repo := new(MockUserRepository)
	cacheClient := new(MockCache)
	svc := NewUserService(repo, cacheClient)
	ctx := context.Background()

	repo.On("Delete", ctx, "a@x.com").Return(nil)
	cacheClient.On("Delete", ctx, "users:all").Return(nil)

	require.NoError(t, svc.Delete(ctx, "a@x.com"))
	cacheClient.AssertExpectations(t)
}
