package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"account-portal/internal/auth"
	"account-portal/internal/domain"
	"account-portal/internal/repository"
	"account-portal/internal/repository/sqlite"
	"account-portal/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type memoryStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	uploadErr error
	deleteErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStorage) Upload(ctx context.Context, obj storage.Object, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Key] = data
	m.types[obj.Key] = obj.ContentType
	return nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStorage) GetObjectURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://cdn.test/" + key + "?expires=" + expires.String(), nil
}

type fixture struct {
	svc     UserService
	repo    repository.UserRepository
	storage *memoryStorage
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))

	repo := sqlite.NewUserRepository(db)
	store := newMemoryStorage()
	svc := NewUserService(repo, Config{
		Hasher:         auth.NewPasswordHasher(bcrypt.MinCost),
		Storage:        store,
		MaxAvatarBytes: 1024,
	})
	return fixture{svc: svc, repo: repo, storage: store}
}

func (f fixture) register(t *testing.T, in RegisterInput) *domain.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	return user
}

func TestRegisterThenAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.register(t, RegisterInput{Username: " alice ", Password: "pw123", Email: "alice@example.com", Age: "30"})
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.PasswordHash)
	assert.Equal(t, "alice@example.com", user.EmailValue())
	require.NotNil(t, user.Age)
	assert.Equal(t, 30, *user.Age)

	stored, err := f.repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw123", stored.PasswordHash)

	authed, err := f.svc.Authenticate(ctx, "alice", "pw123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	assert.Empty(t, authed.PasswordHash)
}

func TestRegisterWithoutOptionalFields(t *testing.T) {
	f := newFixture(t)

	user := f.register(t, RegisterInput{Username: "alice", Password: "pw123"})
	assert.Nil(t, user.Email)
	assert.Nil(t, user.Age)

	// blank emails never collide
	f.register(t, RegisterInput{Username: "bob", Password: "pw123"})
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	f.register(t, RegisterInput{Username: "alice", Password: "pw123", Email: "a@example.com"})

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "other", Email: "new@example.com", Age: "99"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestRegisterDuplicateUsernameWinsOverInvalidFields(t *testing.T) {
	f := newFixture(t)
	f.register(t, RegisterInput{Username: "alice", Password: "pw123"})

	for name, in := range map[string]RegisterInput{
		"bad email":      {Username: "alice", Password: "pw123", Email: "nope"},
		"bad age":        {Username: " alice", Password: "pw123", Age: "old"},
		"empty password": {Username: "alice"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, ErrDuplicateUsername)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, RegisterInput{Username: "alice", Password: "pw123", Email: "a@example.com"})

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "bob", Password: "pw123", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "  ", Password: "", Email: "nope", Age: "abc"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "username")
	assert.Contains(t, verr.Fields, "password")
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "age")
	assert.Contains(t, verr.Error(), "username: ")

	_, err = f.svc.Register(context.Background(), RegisterInput{Username: "old", Password: "pw", Age: "151"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{"age": "must be between 0 and 150"}, verr.Fields)

	_, err = f.svc.Register(context.Background(), RegisterInput{Username: strings.Repeat("x", 81), Password: "pw"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "username")
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123"})

	_, wrongPassword := f.svc.Authenticate(ctx, "alice", "wrong")
	_, unknownUser := f.svc.Authenticate(ctx, "nobody", "pw123")
	_, blank := f.svc.Authenticate(ctx, "", "")

	for _, err := range []error{wrongPassword, unknownUser, blank} {
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123"})

	user, err := f.svc.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.PasswordHash)

	_, err = f.svc.Profile(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = f.svc.Profile(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfileSelfCollisionIsAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123", Email: "a@example.com", Age: "30"})

	user, err := f.svc.UpdateProfile(ctx, "alice", ProfileInput{Username: "alice", Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "a@example.com", user.EmailValue())
	require.NotNil(t, user.Age, "blank age keeps the stored value")
	assert.Equal(t, 30, *user.Age)
}

func TestUpdateProfileChangesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123", Email: "a@example.com"})

	user, err := f.svc.UpdateProfile(ctx, "alice", ProfileInput{Username: "alicia", Email: "", Age: "41"})
	require.NoError(t, err)
	assert.Equal(t, "alicia", user.Username)
	assert.Nil(t, user.Email)
	require.NotNil(t, user.Age)
	assert.Equal(t, 41, *user.Age)

	_, err = f.svc.Profile(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// password survives profile updates
	_, err = f.svc.Authenticate(ctx, "alicia", "pw123")
	require.NoError(t, err)
}

func TestUpdateProfileCollisionWithOtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123", Email: "a@example.com"})
	f.register(t, RegisterInput{Username: "bob", Password: "pw123", Email: "b@example.com"})

	_, err := f.svc.UpdateProfile(ctx, "bob", ProfileInput{Username: "alice", Email: "b@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = f.svc.UpdateProfile(ctx, "bob", ProfileInput{Username: "bob", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	alice, err := f.repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", alice.EmailValue())
	bob, err := f.repo.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", bob.EmailValue())
}

func TestUpdateProfileUnknownIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateProfile(context.Background(), "ghost", ProfileInput{Username: "ghost"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateAvatar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, RegisterInput{Username: "alice", Password: "pw123"})

	first, err := f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{Filename: "me.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.AvatarKey, "avatars/"), first.AvatarKey)
	assert.True(t, strings.HasSuffix(first.AvatarKey, ".png"), first.AvatarKey)
	assert.Equal(t, "image/png", f.storage.types[first.AvatarKey])

	second, err := f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{Filename: "me2.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)})
	require.NoError(t, err)
	assert.NotEqual(t, first.AvatarKey, second.AvatarKey)
	assert.NotContains(t, f.storage.objects, first.AvatarKey)
	assert.Contains(t, f.storage.objects, second.AvatarKey)

	stored, err := f.repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, second.AvatarKey, stored.AvatarKey)

	url, err := f.svc.AvatarURL(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/"+second.AvatarKey+"?expires=15m0s", url)
}

func TestUpdateAvatarRejectsBadUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123"})

	var verr *ValidationError
	_, err := f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{Size: 5, Body: strings.NewReader("hello")})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["avatar"], "PNG")

	_, err = f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{Size: 4096, Body: bytes.NewReader(make([]byte, 4096))})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["avatar"], "at most 1024 bytes")

	// a lying size header is still caught while reading
	big := append(append([]byte{}, pngHeader...), make([]byte, 2048)...)
	_, err = f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{Size: 10, Body: bytes.NewReader(big)})
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{})
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.storage.objects)
}

func TestUpdateAvatarStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, RegisterInput{Username: "alice", Password: "pw123"})
	f.storage.uploadErr = errors.New("bucket unreachable")

	_, err := f.svc.UpdateAvatar(ctx, "alice", AvatarUpload{Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)})
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))

	stored, err := f.repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, stored.AvatarKey)
}

func TestAvatarsDisabledWithoutStorage(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))

	svc := NewUserService(sqlite.NewUserRepository(db), Config{Hasher: auth.NewPasswordHasher(bcrypt.MinCost)})
	assert.False(t, svc.AvatarsEnabled())

	_, err = svc.UpdateAvatar(context.Background(), "alice", AvatarUpload{Size: 1, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrAvatarsDisabled)

	url, err := svc.AvatarURL(context.Background(), &domain.User{AvatarKey: "avatars/1/x.png"})
	require.NoError(t, err)
	assert.Empty(t, url)
}

type failingRepo struct {
	repository.UserRepository
	err error
}

func (r failingRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return nil, r.err
}

func TestStoreFailuresAreNotMaskedAsCredentialErrors(t *testing.T) {
	boom := errors.New("disk I/O error")
	svc := NewUserService(failingRepo{err: boom}, Config{Hasher: auth.NewPasswordHasher(bcrypt.MinCost)})

	_, err := svc.Authenticate(context.Background(), "alice", "pw123")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Profile(context.Background(), "alice")
	assert.ErrorIs(t, err, boom)

	_, err = svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "pw"})
	assert.ErrorIs(t, err, boom)
}
