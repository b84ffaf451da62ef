package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"account-portal/internal/domain"
	"account-portal/internal/repository"
	"account-portal/internal/storage"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateUsername is returned when the username belongs to another account.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrDuplicateEmail is returned when the email belongs to another account.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrUserNotFound is returned when a token identity no longer resolves to an account.
	ErrUserNotFound = errors.New("user not found")
	// ErrAvatarsDisabled is returned when no object storage is configured.
	ErrAvatarsDisabled = errors.New("avatar uploads are disabled")
)

const (
	maxUsernameLength = 80
	maxAge            = 150
)

var usernameRules = []validation.Rule{validation.Required, validation.Length(1, maxUsernameLength)}

var avatarTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// ValidationError lists form fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// PasswordHasher is the credential verifier the service depends on.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	Burn(password string)
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Age      string `json:"age"`
}

// Validate will run validation rules
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, usernameRules...),
		validation.Field(&in.Password, validation.Required),
		validation.Field(&in.Email, is.Email),
		validation.Field(&in.Age, is.Int, validation.By(ageInRange)),
	)
}

// ProfileInput is the profile update form.
type ProfileInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Age      string `json:"age"`
}

// Validate will run validation rules
func (in ProfileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, usernameRules...),
		validation.Field(&in.Email, is.Email),
		validation.Field(&in.Age, is.Int, validation.By(ageInRange)),
	)
}

// AvatarUpload is an image submitted from the profile page.
type AvatarUpload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// UserService describes the account lifecycle behind the web front door.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	Profile(ctx context.Context, identity string) (*domain.User, error)
	UpdateProfile(ctx context.Context, identity string, in ProfileInput) (*domain.User, error)
	UpdateAvatar(ctx context.Context, identity string, upload AvatarUpload) (*domain.User, error)
	AvatarURL(ctx context.Context, user *domain.User) (string, error)
	AvatarsEnabled() bool
}

// Config carries the collaborators and limits of the user service.
type Config struct {
	Hasher          PasswordHasher
	Storage         storage.Service
	AvatarPrefix    string
	MaxAvatarBytes  int64
	AvatarURLExpiry time.Duration
	Logger          *logrus.Logger
}

type userService struct {
	users repository.UserRepository
	cfg   Config
}

func NewUserService(users repository.UserRepository, cfg Config) UserService {
	if cfg.Hasher == nil {
		panic("user service requires a password hasher")
	}
	if cfg.AvatarPrefix == "" {
		cfg.AvatarPrefix = "avatars"
	}
	if cfg.MaxAvatarBytes <= 0 {
		cfg.MaxAvatarBytes = 2 << 20
	}
	if cfg.AvatarURLExpiry <= 0 {
		cfg.AvatarURLExpiry = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &userService{
		users: users,
		cfg:   cfg,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Age = strings.TrimSpace(in.Age)

	// a taken username wins over every other form problem
	if validation.Validate(in.Username, usernameRules...) == nil {
		if err := s.ensureUsernameFree(ctx, in.Username, 0); err != nil {
			return nil, err
		}
	}

	if err := in.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	if in.Email != "" {
		if err := s.ensureEmailFree(ctx, in.Email, 0); err != nil {
			return nil, err
		}
	}

	hash, err := s.cfg.Hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     in.Username,
		Email:        optionalString(in.Email),
		Age:          parseAge(in.Age),
		PasswordHash: hash,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, mapDuplicate(err)
	}

	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.cfg.Hasher.Burn(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !s.cfg.Hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) Profile(ctx context.Context, identity string) (*domain.User, error) {
	user, err := s.lookupIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) UpdateProfile(ctx context.Context, identity string, in ProfileInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Age = strings.TrimSpace(in.Age)

	if err := in.Validate(); err != nil {
		return nil, toValidationError(err)
	}

	user, err := s.lookupIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	if err := s.ensureUsernameFree(ctx, in.Username, user.ID); err != nil {
		return nil, err
	}
	if in.Email != "" {
		if err := s.ensureEmailFree(ctx, in.Email, user.ID); err != nil {
			return nil, err
		}
	}

	user.Username = in.Username
	user.Email = optionalString(in.Email)
	if age := parseAge(in.Age); age != nil {
		user.Age = age
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapDuplicate(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) UpdateAvatar(ctx context.Context, identity string, upload AvatarUpload) (*domain.User, error) {
	if s.cfg.Storage == nil {
		return nil, ErrAvatarsDisabled
	}
	if upload.Body == nil || upload.Size == 0 {
		return nil, &ValidationError{Fields: map[string]string{"avatar": "cannot be blank"}}
	}
	if upload.Size > s.cfg.MaxAvatarBytes {
		return nil, avatarTooLarge(s.cfg.MaxAvatarBytes)
	}

	user, err := s.lookupIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(upload.Body, s.cfg.MaxAvatarBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxAvatarBytes {
		return nil, avatarTooLarge(s.cfg.MaxAvatarBytes)
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), avatarTypes...) {
		return nil, &ValidationError{Fields: map[string]string{"avatar": "must be a PNG, JPEG, GIF or WebP image"}}
	}

	key := path.Join(s.cfg.AvatarPrefix, strconv.FormatInt(user.ID, 10), uuid.NewString()+mtype.Extension())
	if err := s.cfg.Storage.Upload(ctx, storage.Object{
		Key:         key,
		ContentType: mtype.String(),
		Size:        int64(len(data)),
	}, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store avatar: %w", err)
	}

	if err := s.users.SetAvatar(ctx, user.ID, key); err != nil {
		return nil, fmt.Errorf("record avatar: %w", err)
	}

	if previous := user.AvatarKey; previous != "" {
		if err := s.cfg.Storage.Delete(ctx, previous); err != nil {
			s.cfg.Logger.WithError(err).WithField("key", previous).Warn("delete previous avatar")
		}
	}

	user.AvatarKey = key
	return sanitizeUser(user), nil
}

func (s *userService) AvatarURL(ctx context.Context, user *domain.User) (string, error) {
	if s.cfg.Storage == nil || user == nil || user.AvatarKey == "" {
		return "", nil
	}
	return s.cfg.Storage.GetObjectURL(ctx, user.AvatarKey, s.cfg.AvatarURLExpiry)
}

func (s *userService) AvatarsEnabled() bool {
	return s.cfg.Storage != nil
}

func (s *userService) lookupIdentity(ctx context.Context, identity string) (*domain.User, error) {
	if identity == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.users.GetByUsername(ctx, identity)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// ensureUsernameFree fails when username belongs to an account other than selfID.
func (s *userService) ensureUsernameFree(ctx context.Context, username string, selfID int64) error {
	existing, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check username: %w", err)
	case existing.ID != selfID:
		return ErrDuplicateUsername
	}
	return nil
}

// ensureEmailFree fails when email belongs to an account other than selfID.
func (s *userService) ensureEmailFree(ctx context.Context, email string, selfID int64) error {
	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check email: %w", err)
	case existing.ID != selfID:
		return ErrDuplicateEmail
	}
	return nil
}

// mapDuplicate turns a storage uniqueness violation into the matching service error.
func mapDuplicate(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateUsername):
		return ErrDuplicateUsername
	case errors.Is(err, repository.ErrDuplicateEmail):
		return ErrDuplicateEmail
	default:
		return err
	}
}

func toValidationError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for field, ferr := range verrs {
		fields[field] = ferr.Error()
	}
	return &ValidationError{Fields: fields}
}

func ageInRange(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	age, err := strconv.Atoi(s)
	if err != nil || age < 0 || age > maxAge {
		return fmt.Errorf("must be between 0 and %d", maxAge)
	}
	return nil
}

func avatarTooLarge(limit int64) error {
	return &ValidationError{Fields: map[string]string{"avatar": fmt.Sprintf("must be at most %d bytes", limit)}}
}

func parseAge(s string) *int {
	if s == "" {
		return nil
	}
	age, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &age
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := *user
	clean.PasswordHash = ""
	return &clean
}
