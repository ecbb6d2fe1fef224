package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultHashCost     = 12
	defaultExistenceTTL = 5 * time.Minute
	minPasswordLength   = 8
	passwordSymbols     = "@$!%*?&"
)

var (
	// ErrInvalidRegistration indicates that registration input failed validation.
	ErrInvalidRegistration = errors.New("users: invalid registration")
	// ErrDuplicateUser indicates that the username or email is already registered.
	ErrDuplicateUser = errors.New("users: username or email already registered")
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Username string `validate:"required,min=3,max=64,alphanum"`
	Email    string `validate:"required,email,max=320"`
	Password string `validate:"required,min=8,max=72"`
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	HashCost     int
	ExistenceTTL time.Duration
}

// Service registers and authenticates users.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	hashCost int
	validate *validator.Validate
	known    *cache.Cache
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = defaultHashCost
	}
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("users: bcrypt cost %d out of range", hashCost)
	}
	ttl := cfg.ExistenceTTL
	if ttl <= 0 {
		ttl = defaultExistenceTTL
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		hashCost: hashCost,
		validate: validator.New(),
		known:    cache.New(ttl, 2*ttl),
	}, nil
}

// Register validates the input, hashes the password and stores a new account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input.Username = normalize(input.Username)
	input.Email = strings.ToLower(normalize(input.Email))
	if err := s.validate.Struct(input); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if err := validatePassword(input.Password); err != nil {
		return User{}, err
	}

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ? OR email = ?", input.Username, input.Email).
		Count(&existing).Error; err != nil {
		return User{}, err
	}
	if existing > 0 {
		return User{}, ErrDuplicateUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	identifier, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:           identifier.String(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}

	s.known.SetDefault(user.ID, true)
	return user, nil
}

// Authenticate returns the account matching email when password verifies.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(normalize(email))
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	s.known.SetDefault(user.ID, true)
	return user, nil
}

// Exists reports whether the account still exists. Answers are cached for the configured TTL.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	userID = normalize(userID)
	if userID == "" {
		return false, nil
	}
	if cached, ok := s.known.Get(userID); ok {
		if exists, ok := cached.(bool); ok {
			return exists, nil
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, err
	}
	exists := count > 0
	s.known.SetDefault(userID, exists)
	return exists, nil
}

// validatePassword requires lower and upper case letters, a digit and one of @$!%*?&,
// and rejects any other character.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, character := range password {
		switch {
		case character >= 'a' && character <= 'z':
			hasLower = true
		case character >= 'A' && character <= 'Z':
			hasUpper = true
		case character >= '0' && character <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, character):
			hasSymbol = true
		default:
			return fmt.Errorf("%w: password contains unsupported character %q", ErrInvalidRegistration, character)
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return fmt.Errorf("%w: password needs upper and lower case letters, a digit and one of %s", ErrInvalidRegistration, passwordSymbols)
	}
	return nil
}
