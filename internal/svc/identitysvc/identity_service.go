package identitysvc

import (
	"cmp"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/repo/revocation"
	"github.com/mkrupp/escrowgate/internal/repo/user"
)

var (
	// ErrNoEmail is returned when the email is missing from the request.
	ErrNoEmail = errors.New("no email")
	// ErrNoUsername is returned when the username is missing from the request.
	ErrNoUsername = errors.New("no username")
	// ErrNoPassword is returned when the password is missing from the request.
	ErrNoPassword = errors.New("no password")
	// ErrAdminRequired is returned by the admin login for accounts without the admin role.
	ErrAdminRequired = fmt.Errorf("%w: admin role required", domain.ErrUnauthorized)
)

// IdentityConfig contains configuration parameters for the identity service.
type IdentityConfig struct {
	// SigningKeyFile is the path to the RSA private key file
	SigningKeyFile string `env:"SIGNING_KEY_FILE" default:"var/storage/identitydev.key"`

	// SigningKeyBits sizes a generated key; an existing file is used as is
	SigningKeyBits int `env:"SIGNING_KEY_BITS" default:"2048"`

	// SessionDuration is the validity of session cookies
	SessionDuration time.Duration `env:"SESSION_DURATION" default:"1h"`

	// BcryptCost is the bcrypt work factor for new password hashes
	BcryptCost int `env:"BCRYPT_COST" default:"10"`

	// AdminEmail and AdminPassword seed an admin account when both are set
	AdminEmail    string `env:"ADMIN_EMAIL" default:""`
	AdminPassword string `env:"ADMIN_PASSWORD" default:""`
}

// IdentityService provides registration, login and cookie session management.
type IdentityService struct {
	Config     IdentityConfig
	UserRepo   user.Repository
	Log        logging.Logger
	SigningKey *rsa.PrivateKey
	Revoked    revocation.Repository

	// Now defaults to time.Now
	Now func() time.Time
}

// NewIdentityService creates a new IdentityService with the given repository factories and configuration.
// Returns an error if the signing key cannot be loaded or a repository cannot be created.
func NewIdentityService(
	repoFactory user.RepositoryFactory,
	revocationFactory revocation.RepositoryFactory,
	cfg IdentityConfig,
) (*IdentityService, error) {
	log := logging.GetLogger("svc.identitysvc.identity_service")

	signingKey, err := LoadSessionKey(cfg.SigningKeyFile, cmp.Or(cfg.SigningKeyBits, MinSessionKeyBits))
	if err != nil {
		return nil, fmt.Errorf("load session key: %w", err)
	}

	userRepo, err := repoFactory()
	if err != nil {
		return nil, fmt.Errorf("new user repo: %w", err)
	}

	revoked, err := revocationFactory()
	if err != nil {
		_ = userRepo.Close()

		return nil, fmt.Errorf("new revocation repo: %w", err)
	}

	return &IdentityService{
		Config:     cfg,
		UserRepo:   userRepo,
		Log:        log,
		SigningKey: signingKey,
		Revoked:    revoked,
		Now:        time.Now,
	}, nil
}

func (s *IdentityService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}

	return s.Now()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterUser creates a new account with the USER role. The password is hashed
// with bcrypt before storage.
// Returns domain.ErrUserAlreadyExists if the email or username is taken.
func (s *IdentityService) RegisterUser(ctx context.Context, reg domain.Registration) (_ domain.User, err error) {
	log := s.Log.With(logging.Group("user", "username", reg.Username))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "register user failed", "error", err)
		} else {
			log.DebugContext(ctx, "user registered")
		}
	}()

	switch {
	case strings.TrimSpace(reg.Email) == "":
		return domain.User{}, ErrNoEmail
	case strings.TrimSpace(reg.Username) == "":
		return domain.User{}, ErrNoUsername
	case reg.Password == "":
		return domain.User{}, ErrNoPassword
	}

	return s.createUser(ctx, reg, domain.RoleUser)
}

func (s *IdentityService) createUser(ctx context.Context, reg domain.Registration, role domain.Role) (domain.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.Config.BcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.User{}, fmt.Errorf("new user id: %w", err)
	}

	//nolint:exhaustruct
	newUser := domain.User{
		ID:        id.String(),
		Email:     normalizeEmail(reg.Email),
		Username:  strings.TrimSpace(reg.Username),
		Role:      role,
		KYCStatus: domain.KYCNone,
		Phone:     reg.Phone,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}

	if err := s.UserRepo.CreateUser(ctx, user.Record{User: newUser, PasswordHash: passwordHash}); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	return newUser, nil
}

// Login authenticates a user by email and password. With requireAdmin set, accounts
// without the admin role are refused with ErrAdminRequired.
func (s *IdentityService) Login(ctx context.Context, email, password string, requireAdmin bool) (_ domain.User, err error) {
	log := s.Log

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "login failed", "error", err)
		} else {
			log.DebugContext(ctx, "login successful")
		}
	}()

	record, ok, err := s.UserRepo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	} else if !ok {
		return domain.User{}, domain.ErrInvalidCredentials
	}

	log = log.With(logging.Group("user", "id", record.ID))

	if err := bcrypt.CompareHashAndPassword(record.PasswordHash, []byte(password)); err != nil {
		return domain.User{}, errors.Join(domain.ErrInvalidCredentials, err)
	}

	if requireAdmin && record.Role != domain.RoleAdmin {
		return domain.User{}, ErrAdminRequired
	}

	return record.User, nil
}

// IssueSession signs a session token for the user.
func (s *IdentityService) IssueSession(ctx context.Context, u domain.User) (string, SessionClaims, error) {
	token, claims, err := SignSession(s.SigningKey, u, s.now(), s.Config.SessionDuration)
	if err != nil {
		return "", SessionClaims{}, fmt.Errorf("issue session: %w", err)
	}

	s.Log.DebugContext(ctx, "session issued", logging.Group("token",
		"sub", claims.Subject,
		"exp", claims.ExpiresAt.UTC().Format(time.RFC3339),
	))

	return token, claims, nil
}

// Authenticate resolves a session token to its current user. Revoked tokens and
// tokens of deleted users fail with domain.ErrInvalidSession.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (_ domain.User, err error) {
	claims, err := ParseSession(token, &s.SigningKey.PublicKey, s.now())
	if err != nil {
		return domain.User{}, fmt.Errorf("validate session: %w", err)
	}

	if revoked, err := s.Revoked.IsRevoked(ctx, claims.ID); err != nil {
		return domain.User{}, fmt.Errorf("check revocation: %w", err)
	} else if revoked {
		return domain.User{}, fmt.Errorf("%w: revoked", domain.ErrInvalidSession)
	}

	record, ok, err := s.UserRepo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	} else if !ok {
		return domain.User{}, errors.Join(domain.ErrInvalidSession, domain.ErrUserNotFound)
	}

	return record.User, nil
}

// Revoke invalidates a session token. Tokens that are already invalid are ignored.
func (s *IdentityService) Revoke(ctx context.Context, token string) {
	claims, err := ParseSession(token, &s.SigningKey.PublicKey, s.now())
	if err != nil {
		s.Log.DebugContext(ctx, "revoke of invalid session ignored", "error", err)

		return
	}

	if err := s.Revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		s.Log.ErrorContext(ctx, "revoke session failed", "jti", claims.ID, "error", err)

		return
	}

	s.Log.DebugContext(ctx, "session revoked", "jti", claims.ID)
}

// SeedAdmin creates the configured admin account if it does not exist yet.
func (s *IdentityService) SeedAdmin(ctx context.Context) error {
	if s.Config.AdminEmail == "" || s.Config.AdminPassword == "" {
		return nil
	}

	if _, ok, err := s.UserRepo.GetUserByEmail(ctx, normalizeEmail(s.Config.AdminEmail)); err != nil {
		return fmt.Errorf("get admin: %w", err)
	} else if ok {
		return nil
	}

	username, _, _ := strings.Cut(s.Config.AdminEmail, "@")

	if _, err := s.createUser(ctx, domain.Registration{
		Email:    s.Config.AdminEmail,
		Username: username,
		Password: s.Config.AdminPassword,
	}, domain.RoleAdmin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	s.Log.InfoContext(ctx, "admin account seeded", "email", normalizeEmail(s.Config.AdminEmail))

	return nil
}

// Close releases resources held by the service, such as database connections.
// Returns an error if cleanup fails.
func (s *IdentityService) Close() error {
	if err := s.UserRepo.Close(); err != nil {
		return fmt.Errorf("close user repo: %w", err)
	}

	if err := s.Revoked.Close(); err != nil {
		return fmt.Errorf("close revocation repo: %w", err)
	}

	return nil
}
