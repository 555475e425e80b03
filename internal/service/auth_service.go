package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"havosec-api/internal/config"
	"havosec-api/internal/hashing"
	"havosec-api/internal/metrics"
	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/util"
)

type TokenKind string

const (
	TokenKindClient TokenKind = "client"
	TokenKindAdmin  TokenKind = "admin"
)

// Claims are the JWT claims issued to dashboard and back-office users.
type Claims struct {
	UserID string    `json:"userId"`
	Role   string    `json:"role"`
	Kind   TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// LoginLimiter counts failed logins per account.
type LoginLimiter interface {
	IncrementFailures(ctx context.Context, key string, window time.Duration) (int, error)
	Failures(ctx context.Context, key string) (int, error)
	RetryAfter(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// TokenRevoker remembers logged-out token IDs.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Company   string `json:"company" validate:"max=200"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      interface{} `json:"user"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    string
	Email     string
	Role      string
	Kind      TokenKind
	TokenID   string
	ExpiresAt time.Time
	Client    *models.ClientUser
	Admin     *models.AdminUser
}

type AuthService struct {
	users    repository.UserRepository
	hasher   *hashing.Hasher
	limiter  LoginLimiter
	revoker  TokenRevoker
	cfg      config.AuthConfig
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService wires account auth. limiter and revoker may be nil, which
// disables throttling and server-side logout respectively.
func NewAuthService(users repository.UserRepository, hasher *hashing.Hasher, limiter LoginLimiter, revoker TokenRevoker, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:    users,
		hasher:   hasher,
		limiter:  limiter,
		revoker:  revoker,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Register creates a viewer account for a client organisation user.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = util.NormalizeEmail(in.Email)
	in.FirstName = util.SanitizeInput(in.FirstName)
	in.LastName = util.SanitizeInput(in.LastName)
	in.Company = util.SanitizeInput(in.Company)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	for _, field := range []string{in.FirstName, in.LastName, in.Company} {
		if util.ContainsSuspicious(field) {
			return nil, fmt.Errorf("%w: names must not contain markup", ErrInvalidInput)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &models.ClientUser{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Company:      in.Company,
		Role:         models.ClientRoleViewer,
		IsActive:     true,
		LastLogin:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateClientUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("Client user registered", util.String("user_id", user.ID))
	return s.issue(user.ID, string(user.Role), TokenKindClient, user)
}

// ClientLogin authenticates a dashboard user.
func (s *AuthService) ClientLogin(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = util.NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	throttleKey := string(TokenKindClient) + ":" + in.Email
	if err := s.checkThrottle(ctx, throttleKey); err != nil {
		return nil, err
	}

	user, err := s.users.GetClientUserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || s.hasher.Verify(in.Password, user.PasswordHash) != nil {
		s.recordFailure(ctx, throttleKey)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	s.clearFailures(ctx, throttleKey)
	now := s.now().UTC()
	if err := s.users.TouchClientLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to record last login", util.String("user_id", user.ID), util.ErrorField(err))
	}
	user.LastLogin = &now

	return s.issue(user.ID, string(user.Role), TokenKindClient, user)
}

// AdminLogin authenticates a back-office user.
func (s *AuthService) AdminLogin(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = util.NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	throttleKey := string(TokenKindAdmin) + ":" + in.Email
	if err := s.checkThrottle(ctx, throttleKey); err != nil {
		return nil, err
	}

	admin, err := s.users.GetAdminUserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	if admin == nil || s.hasher.Verify(in.Password, admin.PasswordHash) != nil {
		s.recordFailure(ctx, throttleKey)
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrAccountDisabled
	}

	s.clearFailures(ctx, throttleKey)
	now := s.now().UTC()
	if err := s.users.TouchAdminLogin(ctx, admin.ID, now); err != nil {
		s.logger.Warn("Failed to record last login", util.String("admin_id", admin.ID), util.ErrorField(err))
	}
	admin.LastLogin = &now

	return s.issue(admin.ID, string(admin.Role), TokenKindAdmin, admin)
}

func (s *AuthService) checkThrottle(ctx context.Context, key string) error {
	if s.limiter == nil || s.cfg.MaxLoginAttempts <= 0 {
		return nil
	}
	failures, err := s.limiter.Failures(ctx, key)
	if err != nil {
		// Fail open.
		s.logger.Warn("Login throttle unavailable", util.ErrorField(err))
		return nil
	}
	if failures < s.cfg.MaxLoginAttempts {
		return nil
	}
	retry, err := s.limiter.RetryAfter(ctx, key)
	if err != nil || retry <= 0 {
		retry = s.cfg.LoginAttemptWindow
	}
	metrics.LoginFailure(strings.SplitN(key, ":", 2)[0], "throttled")
	return &TooManyAttemptsError{RetryAfterSeconds: int(retry.Round(time.Second) / time.Second)}
}

func (s *AuthService) recordFailure(ctx context.Context, key string) {
	metrics.LoginFailure(strings.SplitN(key, ":", 2)[0], "invalid_credentials")
	if s.limiter == nil {
		return
	}
	count, err := s.limiter.IncrementFailures(ctx, key, s.cfg.LoginAttemptWindow)
	if err != nil {
		s.logger.Warn("Failed to record login failure", util.ErrorField(err))
		return
	}
	if count >= s.cfg.MaxLoginAttempts {
		s.logger.Warn("Login throttled after repeated failures",
			util.String("key", key),
			util.Int("failures", count))
	}
}

func (s *AuthService) clearFailures(ctx context.Context, key string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.Warn("Failed to reset login failures", util.ErrorField(err))
	}
}

func (s *AuthService) secret(kind TokenKind) []byte {
	if kind == TokenKindAdmin {
		return []byte(s.cfg.AdminJWTSecret)
	}
	return []byte(s.cfg.ClientJWTSecret)
}

func (s *AuthService) ttl(kind TokenKind) time.Duration {
	if kind == TokenKindAdmin {
		return s.cfg.AdminTokenTTL
	}
	return s.cfg.ClientTokenTTL
}

func (s *AuthService) issue(userID, role string, kind TokenKind, user interface{}) (*AuthResult, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl(kind))
	claims := Claims{
		UserID: userID,
		Role:   role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt.UTC().Truncate(time.Second), User: user}, nil
}

// Authenticate verifies a bearer token of the expected kind and loads the
// account behind it.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string, kind TokenKind) (*Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret(kind), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Kind != kind || claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: wrong token type", ErrUnauthorized)
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrUnauthorized)
		}
	}

	p := &Principal{
		UserID:    claims.UserID,
		Kind:      kind,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	switch kind {
	case TokenKindAdmin:
		admin, err := s.users.GetAdminUserByID(ctx, claims.UserID)
		if err != nil {
			return nil, s.accountLookupError(err)
		}
		if !admin.IsActive {
			return nil, ErrAccountDisabled
		}
		p.Admin, p.Email, p.Role = admin, admin.Email, string(admin.Role)
	default:
		user, err := s.users.GetClientUserByID(ctx, claims.UserID)
		if err != nil {
			return nil, s.accountLookupError(err)
		}
		if !user.IsActive {
			return nil, ErrAccountDisabled
		}
		p.Client, p.Email, p.Role = user, user.Email, string(user.Role)
	}
	return p, nil
}

func (s *AuthService) accountLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
	}
	return fmt.Errorf("failed to load account: %w", err)
}

// Logout revokes the caller's token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, p *Principal) error {
	if s.revoker == nil {
		s.logger.Warn("Token revocation unavailable; token stays valid until expiry",
			util.String("user_id", p.UserID))
		return nil
	}
	return s.revoker.RevokeToken(ctx, p.TokenID, p.ExpiresAt.Sub(s.now()))
}

// EnsureAdminUser creates the admin account if no account uses email.
func (s *AuthService) EnsureAdminUser(ctx context.Context, email, password string) (bool, error) {
	email = util.NormalizeEmail(email)
	if _, err := s.users.GetAdminUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	err = s.users.CreateAdminUser(ctx, &models.AdminUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Super",
		LastName:     "Admin",
		Role:         models.AdminRoleSuperAdmin,
		Permissions:  []string{"*"},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return false, err
	}
	return err == nil, nil
}

// EnsureClientUser creates a client account with the given role if missing.
func (s *AuthService) EnsureClientUser(ctx context.Context, email, password, company string, role models.ClientRole) (bool, error) {
	email = util.NormalizeEmail(email)
	if _, err := s.users.GetClientUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	err = s.users.CreateClientUser(ctx, &models.ClientUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Demo",
		LastName:     "Analyst",
		Company:      company,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return false, err
	}
	return err == nil, nil
}
