package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/eventreg-api/internal/dto"
	"github.com/noah-isme/eventreg-api/internal/models"
	"github.com/noah-isme/eventreg-api/internal/repository"
	appErrors "github.com/noah-isme/eventreg-api/pkg/errors"
)

type adminRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
	FindByID(ctx context.Context, id string) (*models.Admin, error)
	Create(ctx context.Context, admin *models.Admin) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Secret     string
	Expiry     time.Duration
	Issuer     string
	BcryptCost int
}

// AuthService provides admin authentication use cases.
type AuthService struct {
	repo      adminRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	dummyHash []byte
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo adminRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger, config AuthConfig) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.Expiry <= 0 {
		config.Expiry = time.Hour
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	// compared against when the username is unknown so both paths cost one bcrypt
	dummy, err := bcrypt.GenerateFromPassword([]byte("eventreg-dummy-password"), config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthService{
		repo:      repo,
		audit:     audit,
		validator: validate,
		logger:    logger,
		config:    config,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

// Login authenticates an admin and issues an access token.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "username and password are required")
	}

	admin, err := s.repo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Internal(err, "failed to fetch admin")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	token, err := s.generateAccessToken(admin)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	recordAudit(ctx, s.audit, s.logger, &models.Actor{AdminID: admin.ID, Username: admin.Username, IP: req.IP, UserAgent: req.UserAgent},
		models.AuditActionAdminLogin, models.AuditResourceAdmin, admin.ID, map[string]string{"status": "success"})

	return &dto.LoginResponse{
		Message:   "Login successful",
		Token:     token,
		ExpiresIn: int64(s.config.Expiry.Seconds()),
	}, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.AdminID == "" {
		return nil, appErrors.ErrInvalidToken
	}
	return claims, nil
}

// RegisterAdmin creates a console operator with a bcrypt password hash.
func (s *AuthService) RegisterAdmin(ctx context.Context, req dto.RegisterAdminRequest, actor *models.Actor) (*dto.AdminResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "username must be 3-64 characters and password at least 8")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	admin := &models.Admin{Username: req.Username, PasswordHash: string(hash)}
	if err := s.repo.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username already exists")
		}
		return nil, appErrors.Internal(err, "failed to create admin")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionAdminCreate, models.AuditResourceAdmin, admin.ID, map[string]string{"username": admin.Username})
	s.logger.Info("admin created", zap.String("admin_id", admin.ID), zap.String("username", admin.Username))

	return &dto.AdminResponse{ID: admin.ID, Username: admin.Username}, nil
}

// Me returns the admin identified by the token claims.
func (s *AuthService) Me(ctx context.Context, adminID string) (*dto.AdminResponse, error) {
	admin, err := s.repo.FindByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admin not found")
		}
		return nil, appErrors.Internal(err, "failed to load admin")
	}
	return &dto.AdminResponse{ID: admin.ID, Username: admin.Username}, nil
}

func (s *AuthService) generateAccessToken(admin *models.Admin) (string, error) {
	issuedAt := s.now().UTC()
	claims := &models.JWTClaims{
		AdminID:  admin.ID,
		Username: admin.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   admin.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.Expiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
}
