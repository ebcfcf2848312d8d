// Package auth is the session collaborator: account registration, login and
// bearer-token verification. The pipeline itself only ever sees the opaque
// session identity this package hands out.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters with a letter, a digit and a special character")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("unknown user or wrong password")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type Service struct {
	db       *sql.DB
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
}

func NewService(db *sql.DB, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, secret: []byte(jwtSecret), tokenTTL: tokenTTL, logger: logger}
}

// Register creates an account after email and password validation.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = SanitizeEmail(email)
	if !ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !ValidatePassword(password) {
		return nil, ErrWeakPassword
	}

	existing, err := getUserByEmail(ctx, s.db, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := insertUser(ctx, s.db, email, string(hashed))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("auth.register.ok", "email", email)
	return u, nil
}

// Login verifies credentials and issues an HS256 session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = SanitizeEmail(email)
	u, err := getUserByEmail(ctx, s.db, email)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return "", ErrInvalidCredentials
	}
	if !u.IsActive {
		return "", ErrInactiveAccount
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hashed), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   u.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.logger.Info("auth.login.ok", "email", email)
	return token, nil
}

// VerifySession validates a bearer token and returns the opaque session
// identity for the pipeline (the account's email).
func (s *Service) VerifySession(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
