package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/local/phenbot/api/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6
)

// Session ties a token to a server-side record that logout can remove.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore persists sessions.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	// Get returns ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// UserStore persists accounts.
type UserStore interface {
	// CreateUser returns ErrUserExists when the username is taken.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Username  string
	SessionID string
}

// LoginResult is returned by Register and Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

type tokenClaims struct {
	Username  string `json:"username"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// AuthService registers users and issues session-backed HS256 tokens.
type AuthService struct {
	users      UserStore
	sessions   SessionStore
	secret     []byte
	ttl        time.Duration
	bcryptCost int
}

func NewAuthService(users UserStore, sessions SessionStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		secret:     []byte(secret),
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func (s *AuthService) WithBcryptCost(cost int) *AuthService {
	s.bcryptCost = cost
	return s
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return nil, NewError(KindBadInput, fmt.Sprintf("Username must be %d-%d characters", minUsernameLen, maxUsernameLen))
	}
	if len(password) < minPasswordLen {
		return nil, NewError(KindBadInput, fmt.Sprintf("Password must be at least %d characters", minPasswordLen))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return s.issue(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(ctx, user)
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*LoginResult, error) {
	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.ttl),
	}

	claims := tokenClaims{
		Username:  user.Username,
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: session.ExpiresAt, User: user}, nil
}

// Validate checks the token signature, expiry and that its session still exists.
func (s *AuthService) Validate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if session.UserID != claims.Subject {
		return nil, ErrUnauthorized
	}

	return &Principal{UserID: claims.Subject, Username: claims.Username, SessionID: claims.SessionID}, nil
}

// Logout removes the principal's session; its token stops validating.
func (s *AuthService) Logout(ctx context.Context, p *Principal) error {
	if p == nil {
		return ErrUnauthorized
	}
	return s.sessions.Delete(ctx, p.SessionID)
}

// CurrentUser loads the account behind a principal.
func (s *AuthService) CurrentUser(ctx context.Context, p *Principal) (*models.User, error) {
	if p == nil {
		return nil, ErrUnauthorized
	}
	return s.users.GetUserByID(ctx, p.UserID)
}
