package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stokkita/backend/internal/domain"
)

var ErrBadCredentials = errors.New("invalid username or password")

// UserSource is the slice of the store the auth layer needs.
type UserSource interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

type authClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type AuthManager struct {
	users  UserSource
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthManager(users UserSource, secret string, ttl time.Duration) *AuthManager {
	return &AuthManager{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	username := strings.TrimSpace(strings.ToLower(req.Username))
	if username == "" || req.Password == "" {
		return nil, ErrBadCredentials
	}

	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	var account *domain.UserAccount
	for i := range users {
		if users[i].Username == username {
			account = &users[i]
			break
		}
	}
	if account == nil || !account.Active {
		// Burn a comparison anyway so a missing username costs the same
		// as a wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uGZwCEBsp/rQ1LW5ZJ0I6PK1cMR0zDK"), []byte(req.Password))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)); err != nil {
		return nil, ErrBadCredentials
	}

	expiresAt := a.now().Add(a.ttl)
	claims := authClaims{
		Username: account.Username,
		Role:     account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.Username,
			IssuedAt:  jwt.NewNumericDate(a.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, err
	}

	return &domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) Verify(tokenString string) (domain.Actor, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrBadCredentials
	}
	if claims.Username == "" || claims.Role == "" {
		return domain.Actor{}, ErrBadCredentials
	}
	return domain.Actor{Username: claims.Username, Role: claims.Role}, nil
}
