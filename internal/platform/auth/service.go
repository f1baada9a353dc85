package auth

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"library-backend/internal/platform/apierr"
)

const DefaultTokenTTL = 24 * time.Hour

type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Service struct {
	store  CredentialStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store CredentialStore, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{store: store, secret: secret, ttl: ttl, now: time.Now}
}

// Login はメール+パスワードを検証して HS256 の JWT を返す。sub は users.id
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	cred, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return Token{}, apierr.Storage(err, "get credential")
	}
	if cred == nil {
		return Token{}, apierr.Unauthorized("incorrect email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Token{}, apierr.Unauthorized("incorrect email or password")
	}
	// パスワードが合っていても無効ユーザーには発行しない
	if !cred.IsActive {
		return Token{}, apierr.Unauthorized("user is inactive")
	}

	exp := s.now().Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   strconv.FormatInt(cred.UserID, 10),
		"email": cred.Email,
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Token{}, err
	}
	log.Printf("[INFO] login user_id=%d", cred.UserID)
	return Token{AccessToken: signed, TokenType: "bearer", ExpiresAt: exp.UTC()}, nil
}

// HashPassword は bcrypt(DefaultCost) のハッシュを返す
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", apierr.Invalid("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apierr.Invalid("password is too long")
		}
		return "", err
	}
	return string(hash), nil
}
