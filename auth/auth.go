package auth

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	jwtSecret      []byte
	username       string
	hashedPassword string
	tokenTTL       time.Duration

	// validTokens tracks issued tokens so logout can revoke them.
	validTokens   = make(map[string]bool)
	validTokensMu sync.Mutex
)

// Config holds authentication configuration.
type Config struct {
	Username string
	Password string
	Secret   string
	TokenTTL time.Duration
}

// Initialize sets up the authentication system.
func Initialize(cfg Config) error {
	if cfg.Secret != "" {
		jwtSecret = []byte(cfg.Secret)
	} else {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate JWT key: %w", err)
		}
		jwtSecret = key
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	hashedPassword = string(hash)
	username = cfg.Username

	tokenTTL = cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return nil
}

// Claims represents JWT claims.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// ValidateCredentials checks the provided credentials against the
// configured account.
func ValidateCredentials(user, password string) bool {
	if user != username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateToken creates a new JWT for the given user id.
func GenerateToken(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})

	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	validTokensMu.Lock()
	validTokens[tokenString] = true
	validTokensMu.Unlock()

	return tokenString, nil
}

// ValidateToken checks a token and returns the user id it was issued for.
func ValidateToken(tokenString string) (string, error) {
	validTokensMu.Lock()
	valid := validTokens[tokenString]
	validTokensMu.Unlock()
	if !valid {
		return "", fmt.Errorf("token has been invalidated")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.UserID, nil
}

// InvalidateToken revokes a token (logout).
func InvalidateToken(token string) {
	validTokensMu.Lock()
	delete(validTokens, token)
	validTokensMu.Unlock()
}
