package stubserver

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenConfig struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

type tokenClaims struct {
	Use string `json:"use"`
	jwt.RegisteredClaims
}

func (cfg TokenConfig) mint(userID int64, use string, expiry time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}

	claims := tokenClaims{
		Use: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			ID:        hex.EncodeToString(jtiBytes),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

func (cfg TokenConfig) MintAccess(userID int64) (string, error) {
	return cfg.mint(userID, "access", cfg.AccessExpiry)
}

func (cfg TokenConfig) MintRefresh(userID int64) (string, error) {
	return cfg.mint(userID, "refresh", cfg.RefreshExpiry)
}

// Verify checks the signature and the token's use claim, returning the user
// id it was minted for.
func (cfg TokenConfig) Verify(tokenString, use string) (int64, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.Use != use {
		return 0, jwt.ErrSignatureInvalid
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, jwt.ErrSignatureInvalid
	}
	return userID, nil
}
