package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"permission_service/internal/config"
	"permission_service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type JWTService struct{}

func NewJWTService() *JWTService {
	return &JWTService{}
}

// GenerateSnapshotToken signs a token carrying the principal's cached
// permission snapshot for UI sessions. The token is a convenience mirror;
// enforcement always goes back to the resolver.
func (jwt_s *JWTService) GenerateSnapshotToken(userID, username, role string, permissions []string) (string, error) {
	claim := models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(config.ServiceConfig.JWTExpired) * time.Hour)),
			Issuer:    "permission-service",
		},
		Id:          "C-" + randomHex(6),
		UserID:      userID,
		Username:    username,
		Role:        role,
		Permissions: permissions,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claim)
	tokenString, err := token.SignedString([]byte(config.ServiceConfig.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("error generating token string: %w", err)
	}
	return tokenString, nil
}

// ParseToken validates a snapshot token and returns its claims.
func (jwt_s *JWTService) ParseToken(tokenString string) (*models.Claims, error) {
	var claims models.Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(config.ServiceConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("error parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &claims, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
