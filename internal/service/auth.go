package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

const tokenTTL = 24 * time.Hour

var ErrUnexpectedSigningMethod = errors.New("unexpected token signing method")

type AuthService interface {
	GenerateToken(identity entity.Identity) (string, error)
	ParseToken(tokenString string) (entity.Identity, error)
}

type authService struct {
	secretKey string
}

func NewAuthService(secretKey string) AuthService {
	return &authService{
		secretKey: secretKey,
	}
}

func (that *authService) GenerateToken(identity entity.Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":  identity.ID,
		"name": identity.Username,
		"exp":  time.Now().Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(that.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (that *authService) ParseToken(tokenString string) (entity.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedSigningMethod, token.Header["alg"])
		}
		return []byte(that.secretKey), nil
	})
	if err != nil {
		return entity.Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return entity.Identity{}, jwt.ErrTokenInvalidClaims
	}

	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return entity.Identity{}, jwt.ErrTokenInvalidSubject
	}

	return entity.Identity{ID: sub, Username: name}, nil
}
