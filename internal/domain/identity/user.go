// Package identity описывает аутентифицированного пользователя шлюза
// и контракты внешних коллабораторов аутентификации.
package identity

import (
	"context"
	"errors"
)

// User - пользователь, владеющий сокет-соединениями.
type User struct {
	ID     string
	Email  string
	Active bool
}

// TokenVerifier проверяет токен и возвращает ID пользователя.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// UserFinder загружает пользователя по ID.
// Отсутствующий пользователь возвращается как (nil, nil).
type UserFinder interface {
	FindUser(ctx context.Context, userID string) (*User, error)
}

// ErrInactiveUser - пользователь найден, но деактивирован.
var ErrInactiveUser = errors.New("identity: user is inactive")
