package apiclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthenticationRequired - сервис ответил 401, сессия токенов сброшена.
var ErrAuthenticationRequired = errors.New("требуется повторная аутентификация")

// NetworkError - запрос не дошёл до сервиса или ответ не прочитан.
// Повтор безопасен для GET, клиент сам не повторяет.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("сетевая ошибка %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable сообщает, что операцию можно повторить.
func (e *NetworkError) Retryable() bool { return true }

// APIError - ответ сервиса с кодом ошибки (4xx/5xx, кроме 401 и 403).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ошибка API %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode проверяет, что err - APIError с указанным кодом.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// TokenClaims - claims токена, которым был выполнен запрос.
// Декодируются без проверки подписи, только для диагностики.
type TokenClaims struct {
	Subject  string
	Username string
	Roles    []string
	Groups   []string
}

// AuthorizationError - сервис ответил 403.
type AuthorizationError struct {
	Message string
	// Role - роль, вычисленная сервисом
	Role string
	// Required - минимальная роль операции
	Required string
	// Claims - nil, если токен не удалось разобрать
	Claims *TokenClaims
}

func (e *AuthorizationError) Error() string {
	var b strings.Builder
	b.WriteString("доступ запрещён")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Role != "" || e.Required != "" {
		fmt.Fprintf(&b, " (роль %q, требуется %q)", e.Role, e.Required)
	}
	return b.String()
}

// keycloakClaims - поля Keycloak JWT, нужные для диагностики.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	Groups []string `json:"groups"`
}

// decodeClaims разбирает токен без проверки подписи.
func decodeClaims(token string) *TokenClaims {
	var claims keycloakClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	return &TokenClaims{
		Subject:  claims.Subject,
		Username: claims.PreferredUsername,
		Roles:    claims.RealmAccess.Roles,
		Groups:   claims.Groups,
	}
}
