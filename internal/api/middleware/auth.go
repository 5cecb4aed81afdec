// auth.go - JWT middleware для аутентификации пользователей Allocation Service.
// Проверяет подпись токена Keycloak через JWKS, маппит группы IdP в роль,
// применяет локальные role overrides и кладёт model.Actor в контекст.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
)

// contextKey - тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyActor - аутентифицированный инициатор запроса.
	ContextKeyActor contextKey = "actor"
)

// RoleResolver вычисляет эффективную роль с учётом локальных overrides.
// Реализуется service.RoleOverrideService.
type RoleResolver interface {
	EffectiveRole(ctx context.Context, userID, idpRole string) (string, error)
}

// keycloakClaims - raw claims из Keycloak JWT.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth - middleware для JWT-аутентификации через JWKS Keycloak.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	resolver  RoleResolver
	groups    rbac.GroupMapping
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из Keycloak.
// jwksURL - URL JWKS endpoint, caCertPath - опциональный CA для TLS,
// issuer - ожидаемый issuer, resolver - role overrides (может быть nil).
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	resolver RoleResolver,
	groups rbac.GroupMapping,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq - стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	a := NewJWTAuthWithKeyfunc(k, issuer, resolver, groups, logger)
	a.jwtLeeway = jwtLeeway
	return a, nil
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: caCertPool},
		},
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	resolver RoleResolver,
	groups rbac.GroupMapping,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:     kf,
		logger:   logger.With(slog.String("component", "jwt_auth")),
		resolver: resolver,
		groups:   groups,
		issuer:   issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Пользователь без роли (ни группы, ни override) получает 403.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := bearerToken(r)
			if msg != "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			rawClaims := &keycloakClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if rawClaims.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			actor, err := j.buildActor(r.Context(), rawClaims)
			if err != nil {
				j.logger.Error("Ошибка вычисления роли",
					slog.String("user_id", rawClaims.Subject),
					slog.String("error", err.Error()),
				)
				apierrors.InternalError(w, "Ошибка вычисления роли пользователя")
				return
			}
			if actor.Role == "" {
				apierrors.Forbidden(w, "Пользователю не назначена роль", "", rbac.RoleWorker)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization.
// При ошибке возвращает пустой токен и сообщение для 401.
func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if parts[1] == "" {
		return "", "Пустой Bearer token"
	}
	return parts[1], ""
}

// buildActor формирует model.Actor: группы → роль IdP, затем
// realm_access.roles как запасной вариант, затем role override.
func (j *JWTAuth) buildActor(ctx context.Context, raw *keycloakClaims) (model.Actor, error) {
	idpRole := rbac.MapGroupsToRole(raw.Groups, j.groups)
	if idpRole == "" && raw.RealmAccess != nil {
		var mapped []string
		for _, role := range raw.RealmAccess.Roles {
			if rbac.IsValidRole(role) {
				mapped = append(mapped, role)
			}
		}
		idpRole = rbac.HighestRole(mapped)
	}

	role := idpRole
	if j.resolver != nil {
		var err error
		role, err = j.resolver.EffectiveRole(ctx, raw.Subject, idpRole)
		if err != nil {
			return model.Actor{}, err
		}
	}

	username := raw.PreferredUsername
	if username == "" {
		username = raw.Subject
	}
	return model.Actor{UserID: raw.Subject, Username: username, Role: role}, nil
}

// --- RBAC middleware helpers ---

// RequireRole возвращает middleware, требующий роль не ниже указанной.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Отсутствуют данные пользователя в контексте")
				return
			}
			if !rbac.HasAtLeast(actor.Role, required) {
				apierrors.Forbidden(w,
					fmt.Sprintf("Недостаточно прав: требуется роль %s", required),
					actor.Role, required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithActor кладёт инициатора в контекст.
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// ActorFromContext извлекает инициатора из контекста запроса.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(model.Actor)
	return actor, ok
}

// --- ReadinessChecker для Keycloak ---

// KeycloakReadinessChecker - проверка доступности Keycloak через JWKS.
type KeycloakReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewKeycloakReadinessChecker создаёт checker доступности Keycloak.
func NewKeycloakReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*KeycloakReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}
	return &KeycloakReadinessChecker{jwksURL: jwksURL, client: client}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint Keycloak.
func (k *KeycloakReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации Keycloak
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("Keycloak JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("Keycloak JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "Keycloak JWKS: нет ключей"
	}
	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
