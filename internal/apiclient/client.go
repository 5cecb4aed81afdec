// Пакет apiclient - типизированный HTTP-клиент REST API Allocation Service.
// Авторизация Bearer-токеном из TokenSource, LRU-кэш GET-ответов с TTL,
// сбрасываемый целиком после каждого изменяющего запроса.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TokenSource выдаёт токен доступа и сбрасывает сессию после 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Clear()
}

// StaticToken - TokenSource с фиксированным токеном.
type StaticToken string

// Token возвращает токен.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Clear ничего не делает.
func (t StaticToken) Clear() {}

// Options - параметры клиента. Нулевые значения заменяются умолчаниями.
type Options struct {
	HTTPClient *http.Client
	// CacheSize - максимальное число закэшированных GET-ответов
	CacheSize int
	// CacheTTL - время жизни записи кэша
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Client - клиент REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	cache      *expirable.LRU[string, []byte]
	logger     *slog.Logger
}

// New создаёт клиент. baseURL - адрес сервиса без /api/v1.
func New(baseURL string, tokens TokenSource, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		tokens:     tokens,
		httpClient: opts.HTTPClient,
		cache:      expirable.NewLRU[string, []byte](opts.CacheSize, nil, opts.CacheTTL),
		logger:     opts.Logger.With(slog.String("component", "api_client")),
	}
}

// InvalidateCache сбрасывает все закэшированные ответы.
func (c *Client) InvalidateCache() {
	c.cache.Purge()
}

// errorBody - формат ошибки сервиса.
type errorBody struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Role     string `json:"role"`
		Required string `json:"required"`
	} `json:"error"`
}

// do выполняет запрос. out == nil - тело ответа не разбирается.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	if method == http.MethodGet {
		if cached, ok := c.cache.Get(reqURL); ok {
			return decode(cached, out)
		}
	} else {
		// Изменяющий запрос мог затронуть любые закэшированные данные
		defer c.cache.Purge()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("кодирование тела %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if c.tokens != nil {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("получение токена: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Method: method, URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: method, URL: reqURL, Err: err}
	}

	c.logger.Debug("Ответ API",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if c.tokens != nil {
			c.tokens.Clear()
		}
		return ErrAuthenticationRequired
	case resp.StatusCode == http.StatusForbidden:
		eb := parseError(data)
		return &AuthorizationError{
			Message:  eb.Error.Message,
			Role:     eb.Error.Role,
			Required: eb.Error.Required,
			Claims:   decodeClaims(token),
		}
	case resp.StatusCode >= 400:
		eb := parseError(data)
		if eb.Error.Code == "" {
			eb.Error.Code = http.StatusText(resp.StatusCode)
			eb.Error.Message = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Code: eb.Error.Code, Message: eb.Error.Message}
	}

	if method == http.MethodGet {
		c.cache.Add(reqURL, data)
	}
	return decode(data, out)
}

func parseError(data []byte) errorBody {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	return eb
}

func decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("декодирование ответа: %w", err)
	}
	return nil
}
