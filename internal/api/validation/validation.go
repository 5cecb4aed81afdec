// Пакет validation - проверка входящих запросов по встроенному
// OpenAPI-контракту (kin-openapi) до передачи в обработчики.
package validation

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
)

//go:embed openapi.yaml
var contractYAML []byte

// Validator - middleware проверки запросов по OpenAPI-контракту.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// New загружает и проверяет встроенный контракт.
func New(logger *slog.Logger) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(contractYAML)
	if err != nil {
		return nil, fmt.Errorf("загрузка OpenAPI: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("невалидный OpenAPI: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("построение OpenAPI router: %w", err)
	}

	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware проверяет параметры и тело запроса. Пути, отсутствующие в
// контракте, пропускаются без проверки: на них отвечает chi (404/405).
// Аутентификация проверяется отдельно JWT middleware.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл проверку контракта",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, describe(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// describe превращает ошибку kin-openapi в короткое сообщение для клиента.
func describe(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			field := strings.Join(schemaErr.JSONPointer(), ".")
			if reqErr.Parameter != nil {
				field = reqErr.Parameter.Name
			}
			if field == "" {
				return schemaErr.Reason
			}
			return fmt.Sprintf("%s: %s", field, schemaErr.Reason)
		}
		if reqErr.Parameter != nil {
			return fmt.Sprintf("параметр %s: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.Reason != "" {
			return reqErr.Reason
		}
	}
	return err.Error()
}
