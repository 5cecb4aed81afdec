// metrics.go - Prometheus HTTP метрики Allocation Service.
// Регистрирует метрики: allocation_http_requests_total,
// allocation_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_http_requests_total",
			Help: "Общее количество HTTP-запросов к Allocation Service",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocation_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Allocation Service в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			status := strconv.Itoa(code)
			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификаторы в пути на {id}, чтобы
// кардинальность лейблов не росла с числом заявок и процессов.
// /api/v1/requests/1b4e…/approve → /api/v1/requests/{id}/approve
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := uuid.Parse(s); err == nil {
			segments[i] = "{id}"
			continue
		}
		// user_id в /role-overrides/{user_id} не обязан быть UUID
		if i > 0 && segments[i-1] == "role-overrides" {
			segments[i] = "{user_id}"
		}
	}
	return strings.Join(segments, "/")
}
