// health.go - обработчики health endpoints.
// /health/live - liveness probe (процесс жив)
// /health/ready - readiness probe (хранилище + Keycloak доступны)
// /metrics - Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/config"
)

const serviceName = "allocation-service"

// ReadinessChecker - интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// ReadinessFunc - адаптер функции к ReadinessChecker.
type ReadinessFunc func() (string, string)

// CheckReady вызывает f.
func (f ReadinessFunc) CheckReady() (string, string) {
	return f()
}

// HealthHandler - обработчик health endpoints.
type HealthHandler struct {
	storeChecker ReadinessChecker
	kcChecker    ReadinessChecker
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// nil-зависимость в readiness считается "fail".
func NewHealthHandler(storeChecker, kcChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		storeChecker: storeChecker,
		kcChecker:    kcChecker,
		promHandler:  promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Storage  healthCheckResult `json:"storage"`
		Keycloak healthCheckResult `json:"keycloak"`
	} `json:"checks"`
}

// HealthLive - liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady - readiness probe. Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
	resp.Checks.Storage = check(h.storeChecker)
	resp.Checks.Keycloak = check(h.kcChecker)
	resp.Status = overallStatus(resp.Checks.Storage.Status, resp.Checks.Keycloak.Status)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func check(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// GetMetrics - Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей:
// хотя бы один fail - fail, хотя бы один degraded - degraded, иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
