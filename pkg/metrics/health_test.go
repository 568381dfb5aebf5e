package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterComponent(t *testing.T) {
	healthChecker = newHealthChecker()

	RegisterComponent(ComponentStore, true, "connected")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components[ComponentStore]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "connected" {
		t.Errorf("expected message 'connected', got '%s'", comp.Message)
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	healthChecker = newHealthChecker()
	SetVersion("1.0.0")

	RegisterComponent(ComponentStore, true, "")
	RegisterComponent(ComponentJenkins, true, "")

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealth_NonCriticalUnhealthyDegrades(t *testing.T) {
	healthChecker = newHealthChecker()

	RegisterComponent(ComponentStore, true, "")
	RegisterComponent(ComponentJenkins, false, "connection refused")

	health := GetHealth()

	if health.Status != "degraded" {
		t.Errorf("expected status 'degraded', got '%s'", health.Status)
	}
	if health.Components[ComponentJenkins] != "unhealthy: connection refused" {
		t.Errorf("unexpected component message: %s", health.Components[ComponentJenkins])
	}
}

func TestGetHealth_CriticalUnhealthy(t *testing.T) {
	healthChecker = newHealthChecker()

	RegisterComponent(ComponentJenkins, false, "timeout")
	RegisterComponent(ComponentStore, false, "server selection error")

	health := GetHealth()

	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
}

func TestGetReadiness_AllReady(t *testing.T) {
	healthChecker = newHealthChecker()

	RegisterComponent(ComponentStore, true, "")
	RegisterComponent(ComponentScheduler, true, "")

	readiness := GetReadiness()

	if readiness.Status != "ready" {
		t.Errorf("expected status 'ready', got '%s'", readiness.Status)
	}
}

func TestGetReadiness_MissingCriticalComponent(t *testing.T) {
	healthChecker = newHealthChecker()

	RegisterComponent(ComponentStore, true, "")

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Components[ComponentScheduler] != "not registered" {
		t.Errorf("expected scheduler 'not registered', got '%s'", readiness.Components[ComponentScheduler])
	}
}

func TestSetCriticalComponents(t *testing.T) {
	healthChecker = newHealthChecker()
	SetCriticalComponents(ComponentStore)

	RegisterComponent(ComponentStore, true, "")

	if readiness := GetReadiness(); readiness.Status != "ready" {
		t.Errorf("expected status 'ready', got '%s'", readiness.Status)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	healthChecker = newHealthChecker()

	RegisterComponent(ComponentStore, false, "closed")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	healthChecker = newHealthChecker()

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()

	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
}
