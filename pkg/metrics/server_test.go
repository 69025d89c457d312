package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.AddHealthCheck("kv", func(context.Context) error { return errors.New("closed") })
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "kv: closed")
}

func TestOrNoopFallbacks(t *testing.T) {
	assert.NotNil(t, OrNoopLifecycle(nil))
	assert.NotNil(t, OrNoopPurge(nil))
	assert.NotNil(t, OrNoopThumbnail(nil))
	assert.NotNil(t, OrNoopRepair(nil))
}
