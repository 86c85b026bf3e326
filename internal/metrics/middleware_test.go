package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/api/v1/sessions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	matched := APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/sessions/:id", "200")
	unmatched := APIRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	health := APIRequestsTotal.WithLabelValues(http.MethodGet, "/health", "200")
	before := []float64{testutil.ToFloat64(matched), testutil.ToFloat64(unmatched), testutil.ToFloat64(health)}

	for _, path := range []string{"/api/v1/sessions/FFS-1", "/api/v1/sessions/FFS-2", "/nope/123", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, before[0]+2, testutil.ToFloat64(matched))
	assert.Equal(t, before[1]+1, testutil.ToFloat64(unmatched))
	assert.Equal(t, before[2], testutil.ToFloat64(health))
}
