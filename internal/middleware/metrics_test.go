package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRouteLabelUsesTemplateNotKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var labels []string
	capture := func(c *gin.Context) { labels = append(labels, routeLabel(c)) }

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/cache/:key", capture)
	r.NoRoute(capture)

	for _, path := range []string{"/api/cache/user:1", "/api/cache/user:2", "/nowhere/user:3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, []string{"/api/cache/:key", "/api/cache/:key", UnmatchedRoute}, labels)
}
