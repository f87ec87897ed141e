package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRequestID_ReusesIncoming(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen, _ = RequestIDFromCtx(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestRecover_CatchesPanic(t *testing.T) {
	r := gin.New()
	r.Use(Recover(zaptest.NewLogger(t)), Logging(zaptest.NewLogger(t)))
	r.GET("/panic", func(*gin.Context) { panic("oh no") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"internal"}`, w.Body.String())
}

func TestRequestIDFromCtx_Missing(t *testing.T) {
	_, ok := RequestIDFromCtx(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.False(t, ok)
}
