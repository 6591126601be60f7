package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var seen string
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		seen = RequestIDFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", seen, err)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("response header %q != context id %q", rec.Header().Get(HeaderRequestID), seen)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "client-chosen")
	r.ServeHTTP(rec, req)
	if seen != "client-chosen" {
		t.Fatalf("expected client id to be kept, got %q", seen)
	}
}
