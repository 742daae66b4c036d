package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/bloodbank-api/internal/handler"
	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/pkg/auth"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTokens struct {
	claims *auth.Claims
	err    error
}

func (s stubTokens) ValidateToken(string) (*auth.Claims, error) {
	return s.claims, s.err
}

type body struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	e := gin.New()
	e.Use(RequestID(logger.Nop()), ErrorHandler(logger.Nop()))
	e.Use(mw...)
	return e
}

func TestAuthenticate(t *testing.T) {
	claims := &auth.Claims{Name: "Tess", Role: "Technician"}
	claims.Subject = "tech-1"

	tests := []struct {
		name   string
		header string
		tokens stubTokens
		status int
	}{
		{"missing header", "", stubTokens{claims: claims}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", stubTokens{claims: claims}, http.StatusUnauthorized},
		{"invalid token", "Bearer abc", stubTokens{err: auth.ErrInvalidToken}, http.StatusUnauthorized},
		{"expired token", "Bearer abc", stubTokens{err: auth.ErrTokenExpired}, http.StatusUnauthorized},
		{"valid token", "bearer abc", stubTokens{claims: claims}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.Identity
			e := newEngine(NewAuthMiddleware(tt.tokens, nil).Authenticate())
			e.GET("/units", func(c *gin.Context) {
				got = handler.IdentityFrom(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/units", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				b := decode(t, w)
				assert.Equal(t, "UNAUTHORIZED", b.Code)
				assert.Equal(t, "unauthorized", b.Message)
				return
			}
			assert.Equal(t, "tech-1", got.ActorID)
			assert.Equal(t, "technician", got.Role)
			assert.True(t, got.Can(model.CapUpdateTestResults))
			assert.False(t, got.Can(model.CapIssue))
		})
	}
}

func TestAuthenticate_ConfiguredRoles(t *testing.T) {
	claims := &auth.Claims{Role: "auditor"}
	claims.Subject = "aud-1"
	roles := RolesFromConfig(map[string][]string{"Auditor": {"VIEW", "view_audit"}})

	var got model.Identity
	e := newEngine(NewAuthMiddleware(stubTokens{claims: claims}, roles).Authenticate())
	e.GET("/audit", func(c *gin.Context) {
		got = handler.IdentityFrom(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req.Header.Set("Authorization", "Bearer x")
	e.ServeHTTP(httptest.NewRecorder(), req)

	assert.ElementsMatch(t, []model.Capability{model.CapView, model.CapViewAudit}, got.Capabilities)
}

func TestRolesFromConfig_EmptyUsesDefaults(t *testing.T) {
	assert.Equal(t, model.DefaultRoleCapabilities(), RolesFromConfig(nil))
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"app error", apperrors.OutOfStock("O-"), http.StatusConflict, "OUT_OF_STOCK", "no available units of blood type O-"},
		{"persistence hides cause", apperrors.Persistence(errors.New("dial tcp 10.0.0.1")), http.StatusInternalServerError, "PERSISTENCE_FAILURE", "persistence failure"},
		{"plain error", errors.New("secret detail"), http.StatusInternalServerError, "INTERNAL", "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine()
			e.GET("/x", func(c *gin.Context) { handler.Fail(c, tt.err) })

			w := httptest.NewRecorder()
			e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			assert.Equal(t, tt.status, w.Code)
			b := decode(t, w)
			assert.Equal(t, "error", b.Status)
			assert.Equal(t, tt.code, b.Code)
			assert.Equal(t, tt.message, b.Message)
			assert.NotContains(t, w.Body.String(), "dial tcp")
		})
	}
}

func TestRequestID(t *testing.T) {
	var fromCtx interface{}
	e := gin.New()
	e.Use(RequestID(logger.Nop()))
	e.GET("/x", func(c *gin.Context) {
		fromCtx = c.Request.Context().Value(logger.RequestIDKey)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderXRequestID, "req-7")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, "req-7", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "req-7", fromCtx)

	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get(HeaderXRequestID), 36)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Limit(0.001), Burst: 2})
	e := gin.New()
	e.Use(rl.RateLimit())
	e.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		e.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Limit(1), Burst: 1, IdleTTL: time.Minute})
	rl.now = func() time.Time { return now }

	rl.limiterFor("10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.limiterFor("10.0.0.2")

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestRecovery(t *testing.T) {
	e := gin.New()
	e.Use(Recovery(logger.Nop()))
	e.GET("/x", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL", decode(t, w).Code)
}

func TestTimeout(t *testing.T) {
	var deadline bool
	e := gin.New()
	e.Use(Timeout(time.Second))
	e.GET("/x", func(c *gin.Context) {
		_, deadline = c.Request.Context().Deadline()
	})
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, deadline)
}
