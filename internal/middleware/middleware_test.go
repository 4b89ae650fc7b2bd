package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := i18n.Initialize(); err != nil {
		panic(err)
	}
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(I18nMiddleware())
	return r
}

func perform(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-secret")
	userID := uuid.New()
	token, err := utils.GenerateJWT(userID, "a@example.com", string(models.UserRoleAgent), 1)
	require.NoError(t, err)

	r := newRouter()
	r.GET("/me", AuthRequired(), func(c *gin.Context) {
		id, _ := utils.GetUserUUIDFromContext(c)
		role, _ := utils.GetUserRoleFromContext(c)
		c.String(http.StatusOK, id.String()+" "+role)
	})

	w := perform(r, http.MethodGet, "/me", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String()+" agent", w.Body.String())

	w = perform(r, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = perform(r, http.MethodGet, "/me", "", map[string]string{"Authorization": "Token " + token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	refresh, err := utils.GenerateRefreshToken(userID, 1)
	require.NoError(t, err)
	w = perform(r, http.MethodGet, "/me", "", map[string]string{"Authorization": "Bearer " + refresh + "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRolesRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-secret")

	r := newRouter()
	r.GET("/admin", AuthRequired(), AdminRequired(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/staff", AuthRequired(), RolesRequired(models.UserRoleSuperAdmin, models.UserRoleAgent), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tokenFor := func(role models.UserRole) map[string]string {
		token, err := utils.GenerateJWT(uuid.New(), "x@example.com", string(role), 1)
		require.NoError(t, err)
		return map[string]string{"Authorization": "Bearer " + token}
	}

	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/admin", "", tokenFor(models.UserRoleSuperAdmin)).Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/admin", "", tokenFor(models.UserRoleAgent)).Code)
	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/staff", "", tokenFor(models.UserRoleAgent)).Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/staff", "", tokenFor(models.UserRoleUser)).Code)
}

func TestOptionalAuth(t *testing.T) {
	utils.SetJWTSecret("middleware-secret")
	token, err := utils.GenerateJWT(uuid.New(), "o@example.com", "user", 1)
	require.NoError(t, err)

	r := newRouter()
	r.GET("/maybe", OptionalAuth(), func(c *gin.Context) {
		_, ok := utils.GetUserIDFromContext(c)
		if ok {
			c.String(http.StatusOK, "user")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	assert.Equal(t, "user", perform(r, http.MethodGet, "/maybe", "", map[string]string{"Authorization": "Bearer " + token}).Body.String())
	assert.Equal(t, "anonymous", perform(r, http.MethodGet, "/maybe", "", map[string]string{"Authorization": "Bearer nope"}).Body.String())
	assert.Equal(t, "anonymous", perform(r, http.MethodGet, "/maybe", "", nil).Body.String())
}

func TestPreferredLanguage(t *testing.T) {
	assert.Equal(t, "en", preferredLanguage(""))
	assert.Equal(t, "so", preferredLanguage("so-SO,so;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", preferredLanguage("fr-FR, en;q=0.5"))
	assert.Equal(t, "so", preferredLanguage("de, SO"))
	assert.Equal(t, "en", preferredLanguage("-,;"))
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(rate.Every(time.Hour), 2)
	r := newRouter()
	r.GET("/limited", limiter.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/limited", "", nil).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/limited", "", nil).Code)

	w := perform(r, http.MethodGet, "/limited", "", map[string]string{"Accept-Language": "so"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	limiter.evict(time.Now().Add(time.Minute))
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/limited", "", nil).Code)
}

func TestRateConversions(t *testing.T) {
	assert.Equal(t, rate.Inf, PerSecond(0))
	assert.Equal(t, rate.Limit(5), PerSecond(5))
	assert.Equal(t, rate.Inf, PerMinute(-1))
	assert.InDelta(t, 0.5, float64(PerMinute(30)), 1e-9)
}

func TestAuditLogMiddleware(t *testing.T) {
	db, err := database.Initialize(config.DatabaseConfig{
		Driver:       "sqlite",
		SQLitePath:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, database.RunMigrations(db))

	licenseID := uuid.New()
	r := newRouter()
	r.Use(AuditLogMiddleware(db))
	r.POST("/v1/licenses/:id/revoke", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/licenses", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/v1/auth/login", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	perform(r, http.MethodPost, "/v1/licenses/"+licenseID.String()+"/revoke", `{"reason":"fraud"}`, nil)
	perform(r, http.MethodGet, "/v1/licenses", "", nil)
	perform(r, http.MethodPost, "/v1/auth/login", `{"email":"a@example.com","password":"secret123"}`, nil)

	var logs []models.AuditLog
	require.NoError(t, db.Order("created_at ASC").Find(&logs).Error)
	require.Len(t, logs, 2)

	assert.Equal(t, "POST /v1/licenses/:id/revoke", logs[0].Action)
	assert.Equal(t, "licenses", logs[0].ResourceType)
	require.NotNil(t, logs[0].ResourceID)
	assert.Equal(t, licenseID, *logs[0].ResourceID)
	assert.Equal(t, "fraud", logs[0].NewValues["reason"])
	assert.Equal(t, http.StatusOK, logs[0].Status)

	assert.Equal(t, "auth", logs[1].ResourceType)
	assert.Equal(t, "[redacted]", logs[1].NewValues["password"])
	assert.Equal(t, http.StatusUnauthorized, logs[1].Status)
}

func TestRequestLoggerRecordsMetrics(t *testing.T) {
	m := metrics.NewRecorder()
	r := newRouter()
	r.Use(RequestLogger(m))
	r.GET("/v1/plans", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(r, http.MethodGet, "/v1/plans", "", nil)
	perform(r, http.MethodGet, "/missing", "", nil)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `route="/v1/plans"`)
	assert.Contains(t, body, `route="unmatched"`)
}
