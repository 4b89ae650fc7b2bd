// internal/tests/auth_test.go
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/router"
	"github.com/javajoker/license-backend/internal/services"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type APITestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
	cancel context.CancelFunc

	adminToken string
	planID     uuid.UUID
}

func (suite *APITestSuite) SetupTest() {
	t := suite.T()
	gin.SetMode(gin.TestMode)
	require.NoError(t, i18n.Initialize())

	cfg := &config.Config{
		Environment: "test",
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			SQLitePath:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			LogLevel:     "silent",
		},
		JWT:     config.JWTConfig{SecretKey: "api-test-secret", AccessTokenTTL: 1, RefreshTokenTTL: 24},
		License: config.LicenseConfig{SecretKey: "api-license-secret", LazyExpiry: true, BulkMax: 100, KeyRetries: 3},
		Seed:    config.SeedConfig{AdminEmail: "admin@example.com", AdminPassword: "admin-pass1"},
		Observability: config.ObservabilityConfig{
			MetricsEnabled: true,
		},
		RateLimit: config.RateLimitConfig{},
	}

	db, err := database.Initialize(cfg.Database)
	require.NoError(t, err)
	suite.db = db
	require.NoError(t, database.RunMigrations(db))
	require.NoError(t, database.SeedInitialData(db, cfg.Seed))

	recorder := metrics.NewRecorder()
	plans := services.NewPlanService(db, nil, 0)
	licenses, err := services.NewLicenseService(db, plans, cfg.License, services.WithMetrics(recorder))
	require.NoError(t, err)

	var ctx context.Context
	ctx, suite.cancel = context.WithCancel(context.Background())
	suite.router = router.Initialize(ctx, db, cfg, router.Services{
		Auth:    services.NewAuthService(db, cfg.JWT),
		User:    services.NewUserService(db),
		Plan:    plans,
		License: licenses,
		Metrics: recorder,
	})

	suite.adminToken = suite.login("admin@example.com", "admin-pass1")

	var plan models.LicensePlan
	require.NoError(t, db.Where("name = ?", "Standard Monthly").First(&plan).Error)
	suite.planID = plan.ID
}

func (suite *APITestSuite) TearDownTest() {
	suite.cancel()
	database.Close(suite.db)
}

func (suite *APITestSuite) request(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (suite *APITestSuite) login(email, password string) string {
	w, env := suite.request(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(suite.T(), json.Unmarshal(env.Data, &data))
	return data.Token
}

func (suite *APITestSuite) register(email string) string {
	w, _ := suite.request(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": "TestPass123",
	})
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	return suite.login(email, "TestPass123")
}

func (suite *APITestSuite) createLicense(body map[string]interface{}) models.License {
	w, env := suite.request(http.MethodPost, "/v1/licenses", suite.adminToken, body)
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		License models.License `json:"license"`
	}
	require.NoError(suite.T(), json.Unmarshal(env.Data, &data))
	return data.License
}

func (suite *APITestSuite) TestHealth() {
	w, _ := suite.request(http.MethodGet, "/health", "", nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), `"database":"up"`)
	assert.Contains(suite.T(), w.Body.String(), `"languages":["en","so"]`)
}

func (suite *APITestSuite) TestUnknownRoute() {
	w, env := suite.request(http.MethodGet, "/v1/nothing-here", "", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
	require.NotNil(suite.T(), env.Error)
	assert.Equal(suite.T(), "NOT_FOUND", env.Error.Code)
	assert.Equal(suite.T(), "The requested endpoint does not exist", env.Error.Message)
}

func (suite *APITestSuite) TestUpdateLicenseRejectsPastExpiration() {
	t := suite.T()
	userToken := suite.register("window@example.com")
	license := suite.createLicense(map[string]interface{}{"plan_id": suite.planID})

	w, _ := suite.request(http.MethodPost, "/v1/licenses/activate", userToken, map[string]string{"license_key": license.LicenseKey})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := suite.request(http.MethodPut, "/v1/licenses/"+license.ID.String(), suite.adminToken, map[string]string{
		"expiration_date": "2001-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "Expiration date must be after the activation date and in the future", env.Error.Message)

	var stored models.License
	require.NoError(t, suite.db.First(&stored, "id = ?", license.ID).Error)
	assert.Equal(t, models.LicenseStatusActive, stored.Status)
	require.NotNil(t, stored.ExpirationDate)
	assert.True(t, stored.ExpirationDate.After(*stored.ActivationDate))
}

func (suite *APITestSuite) TestUserRegistration() {
	w, env := suite.request(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "test@example.com",
		"password": "TestPass123",
	})
	assert.Equal(suite.T(), http.StatusCreated, w.Code)
	assert.True(suite.T(), env.Success)

	w, env = suite.request(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "test@example.com",
		"password": "TestPass123",
	})
	assert.Equal(suite.T(), http.StatusConflict, w.Code)
	assert.False(suite.T(), env.Success)

	w, env = suite.request(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email":    "weak@example.com",
		"password": "short",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	require.NotNil(suite.T(), env.Error)
	assert.Equal(suite.T(), "VALIDATION_ERROR", env.Error.Code)
}

func (suite *APITestSuite) TestUserLogin() {
	suite.register("login@example.com")

	w, env := suite.request(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "login@example.com",
		"password": "WrongPass123",
	})
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
	assert.False(suite.T(), env.Success)
}

func (suite *APITestSuite) TestProfile() {
	token := suite.register("profile@example.com")

	w, _ := suite.request(http.MethodPut, "/v1/auth/me", token, map[string]string{"first_name": "Hodan"})
	assert.Equal(suite.T(), http.StatusOK, w.Code)

	w, env := suite.request(http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), string(env.Data), `"first_name":"Hodan"`)
	assert.NotContains(suite.T(), string(env.Data), "password")

	w, _ = suite.request(http.MethodGet, "/v1/auth/me", "", nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *APITestSuite) TestPlans() {
	userToken := suite.register("plans@example.com")

	body := map[string]interface{}{
		"name":            "Team Annual",
		"price":           250,
		"billing_cycle":   "annual",
		"duration_months": 12,
		"is_active":       true,
		"max_devices":     5,
	}

	w, _ := suite.request(http.MethodPost, "/v1/plans", userToken, body)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w, _ = suite.request(http.MethodPost, "/v1/plans", suite.adminToken, body)
	assert.Equal(suite.T(), http.StatusCreated, w.Code)

	w, _ = suite.request(http.MethodPost, "/v1/plans", suite.adminToken, body)
	assert.Equal(suite.T(), http.StatusConflict, w.Code)

	w, env := suite.request(http.MethodGet, "/v1/plans", "", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), string(env.Data), "Team Annual")

	w, _ = suite.request(http.MethodGet, "/v1/plans/"+uuid.NewString(), "", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)

	body["name"] = "Retired Plan"
	body["is_active"] = false
	w, _ = suite.request(http.MethodPost, "/v1/plans", suite.adminToken, body)
	require.Equal(suite.T(), http.StatusCreated, w.Code)

	_, env = suite.request(http.MethodGet, "/v1/plans?all=true", userToken, nil)
	assert.NotContains(suite.T(), string(env.Data), "Retired Plan")

	_, env = suite.request(http.MethodGet, "/v1/plans?all=true", suite.adminToken, nil)
	assert.Contains(suite.T(), string(env.Data), "Retired Plan")
}

func (suite *APITestSuite) TestLicenseLifecycle() {
	t := suite.T()
	userToken := suite.register("buyer@example.com")

	license := suite.createLicense(map[string]interface{}{
		"plan_id": suite.planID,
		"notes":   "web order 1001",
	})
	assert.Equal(t, models.LicenseStatusPending, license.Status)
	assert.Equal(t, "web order 1001", license.Notes)

	w, env := suite.request(http.MethodGet, "/v1/licenses/validate?license_key="+license.LicenseKey, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result services.ValidationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.IsValid)
	assert.Equal(t, "License is pending", result.Message)

	w, _ = suite.request(http.MethodPost, "/v1/licenses/activate", userToken, map[string]string{
		"license_key": license.LicenseKey,
		"device_id":   "laptop-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = suite.request(http.MethodGet, "/v1/licenses/validate?license_key="+license.LicenseKey+"&device_id=laptop-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.IsValid)
	assert.Equal(t, "License is valid", result.Message)

	// The seeded plan allows one device.
	w, env = suite.request(http.MethodGet, "/v1/licenses/validate?license_key="+license.LicenseKey+"&device_id=phone-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.IsValid)
	assert.Equal(t, services.ReasonDeviceLimit, result.Reason)

	w, _ = suite.request(http.MethodGet, "/v1/licenses/"+license.ID.String(), userToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = suite.request(http.MethodGet, "/v1/licenses", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))

	w, _ = suite.request(http.MethodDelete, "/v1/licenses/"+license.ID.String()+"/revoke", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = suite.request(http.MethodDelete, "/v1/licenses/"+license.ID.String()+"/revoke", suite.adminToken, map[string]string{"reason": "chargeback"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = suite.request(http.MethodDelete, "/v1/licenses/"+license.ID.String()+"/revoke", suite.adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "License is already revoked", env.Error.Message)

	var stored models.License
	require.NoError(t, suite.db.First(&stored, "id = ?", license.ID).Error)
	assert.Equal(t, "web order 1001\nRevoked: chargeback", stored.Notes)
}

func (suite *APITestSuite) TestActivationErrors() {
	t := suite.T()
	userToken := suite.register("errors@example.com")

	w, env := suite.request(http.MethodPost, "/v1/licenses/activate", userToken, map[string]string{
		"license_key": "not-a-key",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	first := suite.createLicense(map[string]interface{}{"plan_id": suite.planID})
	second := suite.createLicense(map[string]interface{}{"plan_id": suite.planID})

	w, _ = suite.request(http.MethodPost, "/v1/licenses/activate", userToken, map[string]string{"license_key": first.LicenseKey})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = suite.request(http.MethodPost, "/v1/licenses/activate", userToken, map[string]string{"license_key": second.LicenseKey})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "User already has an active license for this plan", env.Error.Message)

	req := httptest.NewRequest(http.MethodPost, "/v1/licenses/activate",
		bytes.NewReader([]byte(`{"license_key":"`+second.LicenseKey+`"}`)))
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Accept-Language", "so")
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), "User already has an active license")
}

func (suite *APITestSuite) TestBulkCreate() {
	t := suite.T()

	w, env := suite.request(http.MethodPost, "/v1/licenses/bulk", suite.adminToken, map[string]interface{}{
		"plan_id": suite.planID,
		"count":   3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), "3 licenses created successfully")

	w, _ = suite.request(http.MethodPost, "/v1/licenses/bulk", suite.adminToken, map[string]interface{}{
		"plan_id": suite.planID,
		"count":   101,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = suite.request(http.MethodPost, "/v1/licenses/bulk", suite.adminToken, map[string]interface{}{
		"plan_id": uuid.New(),
		"count":   2,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	userToken := suite.register("bulk@example.com")
	w, _ = suite.request(http.MethodPost, "/v1/licenses/bulk", userToken, map[string]interface{}{
		"plan_id": suite.planID,
		"count":   2,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func (suite *APITestSuite) TestStatsAndMetrics() {
	t := suite.T()
	suite.createLicense(map[string]interface{}{"plan_id": suite.planID})

	w, env := suite.request(http.MethodGet, "/v1/licenses/stats", suite.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"plan_name":"Standard Monthly"`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `license_operations_total{operation="create",outcome="success"} 1`)
}

func (suite *APITestSuite) TestAuditLogWritten() {
	suite.createLicense(map[string]interface{}{"plan_id": suite.planID})

	var count int64
	require.NoError(suite.T(), suite.db.Model(&models.AuditLog{}).Where("action = ?", "POST /v1/licenses").Count(&count).Error)
	assert.Equal(suite.T(), int64(1), count)
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
