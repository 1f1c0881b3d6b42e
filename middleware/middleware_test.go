package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"leadforge/models"
	mockservice "leadforge/testdata/mockservice"
)

var _ Authenticator = &mockservice.Authenticator{}

type MiddlewareTestSuite struct {
	suite.Suite
	auth *mockservice.Authenticator
	app  *fiber.App
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareTestSuite))
}

func (s *MiddlewareTestSuite) SetupTest() {
	s.auth = &mockservice.Authenticator{}
	s.app = fiber.New()
	api := s.app.Group("/api", Protected(s.auth))
	api.Get("/me", func(c *fiber.Ctx) error {
		id, _ := IdentityFrom(c)
		return c.JSON(id)
	})
	api.Delete("/users/:id", RequireRole(models.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func (s *MiddlewareTestSuite) get(method, path, token string) *http.Response {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	return resp
}

func (s *MiddlewareTestSuite) TestMissingTokenIsUnauthorized() {
	resp := s.get(http.MethodGet, "/api/me", "")
	require.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, err := s.app.Test(req, -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	s.auth.AssertNotCalled(s.T(), "Authenticate", mock.Anything, mock.Anything)
}

func (s *MiddlewareTestSuite) TestRejectedTokens() {
	s.auth.On("Authenticate", mock.Anything, "expired").Return(nil, models.NewUnauthorized("token expired"))
	s.auth.On("Authenticate", mock.Anything, "inactive").Return(nil, models.NewForbidden("account deactivated"))

	require.Equal(s.T(), http.StatusUnauthorized, s.get(http.MethodGet, "/api/me", "expired").StatusCode)
	require.Equal(s.T(), http.StatusForbidden, s.get(http.MethodGet, "/api/me", "inactive").StatusCode)
}

func (s *MiddlewareTestSuite) TestCookieToken() {
	s.auth.On("Authenticate", mock.Anything, "from-cookie").
		Return(&models.Identity{UserID: 1, CompanyID: 2, Role: models.RoleViewer}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "from-cookie"})
	resp, err := s.app.Test(req, -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
}

func (s *MiddlewareTestSuite) TestRequireRole() {
	s.auth.On("Authenticate", mock.Anything, "manager").
		Return(&models.Identity{UserID: 1, CompanyID: 2, Role: models.RoleManager}, nil)
	s.auth.On("Authenticate", mock.Anything, "admin").
		Return(&models.Identity{UserID: 3, CompanyID: 2, Role: models.RoleAdmin}, nil)

	require.Equal(s.T(), http.StatusForbidden, s.get(http.MethodDelete, "/api/users/9", "manager").StatusCode)
	require.Equal(s.T(), http.StatusNoContent, s.get(http.MethodDelete, "/api/users/9", "admin").StatusCode)
}

func (s *MiddlewareTestSuite) TestRateLimitIsPerCompany() {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		companyID := uint(1)
		if c.Get("X-Company") == "2" {
			companyID = 2
		}
		WithIdentity(c, models.Identity{UserID: 1, CompanyID: companyID, Role: models.RoleSales})
		return c.Next()
	})
	app.Use(CompanyRateLimiter(2, nil))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	call := func(company string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Company", company)
		resp, err := app.Test(req, -1)
		require.NoError(s.T(), err)
		return resp.StatusCode
	}
	require.Equal(s.T(), http.StatusOK, call("1"))
	require.Equal(s.T(), http.StatusOK, call("1"))
	require.Equal(s.T(), http.StatusTooManyRequests, call("1"))
	require.Equal(s.T(), http.StatusOK, call("2"))
}

func (s *MiddlewareTestSuite) TestCORS() {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Authorization"},
		MaxAge:           600,
	}))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString("x") })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := app.Test(req, -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusNoContent, resp.StatusCode)
	require.Equal(s.T(), "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(s.T(), "600", resp.Header.Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = app.Test(req, -1)
	require.NoError(s.T(), err)
	require.Empty(s.T(), resp.Header.Get("Access-Control-Allow-Origin"))
}
