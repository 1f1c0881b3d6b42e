package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"leadforge/models"
	"leadforge/services"
	mockservice "leadforge/testdata/mockservice"
)

type LeadControllerTestSuite struct {
	suite.Suite
	app   *fiber.App
	leads *mockservice.Leads
}

func TestLeadControllerSuite(t *testing.T) {
	suite.Run(t, new(LeadControllerTestSuite))
}

func (s *LeadControllerTestSuite) SetupTest() {
	s.leads = &mockservice.Leads{}
	ctrl := NewLeadController(s.leads, quietLogger())
	s.app = fiber.New()
	s.app.Use(withIdentity)
	s.app.Get("/leads", ctrl.List)
	s.app.Post("/leads/import", ctrl.Import)
}

func (s *LeadControllerTestSuite) TestImportJSON() {
	s.leads.On("CreateBatch", mock.Anything, uint(3), uint(7), mock.MatchedBy(func(in []services.CreateLeadInput) bool {
		return len(in) == 2 && in[0].Email == "ada@example.com"
	})).Return(&services.ImportResult{TotalRows: 2, Imported: 1, Duplicates: 1}, nil)

	resp, err := s.app.Test(jsonRequest(http.MethodPost, "/leads/import", map[string]any{
		"leads": []map[string]any{{"email": "ada@example.com"}, {"email": "ada@example.com"}},
	}), -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	data := decodeBody(s.T(), resp)["data"].(map[string]any)
	require.EqualValues(s.T(), 1, data["imported"])
	require.EqualValues(s.T(), 1, data["duplicates"])
	s.leads.AssertExpectations(s.T())
}

func (s *LeadControllerTestSuite) TestImportEmptyIsValidationError() {
	resp, err := s.app.Test(jsonRequest(http.MethodPost, "/leads/import", map[string]any{"leads": []any{}}), -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusUnprocessableEntity, resp.StatusCode)
}

func (s *LeadControllerTestSuite) TestImportQuotaExceeded() {
	s.leads.On("CreateBatch", mock.Anything, uint(3), uint(7), mock.Anything).
		Return(nil, models.NewQuotaExceeded("leads", 100, 150))

	resp, err := s.app.Test(jsonRequest(http.MethodPost, "/leads/import", map[string]any{
		"leads": []map[string]any{{"email": "a@example.com"}},
	}), -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusForbidden, resp.StatusCode)
}

func (s *LeadControllerTestSuite) TestListFilters() {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	s.leads.On("List", mock.Anything, uint(3), mock.MatchedBy(func(f services.LeadFilter) bool {
		return f.Source == "linkedin" && f.Tag == "vip" &&
			f.CreatedFrom != nil && f.CreatedFrom.Equal(from) &&
			f.CreatedTo != nil && f.CreatedTo.Equal(to)
	}), mock.AnythingOfType("utils.Pagination")).Return([]models.Lead{}, int64(0), nil)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet,
		"/leads?source=linkedin&tag=vip&created_from=2026-03-01&created_to=2026-03-31", nil), -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	s.leads.AssertExpectations(s.T())

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/leads?created_from=March", nil), -1)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusUnprocessableEntity, resp.StatusCode)
}
