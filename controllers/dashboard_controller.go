package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"leadforge/services"
)

type AnalyticsService interface {
	Dashboard(ctx context.Context, companyID uint, timeFrame string) (*services.Dashboard, error)
	LeadAnalytics(ctx context.Context, companyID uint) (*services.LeadAnalytics, error)
	CampaignAnalytics(ctx context.Context, companyID, campaignID uint) (*services.CampaignAnalytics, error)
	MetricsOverTime(ctx context.Context, companyID uint, campaignID *uint, days int) (*services.TimeSeries, error)
	CampaignsOverview(ctx context.Context, companyID uint) (*services.CampaignsOverview, error)
	TeamActivity(ctx context.Context, companyID uint) (*services.TeamActivity, error)
}

type DashboardController struct {
	analytics AnalyticsService
}

func NewDashboardController(analytics AnalyticsService) *DashboardController {
	return &DashboardController{analytics: analytics}
}

// Dashboard accepts time_frame=hour|day|week|month, defaulting to month.
func (dc *DashboardController) Dashboard(c *fiber.Ctx) error {
	dash, err := dc.analytics.Dashboard(c.UserContext(), caller(c).CompanyID, c.Query("time_frame", "month"))
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, dash)
}

func (dc *DashboardController) Leads(c *fiber.Ctx) error {
	stats, err := dc.analytics.LeadAnalytics(c.UserContext(), caller(c).CompanyID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, stats)
}

// Campaigns sums every campaign of the company by status.
func (dc *DashboardController) Campaigns(c *fiber.Ctx) error {
	stats, err := dc.analytics.CampaignsOverview(c.UserContext(), caller(c).CompanyID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, stats)
}

func (dc *DashboardController) Team(c *fiber.Ctx) error {
	stats, err := dc.analytics.TeamActivity(c.UserContext(), caller(c).CompanyID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, stats)
}

func (dc *DashboardController) Campaign(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	stats, err := dc.analytics.CampaignAnalytics(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, stats)
}

// Metrics returns daily sent/opened/clicked/replied buckets over the last
// days days (default 30), optionally for one campaign.
func (dc *DashboardController) Metrics(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	var campaignID *uint
	if v := c.QueryInt("campaign_id", 0); v > 0 {
		id := uint(v)
		campaignID = &id
	}
	series, err := dc.analytics.MetricsOverTime(c.UserContext(), caller(c).CompanyID, campaignID, days)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, series)
}
