package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"leadforge/models"
	"leadforge/utils"
)

type AnalyticsServiceTestSuite struct {
	dbSuite
}

func TestAnalyticsServiceSuite(t *testing.T) {
	suite.Run(t, new(AnalyticsServiceTestSuite))
}

func (s *AnalyticsServiceTestSuite) analytics() *AnalyticsService {
	svc := NewAnalyticsService(s.db, s.logger)
	svc.now = s.now
	return svc
}

// engaged sends one step to four leads: one opens, one clicks, one replies.
func (s *AnalyticsServiceTestSuite) engaged() *models.Campaign {
	campaign, ids := s.sentCampaign([]int{0}, 4)
	events := NewEventService(s.db, s.logger)
	events.now = s.now
	for i, t := range []models.EventType{models.EventOpen, models.EventClick, models.EventReply} {
		_, err := events.ApplyEvent(s.ctx, s.company.ID, campaign.ID, ids[i], models.CampaignEvent{Type: t})
		s.Require().NoError(err)
	}
	return campaign
}

func (s *AnalyticsServiceTestSuite) TestCampaignAnalytics() {
	campaign := s.engaged()

	a, err := s.analytics().CampaignAnalytics(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.EqualValues(4, a.Emails.Sent)
	s.EqualValues(2, a.Emails.Opened)
	s.EqualValues(1, a.Emails.Clicked)
	s.EqualValues(1, a.Emails.Replied)
	s.Equal(50.0, a.Emails.OpenRate)
	s.Equal(25.0, a.Emails.ReplyRate)

	s.Require().Len(a.Steps, 1)
	s.Equal(4, a.Steps[0].Sent)
	s.Equal(50.0, a.Steps[0].OpenRate)

	s.EqualValues(1, a.LeadStatuses[models.LeadSent])
	s.EqualValues(1, a.LeadStatuses[models.LeadOpened])
	s.EqualValues(1, a.LeadStatuses[models.LeadClicked])
	s.EqualValues(1, a.LeadStatuses[models.LeadReplied])

	s.Require().Len(a.Variants, 1)
	s.Equal(models.VariantA, a.Variants[0].Variant)
	s.EqualValues(4, a.Variants[0].Sent)

	// (0 + 1 + 4 + 5) / 4
	s.Equal(2.5, a.AvgEngagement)
}

func (s *AnalyticsServiceTestSuite) TestCampaignAnalyticsOtherTenant() {
	campaign := s.draftCampaign([]int{0}, nil)
	globex := s.seedCompany("Globex", models.PlanGrowth)

	_, err := s.analytics().CampaignAnalytics(s.ctx, globex.ID, campaign.ID)
	s.True(errors.Is(err, models.ErrNotFound))
}

func (s *AnalyticsServiceTestSuite) TestDashboard() {
	s.engaged()

	d, err := s.analytics().Dashboard(s.ctx, s.company.ID, "bogus")
	s.Require().NoError(err)
	s.Equal("week", d.TimeFrame)
	s.EqualValues(4, d.Leads.Total)
	s.EqualValues(4, d.LeadsBySource[models.SourceManual])
	s.EqualValues(1, d.Campaigns[models.CampaignCompleted])
	s.Zero(d.Campaigns[models.CampaignRunning])
	s.EqualValues(4, d.Emails.Sent)
	s.EqualValues(2, d.Emails.Opened)
	s.Len(d.RecentLeads, 4)
	s.Require().Len(d.RecentCampaigns, 1)
	s.Equal(50.0, d.RecentCampaigns[0].OpenRate)
}

func (s *AnalyticsServiceTestSuite) TestMetricsOverTimeFillsEmptyDays() {
	campaign := s.engaged()

	ts, err := s.analytics().MetricsOverTime(s.ctx, s.company.ID, &campaign.ID, 7)
	s.Require().NoError(err)
	s.Require().Len(ts.Labels, 7)
	s.Equal(s.now().Format("2006-01-02"), ts.Labels[6])
	s.Require().Len(ts.Datasets, 4)

	sent := ts.Datasets[0]
	s.Equal("sent", sent.Label)
	s.Equal([]float64{0, 0, 0, 0, 0, 0, 4}, sent.Data)
	s.Equal(2.0, ts.Datasets[1].Data[6])
	s.Equal(1.0, ts.Datasets[2].Data[6])
	s.Equal(1.0, ts.Datasets[3].Data[6])

	_, err = s.analytics().MetricsOverTime(s.ctx, s.company.ID, nil, 400)
	s.True(errors.Is(err, models.ErrValidation))

	defaults, err := s.analytics().MetricsOverTime(s.ctx, s.company.ID, nil, 0)
	s.Require().NoError(err)
	s.Len(defaults.Labels, 30)
}

func (s *AnalyticsServiceTestSuite) TestRollupIsUpsert() {
	campaign := s.engaged()
	svc := s.analytics()

	n, err := svc.RollupDailyStats(s.ctx, s.now())
	s.Require().NoError(err)
	s.Equal(1, n)

	// a late unsubscribe is picked up by the next rollup of the same day
	events := NewEventService(s.db, s.logger)
	events.now = s.now
	var last models.CampaignLead
	s.Require().NoError(s.db.Where("campaign_id = ?", campaign.ID).Order("id DESC").First(&last).Error)
	_, err = events.ApplyEvent(s.ctx, s.company.ID, campaign.ID, last.LeadID, models.CampaignEvent{Type: models.EventUnsubscribe})
	s.Require().NoError(err)

	_, err = svc.RollupDailyStats(s.ctx, s.now())
	s.Require().NoError(err)

	rows, err := svc.DailyStats(s.ctx, s.company.ID, s.now(), s.now())
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(4, rows[0].EmailsSent)
	s.Equal(2, rows[0].EmailsOpened)
	s.Equal(1, rows[0].EmailsReplied)
	s.Equal(1, rows[0].Unsubscribes)
}

func (s *AnalyticsServiceTestSuite) TestCampaignsOverview() {
	s.engaged()
	s.draftCampaign([]int{0}, nil)
	globex := s.seedCompany("Globex", models.PlanGrowth)
	s.Require().NoError(s.db.Create(&models.Campaign{
		CompanyID:  globex.ID,
		Name:       "Other tenant",
		Status:     models.CampaignCompleted,
		EmailsSent: 10,
	}).Error)

	o, err := s.analytics().CampaignsOverview(s.ctx, s.company.ID)
	s.Require().NoError(err)
	s.EqualValues(2, o.TotalCampaigns)
	s.Equal(StatusTotals{Count: 1, Sent: 4, Opened: 2, Clicked: 1}, o.ByStatus[models.CampaignCompleted])
	s.Equal(StatusTotals{Count: 1}, o.ByStatus[models.CampaignDraft])
	s.EqualValues(4, o.TotalSent)
	s.EqualValues(1, o.TotalReplied)
	s.Equal(50.0, o.AvgOpenRate)
	s.Equal(25.0, o.AvgClickRate)
	s.Equal(25.0, o.AvgReplyRate)

	empty, err := s.analytics().CampaignsOverview(s.ctx, s.seedCompany("Initech", models.PlanGrowth).ID)
	s.Require().NoError(err)
	s.Zero(empty.TotalCampaigns)
	s.Zero(empty.AvgOpenRate)
}

func (s *AnalyticsServiceTestSuite) TestTeamActivity() {
	rep := s.seedUser(s.company.ID, "rep@acme.test", models.RoleSales)
	leads := NewLeadService(s.db, utils.FixtureVerifier{}, utils.FixtureEnricher{}, s.logger)
	leads.now = s.now
	for _, email := range []string{"ann@northwind.com", "ben@northwind.com"} {
		_, err := leads.Create(s.ctx, s.company.ID, rep.ID, CreateLeadInput{Email: email})
		s.Require().NoError(err)
	}
	// seeded leads have no creator
	s.seedLeads(s.company.ID, 3)
	s.draftCampaign([]int{0}, nil)
	s.seedUser(s.seedCompany("Globex", models.PlanGrowth).ID, "someone@globex.test", models.RoleAdmin)

	t, err := s.analytics().TeamActivity(s.ctx, s.company.ID)
	s.Require().NoError(err)
	s.Equal(2, t.TotalUsers)
	s.Require().Len(t.Users, 2)

	owner, member := t.Users[0], t.Users[1]
	s.Equal(s.user.ID, owner.UserID)
	s.Zero(owner.LeadsAdded)
	s.EqualValues(1, owner.CampaignsCreated)
	s.Equal(rep.ID, member.UserID)
	s.Equal("rep@acme.test", member.Email)
	s.EqualValues(2, member.LeadsAdded)
	s.Zero(member.CampaignsCreated)
}
