package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"leadforge/models"
	"leadforge/testdata/mocktransport"
	"leadforge/testdata/testdb"
	"leadforge/utils"
)

// dbSuite gives each test a fresh database, one tenant with an admin user
// and a controllable clock shared by the services under test.
type dbSuite struct {
	suite.Suite
	ctx     context.Context
	db      *gorm.DB
	logger  *logrus.Logger
	clock   time.Time
	company models.Company
	user    models.User
}

func (s *dbSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testdb.Open(s.T())
	s.logger, _ = test.NewNullLogger()
	s.clock = time.Now().UTC().Truncate(time.Second)
	s.company = s.seedCompany("Acme", models.PlanGrowth)
	s.user = s.seedUser(s.company.ID, "owner@acme.test", models.RoleAdmin)
}

func (s *dbSuite) now() time.Time { return s.clock }

func (s *dbSuite) advance(d time.Duration) { s.clock = s.clock.Add(d) }

func (s *dbSuite) seedCompany(name string, plan models.PlanType) models.Company {
	company := models.Company{
		Name:               name,
		Slug:               utils.Slugify(name),
		SubscriptionStatus: models.SubscriptionActive,
		BillingEmail:       "billing@" + utils.Slugify(name) + ".test",
	}
	company.ApplyPlan(models.DefaultPlan(plan))
	s.Require().NoError(s.db.Create(&company).Error)
	s.Require().NoError(s.db.Create(&models.CompanySettings{
		CompanyID:        company.ID,
		DefaultFromName:  name + " Sales",
		DefaultFromEmail: "sales@" + utils.Slugify(name) + ".test",
		Timezone:         "UTC",
	}).Error)
	return company
}

func (s *dbSuite) seedUser(companyID uint, email string, role models.Role) models.User {
	user := models.User{
		CompanyID:    companyID,
		Email:        email,
		FullName:     "Test User",
		PasswordHash: "x",
		Role:         role,
		IsActive:     true,
	}
	s.Require().NoError(s.db.Create(&user).Error)
	return user
}

func (s *dbSuite) seedLead(companyID uint, email string) models.Lead {
	lead := models.Lead{
		CompanyID:   companyID,
		FirstName:   "Lead",
		LastName:    email,
		Email:       email,
		EmailStatus: models.EmailUnverified,
		Source:      models.SourceManual,
		CompanyName: "Prospect Inc",
	}
	lead.RefreshFullName()
	s.Require().NoError(s.db.Create(&lead).Error)
	return lead
}

func (s *dbSuite) seedLeads(companyID uint, n int) []uint {
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.seedLead(companyID, fmt.Sprintf("lead%d@prospect.test", i+1)).ID)
	}
	return ids
}

func (s *dbSuite) campaignService() *CampaignService {
	svc := NewCampaignService(s.db, s.logger)
	svc.now = s.now
	return svc
}

func (s *dbSuite) enrollmentService() *EnrollmentService {
	svc := NewEnrollmentService(s.db, s.logger)
	svc.now = s.now
	return svc
}

func (s *dbSuite) sequenceService() *SequenceService {
	return NewSequenceService(s.db, s.logger)
}

// draftCampaign creates a DRAFT campaign with the given step delays and
// enrolled leads.
func (s *dbSuite) draftCampaign(delays []int, leadIDs []uint, opts ...func(*CreateCampaignInput)) *models.Campaign {
	in := CreateCampaignInput{Name: "Outbound", LeadIDs: leadIDs}
	for _, o := range opts {
		o(&in)
	}
	campaign, err := s.campaignService().Create(s.ctx, s.company.ID, s.user.ID, in)
	s.Require().NoError(err)
	for i, d := range delays {
		d := d
		_, err := s.sequenceService().AddStep(s.ctx, s.company.ID, campaign.ID, StepInput{
			Subject:    fmt.Sprintf("Step %d for {{first_name}}", i+1),
			Body:       fmt.Sprintf("<p>Hi {{first_name}}, step %d. <a href=\"https://example.com/offer\">offer</a></p>", i+1),
			DelayHours: &d,
		})
		s.Require().NoError(err)
	}
	return campaign
}

func (s *dbSuite) runningCampaign(delays []int, leadIDs []uint, opts ...func(*CreateCampaignInput)) *models.Campaign {
	campaign := s.draftCampaign(delays, leadIDs, opts...)
	started, err := s.campaignService().Start(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	return started
}

func (s *dbSuite) reloadCampaign(id uint) models.Campaign {
	var c models.Campaign
	s.Require().NoError(s.db.First(&c, id).Error)
	return c
}

func (s *dbSuite) tracker(campaignID, leadID uint) models.CampaignLead {
	var cl models.CampaignLead
	s.Require().NoError(s.db.Where("campaign_id = ? AND lead_id = ?", campaignID, leadID).First(&cl).Error)
	return cl
}

func throttle(hour, day int) func(*CreateCampaignInput) {
	return func(in *CreateCampaignInput) {
		in.ThrottlePerHour = &hour
		in.ThrottlePerDay = &day
	}
}

func stopOnReply(v bool) func(*CreateCampaignInput) {
	return func(in *CreateCampaignInput) { in.StopOnReply = &v }
}

// sentCampaign starts a campaign for n fresh leads and runs one dispatch
// cycle against a transport that accepts everything.
func (s *dbSuite) sentCampaign(delays []int, n int, opts ...func(*CreateCampaignInput)) (*models.Campaign, []uint) {
	ids := s.seedLeads(s.company.ID, n)
	campaign := s.runningCampaign(delays, ids, opts...)

	transport := &mocktransport.Transport{}
	transport.On("Send", mock.Anything, mock.Anything).Return("", nil)
	engine := NewDispatchEngine(s.db, transport, utils.NewTracker("https://track.acme.test", "tracking-secret"),
		s.campaignService(), DispatchConfig{}, s.logger)
	engine.now = s.now
	_, err := engine.RunCycle(s.ctx)
	s.Require().NoError(err)
	return campaign, ids
}

func (s *dbSuite) activityFor(trackerID uint) models.CampaignActivity {
	var a models.CampaignActivity
	s.Require().NoError(s.db.Where("campaign_lead_id = ?", trackerID).Order("id DESC").First(&a).Error)
	return a
}
