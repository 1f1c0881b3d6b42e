package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"leadforge/config"
	"leadforge/models"
	"leadforge/services"
	"leadforge/testdata/mockservice"
	"leadforge/testdata/mocktransport"
	"leadforge/testdata/testdb"
	"leadforge/utils"
)

var _ EventApplier = &mockservice.Events{}

type fakeMailbox struct {
	messages [][]byte
	since    []time.Time
	closed   bool
}

func (f *fakeMailbox) Fetch(since time.Time, limit int) ([][]byte, error) {
	f.since = append(f.since, since)
	return f.messages, nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

type InboxWorkerTestSuite struct {
	suite.Suite
	db        *gorm.DB
	events    *mockservice.Events
	transport *mocktransport.Transport
	mailbox   *fakeMailbox
	worker    *InboxWorker
	now       time.Time
	prevKey   string

	company  models.Company
	settings models.CompanySettings
	owner    models.User
	tracker  models.CampaignLead
	activity models.CampaignActivity
}

func TestInboxWorkerSuite(t *testing.T) {
	suite.Run(t, new(InboxWorkerTestSuite))
}

func (s *InboxWorkerTestSuite) SetupTest() {
	s.prevKey = config.AppConfig.EncryptionKey
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	s.db = testdb.Open(s.T())
	s.events = &mockservice.Events{}
	s.transport = &mocktransport.Transport{}
	s.mailbox = &fakeMailbox{}
	s.now = time.Date(2026, 10, 12, 12, 0, 0, 0, time.UTC)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s.worker = NewInboxWorker(s.db, s.events, s.transport, "Leadforge", time.Minute, logger)
	s.worker.now = func() time.Time { return s.now }
	s.worker.dial = func(models.CompanySettings, string) (Mailbox, error) { return s.mailbox, nil }

	s.company, s.settings = s.seedCompany("Acme")
	s.owner = models.User{CompanyID: s.company.ID, Email: "owner@acme.test", FullName: "Olga Owner", PasswordHash: "x", Role: models.RoleAdmin, IsActive: true}
	s.Require().NoError(s.db.Create(&s.owner).Error)

	campaign := models.Campaign{
		CompanyID: s.company.ID, Name: "Q4 outreach", Status: models.CampaignRunning,
		ThrottlePerHour: 10, ThrottlePerDay: 100, CreatedBy: s.owner.ID,
	}
	s.Require().NoError(s.db.Create(&campaign).Error)
	lead := models.Lead{CompanyID: s.company.ID, FullName: "Ada Lovelace", Email: "ada@prospect.test", EmailStatus: models.EmailValid, Source: models.SourceManual}
	s.Require().NoError(s.db.Create(&lead).Error)
	s.tracker = models.CampaignLead{CompanyID: s.company.ID, CampaignID: campaign.ID, LeadID: lead.ID, Status: models.LeadSent, CurrentStep: 2, EnrolledAt: s.now}
	s.Require().NoError(s.db.Create(&s.tracker).Error)
	s.activity = models.CampaignActivity{
		CompanyID: s.company.ID, CampaignID: campaign.ID, CampaignLeadID: s.tracker.ID, LeadID: lead.ID,
		SequenceID: 1, StepOrder: 2, Variant: models.VariantA, Recipient: lead.Email,
		MessageID: "step2-id", Status: models.DispatchSent, SentAt: s.now.Add(-time.Hour),
	}
	s.Require().NoError(s.db.Create(&s.activity).Error)
}

func (s *InboxWorkerTestSuite) TearDownTest() {
	config.AppConfig.EncryptionKey = s.prevKey
}

func (s *InboxWorkerTestSuite) seedCompany(name string) (models.Company, models.CompanySettings) {
	slug := utils.Slugify(name)
	company := models.Company{Name: name, Slug: slug, SubscriptionStatus: models.SubscriptionActive, BillingEmail: "billing@" + slug + ".test"}
	company.ApplyPlan(models.DefaultPlan(models.PlanGrowth))
	s.Require().NoError(s.db.Create(&company).Error)

	password, err := utils.Encrypt("imap-secret")
	s.Require().NoError(err)
	settings := models.CompanySettings{
		CompanyID: company.ID, DefaultFromEmail: "sales@" + slug + ".test", Timezone: "UTC",
		NotifyOnReply: true, InboxHost: "imap." + slug + ".test", InboxUsername: "sales@" + slug + ".test",
		InboxPasswordEnc: password, InboxUseTLS: true,
	}
	s.Require().NoError(s.db.Create(&settings).Error)
	return company, settings
}

func (s *InboxWorkerTestSuite) reloadSettings() models.CompanySettings {
	var settings models.CompanySettings
	s.Require().NoError(s.db.First(&settings, s.settings.ID).Error)
	return settings
}

func (s *InboxWorkerTestSuite) TestReplyIsAppliedOnceAndNotifies() {
	s.mailbox.messages = [][]byte{crlf(replyMail)}
	s.events.On("ApplyEventByMessageID", mock.Anything, "step2-id", mock.MatchedBy(func(ev models.CampaignEvent) bool {
		return ev.Type == models.EventReply && ev.Source == "inbox"
	})).Return(&services.EventResult{Applied: true, CampaignLead: &s.tracker}, nil).Once()
	s.transport.On("Send", mock.Anything, mock.MatchedBy(func(e utils.OutboundEmail) bool {
		return e.To == "owner@acme.test" && strings.Contains(e.Subject+e.HTMLBody, "Ada Lovelace")
	})).Return("ok", nil).Once()

	n, err := s.worker.PollCompany(context.Background(), s.settings)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.True(s.mailbox.closed)
	s.WithinDuration(s.now.Add(-inboxLookback), s.mailbox.since[0], time.Second)

	var stored models.InboxMessage
	s.Require().NoError(s.db.Where("company_id = ?", s.company.ID).First(&stored).Error)
	s.Equal("reply-1@prospect.test", stored.MessageID)
	s.Equal(models.EventReply, stored.Kind)
	s.Equal(s.activity.ID, *stored.ActivityID)

	// the next poll overlaps the previous one and sees the same message
	settings := s.reloadSettings()
	s.Require().NotNil(settings.InboxLastPolledAt)
	s.now = s.now.Add(time.Hour)
	n, err = s.worker.PollCompany(context.Background(), settings)
	s.Require().NoError(err)
	s.Equal(0, n)
	s.WithinDuration(settings.InboxLastPolledAt.Add(-inboxOverlap), s.mailbox.since[1], time.Second)

	s.events.AssertExpectations(s.T())
	s.transport.AssertExpectations(s.T())
}

func (s *InboxWorkerTestSuite) TestForeignActivityIsIgnored() {
	other, otherSettings := s.seedCompany("Globex")
	s.Require().NotEqual(s.company.ID, other.ID)

	s.mailbox.messages = [][]byte{crlf(replyMail)}
	n, err := s.worker.PollCompany(context.Background(), otherSettings)
	s.Require().NoError(err)
	s.Equal(0, n)

	var count int64
	s.db.Model(&models.InboxMessage{}).Count(&count)
	s.Zero(count)
	s.events.AssertNotCalled(s.T(), "ApplyEventByMessageID", mock.Anything, mock.Anything, mock.Anything)
}

func (s *InboxWorkerTestSuite) TestBounceCarriesBounceType() {
	s.activity.MessageID = "sent-42"
	s.Require().NoError(s.db.Save(&s.activity).Error)

	s.mailbox.messages = [][]byte{crlf(strings.Replace(bounceMail, "%STATUS%", "5.1.1", 1))}
	s.events.On("ApplyEventByMessageID", mock.Anything, "sent-42", mock.MatchedBy(func(ev models.CampaignEvent) bool {
		return ev.Type == models.EventBounce && ev.BounceType == "hard" && strings.Contains(ev.Diagnostic, "5.1.1")
	})).Return(&services.EventResult{Applied: true, CampaignLead: &s.tracker}, nil).Once()

	n, err := s.worker.PollCompany(context.Background(), s.settings)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.events.AssertExpectations(s.T())
	s.transport.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything)
}

func (s *InboxWorkerTestSuite) TestUnexpectedFailureIsRetried() {
	s.mailbox.messages = [][]byte{crlf(replyMail)}
	s.events.On("ApplyEventByMessageID", mock.Anything, "step2-id", mock.Anything).
		Return(nil, errors.New("connection reset")).Once()

	n, err := s.worker.PollCompany(context.Background(), s.settings)
	s.Require().NoError(err)
	s.Equal(0, n)

	var count int64
	s.db.Model(&models.InboxMessage{}).Count(&count)
	s.Zero(count)

	s.events.On("ApplyEventByMessageID", mock.Anything, "step2-id", mock.Anything).
		Return(&services.EventResult{Applied: false, CampaignLead: &s.tracker}, nil).Once()
	n, err = s.worker.PollCompany(context.Background(), s.settings)
	s.Require().NoError(err)
	s.Equal(1, n)
}
