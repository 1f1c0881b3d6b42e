package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"leadforge/models"
)

type EventServiceTestSuite struct {
	dbSuite
}

func TestEventServiceSuite(t *testing.T) {
	suite.Run(t, new(EventServiceTestSuite))
}

func (s *EventServiceTestSuite) events() *EventService {
	svc := NewEventService(s.db, s.logger)
	svc.now = s.now
	return svc
}

func (s *EventServiceTestSuite) apply(campaignID, leadID uint, t models.EventType) *EventResult {
	res, err := s.events().ApplyEvent(s.ctx, s.company.ID, campaignID, leadID, models.CampaignEvent{Type: t})
	s.Require().NoError(err)
	return res
}

func (s *EventServiceTestSuite) TestOpenIsIdempotent() {
	campaign, ids := s.sentCampaign([]int{0, 24}, 1)

	first := s.apply(campaign.ID, ids[0], models.EventOpen)
	s.True(first.Applied)
	s.Equal(models.LeadOpened, first.CampaignLead.Status)
	s.Equal(models.OpenWeight, first.CampaignLead.EngagementScore)

	s.advance(time.Minute)
	second := s.apply(campaign.ID, ids[0], models.EventOpen)
	s.False(second.Applied)

	c := s.reloadCampaign(campaign.ID)
	s.Equal(1, c.EmailsOpened)
	tr := s.tracker(campaign.ID, ids[0])
	s.NotNil(tr.OpenedAt)
	s.NotNil(s.activityFor(tr.ID).OpenedAt)

	steps, err := s.sequenceService().List(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.Equal(1, steps[0].EmailsOpened)
	s.Zero(steps[1].EmailsOpened)
}

func (s *EventServiceTestSuite) TestClickImpliesOpen() {
	campaign, ids := s.sentCampaign([]int{0}, 1)

	res := s.apply(campaign.ID, ids[0], models.EventClick)
	s.Equal(models.LeadClicked, res.CampaignLead.Status)
	s.Equal(models.OpenWeight+models.ClickWeight, res.CampaignLead.EngagementScore)

	c := s.reloadCampaign(campaign.ID)
	s.Equal(1, c.EmailsOpened)
	s.Equal(1, c.EmailsClicked)
}

func (s *EventServiceTestSuite) TestStatusOnlyMovesForward() {
	campaign, ids := s.sentCampaign([]int{0}, 1)

	s.apply(campaign.ID, ids[0], models.EventReply)
	res := s.apply(campaign.ID, ids[0], models.EventOpen)

	s.Equal(models.LeadReplied, res.CampaignLead.Status)
	s.NotNil(res.CampaignLead.OpenedAt)
	s.Equal(models.OpenWeight+models.ReplyWeight, res.CampaignLead.EngagementScore)
	s.Equal(models.LeadReplied, s.tracker(campaign.ID, ids[0]).Status)
}

func (s *EventServiceTestSuite) TestReplyCompletesWhenStopOnReply() {
	campaign, ids := s.sentCampaign([]int{0, 24}, 1, stopOnReply(true))

	res := s.apply(campaign.ID, ids[0], models.EventReply)
	s.NotNil(res.CampaignLead.CompletedAt)
	s.Equal(1, s.reloadCampaign(campaign.ID).EmailsReplied)

	done, err := s.campaignService().CompleteIfFinished(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.True(done)
}

func (s *EventServiceTestSuite) TestHardBounceSuppressesAddress() {
	campaign, ids := s.sentCampaign([]int{0, 24}, 1)

	res, err := s.events().ApplyEvent(s.ctx, s.company.ID, campaign.ID, ids[0], models.CampaignEvent{
		Type:       models.EventBounce,
		Diagnostic: "550 5.1.1 user unknown",
	})
	s.Require().NoError(err)
	s.True(res.Applied)
	s.Equal(models.LeadBounced, res.CampaignLead.Status)

	var bounce models.Bounce
	s.Require().NoError(s.db.Where("company_id = ? AND email = ?", s.company.ID, "lead1@prospect.test").First(&bounce).Error)
	s.Equal(models.BounceHard, bounce.Type)
	s.Equal("550 5.1.1 user unknown", bounce.DiagnosticCode)

	var lead models.Lead
	s.Require().NoError(s.db.First(&lead, ids[0]).Error)
	s.Equal(models.EmailInvalid, lead.EmailStatus)
	s.Equal(1, s.reloadCampaign(campaign.ID).EmailsBounced)

	// terminal trackers ignore everything afterwards
	after := s.apply(campaign.ID, ids[0], models.EventOpen)
	s.False(after.Applied)
	s.Equal(models.LeadBounced, s.tracker(campaign.ID, ids[0]).Status)
	s.Zero(s.reloadCampaign(campaign.ID).EmailsOpened)
}

func (s *EventServiceTestSuite) TestSoftBounceKeepsAddress() {
	campaign, ids := s.sentCampaign([]int{0}, 1)

	_, err := s.events().ApplyEvent(s.ctx, s.company.ID, campaign.ID, ids[0], models.CampaignEvent{
		Type:       models.EventBounce,
		BounceType: "soft",
	})
	s.Require().NoError(err)

	var lead models.Lead
	s.Require().NoError(s.db.First(&lead, ids[0]).Error)
	s.NotEqual(models.EmailInvalid, lead.EmailStatus)
	s.Equal(models.LeadBounced, s.tracker(campaign.ID, ids[0]).Status)
}

func (s *EventServiceTestSuite) TestUnsubscribeBeforeFirstSend() {
	ids := s.seedLeads(s.company.ID, 1)
	campaign := s.runningCampaign([]int{24}, ids)

	_, err := s.events().ApplyEvent(s.ctx, s.company.ID, campaign.ID, ids[0], models.CampaignEvent{Type: models.EventOpen})
	s.True(errors.Is(err, models.ErrInvalidTransition))

	res := s.apply(campaign.ID, ids[0], models.EventUnsubscribe)
	s.True(res.Applied)
	s.Equal(models.LeadUnsubscribed, res.CampaignLead.Status)

	var n int64
	s.db.Model(&models.Unsubscribe{}).Where("company_id = ? AND email = ?", s.company.ID, "lead1@prospect.test").Count(&n)
	s.EqualValues(1, n)
	s.Equal(1, s.reloadCampaign(campaign.ID).Unsubscribes)
}

func (s *EventServiceTestSuite) TestByMessageID() {
	campaign, ids := s.sentCampaign([]int{0}, 1)
	tr := s.tracker(campaign.ID, ids[0])
	activity := s.activityFor(tr.ID)

	res, err := s.events().ApplyEventByMessageID(s.ctx, activity.MessageID, models.CampaignEvent{Type: models.EventReply, Source: "inbox"})
	s.Require().NoError(err)
	s.True(res.Applied)
	s.Equal(tr.ID, res.CampaignLead.ID)
	s.NotNil(s.activityFor(tr.ID).RepliedAt)

	_, err = s.events().ApplyEventByMessageID(s.ctx, "unknown@id", models.CampaignEvent{Type: models.EventOpen})
	s.True(errors.Is(err, models.ErrNotFound))
	_, err = s.events().ApplyEventByMessageID(s.ctx, " ", models.CampaignEvent{Type: models.EventOpen})
	s.True(errors.Is(err, models.ErrValidation))
}

func (s *EventServiceTestSuite) TestUnknownTrackerAndType() {
	campaign, ids := s.sentCampaign([]int{0}, 1)
	other := s.seedLead(s.company.ID, "notenrolled@prospect.test")

	_, err := s.events().ApplyEvent(s.ctx, s.company.ID, campaign.ID, other.ID, models.CampaignEvent{Type: models.EventOpen})
	s.True(errors.Is(err, models.ErrNotFound))

	_, err = s.events().ApplyEvent(s.ctx, s.company.ID, campaign.ID, ids[0], models.CampaignEvent{Type: "forwarded"})
	s.True(errors.Is(err, models.ErrValidation))

	globex := s.seedCompany("Globex", models.PlanGrowth)
	_, err = s.events().ApplyEvent(s.ctx, globex.ID, campaign.ID, ids[0], models.CampaignEvent{Type: models.EventOpen})
	s.True(errors.Is(err, models.ErrNotFound))
}
