package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"leadforge/models"
	"leadforge/utils"
)

type CampaignServiceTestSuite struct {
	dbSuite
}

func TestCampaignServiceSuite(t *testing.T) {
	suite.Run(t, new(CampaignServiceTestSuite))
}

func (s *CampaignServiceTestSuite) TestCreateAppliesDefaults() {
	campaign, err := s.campaignService().Create(s.ctx, s.company.ID, s.user.ID, CreateCampaignInput{Name: "Q3 outreach"})
	s.Require().NoError(err)

	s.Equal(models.CampaignDraft, campaign.Status)
	s.Equal(models.DefaultThrottlePerHour, campaign.ThrottlePerHour)
	s.Equal(models.DefaultThrottlePerDay, campaign.ThrottlePerDay)
	s.True(campaign.StopOnReply)
	s.True(campaign.TrackOpens)
	s.Equal("Acme Sales", campaign.FromName)
	s.Equal("sales@acme.test", campaign.FromEmail)
	s.Zero(campaign.TotalLeads)
}

func (s *CampaignServiceTestSuite) TestCreateRejectsZeroThrottle() {
	zero := 0
	_, err := s.campaignService().Create(s.ctx, s.company.ID, s.user.ID, CreateCampaignInput{Name: "x", ThrottlePerHour: &zero})
	s.True(errors.Is(err, models.ErrValidation))
}

func (s *CampaignServiceTestSuite) TestCreateEnrollsLeads() {
	ids := s.seedLeads(s.company.ID, 3)
	campaign := s.draftCampaign(nil, ids)
	s.Equal(3, campaign.TotalLeads)
}

func (s *CampaignServiceTestSuite) TestStartRequiresStepsAndLeads() {
	svc := s.campaignService()

	empty := s.draftCampaign(nil, nil)
	_, err := svc.Start(s.ctx, s.company.ID, empty.ID)
	s.Require().True(errors.Is(err, models.ErrInvalidTransition))
	appErr, ok := models.AsAppError(err)
	s.Require().True(ok)
	s.EqualValues(0, appErr.Details["steps"])

	noLeads := s.draftCampaign([]int{0}, nil)
	_, err = svc.Start(s.ctx, s.company.ID, noLeads.ID)
	s.True(errors.Is(err, models.ErrInvalidTransition))

	ready := s.draftCampaign([]int{0}, s.seedLeads(s.company.ID, 1))
	started, err := svc.Start(s.ctx, s.company.ID, ready.ID)
	s.Require().NoError(err)
	s.Equal(models.CampaignRunning, started.Status)
	s.NotNil(started.StartedAt)
}

func (s *CampaignServiceTestSuite) TestLifecycle() {
	svc := s.campaignService()
	campaign := s.runningCampaign([]int{0}, s.seedLeads(s.company.ID, 1))

	paused, err := svc.Pause(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.Equal(models.CampaignPaused, paused.Status)

	_, err = svc.Pause(s.ctx, s.company.ID, campaign.ID)
	s.True(errors.Is(err, models.ErrInvalidTransition))

	resumed, err := svc.Resume(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.Equal(models.CampaignRunning, resumed.Status)

	canceled, err := svc.Cancel(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.Equal(models.CampaignCanceled, canceled.Status)
	s.NotNil(canceled.CompletedAt)

	for _, action := range []func() error{
		func() error { _, err := svc.Start(s.ctx, s.company.ID, campaign.ID); return err },
		func() error { _, err := svc.Resume(s.ctx, s.company.ID, campaign.ID); return err },
		func() error { _, err := svc.Cancel(s.ctx, s.company.ID, campaign.ID); return err },
	} {
		s.True(errors.Is(action(), models.ErrInvalidTransition))
	}
}

func (s *CampaignServiceTestSuite) TestEditOnlyInDraft() {
	svc := s.campaignService()
	campaign := s.runningCampaign([]int{0}, s.seedLeads(s.company.ID, 1))

	name := "renamed"
	_, err := svc.Update(s.ctx, s.company.ID, campaign.ID, UpdateCampaignInput{Name: &name})
	s.True(errors.Is(err, models.ErrInvalidTransition))

	_, err = s.sequenceService().AddStep(s.ctx, s.company.ID, campaign.ID, StepInput{Subject: "s", Body: "b"})
	s.True(errors.Is(err, models.ErrInvalidTransition))
}

func (s *CampaignServiceTestSuite) TestOtherTenantSeesNotFound() {
	campaign := s.draftCampaign([]int{0}, nil)
	other := s.seedCompany("Globex", models.PlanGrowth)

	_, err := s.campaignService().Get(s.ctx, other.ID, campaign.ID)
	s.True(errors.Is(err, models.ErrNotFound))

	_, err = s.campaignService().Start(s.ctx, other.ID, campaign.ID)
	s.True(errors.Is(err, models.ErrNotFound))
}

func (s *CampaignServiceTestSuite) TestDeleteRejectsRunning() {
	svc := s.campaignService()
	campaign := s.runningCampaign([]int{0}, s.seedLeads(s.company.ID, 2))

	s.True(errors.Is(svc.Delete(s.ctx, s.company.ID, campaign.ID), models.ErrInvalidTransition))

	_, err := svc.Pause(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.Require().NoError(svc.Delete(s.ctx, s.company.ID, campaign.ID))

	var trackers, steps int64
	s.db.Model(&models.CampaignLead{}).Where("campaign_id = ?", campaign.ID).Count(&trackers)
	s.db.Model(&models.EmailSequence{}).Where("campaign_id = ?", campaign.ID).Count(&steps)
	s.Zero(trackers)
	s.Zero(steps)
}

func (s *CampaignServiceTestSuite) TestGetIncludesOrderedStepsAndCounts() {
	campaign := s.draftCampaign([]int{0, 24, 48}, s.seedLeads(s.company.ID, 2))

	detail, err := s.campaignService().Get(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.Require().Len(detail.Sequences, 3)
	for i, st := range detail.Sequences {
		s.Equal(i+1, st.StepOrder)
	}
	s.EqualValues(2, detail.LeadStatusCounts[models.LeadPending])
}

func (s *CampaignServiceTestSuite) TestListFiltersByStatus() {
	svc := s.campaignService()
	s.draftCampaign(nil, nil)
	s.runningCampaign([]int{0}, s.seedLeads(s.company.ID, 1))

	running, total, err := svc.List(s.ctx, s.company.ID, "running", utils.NewPagination(1, 20))
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Len(running, 1)

	_, _, err = svc.List(s.ctx, s.company.ID, "scheduled-ish", utils.NewPagination(1, 20))
	s.True(errors.Is(err, models.ErrValidation))
}

func (s *CampaignServiceTestSuite) TestCompleteIfFinished() {
	svc := s.campaignService()
	ids := s.seedLeads(s.company.ID, 1)
	campaign := s.runningCampaign([]int{0}, ids)

	done, err := svc.CompleteIfFinished(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.False(done)

	s.Require().NoError(s.db.Model(&models.CampaignLead{}).
		Where("campaign_id = ?", campaign.ID).
		Updates(map[string]interface{}{"current_step": 1, "status": models.LeadSent}).Error)

	done, err = svc.CompleteIfFinished(s.ctx, s.company.ID, campaign.ID)
	s.Require().NoError(err)
	s.True(done)
	s.Equal(models.CampaignCompleted, s.reloadCampaign(campaign.ID).Status)
}
