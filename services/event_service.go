package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/utils"
)

type EventService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    Clock
}

func NewEventService(db *gorm.DB, logger *logrus.Logger) *EventService {
	return &EventService{db: db, logger: logger, now: utcNow}
}

// EventResult reports what an event changed on the tracker.
type EventResult struct {
	CampaignLead *models.CampaignLead `json:"campaign_lead"`
	Applied      bool                 `json:"applied"`
}

// ApplyEvent records an engagement event for a lead enrolled in a campaign.
func (s *EventService) ApplyEvent(ctx context.Context, companyID, campaignID, leadID uint, ev models.CampaignEvent) (*EventResult, error) {
	if _, err := models.ParseEventType(string(ev.Type)); err != nil {
		return nil, models.NewValidation(err.Error(), map[string]string{"type": "unknown event type"})
	}

	var result *EventResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign models.Campaign
		if err := findOwned(tx, &campaign, companyID, campaignID, "campaign"); err != nil {
			return err
		}
		var tracker models.CampaignLead
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ? AND lead_id = ? AND company_id = ?", campaignID, leadID, companyID).
			First(&tracker).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFound("campaign lead", leadID)
		}
		if err != nil {
			return err
		}

		var activity *models.CampaignActivity
		if tracker.CurrentStep > 0 {
			var a models.CampaignActivity
			err := tx.Where("campaign_lead_id = ? AND step_order = ? AND status = ?", tracker.ID, tracker.CurrentStep, models.DispatchSent).
				Order("id DESC").Limit(1).Find(&a).Error
			if err != nil {
				return err
			}
			if a.ID != 0 {
				activity = &a
			}
		}

		applied, err := s.apply(tx, &campaign, &tracker, activity, ev)
		if err != nil {
			return err
		}
		result = &EventResult{CampaignLead: &tracker, Applied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyEventByMessageID resolves the dispatch record behind a tracking link,
// webhook or inbox message and applies the event to its tracker.
func (s *EventService) ApplyEventByMessageID(ctx context.Context, messageID string, ev models.CampaignEvent) (*EventResult, error) {
	if _, err := models.ParseEventType(string(ev.Type)); err != nil {
		return nil, models.NewValidation(err.Error(), map[string]string{"type": "unknown event type"})
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, models.NewValidation("message id is required", map[string]string{"message_id": "required"})
	}

	var result *EventResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activity models.CampaignActivity
		err := tx.Where("message_id = ? OR provider_message_id = ?", messageID, messageID).First(&activity).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFound("message", messageID)
		}
		if err != nil {
			return err
		}

		var campaign models.Campaign
		if err := tx.Where("id = ?", activity.CampaignID).First(&campaign).Error; err != nil {
			return err
		}
		var tracker models.CampaignLead
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", activity.CampaignLeadID).First(&tracker).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFound("campaign lead", activity.CampaignLeadID)
			}
			return err
		}

		applied, err := s.apply(tx, &campaign, &tracker, &activity, ev)
		if err != nil {
			return err
		}
		result = &EventResult{CampaignLead: &tracker, Applied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// apply mutates a locked tracker. Applied is false when the event was a
// repeat or the tracker is already terminal.
func (s *EventService) apply(tx *gorm.DB, campaign *models.Campaign, tracker *models.CampaignLead, activity *models.CampaignActivity, ev models.CampaignEvent) (bool, error) {
	if tracker.Status.IsTerminal() {
		return false, nil
	}
	if ev.Type != models.EventUnsubscribe && tracker.CurrentStep == 0 {
		return false, models.NewInvalidTransition("campaign lead", string(tracker.Status), string(ev.Type))
	}

	at := ev.OccurredAt.UTC()
	if ev.OccurredAt.IsZero() {
		at = s.now()
	}
	step := tracker.CurrentStep
	if activity != nil {
		step = activity.StepOrder
	}

	c := &eventChange{
		tracker:   map[string]interface{}{},
		activity:  map[string]interface{}{},
		campaign:  map[string]int{},
		stepCount: map[string]int{},
	}

	switch ev.Type {
	case models.EventOpen:
		s.markOpened(tracker, activity, c, at)
	case models.EventClick:
		s.markOpened(tracker, activity, c, at)
		if tracker.ClickedAt == nil {
			tracker.ClickedAt = &at
			c.tracker["clicked_at"] = at
			c.campaign["emails_clicked"]++
			c.stepCount["emails_clicked"]++
		}
		if activity != nil && activity.ClickedAt == nil {
			c.activity["clicked_at"] = at
		}
		c.advance(tracker, models.LeadClicked)
	case models.EventReply:
		if tracker.RepliedAt == nil {
			tracker.RepliedAt = &at
			c.tracker["replied_at"] = at
			c.campaign["emails_replied"]++
			c.stepCount["emails_replied"]++
		}
		if activity != nil && activity.RepliedAt == nil {
			c.activity["replied_at"] = at
		}
		c.advance(tracker, models.LeadReplied)
		if campaign.StopOnReply && tracker.CompletedAt == nil {
			tracker.CompletedAt = &at
			c.tracker["completed_at"] = at
		}
	case models.EventBounce:
		if err := s.recordBounce(tx, campaign, tracker, ev); err != nil {
			return false, err
		}
		tracker.BouncedAt = &at
		tracker.Status = models.LeadBounced
		c.tracker["bounced_at"] = at
		c.tracker["status"] = models.LeadBounced
		c.campaign["emails_bounced"]++
		if activity != nil && activity.BouncedAt == nil {
			c.activity["bounced_at"] = at
		}
	case models.EventUnsubscribe:
		if err := s.recordUnsubscribe(tx, campaign, tracker, ev); err != nil {
			return false, err
		}
		tracker.UnsubscribedAt = &at
		tracker.Status = models.LeadUnsubscribed
		c.tracker["unsubscribed_at"] = at
		c.tracker["status"] = models.LeadUnsubscribed
		c.campaign["unsubscribes"]++
	}

	if len(c.tracker) == 0 && len(c.activity) == 0 {
		return false, nil
	}

	if len(c.tracker) > 0 {
		tracker.EngagementScore = tracker.ComputeEngagement()
		c.tracker["engagement_score"] = tracker.EngagementScore
		c.tracker["updated_at"] = s.now()
		if tracker.Status.IsTerminal() {
			c.tracker["dispatching_at"] = nil
		}
		if err := tx.Model(&models.CampaignLead{}).Where("id = ?", tracker.ID).Updates(c.tracker).Error; err != nil {
			return false, err
		}
	}
	if activity != nil && len(c.activity) > 0 {
		if err := tx.Model(&models.CampaignActivity{}).Where("id = ?", activity.ID).Updates(c.activity).Error; err != nil {
			return false, err
		}
	}
	for col, n := range c.campaign {
		if err := tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
			UpdateColumn(col, gorm.Expr(col+" + ?", n)).Error; err != nil {
			return false, err
		}
	}
	if step > 0 {
		for col, n := range c.stepCount {
			if err := tx.Model(&models.EmailSequence{}).Where("campaign_id = ? AND step_order = ?", campaign.ID, step).
				UpdateColumn(col, gorm.Expr(col+" + ?", n)).Error; err != nil {
				return false, err
			}
		}
	}

	utils.LogEvent("campaign_event_applied", map[string]interface{}{
		"company_id":       campaign.CompanyID,
		"campaign_id":      campaign.ID,
		"campaign_lead_id": tracker.ID,
		"type":             ev.Type,
		"source":           ev.Source,
	})
	return len(c.tracker) > 0, nil
}

type eventChange struct {
	tracker   map[string]interface{}
	activity  map[string]interface{}
	campaign  map[string]int
	stepCount map[string]int
}

func (c *eventChange) advance(tracker *models.CampaignLead, next models.LeadStatus) {
	if advanced := tracker.Status.Advance(next); advanced != tracker.Status {
		tracker.Status = advanced
		c.tracker["status"] = advanced
	}
}

// markOpened is shared by open and click; a click implies the message was
// opened.
func (s *EventService) markOpened(tracker *models.CampaignLead, activity *models.CampaignActivity, c *eventChange, at time.Time) {
	if tracker.OpenedAt == nil {
		tracker.OpenedAt = &at
		c.tracker["opened_at"] = at
		c.campaign["emails_opened"]++
		c.stepCount["emails_opened"]++
	}
	if activity != nil && activity.OpenedAt == nil {
		c.activity["opened_at"] = at
	}
	c.advance(tracker, models.LeadOpened)
}

func (s *EventService) recipient(tx *gorm.DB, tracker *models.CampaignLead) (*models.Lead, error) {
	var lead models.Lead
	err := tx.Where("id = ?", tracker.LeadID).Limit(1).Find(&lead).Error
	return &lead, err
}

func (s *EventService) recordBounce(tx *gorm.DB, campaign *models.Campaign, tracker *models.CampaignLead, ev models.CampaignEvent) error {
	lead, err := s.recipient(tx, tracker)
	if err != nil || lead.ID == 0 {
		return err
	}
	bounceType := strings.ToLower(ev.BounceType)
	if bounceType != models.BounceSoft {
		bounceType = models.BounceHard
	}
	campaignID := campaign.ID
	if err := tx.Create(&models.Bounce{
		CompanyID:      campaign.CompanyID,
		Email:          utils.NormalizeEmail(lead.Email),
		CampaignID:     &campaignID,
		Type:           bounceType,
		DiagnosticCode: ev.Diagnostic,
	}).Error; err != nil {
		return err
	}
	if bounceType != models.BounceHard {
		return nil
	}
	return tx.Model(&models.Lead{}).Where("id = ?", lead.ID).Update("email_status", models.EmailInvalid).Error
}

func (s *EventService) recordUnsubscribe(tx *gorm.DB, campaign *models.Campaign, tracker *models.CampaignLead, ev models.CampaignEvent) error {
	lead, err := s.recipient(tx, tracker)
	if err != nil || lead.ID == 0 || lead.Email == "" {
		return err
	}
	campaignID := campaign.ID
	reason := ev.Source
	if reason == "" {
		reason = "unsubscribe"
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "email"}},
		DoNothing: true,
	}).Create(&models.Unsubscribe{
		CompanyID:  campaign.CompanyID,
		Email:      utils.NormalizeEmail(lead.Email),
		CampaignID: &campaignID,
		Reason:     reason,
	}).Error
}
