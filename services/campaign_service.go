package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"leadforge/models"
	"leadforge/utils"
)

type CampaignService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    Clock
}

func NewCampaignService(db *gorm.DB, logger *logrus.Logger) *CampaignService {
	return &CampaignService{db: db, logger: logger, now: utcNow}
}

type CreateCampaignInput struct {
	Name            string `json:"name" validate:"required,max=255"`
	Description     string `json:"description" validate:"max=2000"`
	FromName        string `json:"from_name" validate:"max=255"`
	FromEmail       string `json:"from_email" validate:"omitempty,email"`
	ReplyTo         string `json:"reply_to" validate:"omitempty,email"`
	ThrottlePerHour *int   `json:"throttling_emails_per_hour" validate:"omitempty,gte=1"`
	ThrottlePerDay  *int   `json:"throttling_emails_per_day" validate:"omitempty,gte=1"`
	StopOnReply     *bool  `json:"stop_on_reply"`
	TrackOpens      *bool  `json:"track_opens"`
	TrackClicks     *bool  `json:"track_clicks"`
	LeadIDs         []uint `json:"lead_ids"`
}

type UpdateCampaignInput struct {
	Name            *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description     *string `json:"description" validate:"omitempty,max=2000"`
	FromName        *string `json:"from_name" validate:"omitempty,max=255"`
	FromEmail       *string `json:"from_email" validate:"omitempty,email"`
	ReplyTo         *string `json:"reply_to" validate:"omitempty,email"`
	ThrottlePerHour *int    `json:"throttling_emails_per_hour" validate:"omitempty,gte=1"`
	ThrottlePerDay  *int    `json:"throttling_emails_per_day" validate:"omitempty,gte=1"`
	StopOnReply     *bool   `json:"stop_on_reply"`
	TrackOpens      *bool   `json:"track_opens"`
	TrackClicks     *bool   `json:"track_clicks"`
}

// CampaignDetail is a campaign with its ordered steps and a count of
// trackers per status.
type CampaignDetail struct {
	models.Campaign
	LeadStatusCounts map[models.LeadStatus]int64 `json:"lead_status_counts"`
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func intOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// Create stores a DRAFT campaign, filling the sender identity from the
// company settings, and enrolls lead_ids when given.
func (s *CampaignService) Create(ctx context.Context, companyID, userID uint, in CreateCampaignInput) (*models.Campaign, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	var campaign models.Campaign
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings models.CompanySettings
		if err := tx.Where("company_id = ?", companyID).Limit(1).Find(&settings).Error; err != nil {
			return err
		}

		campaign = models.Campaign{
			CompanyID:       companyID,
			Name:            in.Name,
			Description:     in.Description,
			Status:          models.CampaignDraft,
			FromName:        firstNonEmpty(in.FromName, settings.DefaultFromName),
			FromEmail:       firstNonEmpty(in.FromEmail, settings.DefaultFromEmail),
			ReplyTo:         firstNonEmpty(in.ReplyTo, settings.ReplyToEmail),
			ThrottlePerHour: intOr(in.ThrottlePerHour, models.DefaultThrottlePerHour),
			ThrottlePerDay:  intOr(in.ThrottlePerDay, models.DefaultThrottlePerDay),
			StopOnReply:     boolOr(in.StopOnReply, true),
			TrackOpens:      boolOr(in.TrackOpens, true),
			TrackClicks:     boolOr(in.TrackClicks, true),
			CreatedBy:       userID,
		}
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}

		if len(in.LeadIDs) > 0 {
			if _, err := enrollLeads(tx, &campaign, in.LeadIDs, s.now()); err != nil {
				return err
			}
			return tx.First(&campaign, campaign.ID).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("campaign_created", map[string]interface{}{
		"company_id":  companyID,
		"campaign_id": campaign.ID,
		"total_leads": campaign.TotalLeads,
	})
	return &campaign, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// List returns a page of campaigns, newest first, optionally filtered by
// status.
func (s *CampaignService) List(ctx context.Context, companyID uint, status string, p utils.Pagination) ([]models.Campaign, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Campaign{}).Where("company_id = ?", companyID)
	if status != "" {
		st, err := models.ParseCampaignStatus(status)
		if err != nil {
			return nil, 0, models.NewValidation(err.Error(), map[string]string{"status": "unknown status"})
		}
		query = query.Where("status = ?", st)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var campaigns []models.Campaign
	err := query.Order("created_at DESC, id DESC").Offset(p.Offset()).Limit(p.Limit).Find(&campaigns).Error
	return campaigns, total, err
}

func (s *CampaignService) Get(ctx context.Context, companyID, id uint) (*CampaignDetail, error) {
	db := s.db.WithContext(ctx)

	var campaign models.Campaign
	if err := findOwned(db.Preload("Sequences", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("step_order ASC")
	}), &campaign, companyID, id, "campaign"); err != nil {
		return nil, err
	}

	counts, err := leadStatusCounts(db, campaign.ID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetail{Campaign: campaign, LeadStatusCounts: counts}, nil
}

func leadStatusCounts(db *gorm.DB, campaignID uint) (map[models.LeadStatus]int64, error) {
	var rows []struct {
		Status models.LeadStatus
		Count  int64
	}
	err := db.Model(&models.CampaignLead{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.LeadStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Update edits a DRAFT campaign.
func (s *CampaignService) Update(ctx context.Context, companyID, id uint, in UpdateCampaignInput) (*models.Campaign, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	var campaign *models.Campaign
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if campaign, err = lockCampaign(tx, companyID, id); err != nil {
			return err
		}
		if _, err := models.NextCampaignStatus(campaign.Status, models.ActionEdit); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		setIf := func(col string, v interface{}, ok bool) {
			if ok {
				updates[col] = v
			}
		}
		setIf("name", deref(in.Name), in.Name != nil)
		setIf("description", deref(in.Description), in.Description != nil)
		setIf("from_name", deref(in.FromName), in.FromName != nil)
		setIf("from_email", deref(in.FromEmail), in.FromEmail != nil)
		setIf("reply_to", deref(in.ReplyTo), in.ReplyTo != nil)
		setIf("throttling_emails_per_hour", intOr(in.ThrottlePerHour, 0), in.ThrottlePerHour != nil)
		setIf("throttling_emails_per_day", intOr(in.ThrottlePerDay, 0), in.ThrottlePerDay != nil)
		setIf("stop_on_reply", boolOr(in.StopOnReply, false), in.StopOnReply != nil)
		setIf("track_opens", boolOr(in.TrackOpens, false), in.TrackOpens != nil)
		setIf("track_clicks", boolOr(in.TrackClicks, false), in.TrackClicks != nil)
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = s.now()
		if err := tx.Model(campaign).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(campaign, campaign.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Delete removes a campaign with its steps, trackers and dispatch records.
// Running campaigns must be paused or canceled first.
func (s *CampaignService) Delete(ctx context.Context, companyID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := lockCampaign(tx, companyID, id)
		if err != nil {
			return err
		}
		if campaign.Status == models.CampaignRunning {
			return models.NewInvalidTransition("campaign", string(campaign.Status), "delete")
		}

		for _, m := range []interface{}{&models.CampaignActivity{}, &models.CampaignLead{}, &models.EmailSequence{}} {
			if err := tx.Where("campaign_id = ?", campaign.ID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(campaign).Error
	})
}

func (s *CampaignService) Start(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return s.transition(ctx, companyID, id, models.ActionStart, func(tx *gorm.DB, c *models.Campaign, updates map[string]interface{}) error {
		steps, err := countSteps(tx, c.ID)
		if err != nil {
			return err
		}
		var leads int64
		if err := tx.Model(&models.CampaignLead{}).Where("campaign_id = ?", c.ID).Count(&leads).Error; err != nil {
			return err
		}
		if steps == 0 || leads == 0 {
			appErr := models.NewInvalidTransition("campaign", string(c.Status), string(models.ActionStart))
			appErr.Details["steps"] = steps
			appErr.Details["leads"] = leads
			appErr.Message = fmt.Sprintf("%s: campaign needs at least one step and one lead", appErr.Message)
			return appErr
		}
		updates["started_at"] = s.now()
		return nil
	})
}

func (s *CampaignService) Pause(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return s.transition(ctx, companyID, id, models.ActionPause, nil)
}

func (s *CampaignService) Resume(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return s.transition(ctx, companyID, id, models.ActionResume, nil)
}

func (s *CampaignService) Cancel(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return s.transition(ctx, companyID, id, models.ActionCancel, func(tx *gorm.DB, c *models.Campaign, updates map[string]interface{}) error {
		updates["completed_at"] = s.now()
		return nil
	})
}

type transitionGuard func(tx *gorm.DB, c *models.Campaign, updates map[string]interface{}) error

// transition applies action under a row lock. guard may veto the change or
// add columns to update.
func (s *CampaignService) transition(ctx context.Context, companyID, id uint, action models.CampaignAction, guard transitionGuard) (*models.Campaign, error) {
	var campaign *models.Campaign
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if campaign, err = lockCampaign(tx, companyID, id); err != nil {
			return err
		}
		next, err := models.NextCampaignStatus(campaign.Status, action)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": next, "updated_at": s.now()}
		if guard != nil {
			if err := guard(tx, campaign, updates); err != nil {
				return err
			}
		}
		if err := tx.Model(campaign).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(campaign, campaign.ID).Error
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("campaign_"+string(action), map[string]interface{}{
		"company_id":  companyID,
		"campaign_id": id,
		"status":      campaign.Status,
	})
	return campaign, nil
}

// CompleteIfFinished moves a RUNNING campaign to COMPLETED once no tracker
// has work left. It reports whether the campaign was completed.
func (s *CampaignService) CompleteIfFinished(ctx context.Context, companyID, id uint) (bool, error) {
	completed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := lockCampaign(tx, companyID, id)
		if err != nil {
			return err
		}
		if campaign.Status != models.CampaignRunning {
			return nil
		}

		steps, err := countSteps(tx, campaign.ID)
		if err != nil {
			return err
		}
		remaining, err := unfinishedTrackers(tx, campaign, int(steps))
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		next, err := models.NextCampaignStatus(campaign.Status, models.ActionComplete)
		if err != nil {
			return err
		}
		now := s.now()
		completed = true
		return tx.Model(campaign).Updates(map[string]interface{}{
			"status":       next,
			"completed_at": now,
			"updated_at":   now,
		}).Error
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	if completed {
		utils.LogEvent("campaign_completed", map[string]interface{}{"company_id": companyID, "campaign_id": id})
	}
	return completed, err
}

// unfinishedTrackers counts trackers that still have a step to send.
func unfinishedTrackers(tx *gorm.DB, campaign *models.Campaign, steps int) (int64, error) {
	q := tx.Model(&models.CampaignLead{}).
		Where("campaign_id = ?", campaign.ID).
		Where("status IN ?", activeLeadStatuses).
		Where("current_step < ?", steps)
	if campaign.StopOnReply {
		q = q.Where("replied_at IS NULL")
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
