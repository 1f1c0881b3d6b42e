package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/utils"
)

// Skip reasons reported by enrollment
const (
	SkipAlreadyEnrolled = "already_enrolled"
	SkipNoEmail         = "no_email"
	SkipInvalidEmail    = "invalid_email"
	SkipSuppressed      = "suppressed"
)

type EnrollmentService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    Clock
}

func NewEnrollmentService(db *gorm.DB, logger *logrus.Logger) *EnrollmentService {
	return &EnrollmentService{db: db, logger: logger, now: utcNow}
}

type EnrollInput struct {
	LeadIDs []uint `json:"lead_ids" validate:"required,min=1,max=10000"`
}

type SkippedLead struct {
	LeadID uint   `json:"lead_id"`
	Reason string `json:"reason"`
}

type EnrollmentResult struct {
	Enrolled   []uint        `json:"enrolled"`
	Skipped    []SkippedLead `json:"skipped"`
	TotalLeads int           `json:"total_leads"`
}

// Enroll adds leads to a DRAFT campaign. Every id must be a lead of the
// company or nothing is enrolled; leads already enrolled, without a usable
// address or suppressed are skipped.
func (s *EnrollmentService) Enroll(ctx context.Context, companyID, campaignID uint, leadIDs []uint) (*EnrollmentResult, error) {
	if err := utils.ValidateStruct(EnrollInput{LeadIDs: leadIDs}); err != nil {
		return nil, err
	}

	var result *EnrollmentResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := editableCampaign(tx, companyID, campaignID)
		if err != nil {
			return err
		}
		result, err = enrollLeads(tx, campaign, leadIDs, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func enrollLeads(tx *gorm.DB, campaign *models.Campaign, leadIDs []uint, now time.Time) (*EnrollmentResult, error) {
	ids := uniqueIDs(leadIDs)

	var leads []models.Lead
	if err := tx.Where("company_id = ? AND id IN ?", campaign.CompanyID, ids).Find(&leads).Error; err != nil {
		return nil, err
	}
	if len(leads) != len(ids) {
		found := make(map[uint]bool, len(leads))
		for _, l := range leads {
			found[l.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, fmt.Sprint(id))
			}
		}
		appErr := models.NewNotFound("lead", strings.Join(missing, ","))
		appErr.Details["missing"] = missing
		return nil, appErr
	}

	var existing []uint
	if err := tx.Model(&models.CampaignLead{}).
		Where("campaign_id = ? AND lead_id IN ?", campaign.ID, ids).
		Pluck("lead_id", &existing).Error; err != nil {
		return nil, err
	}
	enrolled := make(map[uint]bool, len(existing))
	for _, id := range existing {
		enrolled[id] = true
	}

	emails := make([]string, 0, len(leads))
	for _, l := range leads {
		if l.Email != "" {
			emails = append(emails, utils.NormalizeEmail(l.Email))
		}
	}
	suppressed, err := suppressedEmails(tx, campaign.CompanyID, emails)
	if err != nil {
		return nil, err
	}

	result := &EnrollmentResult{Enrolled: []uint{}, Skipped: []SkippedLead{}}
	var rows []models.CampaignLead
	for _, l := range leads {
		reason := ""
		switch {
		case enrolled[l.ID]:
			reason = SkipAlreadyEnrolled
		case strings.TrimSpace(l.Email) == "":
			reason = SkipNoEmail
		case l.EmailStatus == models.EmailInvalid:
			reason = SkipInvalidEmail
		case suppressed[utils.NormalizeEmail(l.Email)]:
			reason = SkipSuppressed
		}
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedLead{LeadID: l.ID, Reason: reason})
			continue
		}
		rows = append(rows, models.CampaignLead{
			CompanyID:  campaign.CompanyID,
			CampaignID: campaign.ID,
			LeadID:     l.ID,
			Status:     models.LeadPending,
			EnrolledAt: now,
		})
		result.Enrolled = append(result.Enrolled, l.ID)
	}

	if len(rows) > 0 {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "lead_id"}},
			DoNothing: true,
		}).CreateInBatches(&rows, 100).Error; err != nil {
			return nil, err
		}
	}

	total, err := refreshTotalLeads(tx, campaign.ID)
	if err != nil {
		return nil, err
	}
	result.TotalLeads = int(total)
	return result, nil
}

func refreshTotalLeads(tx *gorm.DB, campaignID uint) (int64, error) {
	var total int64
	if err := tx.Model(&models.CampaignLead{}).Where("campaign_id = ?", campaignID).Count(&total).Error; err != nil {
		return 0, err
	}
	err := tx.Model(&models.Campaign{}).Where("id = ?", campaignID).Update("total_leads", total).Error
	return total, err
}

// suppressedEmails returns the subset of emails the company may no longer
// contact: unsubscribed or hard bounced.
func suppressedEmails(tx *gorm.DB, companyID uint, emails []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(emails) == 0 {
		return out, nil
	}

	var unsub []string
	if err := tx.Model(&models.Unsubscribe{}).
		Where("company_id = ? AND email IN ?", companyID, emails).
		Pluck("email", &unsub).Error; err != nil {
		return nil, err
	}
	var bounced []string
	if err := tx.Model(&models.Bounce{}).
		Where("company_id = ? AND email IN ? AND type = ?", companyID, emails, models.BounceHard).
		Pluck("email", &bounced).Error; err != nil {
		return nil, err
	}
	for _, e := range append(unsub, bounced...) {
		out[e] = true
	}
	return out, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Unenroll removes a lead from a DRAFT campaign.
func (s *EnrollmentService) Unenroll(ctx context.Context, companyID, campaignID, leadID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := editableCampaign(tx, companyID, campaignID); err != nil {
			return err
		}
		res := tx.Where("campaign_id = ? AND lead_id = ?", campaignID, leadID).Delete(&models.CampaignLead{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFound("campaign lead", leadID)
		}
		_, err := refreshTotalLeads(tx, campaignID)
		return err
	})
}

// List returns a page of trackers with their leads.
func (s *EnrollmentService) List(ctx context.Context, companyID, campaignID uint, status string, p utils.Pagination) ([]models.CampaignLead, int64, error) {
	db := s.db.WithContext(ctx)
	var campaign models.Campaign
	if err := findOwned(db, &campaign, companyID, campaignID, "campaign"); err != nil {
		return nil, 0, err
	}

	query := db.Model(&models.CampaignLead{}).Where("campaign_id = ?", campaignID)
	if status != "" {
		st, err := models.ParseLeadStatus(status)
		if err != nil {
			return nil, 0, models.NewValidation(err.Error(), map[string]string{"status": "unknown status"})
		}
		query = query.Where("status = ?", st)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.CampaignLead
	err := query.Preload("Lead").Order("id ASC").Offset(p.Offset()).Limit(p.Limit).Find(&rows).Error
	return rows, total, err
}
