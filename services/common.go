package services

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
)

// Clock returns the current time. Services default to UTC wall time.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// findOwned loads a row by id restricted to the tenant. Rows of other
// tenants are indistinguishable from missing ones.
func findOwned(tx *gorm.DB, dst interface{}, companyID, id uint, resource string) error {
	err := tx.Where("id = ? AND company_id = ?", id, companyID).First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFound(resource, id)
	}
	return err
}

// lockCampaign loads a campaign with a row lock held for the rest of tx.
func lockCampaign(tx *gorm.DB, companyID, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := findOwned(tx.Clauses(clause.Locking{Strength: "UPDATE"}), &campaign, companyID, id, "campaign"); err != nil {
		return nil, err
	}
	return &campaign, nil
}

func countSteps(tx *gorm.DB, campaignID uint) (int64, error) {
	var n int64
	err := tx.Model(&models.EmailSequence{}).Where("campaign_id = ?", campaignID).Count(&n).Error
	return n, err
}

// activeLeadStatuses are tracker statuses the dispatch engine may still
// act on.
var activeLeadStatuses = []models.LeadStatus{
	models.LeadPending, models.LeadSent, models.LeadOpened, models.LeadClicked, models.LeadReplied,
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
