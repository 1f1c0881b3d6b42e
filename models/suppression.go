package models

import "time"

// Unsubscribe suppresses an address for every campaign of a company.
type Unsubscribe struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CompanyID  uint      `gorm:"not null;uniqueIndex:idx_unsubscribes_company_email" json:"company_id"`
	Email      string    `gorm:"not null;uniqueIndex:idx_unsubscribes_company_email" json:"email"`
	CampaignID *uint     `json:"campaign_id,omitempty"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	BounceHard = "hard"
	BounceSoft = "soft"
)

// Bounce records a delivery failure reported for an address. Hard bounces
// suppress the address.
type Bounce struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CompanyID      uint      `gorm:"not null;index:idx_bounces_company_email,priority:1" json:"company_id"`
	Email          string    `gorm:"not null;index:idx_bounces_company_email,priority:2" json:"email"`
	CampaignID     *uint     `json:"campaign_id,omitempty"`
	Type           string    `gorm:"not null" json:"type"`
	DiagnosticCode string    `json:"diagnostic_code"`
	CreatedAt      time.Time `json:"created_at"`
}
