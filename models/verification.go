package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailVerification tracks a bulk verification run over a set of leads.
type EmailVerification struct {
	gorm.Model
	CompanyID   uint           `gorm:"not null;index" json:"company_id"`
	Status      ScrapingStatus `gorm:"type:varchar(20);not null" json:"status"`
	LeadIDs     []uint         `gorm:"type:jsonb;serializer:json" json:"lead_ids"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	ValidCount   int  `gorm:"not null;default:0" json:"valid_count"`
	RiskyCount   int  `gorm:"not null;default:0" json:"risky_count"`
	InvalidCount int  `gorm:"not null;default:0" json:"invalid_count"`
	ErrorCount   int  `gorm:"not null;default:0" json:"error_count"`
	CreatedBy    uint `json:"created_by"`
}
