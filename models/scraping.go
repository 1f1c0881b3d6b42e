package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

type ScrapingStatus string

const (
	ScrapingPending   ScrapingStatus = "pending"
	ScrapingRunning   ScrapingStatus = "running"
	ScrapingCompleted ScrapingStatus = "completed"
	ScrapingFailed    ScrapingStatus = "failed"
	ScrapingCanceled  ScrapingStatus = "canceled"
)

func ParseScrapingStatus(s string) (ScrapingStatus, error) {
	return parseEnum("scraping status", s,
		ScrapingPending, ScrapingRunning, ScrapingCompleted, ScrapingFailed, ScrapingCanceled)
}

func (s *ScrapingStatus) Scan(src any) error          { return scanEnum(s, src, ParseScrapingStatus) }
func (s ScrapingStatus) Value() (driver.Value, error) { return enumValue(s, ParseScrapingStatus) }

// ScrapingJob collects leads from one source for a company.
type ScrapingJob struct {
	gorm.Model
	CompanyID     uint           `gorm:"not null;index" json:"company_id"`
	Name          string         `json:"name"`
	Source        LeadSource     `gorm:"type:varchar(20);not null" json:"source"`
	Status        ScrapingStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	SearchQuery   string         `json:"search_query"`
	URLs          []string       `gorm:"type:jsonb;serializer:json" json:"urls"`
	Config        map[string]any `gorm:"type:jsonb;serializer:json" json:"config,omitempty"`
	MaxResults    int            `json:"max_results"`
	LeadsFound    int            `json:"leads_found"`
	LeadsEnriched int            `json:"leads_enriched"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedBy     uint           `json:"created_by"`
}

// CanStart reports whether the job may be (re)started.
func (j *ScrapingJob) CanStart() bool {
	return j.Status == ScrapingPending || j.Status == ScrapingFailed
}

// CanCancel reports whether the job has not finished yet.
func (j *ScrapingJob) CanCancel() bool {
	return j.Status == ScrapingPending || j.Status == ScrapingRunning
}
