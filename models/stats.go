package models

import "time"

// DailyStats is the per-company rollup for one calendar day (UTC).
type DailyStats struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	CompanyID          uint      `gorm:"not null;uniqueIndex:idx_daily_stats_company_date" json:"company_id"`
	Date               time.Time `gorm:"type:date;not null;uniqueIndex:idx_daily_stats_company_date" json:"date"`
	LeadsAdded         int       `gorm:"not null;default:0" json:"leads_added"`
	LeadsEnriched      int       `gorm:"not null;default:0" json:"leads_enriched"`
	EmailsSent         int       `gorm:"not null;default:0" json:"emails_sent"`
	EmailsOpened       int       `gorm:"not null;default:0" json:"emails_opened"`
	EmailsClicked      int       `gorm:"not null;default:0" json:"emails_clicked"`
	EmailsReplied      int       `gorm:"not null;default:0" json:"emails_replied"`
	EmailsBounced      int       `gorm:"not null;default:0" json:"emails_bounced"`
	Unsubscribes       int       `gorm:"not null;default:0" json:"unsubscribes"`
	ScrapingJobsRun    int       `gorm:"not null;default:0" json:"scraping_jobs_run"`
	ScrapingLeadsFound int       `gorm:"not null;default:0" json:"scraping_leads_found"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
