package models

import (
	"database/sql/driver"
	"strings"
	"time"

	"gorm.io/gorm"
)

type EmailStatus string

const (
	EmailUnverified EmailStatus = "unverified"
	EmailValid      EmailStatus = "valid"
	EmailRisky      EmailStatus = "risky"
	EmailInvalid    EmailStatus = "invalid"
)

func ParseEmailStatus(s string) (EmailStatus, error) {
	return parseEnum("email status", s, EmailUnverified, EmailValid, EmailRisky, EmailInvalid)
}

func (s *EmailStatus) Scan(src any) error          { return scanEnum(s, src, ParseEmailStatus) }
func (s EmailStatus) Value() (driver.Value, error) { return enumValue(s, ParseEmailStatus) }

type LeadSource string

const (
	SourceLinkedIn   LeadSource = "linkedin"
	SourceInstagram  LeadSource = "instagram"
	SourceGoogleMaps LeadSource = "google_maps"
	SourceCustomURLs LeadSource = "custom_urls"
	SourceImport     LeadSource = "import"
	SourceAPI        LeadSource = "api"
	SourceManual     LeadSource = "manual"
)

func ParseLeadSource(s string) (LeadSource, error) {
	return parseEnum("lead source", s,
		SourceLinkedIn, SourceInstagram, SourceGoogleMaps, SourceCustomURLs, SourceImport, SourceAPI, SourceManual)
}

func (s *LeadSource) Scan(src any) error          { return scanEnum(s, src, ParseLeadSource) }
func (s LeadSource) Value() (driver.Value, error) { return enumValue(s, ParseLeadSource) }

// Lead represents a single contact owned by a company
type Lead struct {
	gorm.Model
	CompanyID     uint  `gorm:"not null;index" json:"company_id"`
	ScrapingJobID *uint `gorm:"index" json:"scraping_job_id,omitempty"`

	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	FullName    string `json:"full_name"`
	Title       string `json:"title"`
	CompanyName string `gorm:"column:company" json:"company"`
	CompanyURL  string `json:"company_url"`

	Email           string      `gorm:"index" json:"email"`
	EmailStatus     EmailStatus `gorm:"type:varchar(20);not null;index" json:"email_status"`
	EmailVerifiedAt *time.Time  `json:"email_verified_at,omitempty"`
	Phone           string      `json:"phone"`

	LinkedInURL     string `json:"linkedin_url"`
	TwitterHandle   string `json:"twitter_handle"`
	InstagramHandle string `json:"instagram_handle"`

	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`

	// Enrichment
	EnrichmentData map[string]any `gorm:"type:jsonb;serializer:json" json:"enrichment_data,omitempty"`
	EnrichedAt     *time.Time     `json:"enriched_at,omitempty"`
	TechStack      []string       `gorm:"type:jsonb;serializer:json" json:"tech_stack,omitempty"`
	CompanySize    string         `gorm:"index" json:"company_size"`
	CompanyRevenue string         `json:"company_revenue"`
	Industry       string         `json:"industry"`
	FundingStatus  string         `json:"funding_status"`

	Source    LeadSource `gorm:"type:varchar(20);not null;index" json:"source"`
	SourceURL string     `json:"source_url"`
	Tags      []string   `gorm:"type:jsonb;serializer:json" json:"tags"`
	Notes     string     `gorm:"type:text" json:"notes"`
	CreatedBy *uint      `json:"created_by,omitempty"`
}

// RefreshFullName rebuilds FullName from the name parts when they are set.
func (l *Lead) RefreshFullName() {
	name := strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
	if name != "" {
		l.FullName = name
	}
}

// Contactable reports whether a campaign may send to the lead.
func (l *Lead) Contactable() bool {
	return strings.TrimSpace(l.Email) != "" && l.EmailStatus != EmailInvalid
}
