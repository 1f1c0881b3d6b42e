package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	return parseEnum("subscription status", s,
		SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue, SubscriptionCanceled, SubscriptionIncomplete)
}

func (s *SubscriptionStatus) Scan(src any) error { return scanEnum(s, src, ParseSubscriptionStatus) }
func (s SubscriptionStatus) Value() (driver.Value, error) {
	return enumValue(s, ParseSubscriptionStatus)
}

// Company is the tenant. Every other record carries its ID.
type Company struct {
	gorm.Model
	Name               string             `gorm:"not null" json:"name"`
	Slug               string             `gorm:"uniqueIndex;not null" json:"slug"`
	Plan               PlanType           `gorm:"type:varchar(20);not null" json:"plan"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(20);not null" json:"subscription_status"`
	BillingEmail       string             `json:"billing_email"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`

	// Branding
	LogoURL      string `json:"logo_url"`
	PrimaryColor string `json:"primary_color"`
	CustomDomain string `json:"custom_domain"`

	// Limits copied from the plan at signup
	LeadsLimit     int  `gorm:"not null" json:"leads_limit"`
	UsersLimit     int  `gorm:"not null" json:"users_limit"`
	EmailsPerMonth int  `gorm:"not null" json:"emails_per_month"`
	CanScrape      bool `json:"can_scrape"`

	Settings *CompanySettings `gorm:"foreignKey:CompanyID" json:"settings,omitempty"`
}

// ApplyPlan copies a plan's limits onto the company.
func (c *Company) ApplyPlan(p Plan) {
	c.Plan = p.Name
	c.LeadsLimit = p.LeadsLimit
	c.UsersLimit = p.UsersLimit
	c.EmailsPerMonth = p.EmailsPerMonth
	c.CanScrape = p.CanScrape
}

// CompanySettings holds per-tenant sending defaults and the inbox used to
// pick up replies and bounces.
type CompanySettings struct {
	gorm.Model
	CompanyID          uint   `gorm:"uniqueIndex;not null" json:"company_id"`
	DefaultFromName    string `json:"default_from_name"`
	DefaultFromEmail   string `json:"default_from_email"`
	ReplyToEmail       string `json:"reply_to_email"`
	EmailSignatureHTML string `gorm:"type:text" json:"email_signature_html"`
	NotifyOnReply      bool   `json:"notify_on_reply"`
	NotifyDailySummary bool   `json:"notify_daily_summary"`
	AutoEnrich         bool   `json:"auto_enrich"`
	Timezone           string `json:"timezone"`

	InboxHost         string     `json:"inbox_host"`
	InboxPort         int        `json:"inbox_port"`
	InboxUsername     string     `json:"inbox_username"`
	InboxPasswordEnc  string     `json:"-"`
	InboxMailbox      string     `json:"inbox_mailbox"`
	InboxUseTLS       bool       `json:"inbox_use_tls"`
	InboxLastPolledAt *time.Time `json:"inbox_last_polled_at,omitempty"`
}

func (s *CompanySettings) InboxConfigured() bool {
	return s.InboxHost != "" && s.InboxUsername != "" && s.InboxPasswordEnc != ""
}
