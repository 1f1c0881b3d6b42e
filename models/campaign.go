package models

import (
	"database/sql/driver"
	"time"
)

const (
	DefaultThrottlePerHour = 10
	DefaultThrottlePerDay  = 100
	DefaultStepDelayHours  = 24
)

// Campaign represents an outbound email campaign
type Campaign struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CompanyID   uint           `gorm:"not null;index" json:"company_id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	Status      CampaignStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// Sender identity
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	ReplyTo   string `json:"reply_to"`

	// Throttling, both at least 1
	ThrottlePerHour int `gorm:"column:throttling_emails_per_hour;not null" json:"throttling_emails_per_hour"`
	ThrottlePerDay  int `gorm:"column:throttling_emails_per_day;not null" json:"throttling_emails_per_day"`

	StopOnReply bool `json:"stop_on_reply"`
	TrackOpens  bool `json:"track_opens"`
	TrackClicks bool `json:"track_clicks"`

	// Statistics, only ever incremented
	TotalLeads    int `gorm:"not null;default:0" json:"total_leads"`
	EmailsSent    int `gorm:"not null;default:0" json:"emails_sent"`
	EmailsOpened  int `gorm:"not null;default:0" json:"emails_opened"`
	EmailsClicked int `gorm:"not null;default:0" json:"emails_clicked"`
	EmailsReplied int `gorm:"not null;default:0" json:"emails_replied"`
	EmailsBounced int `gorm:"not null;default:0" json:"emails_bounced"`
	Unsubscribes  int `gorm:"not null;default:0" json:"unsubscribes"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   uint       `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Sequences []EmailSequence `gorm:"foreignKey:CampaignID" json:"sequences,omitempty"`
}

// EmailSequence is one step of a campaign. StepOrder runs 1..N without gaps.
type EmailSequence struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	CampaignID     uint   `gorm:"not null;uniqueIndex:idx_sequence_campaign_step" json:"campaign_id"`
	StepOrder      int    `gorm:"not null;uniqueIndex:idx_sequence_campaign_step" json:"step_order"`
	Name           string `json:"name"`
	Subject        string `gorm:"not null" json:"subject"`
	SubjectVariant string `json:"subject_variant,omitempty"`
	Body           string `gorm:"type:text;not null" json:"body"`
	BodyVariant    string `gorm:"type:text" json:"body_variant,omitempty"`
	DelayHours     int    `gorm:"not null" json:"delay_hours"`

	EmailsSent    int `gorm:"not null;default:0" json:"emails_sent"`
	EmailsOpened  int `gorm:"not null;default:0" json:"emails_opened"`
	EmailsClicked int `gorm:"not null;default:0" json:"emails_clicked"`
	EmailsReplied int `gorm:"not null;default:0" json:"emails_replied"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasVariant reports whether the step is A/B tested.
func (s *EmailSequence) HasVariant() bool {
	return s.SubjectVariant != "" || s.BodyVariant != ""
}

// Content returns the subject and body for the given variant. Variant "b"
// falls back to the primary copy for any part it does not override.
func (s *EmailSequence) Content(variant string) (subject, body string) {
	subject, body = s.Subject, s.Body
	if variant == VariantB {
		if s.SubjectVariant != "" {
			subject = s.SubjectVariant
		}
		if s.BodyVariant != "" {
			body = s.BodyVariant
		}
	}
	return subject, body
}

const (
	VariantA = "a"
	VariantB = "b"
)

type LeadStatus string

const (
	LeadPending      LeadStatus = "pending"
	LeadSent         LeadStatus = "sent"
	LeadOpened       LeadStatus = "opened"
	LeadClicked      LeadStatus = "clicked"
	LeadReplied      LeadStatus = "replied"
	LeadBounced      LeadStatus = "bounced"
	LeadUnsubscribed LeadStatus = "unsubscribed"
	LeadFailed       LeadStatus = "failed"
)

func ParseLeadStatus(s string) (LeadStatus, error) {
	return parseEnum("campaign lead status", s,
		LeadPending, LeadSent, LeadOpened, LeadClicked, LeadReplied, LeadBounced, LeadUnsubscribed, LeadFailed)
}

func (s *LeadStatus) Scan(src any) error          { return scanEnum(s, src, ParseLeadStatus) }
func (s LeadStatus) Value() (driver.Value, error) { return enumValue(s, ParseLeadStatus) }

// IsTerminal is true for statuses no event or send can leave.
func (s LeadStatus) IsTerminal() bool {
	return s == LeadBounced || s == LeadUnsubscribed
}

// engagement rank; terminal and failed statuses have none
var leadStatusRank = map[LeadStatus]int{
	LeadPending: 0,
	LeadSent:    1,
	LeadOpened:  2,
	LeadClicked: 3,
	LeadReplied: 4,
}

// Advance returns the later of s and next in engagement order. Statuses
// outside the order are never replaced.
func (s LeadStatus) Advance(next LeadStatus) LeadStatus {
	cur, ok := leadStatusRank[s]
	if !ok {
		return s
	}
	if n, ok := leadStatusRank[next]; ok && n > cur {
		return next
	}
	return s
}

// CampaignLead tracks one lead's progress through one campaign.
type CampaignLead struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	CompanyID   uint       `gorm:"not null;index" json:"company_id"`
	CampaignID  uint       `gorm:"not null;uniqueIndex:idx_campaign_leads_pair;index:idx_campaign_leads_sent,priority:1;index:idx_campaign_leads_status,priority:1" json:"campaign_id"`
	LeadID      uint       `gorm:"not null;uniqueIndex:idx_campaign_leads_pair" json:"lead_id"`
	Status      LeadStatus `gorm:"type:varchar(20);not null;index:idx_campaign_leads_status,priority:2" json:"status"`
	CurrentStep int        `gorm:"not null;default:0" json:"current_step"`
	EnrolledAt  time.Time  `gorm:"not null" json:"enrolled_at"`

	SentAt         *time.Time `gorm:"index:idx_campaign_leads_sent,priority:2" json:"sent_at,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty"`
	RepliedAt      *time.Time `json:"replied_at,omitempty"`
	BouncedAt      *time.Time `json:"bounced_at,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Variant         string `gorm:"type:varchar(1)" json:"variant,omitempty"`
	EngagementScore int    `gorm:"not null;default:0" json:"engagement_score"`

	FailedAttempts int        `gorm:"not null;default:0" json:"failed_attempts"`
	LastError      string     `json:"last_error,omitempty"`
	DispatchingAt  *time.Time `json:"-"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lead *Lead `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}

// Finished reports whether the dispatch engine has nothing left to do for
// this lead.
func (cl *CampaignLead) Finished(stepCount int, stopOnReply bool) bool {
	switch {
	case cl.Status.IsTerminal(), cl.Status == LeadFailed:
		return true
	case cl.CurrentStep >= stepCount:
		return true
	case stopOnReply && cl.RepliedAt != nil:
		return true
	}
	return false
}

// Engagement weights
const (
	OpenWeight  = 1
	ClickWeight = 3
	ReplyWeight = 5
)

// ComputeEngagement derives the score from the engagement timestamps.
func (cl *CampaignLead) ComputeEngagement() int {
	score := 0
	if cl.OpenedAt != nil {
		score += OpenWeight
	}
	if cl.ClickedAt != nil {
		score += ClickWeight
	}
	if cl.RepliedAt != nil {
		score += ReplyWeight
	}
	return score
}

type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchSent    DispatchStatus = "sent"
	DispatchFailed  DispatchStatus = "failed"
)

func ParseDispatchStatus(s string) (DispatchStatus, error) {
	return parseEnum("dispatch status", s, DispatchPending, DispatchSent, DispatchFailed)
}

func (s *DispatchStatus) Scan(src any) error          { return scanEnum(s, src, ParseDispatchStatus) }
func (s DispatchStatus) Value() (driver.Value, error) { return enumValue(s, ParseDispatchStatus) }

// CampaignActivity records one dispatch attempt. Pending and sent rows count
// against the campaign throttle from SentAt, the reservation time.
type CampaignActivity struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CompanyID         uint           `gorm:"not null;index:idx_activity_company_sent,priority:1" json:"company_id"`
	CampaignID        uint           `gorm:"not null;index:idx_activity_campaign_sent,priority:1" json:"campaign_id"`
	CampaignLeadID    uint           `gorm:"not null;index" json:"campaign_lead_id"`
	LeadID            uint           `gorm:"not null;index" json:"lead_id"`
	SequenceID        uint           `gorm:"not null" json:"sequence_id"`
	StepOrder         int            `gorm:"not null" json:"step_order"`
	Variant           string         `gorm:"type:varchar(1)" json:"variant"`
	Recipient         string         `gorm:"not null" json:"recipient"`
	MessageID         string         `gorm:"not null;uniqueIndex" json:"message_id"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Status            DispatchStatus `gorm:"type:varchar(20);not null" json:"status"`
	SentAt            time.Time      `gorm:"not null;index:idx_activity_campaign_sent,priority:2;index:idx_activity_company_sent,priority:2" json:"sent_at"`
	Error             string         `json:"error,omitempty"`

	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	ClickedAt *time.Time `json:"clicked_at,omitempty"`
	RepliedAt *time.Time `json:"replied_at,omitempty"`
	BouncedAt *time.Time `json:"bounced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
