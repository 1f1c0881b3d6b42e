package models

import "time"

// InboxMessage is a message picked up from a company inbox and matched to a
// dispatched email, either as a reply or as a bounce notification.
type InboxMessage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CompanyID      uint      `gorm:"not null;uniqueIndex:idx_inbox_company_message" json:"company_id"`
	MessageID      string    `gorm:"not null;uniqueIndex:idx_inbox_company_message" json:"message_id"`
	InReplyTo      string    `gorm:"index" json:"in_reply_to"`
	References     string    `gorm:"type:text" json:"references"`
	From           string    `gorm:"not null" json:"from"`
	Subject        string    `json:"subject"`
	Body           string    `gorm:"type:text" json:"body"`
	ReceivedAt     time.Time `gorm:"not null" json:"received_at"`
	Kind           EventType `gorm:"type:varchar(20);not null" json:"kind"`
	ActivityID     *uint     `gorm:"index" json:"activity_id,omitempty"`
	CampaignID     *uint     `gorm:"index" json:"campaign_id,omitempty"`
	CampaignLeadID *uint     `json:"campaign_lead_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
