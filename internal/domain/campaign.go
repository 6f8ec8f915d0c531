package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a recorded send.
type CampaignStatus string

const (
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign is the history record of one SendJob.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	Subject         string         `json:"subject" db:"subject"`
	Body            string         `json:"body,omitempty" db:"body"`
	Sender          string         `json:"sender" db:"sender"`
	Format          EmailFormat    `json:"email_type" db:"email_type"`
	Attachments     []string       `json:"attachments" db:"attachments"`
	TotalRecipients int            `json:"total_recipients" db:"total_recipients"`
	SentCount       int            `json:"sent_count" db:"sent_count"`
	FailedCount     int            `json:"failed_count" db:"failed_count"`
	Status          CampaignStatus `json:"status" db:"status"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// CampaignDetail is a campaign together with its failed recipients.
type CampaignDetail struct {
	Campaign
	Failed []FailedRecipient `json:"failed"`
}

// FailedRecipient records a recipient the provider did not accept.
type FailedRecipient struct {
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Recipient  string    `json:"recipient" db:"recipient"`
	Reason     string    `json:"reason" db:"error_reason"`
	FailedAt   time.Time `json:"failed_at" db:"failed_at"`
}

// HistoryStats summarizes all recorded campaigns.
type HistoryStats struct {
	TotalCampaigns   int `json:"total_campaigns"`
	TotalSent        int `json:"total_sent"`
	TotalFailed      int `json:"total_failed"`
	UniqueRecipients int `json:"unique_recipients"`
	SentToday        int `json:"sent_today"`
	SentThisWeek     int `json:"sent_this_week"`
	// SuccessRate is sent / (sent + failed) as a percentage, one decimal.
	SuccessRate float64 `json:"success_rate"`
}

// RecipientComparison splits a recipient list into addresses that already
// received a previous campaign and new ones.
type RecipientComparison struct {
	Total           int      `json:"total"`
	AlreadySent     int      `json:"already_sent"`
	New             int      `json:"new_recipients"`
	AlreadySentList []string `json:"already_sent_list"`
	NewList         []string `json:"new_recipients_list"`
}
