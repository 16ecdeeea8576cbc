package core

import (
	"time"
)

// Account is one configured sender identity. Accounts are loaded from static
// configuration at startup and never mutated at runtime.
type Account struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Provider    string `json:"provider" yaml:"provider"`
	Priority    int    `json:"priority" yaml:"priority"`
	DailyLimit  int    `json:"daily_limit" yaml:"daily_limit"` // 0 = unlimited
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// SendRequest is the unit of work handed to the dispatcher.
type SendRequest struct {
	Recipient          string `json:"recipient"`
	Subject            string `json:"subject"`
	Body               string `json:"body"`
	PreferredAccountID string `json:"preferred_account_id,omitempty"`
	TargetKey          string `json:"target_key"`
}

// SendResult records the outcome of one dispatch attempt.
type SendResult struct {
	Success     bool      `json:"success"`
	AccountUsed string    `json:"account_used,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// UsageSnapshot maps account id -> messages sent today, as of the moment the
// snapshot was taken. Eligibility decisions are made against a snapshot, so
// caps are advisory-soft under concurrency.
type UsageSnapshot map[string]int

// UsageCounter is one persisted per-account, per-day record.
type UsageCounter struct {
	AccountID  string     `json:"account_id"`
	Day        string     `json:"day"`
	SentCount  int        `json:"sent_count"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

// GlobalAccountID keys the aggregate daily counter shared by all accounts.
const GlobalAccountID = "*"
