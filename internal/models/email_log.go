package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType for notifications.
const (
	EmailTypeDelegateResponsibilities = "delegate_responsibilities"
	EmailTypeNewCase                  = "new_case"
	EmailTypeReminder                 = "reminder"
	EmailTypeDARCanceled              = "dar_canceled"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusPending  = "pending"
	EmailLogStatusSent     = "sent"
	EmailLogStatusFailed   = "failed"
	EmailLogStatusDisabled = "disabled"
)

// EmailLog records a queued or sent notification.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	DACUserID      *int64     `json:"dacUserId,omitempty"`
	ElectionID     *int64     `json:"electionId,omitempty"`
	EmailType      string     `json:"emailType"`
	RecipientEmail string     `json:"recipientEmail"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}
