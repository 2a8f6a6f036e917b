package models

import "time"

// Notification targets one member. IsRead ("seen") and IsAddressed
// ("archived out of the active inbox") are independent flags.
type Notification struct {
	ID          int64     `json:"id"`
	MemberID    int64     `json:"member_id"`
	Type        string    `json:"type"`
	TaskID      *int64    `json:"task_id,omitempty"`
	StepID      *int64    `json:"step_id,omitempty"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"is_read"`
	IsAddressed bool      `json:"is_addressed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification type constants
const (
	NotificationAssignment    = "assignment"
	NotificationMention       = "mention"
	NotificationReturn        = "return"
	NotificationClaim         = "claim"
	NotificationTaskCompleted = "task_completed"
	NotificationNewCycle      = "new_cycle"
)
