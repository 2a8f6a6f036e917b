package models

import "time"

// Task represents a pipeline task: an ordered list of steps scoped to a team.
type Task struct {
	ID          int64      `json:"id"`
	TeamID      int64      `json:"team_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Conclusion  string     `json:"conclusion,omitempty"`
	Actionables string     `json:"actionables,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      string     `json:"status"` // active, completed
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Recurrence pattern, consumed only when the final step completes.
	RecurrenceType     string `json:"recurrence_type,omitempty"` // daily, weekly, monthly
	RecurrenceInterval int    `json:"recurrence_interval"`
	RecurrenceEnabled  bool   `json:"recurrence_enabled"`

	// Lineage: every cycle of a recurring task points at the true origin.
	SourceTaskID    *int64 `json:"source_task_id,omitempty"`
	RecurrenceCount int    `json:"recurrence_count"`

	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task status constants
const (
	TaskStatusActive    = "active"
	TaskStatusCompleted = "completed"
)

// Recurrence type constants
const (
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// IsRecurring reports whether a completed task should spawn a next cycle.
func (t *Task) IsRecurring() bool {
	return t.RecurrenceEnabled && t.RecurrenceType != "" && t.RecurrenceInterval > 0
}
