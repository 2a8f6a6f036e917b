package models

import "time"

// PipelineStep represents one unit of work in a task's linear sequence.
// StepOrder is 1-based and contiguous within a task.
type PipelineStep struct {
	ID         int64  `json:"id"`
	TaskID     int64  `json:"task_id"`
	StepOrder  int    `json:"step_order"`
	Name       string `json:"name"`
	Status     string `json:"status"` // locked, unlocked, completed
	AssignedTo *int64 `json:"assigned_to,omitempty"`

	// AdditionalAssignees lists member IDs that can act on the step while
	// IsJoint is set; serialized as a JSON array in the store.
	AdditionalAssignees []int64 `json:"additional_assignees"`
	IsJoint             bool    `json:"is_joint"`

	MiniDeadline *time.Time `json:"mini_deadline,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Step status constants
const (
	StepStatusLocked    = "locked"
	StepStatusUnlocked  = "unlocked"
	StepStatusCompleted = "completed"
)

// EligibleAssignees returns the primary plus additional assignees,
// primary first, without duplicates.
func (s *PipelineStep) EligibleAssignees() []int64 {
	seen := make(map[int64]bool)
	var out []int64
	if s.AssignedTo != nil {
		seen[*s.AssignedTo] = true
		out = append(out, *s.AssignedTo)
	}
	for _, id := range s.AdditionalAssignees {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// HasAdditionalAssignee reports whether the member is listed as an
// additional assignee.
func (s *PipelineStep) HasAdditionalAssignee(memberID int64) bool {
	for _, id := range s.AdditionalAssignees {
		if id == memberID {
			return true
		}
	}
	return false
}
