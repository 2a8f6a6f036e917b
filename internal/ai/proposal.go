package ai

import (
	"time"

	"github.com/relaydesk/relay/internal/models"
)

// StepProposal is one proposed pipeline step. Alternatives holds the
// candidate names of a joint step ("X or Y"), in the order extracted.
type StepProposal struct {
	Description  string     `json:"description"`
	AssigneeName string     `json:"assignee,omitempty"`
	Alternatives []string   `json:"alternatives,omitempty"`
	MiniDeadline *time.Time `json:"deadline,omitempty"`
}

// IsJoint reports whether the step was extracted with multiple candidates
func (p *StepProposal) IsJoint() bool {
	return len(p.Alternatives) > 1
}

// RecurrenceProposal mirrors a task's recurrence pattern
type RecurrenceProposal struct {
	Type     string `json:"type"`
	Interval int    `json:"interval"`
	Enabled  bool   `json:"enabled"`
}

// ReadyProposal is a complete, creatable task proposal
type ReadyProposal struct {
	Title      string              `json:"title"`
	Steps      []StepProposal      `json:"steps"`
	Deadline   *time.Time          `json:"deadline,omitempty"`
	Recurrence *RecurrenceProposal `json:"recurrence,omitempty"`
}

// Extraction is the adapter's output: either a ready proposal or a
// clarification turn. Ready is nil while the model still needs input, so
// the confirm flow cannot accidentally create a task from a half-formed
// reply.
type Extraction struct {
	Ready *ReadyProposal `json:"proposal,omitempty"`
	Reply string         `json:"reply"`

	// Resolutions reports how each extracted name reconciled against the
	// requesting team's roster; unmatched names become new team-scoped
	// members on confirmation.
	Resolutions []Resolution `json:"resolutions,omitempty"`
}

// Resolution records one extracted name against the roster
type Resolution struct {
	Name     string `json:"name"`
	Matched  bool   `json:"matched"`
	MemberID int64  `json:"member_id,omitempty"`
}

// ChatTurn is one message of the extraction conversation
type ChatTurn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Sheet is the normalized current state handed to the model in edit mode:
// the task's title, deadline, and step list with completion flags.
type Sheet struct {
	Title    string      `json:"title"`
	Deadline *time.Time  `json:"deadline,omitempty"`
	Steps    []SheetStep `json:"steps"`
}

// SheetStep is one step row of the sheet
type SheetStep struct {
	Order        int        `json:"order"`
	Name         string     `json:"name"`
	Assignee     string     `json:"assignee,omitempty"`
	Completed    bool       `json:"completed"`
	MiniDeadline *time.Time `json:"deadline,omitempty"`
}

// BuildSheet normalizes persisted task state for the edit-mode prompt
func BuildSheet(task *models.Task, steps []*models.PipelineStep, roster []*models.Member) Sheet {
	names := make(map[int64]string, len(roster))
	for _, member := range roster {
		names[member.ID] = member.DisplayName
	}

	sheet := Sheet{Title: task.Title, Deadline: task.Deadline}
	for _, step := range steps {
		row := SheetStep{
			Order:        step.StepOrder,
			Name:         step.Name,
			Completed:    step.Status == models.StepStatusCompleted,
			MiniDeadline: step.MiniDeadline,
		}
		if step.AssignedTo != nil {
			row.Assignee = names[*step.AssignedTo]
		}
		sheet.Steps = append(sheet.Steps, row)
	}
	return sheet
}
