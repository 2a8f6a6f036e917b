package dashboard

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/models"
)

// TaskStore is the slice of the task repository the aggregator needs
type TaskStore interface {
	ListByTeam(teamID int64, status string) ([]*models.Task, error)
}

// StepStore is the slice of the step repository the aggregator needs
type StepStore interface {
	ListByTask(taskID int64) ([]*models.PipelineStep, error)
}

// MemberStore lists the team roster
type MemberStore interface {
	ListByTeam(teamID int64, assignableOnly bool) ([]*models.Member, error)
}

// StepRef is a step as it appears on the dashboard
type StepRef struct {
	StepID       int64      `json:"step_id"`
	TaskID       int64      `json:"task_id"`
	TaskTitle    string     `json:"task_title"`
	Order        int        `json:"order"`
	Name         string     `json:"name"`
	IsJoint      bool       `json:"is_joint"`
	MiniDeadline *time.Time `json:"mini_deadline,omitempty"`
}

// TaskSummary is a task's progress line
type TaskSummary struct {
	TaskID         int64      `json:"task_id"`
	Title          string     `json:"title"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	TotalSteps     int        `json:"total_steps"`
	CompletedSteps int        `json:"completed_steps"`
	Completion     float64    `json:"completion"`
	CurrentStep    *StepRef   `json:"current_step,omitempty"`
	Recurring      bool       `json:"recurring"`
}

// MemberView groups a member's workload. A joint step appears under every
// eligible member until someone claims it.
type MemberView struct {
	MemberID    int64     `json:"member_id"`
	DisplayName string    `json:"display_name"`
	Now         []StepRef `json:"now"`      // unlocked steps waiting on the member
	Upcoming    []StepRef `json:"upcoming"` // locked steps assigned to the member
	Done        int       `json:"done"`     // completed steps across active tasks
}

// TeamDashboard is the full aggregate for one team
type TeamDashboard struct {
	TeamID      int64         `json:"team_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Tasks       []TaskSummary `json:"tasks"`
	Members     []MemberView  `json:"members"`
	Unassigned  []StepRef     `json:"unassigned"` // unlocked steps nobody owns
}

// Aggregator assembles per-team dashboards from active tasks
type Aggregator struct {
	tasks   TaskStore
	steps   StepStore
	members MemberStore
	logger  *zap.Logger

	now func() time.Time
}

// NewAggregator creates a new dashboard aggregator
func NewAggregator(tasks TaskStore, steps StepStore, members MemberStore, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		tasks:   tasks,
		steps:   steps,
		members: members,
		logger:  logger,
		now:     time.Now,
	}
}

// Build assembles the dashboard for a team's active tasks
func (a *Aggregator) Build(ctx context.Context, teamID int64) (*TeamDashboard, error) {
	tasks, err := a.tasks.ListByTeam(teamID, models.TaskStatusActive)
	if err != nil {
		return nil, err
	}
	roster, err := a.members.ListByTeam(teamID, false)
	if err != nil {
		return nil, err
	}

	views := make(map[int64]*MemberView, len(roster))
	var order []int64
	for _, member := range roster {
		if member.Archived {
			continue
		}
		views[member.ID] = &MemberView{MemberID: member.ID, DisplayName: member.DisplayName}
		order = append(order, member.ID)
	}

	board := &TeamDashboard{TeamID: teamID, GeneratedAt: a.now()}

	for _, task := range tasks {
		steps, err := a.steps.ListByTask(task.ID)
		if err != nil {
			return nil, err
		}

		summary := TaskSummary{
			TaskID:    task.ID,
			Title:     task.Title,
			Deadline:  task.Deadline,
			Recurring: task.IsRecurring(),
		}
		for _, step := range steps {
			summary.TotalSteps++
			ref := StepRef{
				StepID:       step.ID,
				TaskID:       task.ID,
				TaskTitle:    task.Title,
				Order:        step.StepOrder,
				Name:         step.Name,
				IsJoint:      step.IsJoint,
				MiniDeadline: step.MiniDeadline,
			}

			switch step.Status {
			case models.StepStatusCompleted:
				summary.CompletedSteps++
				for _, id := range step.EligibleAssignees() {
					if view, ok := views[id]; ok {
						view.Done++
					}
				}
			case models.StepStatusUnlocked:
				summary.CurrentStep = &ref
				eligible := step.EligibleAssignees()
				if len(eligible) == 0 {
					board.Unassigned = append(board.Unassigned, ref)
					break
				}
				for _, id := range eligible {
					if view, ok := views[id]; ok {
						view.Now = append(view.Now, ref)
					}
				}
			case models.StepStatusLocked:
				for _, id := range step.EligibleAssignees() {
					if view, ok := views[id]; ok {
						view.Upcoming = append(view.Upcoming, ref)
					}
				}
			}
		}
		if summary.TotalSteps > 0 {
			summary.Completion = float64(summary.CompletedSteps) / float64(summary.TotalSteps)
		}
		board.Tasks = append(board.Tasks, summary)
	}

	for _, id := range order {
		view := views[id]
		sortByDeadline(view.Now)
		sortByDeadline(view.Upcoming)
		board.Members = append(board.Members, *view)
	}
	sortByDeadline(board.Unassigned)

	return board, nil
}

// sortByDeadline orders steps by mini-deadline, undeadlined last, ties by
// task then step order
func sortByDeadline(refs []StepRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i].MiniDeadline, refs[j].MiniDeadline
		switch {
		case a == nil && b == nil:
			if refs[i].TaskID != refs[j].TaskID {
				return refs[i].TaskID < refs[j].TaskID
			}
			return refs[i].Order < refs[j].Order
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}
