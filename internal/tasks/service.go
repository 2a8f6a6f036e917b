package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/ai"
	"github.com/relaydesk/relay/internal/models"
)

// ErrValidation marks rejected input; handlers map it to a 400
var ErrValidation = errors.New("invalid task input")

// ErrInvalidState marks structural edits attempted on a completed task
var ErrInvalidState = errors.New("task is not editable in its current state")

// ErrNotFound marks a missing task
var ErrNotFound = errors.New("task not found")

// TaskStore is the slice of the task repository the service needs
type TaskStore interface {
	Create(tx *sql.Tx, task *models.Task) error
	GetByID(id int64) (*models.Task, error)
	Update(tx *sql.Tx, task *models.Task) error
	Delete(tx *sql.Tx, id int64) error
}

// StepStore is the slice of the step repository the service needs
type StepStore interface {
	Create(tx *sql.Tx, step *models.PipelineStep) error
	ListByTask(taskID int64) ([]*models.PipelineStep, error)
	DeleteIncomplete(tx *sql.Tx, taskID int64) error
}

// MemberStore resolves and creates assignable members
type MemberStore interface {
	Create(tx *sql.Tx, member *models.Member) error
	AddToTeam(tx *sql.Tx, memberID, teamID int64) error
	ListByTeam(teamID int64, assignableOnly bool) ([]*models.Member, error)
}

// TxRunner groups task and step writes into one transaction
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// Notifier announces the initially actionable step of a new task
type Notifier interface {
	StepUnlocked(task *models.Task, step *models.PipelineStep, actorID int64)
}

// Service creates and restructures tasks. Step transitions live in the
// pipeline engine; this layer owns the task-and-steps unit.
type Service struct {
	tx       TxRunner
	tasks    TaskStore
	steps    StepStore
	members  MemberStore
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a new task service
func NewService(
	tx TxRunner,
	tasks TaskStore,
	steps StepStore,
	members MemberStore,
	notifier Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		tx:       tx,
		tasks:    tasks,
		steps:    steps,
		members:  members,
		notifier: notifier,
		logger:   logger,
	}
}

// StepInput describes one step of a create or replace request
type StepInput struct {
	Name                string     `json:"name"`
	AssignedTo          *int64     `json:"assigned_to,omitempty"`
	AdditionalAssignees []int64    `json:"additional_assignees,omitempty"`
	IsJoint             bool       `json:"is_joint"`
	MiniDeadline        *time.Time `json:"mini_deadline,omitempty"`
}

// CreateTaskInput describes a full new task
type CreateTaskInput struct {
	TeamID             int64       `json:"team_id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Deadline           *time.Time  `json:"deadline,omitempty"`
	RecurrenceType     string      `json:"recurrence_type,omitempty"`
	RecurrenceInterval int         `json:"recurrence_interval,omitempty"`
	RecurrenceEnabled  bool        `json:"recurrence_enabled,omitempty"`
	Steps              []StepInput `json:"steps"`
}

func validateSteps(steps []StepInput) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrValidation)
	}
	for i, step := range steps {
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrValidation, i+1)
		}
		if step.IsJoint && step.AssignedTo == nil && len(step.AdditionalAssignees) == 0 {
			return fmt.Errorf("%w: joint step %d has no candidates", ErrValidation, i+1)
		}
	}
	return nil
}

func validateRecurrence(input *CreateTaskInput) error {
	if !input.RecurrenceEnabled {
		return nil
	}
	switch input.RecurrenceType {
	case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
	default:
		return fmt.Errorf("%w: unknown recurrence type %q", ErrValidation, input.RecurrenceType)
	}
	if input.RecurrenceInterval < 1 {
		return fmt.Errorf("%w: recurrence interval must be positive", ErrValidation)
	}
	return nil
}

// Create persists a task with its steps as a unit. The first step starts
// unlocked, the rest locked. Assignment notifications go out after commit.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateTaskInput) (*models.Task, []*models.PipelineStep, error) {
	if input.Title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if err := validateSteps(input.Steps); err != nil {
		return nil, nil, err
	}
	if err := validateRecurrence(&input); err != nil {
		return nil, nil, err
	}

	task := &models.Task{
		TeamID:             input.TeamID,
		Title:              input.Title,
		Description:        input.Description,
		Deadline:           input.Deadline,
		Status:             models.TaskStatusActive,
		RecurrenceType:     input.RecurrenceType,
		RecurrenceInterval: input.RecurrenceInterval,
		RecurrenceEnabled:  input.RecurrenceEnabled,
		CreatedBy:          actorID,
	}

	var steps []*models.PipelineStep
	err := s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.tasks.Create(tx, task); err != nil {
			return err
		}
		created, err := s.createSteps(tx, task.ID, 1, input.Steps)
		if err != nil {
			return err
		}
		steps = created
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("Task created",
		zap.Int64("task_id", task.ID),
		zap.Int64("team_id", task.TeamID),
		zap.Int("steps", len(steps)))

	s.notifier.StepUnlocked(task, steps[0], actorID)
	return task, steps, nil
}

// createSteps inserts steps starting at startOrder. The first inserted
// step is unlocked, the rest locked.
func (s *Service) createSteps(tx *sql.Tx, taskID int64, startOrder int, inputs []StepInput) ([]*models.PipelineStep, error) {
	steps := make([]*models.PipelineStep, 0, len(inputs))
	for i, input := range inputs {
		status := models.StepStatusLocked
		if i == 0 {
			status = models.StepStatusUnlocked
		}
		step := &models.PipelineStep{
			TaskID:              taskID,
			StepOrder:           startOrder + i,
			Name:                input.Name,
			Status:              status,
			AssignedTo:          input.AssignedTo,
			AdditionalAssignees: input.AdditionalAssignees,
			IsJoint:             input.IsJoint,
			MiniDeadline:        input.MiniDeadline,
		}
		if err := s.steps.Create(tx, step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// UpdateDetails changes the task's scalar fields without touching its steps
type UpdateDetailsInput struct {
	Title              *string    `json:"title,omitempty"`
	Description        *string    `json:"description,omitempty"`
	Conclusion         *string    `json:"conclusion,omitempty"`
	Actionables        *string    `json:"actionables,omitempty"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	ClearDeadline      bool       `json:"clear_deadline,omitempty"`
	RecurrenceType     *string    `json:"recurrence_type,omitempty"`
	RecurrenceInterval *int       `json:"recurrence_interval,omitempty"`
	RecurrenceEnabled  *bool      `json:"recurrence_enabled,omitempty"`
}

// UpdateDetails applies a partial update to the task's own fields
func (s *Service) UpdateDetails(ctx context.Context, taskID int64, input UpdateDetailsInput) (*models.Task, error) {
	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if task.Status != models.TaskStatusActive {
		return nil, fmt.Errorf("%w: reopen the task before editing it", ErrInvalidState)
	}

	if input.Title != nil {
		if *input.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		task.Title = *input.Title
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.Conclusion != nil {
		task.Conclusion = *input.Conclusion
	}
	if input.Actionables != nil {
		task.Actionables = *input.Actionables
	}
	if input.Deadline != nil {
		task.Deadline = input.Deadline
	} else if input.ClearDeadline {
		task.Deadline = nil
	}
	if input.RecurrenceType != nil {
		task.RecurrenceType = *input.RecurrenceType
	}
	if input.RecurrenceInterval != nil {
		task.RecurrenceInterval = *input.RecurrenceInterval
	}
	if input.RecurrenceEnabled != nil {
		task.RecurrenceEnabled = *input.RecurrenceEnabled
	}
	if task.RecurrenceEnabled {
		check := CreateTaskInput{
			RecurrenceEnabled:  true,
			RecurrenceType:     task.RecurrenceType,
			RecurrenceInterval: task.RecurrenceInterval,
		}
		if err := validateRecurrence(&check); err != nil {
			return nil, err
		}
	}

	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		return s.tasks.Update(tx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// ReplaceSteps swaps out the incomplete tail of a task's pipeline.
// Completed steps are immutable and keep their positions; the new steps
// are appended after them and the first becomes the actionable one.
func (s *Service) ReplaceSteps(ctx context.Context, actorID, taskID int64, inputs []StepInput) ([]*models.PipelineStep, error) {
	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if task.Status != models.TaskStatusActive {
		return nil, fmt.Errorf("%w: reopen the task before editing steps", ErrInvalidState)
	}
	if err := validateSteps(inputs); err != nil {
		return nil, err
	}

	existing, err := s.steps.ListByTask(taskID)
	if err != nil {
		return nil, err
	}
	completed := 0
	for _, step := range existing {
		if step.Status == models.StepStatusCompleted {
			completed++
		}
	}

	var created []*models.PipelineStep
	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.steps.DeleteIncomplete(tx, taskID); err != nil {
			return err
		}
		steps, err := s.createSteps(tx, taskID, completed+1, inputs)
		if err != nil {
			return err
		}
		created = steps
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace steps: %w", err)
	}

	s.logger.Info("Pipeline restructured",
		zap.Int64("task_id", taskID),
		zap.Int("kept_completed", completed),
		zap.Int("new_steps", len(created)))

	s.notifier.StepUnlocked(task, created[0], actorID)
	return created, nil
}

// Delete removes a task and its dependents
func (s *Service) Delete(ctx context.Context, taskID int64) error {
	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrNotFound
	}
	return s.tx.WithTransaction(func(tx *sql.Tx) error {
		return s.tasks.Delete(tx, taskID)
	})
}

// ConfirmProposal materializes an extracted proposal into a real task.
// Names that did not match the team roster become new assignable members
// scoped to the proposal's team; joint alternatives collapse into a primary
// assignee plus additional assignees.
func (s *Service) ConfirmProposal(ctx context.Context, actorID, teamID int64, proposal *ai.ReadyProposal) (*models.Task, []*models.PipelineStep, error) {
	if proposal == nil || proposal.Title == "" || len(proposal.Steps) == 0 {
		return nil, nil, fmt.Errorf("%w: proposal is not ready", ErrValidation)
	}

	if err := validateProposalRecurrence(proposal.Recurrence); err != nil {
		return nil, nil, err
	}

	roster, err := s.members.ListByTeam(teamID, true)
	if err != nil {
		return nil, nil, err
	}
	names := resolveProposalNames(proposal.Steps, roster)

	task := &models.Task{
		TeamID:    teamID,
		Title:     proposal.Title,
		Deadline:  proposal.Deadline,
		Status:    models.TaskStatusActive,
		CreatedBy: actorID,
	}
	if proposal.Recurrence != nil {
		task.RecurrenceType = proposal.Recurrence.Type
		task.RecurrenceInterval = proposal.Recurrence.Interval
		task.RecurrenceEnabled = proposal.Recurrence.Enabled
	}

	business, err := s.teamBusiness(teamID, roster)
	if err != nil {
		return nil, nil, err
	}

	var steps []*models.PipelineStep
	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.createUnmatched(tx, names, business, teamID); err != nil {
			return err
		}
		if err := s.tasks.Create(tx, task); err != nil {
			return err
		}
		created, err := s.createSteps(tx, task.ID, 1, names.stepInputs(proposal.Steps))
		if err != nil {
			return err
		}
		steps = created
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to confirm proposal: %w", err)
	}

	s.logger.Info("Proposal confirmed",
		zap.Int64("task_id", task.ID),
		zap.Int("steps", len(steps)),
		zap.Int("members_created", len(names.toCreate)))

	s.notifier.StepUnlocked(task, steps[0], actorID)
	return task, steps, nil
}

// ApplyProposal rewrites an existing task from an edited proposal.
// Completed steps stay exactly as stored no matter what the proposal
// contains: the proposal's steps past the completed prefix replace the
// incomplete tail, with name resolution and member creation running the
// same way they do on creation.
func (s *Service) ApplyProposal(ctx context.Context, actorID, taskID int64, proposal *ai.ReadyProposal) (*models.Task, []*models.PipelineStep, error) {
	if proposal == nil || proposal.Title == "" || len(proposal.Steps) == 0 {
		return nil, nil, fmt.Errorf("%w: proposal is not ready", ErrValidation)
	}
	if err := validateProposalRecurrence(proposal.Recurrence); err != nil {
		return nil, nil, err
	}

	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, ErrNotFound
	}
	if task.Status != models.TaskStatusActive {
		return nil, nil, fmt.Errorf("%w: reopen the task before editing it", ErrInvalidState)
	}

	existing, err := s.steps.ListByTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	completed := 0
	for _, step := range existing {
		if step.Status == models.StepStatusCompleted {
			completed++
		}
	}
	if len(proposal.Steps) <= completed {
		return nil, nil, fmt.Errorf("%w: proposal has no steps beyond the %d completed ones", ErrValidation, completed)
	}
	tail := proposal.Steps[completed:]

	roster, err := s.members.ListByTeam(task.TeamID, true)
	if err != nil {
		return nil, nil, err
	}
	names := resolveProposalNames(tail, roster)

	var business int64
	if len(names.toCreate) > 0 {
		business, err = s.teamBusiness(task.TeamID, roster)
		if err != nil {
			return nil, nil, err
		}
	}

	task.Title = proposal.Title
	task.Deadline = proposal.Deadline
	if proposal.Recurrence != nil {
		task.RecurrenceType = proposal.Recurrence.Type
		task.RecurrenceInterval = proposal.Recurrence.Interval
		task.RecurrenceEnabled = proposal.Recurrence.Enabled
	}

	var created []*models.PipelineStep
	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.createUnmatched(tx, names, business, task.TeamID); err != nil {
			return err
		}
		if err := s.tasks.Update(tx, task); err != nil {
			return err
		}
		if err := s.steps.DeleteIncomplete(tx, taskID); err != nil {
			return err
		}
		steps, err := s.createSteps(tx, taskID, completed+1, names.stepInputs(tail))
		if err != nil {
			return err
		}
		created = steps
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply proposal: %w", err)
	}

	s.logger.Info("Proposal applied",
		zap.Int64("task_id", taskID),
		zap.Int("kept_completed", completed),
		zap.Int("new_steps", len(created)),
		zap.Int("members_created", len(names.toCreate)))

	s.notifier.StepUnlocked(task, created[0], actorID)
	return task, created, nil
}

// nameResolution maps normalized proposal names to member IDs. Names in
// toCreate have no roster match yet and get a member inside the confirm
// transaction.
type nameResolution struct {
	ids      map[string]int64
	toCreate []string
}

// resolveProposalNames matches every distinct name in the given steps
// against the roster up front, so member creation happens once per name.
func resolveProposalNames(steps []ai.StepProposal, roster []*models.Member) *nameResolution {
	res := &nameResolution{ids: make(map[string]int64)}
	resolve := func(name string) {
		if name == "" {
			return
		}
		key := normalizeName(name)
		if _, ok := res.ids[key]; ok {
			return
		}
		if member := ai.MatchName(name, roster); member != nil {
			res.ids[key] = member.ID
			return
		}
		res.ids[key] = 0
		res.toCreate = append(res.toCreate, name)
	}
	for _, step := range steps {
		resolve(step.AssigneeName)
		for _, alt := range step.Alternatives {
			resolve(alt)
		}
	}
	return res
}

// createUnmatched materializes the unresolved names as assignable members
// scoped to the team
func (s *Service) createUnmatched(tx *sql.Tx, names *nameResolution, business, teamID int64) error {
	for _, name := range names.toCreate {
		member := &models.Member{
			BusinessID:  business,
			DisplayName: name,
			Role:        models.RoleUser,
		}
		if err := s.members.Create(tx, member); err != nil {
			return err
		}
		if err := s.members.AddToTeam(tx, member.ID, teamID); err != nil {
			return err
		}
		names.ids[normalizeName(name)] = member.ID
	}
	return nil
}

// stepInputs converts proposal steps into step inputs using the resolved
// IDs; joint alternatives collapse into a primary plus additional assignees
func (r *nameResolution) stepInputs(steps []ai.StepProposal) []StepInput {
	inputs := make([]StepInput, 0, len(steps))
	for _, p := range steps {
		input := StepInput{Name: p.Description, MiniDeadline: p.MiniDeadline}
		if p.IsJoint() {
			candidates := make([]int64, 0, len(p.Alternatives))
			for _, alt := range p.Alternatives {
				candidates = append(candidates, r.ids[normalizeName(alt)])
			}
			primary := candidates[0]
			input.AssignedTo = &primary
			input.AdditionalAssignees = candidates[1:]
			input.IsJoint = true
		} else if p.AssigneeName != "" {
			id := r.ids[normalizeName(p.AssigneeName)]
			input.AssignedTo = &id
		}
		inputs = append(inputs, input)
	}
	return inputs
}

// validateProposalRecurrence applies the same recurrence rules creation
// uses to a proposal's pattern
func validateProposalRecurrence(rec *ai.RecurrenceProposal) error {
	if rec == nil || !rec.Enabled {
		return nil
	}
	check := CreateTaskInput{
		RecurrenceEnabled:  true,
		RecurrenceType:     rec.Type,
		RecurrenceInterval: rec.Interval,
	}
	return validateRecurrence(&check)
}

// teamBusiness finds the business a team belongs to via its roster.
// An empty roster cannot anchor new members.
func (s *Service) teamBusiness(teamID int64, roster []*models.Member) (int64, error) {
	for _, member := range roster {
		return member.BusinessID, nil
	}
	return 0, fmt.Errorf("%w: team %d has no members to anchor new assignees", ErrValidation, teamID)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
