package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domainpipe "github.com/relaydesk/relay/internal/domain/pipeline"
	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// TaskStore is the slice of the task repository the engine needs
type TaskStore interface {
	GetByID(id int64) (*models.Task, error)
	MarkCompleted(tx *sql.Tx, id int64, completedAt time.Time) (bool, error)
	MarkActive(tx *sql.Tx, id int64) (bool, error)
}

// StepStore is the slice of the step repository the engine needs
type StepStore interface {
	GetByID(id int64) (*models.PipelineStep, error)
	GetByTaskAndOrder(taskID int64, order int) (*models.PipelineStep, error)
	ListByTask(taskID int64) ([]*models.PipelineStep, error)
	CompareAndSwapStatus(tx *sql.Tx, stepID int64, from, to string, completedAt *time.Time) (bool, error)
	ClaimExclusive(tx *sql.Tx, stepID, claimerID int64) (bool, error)
}

// CommentStore records return reasons as comments
type CommentStore interface {
	Create(tx *sql.Tx, comment *models.StepComment) error
}

// TxRunner groups multi-row effects into one transaction
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// Notifier receives transition side effects. Implementations are
// best-effort: they log failures and never propagate them.
type Notifier interface {
	StepUnlocked(task *models.Task, step *models.PipelineStep, actorID int64)
	TaskCompleted(task *models.Task, actorID int64)
	StepReturned(task *models.Task, reopened *models.PipelineStep, reason string, actorID int64)
	StepClaimed(task *models.Task, step *models.PipelineStep, previouslyEligible []int64, claimerID int64)
}

// CycleSpawner creates the next cycle of a recurring task
type CycleSpawner interface {
	SpawnNextCycle(ctx context.Context, task *models.Task) (*models.Task, error)
}

// Engine executes pipeline step transitions. Each operation validates the
// step against the lifecycle machine, checks the authorization policy, then
// applies all row changes in one transaction with compare-and-swap status
// guards so concurrent calls cannot both succeed.
type Engine struct {
	tx       TxRunner
	tasks    TaskStore
	steps    StepStore
	comments CommentStore
	notifier Notifier
	spawner  CycleSpawner
	logger   *zap.Logger
}

// NewEngine creates a new transition engine
func NewEngine(
	tx TxRunner,
	tasks TaskStore,
	steps StepStore,
	comments CommentStore,
	notifier Notifier,
	spawner CycleSpawner,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		tx:       tx,
		tasks:    tasks,
		steps:    steps,
		comments: comments,
		notifier: notifier,
		spawner:  spawner,
		logger:   logger,
	}
}

// CompleteResult describes the outcome of a Complete transition
type CompleteResult struct {
	Step          *models.PipelineStep `json:"step"`
	UnlockedNext  *models.PipelineStep `json:"unlocked_next,omitempty"`
	TaskCompleted bool                 `json:"task_completed"`
	NextCycle     *models.Task         `json:"next_cycle,omitempty"`
}

func (e *Engine) loadStepAndTask(stepID int64) (*models.PipelineStep, *models.Task, error) {
	step, err := e.steps.GetByID(stepID)
	if err != nil {
		return nil, nil, err
	}
	if step == nil {
		return nil, nil, fmt.Errorf("%w: step %d", ErrNotFound, stepID)
	}

	task, err := e.tasks.GetByID(step.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, fmt.Errorf("%w: task %d", ErrNotFound, step.TaskID)
	}

	return step, task, nil
}

// fireOrInvalid validates a lifecycle transition against the domain machine
func fireOrInvalid(ctx context.Context, current string, trigger domainpipe.Trigger) error {
	machine := domainpipe.NewStepMachine(domainpipe.State(current))
	if err := machine.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

// Complete finishes the current step, unlocks the next one, and closes the
// task (spawning the next recurrence cycle) when it was the last step.
func (e *Engine) Complete(ctx context.Context, stepID int64, actor *models.Member) (*CompleteResult, error) {
	step, task, err := e.loadStepAndTask(stepID)
	if err != nil {
		return nil, err
	}

	if err := fireOrInvalid(ctx, step.Status, domainpipe.TriggerComplete); err != nil {
		return nil, err
	}
	if !Allow(actor, ActionComplete, step) {
		return nil, fmt.Errorf("%w: member %d cannot complete step %d", ErrUnauthorized, actor.ID, stepID)
	}

	next, err := e.steps.GetByTaskAndOrder(task.ID, step.StepOrder+1)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := &CompleteResult{Step: step}

	err = e.tx.WithTransaction(func(tx *sql.Tx) error {
		ok, err := e.steps.CompareAndSwapStatus(tx, step.ID, models.StepStatusUnlocked, models.StepStatusCompleted, &now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: step %d is no longer unlocked", ErrInvalidState, step.ID)
		}

		if next != nil {
			ok, err := e.steps.CompareAndSwapStatus(tx, next.ID, models.StepStatusLocked, models.StepStatusUnlocked, nil)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: step %d is not locked", ErrInvalidState, next.ID)
			}
			return nil
		}

		ok, err = e.tasks.MarkCompleted(tx, task.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: task %d is not active", ErrInvalidState, task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now

	e.logger.Info("Step completed",
		zap.Int64("step_id", step.ID),
		zap.Int64("task_id", task.ID),
		zap.Int64("actor_id", actor.ID))

	if next != nil {
		next.Status = models.StepStatusUnlocked
		result.UnlockedNext = next
		e.notifier.StepUnlocked(task, next, actor.ID)
		return result, nil
	}

	result.TaskCompleted = true
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now
	e.notifier.TaskCompleted(task, actor.ID)

	if task.IsRecurring() {
		// Best-effort: a failed cycle never undoes the completion.
		cycle, err := e.spawner.SpawnNextCycle(ctx, task)
		if err != nil {
			e.logger.Error("Failed to spawn next recurrence cycle",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
		} else {
			result.NextCycle = cycle
		}
	}

	return result, nil
}

// Return rewinds the pipeline by one position: the current step relocks and
// the previous step becomes actionable again with its completion cleared.
// The reason is recorded as a comment on the reopened step.
func (e *Engine) Return(ctx context.Context, stepID int64, actor *models.Member, reason string) (*models.PipelineStep, error) {
	step, task, err := e.loadStepAndTask(stepID)
	if err != nil {
		return nil, err
	}

	if err := fireOrInvalid(ctx, step.Status, domainpipe.TriggerRelock); err != nil {
		return nil, err
	}
	if step.StepOrder <= 1 {
		return nil, fmt.Errorf("%w: step %d is the first step", ErrNoPreviousStep, stepID)
	}
	if !Allow(actor, ActionReturn, step) {
		return nil, fmt.Errorf("%w: member %d cannot return step %d", ErrUnauthorized, actor.ID, stepID)
	}

	previous, err := e.steps.GetByTaskAndOrder(task.ID, step.StepOrder-1)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, fmt.Errorf("%w: step %d", ErrNoPreviousStep, stepID)
	}

	err = e.tx.WithTransaction(func(tx *sql.Tx) error {
		ok, err := e.steps.CompareAndSwapStatus(tx, step.ID, models.StepStatusUnlocked, models.StepStatusLocked, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: step %d is no longer unlocked", ErrInvalidState, step.ID)
		}

		ok, err = e.steps.CompareAndSwapStatus(tx, previous.ID, models.StepStatusCompleted, models.StepStatusUnlocked, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: step %d is not completed", ErrInvalidState, previous.ID)
		}

		return e.comments.Create(tx, &models.StepComment{
			StepID:   previous.ID,
			AuthorID: actor.ID,
			Body:     reason,
		})
	})
	if err != nil {
		return nil, err
	}

	previous.Status = models.StepStatusUnlocked
	previous.CompletedAt = nil
	step.Status = models.StepStatusLocked

	e.logger.Info("Step returned",
		zap.Int64("step_id", step.ID),
		zap.Int64("reopened_step_id", previous.ID),
		zap.Int64("actor_id", actor.ID))

	e.notifier.StepReturned(task, previous, reason, actor.ID)
	return previous, nil
}

// Claim collapses a joint step to an exclusive assignment for the claimer
// and tells everyone else who was eligible.
func (e *Engine) Claim(ctx context.Context, stepID int64, actor *models.Member) (*models.PipelineStep, error) {
	step, task, err := e.loadStepAndTask(stepID)
	if err != nil {
		return nil, err
	}

	if !step.IsJoint || step.Status != models.StepStatusUnlocked {
		return nil, fmt.Errorf("%w: step %d is not a claimable joint step", ErrInvalidState, stepID)
	}
	if !Allow(actor, ActionClaim, step) {
		return nil, fmt.Errorf("%w: member %d cannot claim step %d", ErrUnauthorized, actor.ID, stepID)
	}

	previouslyEligible := step.EligibleAssignees()

	err = e.tx.WithTransaction(func(tx *sql.Tx) error {
		ok, err := e.steps.ClaimExclusive(tx, step.ID, actor.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: step %d was already claimed", ErrInvalidState, step.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimerID := actor.ID
	step.AssignedTo = &claimerID
	step.AdditionalAssignees = []int64{}
	step.IsJoint = false

	e.logger.Info("Step claimed",
		zap.Int64("step_id", step.ID),
		zap.Int64("claimer_id", actor.ID))

	e.notifier.StepClaimed(task, step, previouslyEligible, actor.ID)
	return step, nil
}

// Reopen undoes an erroneous final completion: the task goes back to active
// and its last step becomes actionable again. Admin-only.
func (e *Engine) Reopen(ctx context.Context, taskID int64, actor *models.Member) (*models.PipelineStep, error) {
	if !Allow(actor, ActionReopen, nil) {
		return nil, fmt.Errorf("%w: member %d cannot reopen tasks", ErrUnauthorized, actor.ID)
	}

	task, err := e.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %d", ErrNotFound, taskID)
	}
	if task.Status != models.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %d is not completed", ErrInvalidState, taskID)
	}

	steps, err := e.steps.ListByTask(taskID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: task %d has no steps", ErrInvalidState, taskID)
	}
	last := steps[len(steps)-1]

	if err := fireOrInvalid(ctx, last.Status, domainpipe.TriggerRewind); err != nil {
		return nil, err
	}

	err = e.tx.WithTransaction(func(tx *sql.Tx) error {
		ok, err := e.steps.CompareAndSwapStatus(tx, last.ID, models.StepStatusCompleted, models.StepStatusUnlocked, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: step %d is not completed", ErrInvalidState, last.ID)
		}

		ok, err = e.tasks.MarkActive(tx, taskID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: task %d is not completed", ErrInvalidState, taskID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	last.Status = models.StepStatusUnlocked
	last.CompletedAt = nil

	e.logger.Info("Task reopened",
		zap.Int64("task_id", taskID),
		zap.Int64("step_id", last.ID),
		zap.Int64("actor_id", actor.ID))

	return last, nil
}
