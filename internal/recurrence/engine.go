// Package recurrence spawns the next cycle of a recurring task when its
// final step completes.
package recurrence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// TaskCreator inserts the cloned task
type TaskCreator interface {
	Create(tx *sql.Tx, task *models.Task) error
}

// StepStore reads the template steps and inserts the clones
type StepStore interface {
	ListByTask(taskID int64) ([]*models.PipelineStep, error)
	Create(tx *sql.Tx, step *models.PipelineStep) error
}

// TxRunner groups the task and step inserts into one transaction
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// CycleNotifier announces the new cycle to the first step's assignees
type CycleNotifier interface {
	CycleStarted(task *models.Task, first *models.PipelineStep)
}

// Engine clones a completed recurring task into a fresh active one
type Engine struct {
	tx       TxRunner
	tasks    TaskCreator
	steps    StepStore
	notifier CycleNotifier
	logger   *zap.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewEngine creates a new recurrence engine
func NewEngine(tx TxRunner, tasks TaskCreator, steps StepStore, notifier CycleNotifier, logger *zap.Logger) *Engine {
	return &Engine{
		tx:       tx,
		tasks:    tasks,
		steps:    steps,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// NextDeadline advances a deadline by one recurrence interval. Monthly uses
// native calendar arithmetic: the day of month may shift over month-end
// boundaries, with no clamping.
func NextDeadline(from time.Time, recurrenceType string, interval int) time.Time {
	switch recurrenceType {
	case models.RecurrenceDaily:
		return from.AddDate(0, 0, interval)
	case models.RecurrenceWeekly:
		return from.AddDate(0, 0, interval*7)
	case models.RecurrenceMonthly:
		return from.AddDate(0, interval, 0)
	default:
		return from
	}
}

// SpawnNextCycle clones the completed task into the next cycle. The new
// task's deadline advances by the recurrence interval, step mini-deadlines
// keep their offset from the task deadline, and only the first step starts
// unlocked. Lineage always points at the true origin task.
func (e *Engine) SpawnNextCycle(ctx context.Context, task *models.Task) (*models.Task, error) {
	if !task.IsRecurring() {
		return nil, fmt.Errorf("task %d has no enabled recurrence", task.ID)
	}

	base := e.now()
	if task.Deadline != nil {
		base = *task.Deadline
	}
	nextDeadline := NextDeadline(base, task.RecurrenceType, task.RecurrenceInterval)

	sourceID := task.ID
	if task.SourceTaskID != nil {
		sourceID = *task.SourceTaskID
	}

	next := &models.Task{
		TeamID:             task.TeamID,
		Title:              task.Title,
		Description:        task.Description,
		Conclusion:         task.Conclusion,
		Actionables:        task.Actionables,
		Deadline:           &nextDeadline,
		Status:             models.TaskStatusActive,
		RecurrenceType:     task.RecurrenceType,
		RecurrenceInterval: task.RecurrenceInterval,
		RecurrenceEnabled:  task.RecurrenceEnabled,
		SourceTaskID:       &sourceID,
		RecurrenceCount:    task.RecurrenceCount + 1,
		CreatedBy:          task.CreatedBy,
	}

	templates, err := e.steps.ListByTask(task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template steps: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("task %d has no steps to clone", task.ID)
	}

	var first *models.PipelineStep
	err = e.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := e.tasks.Create(tx, next); err != nil {
			return err
		}

		for _, tmpl := range templates {
			status := models.StepStatusLocked
			if tmpl.StepOrder == 1 {
				status = models.StepStatusUnlocked
			}

			clone := &models.PipelineStep{
				TaskID:              next.ID,
				StepOrder:           tmpl.StepOrder,
				Name:                tmpl.Name,
				Status:              status,
				AssignedTo:          tmpl.AssignedTo,
				AdditionalAssignees: append([]int64{}, tmpl.AdditionalAssignees...),
				IsJoint:             tmpl.IsJoint,
				MiniDeadline:        shiftedDeadline(tmpl.MiniDeadline, task.Deadline, nextDeadline),
			}
			if err := e.steps.Create(tx, clone); err != nil {
				return err
			}
			if clone.StepOrder == 1 {
				first = clone
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recurrence cycle: %w", err)
	}

	e.logger.Info("Recurrence cycle created",
		zap.Int64("source_task_id", sourceID),
		zap.Int64("new_task_id", next.ID),
		zap.Int("recurrence_count", next.RecurrenceCount),
		zap.Time("deadline", nextDeadline))

	if first != nil {
		e.notifier.CycleStarted(next, first)
	}

	return next, nil
}

// shiftedDeadline recomputes a step deadline against the new task deadline,
// preserving the original offset. Both original dates must be present.
func shiftedDeadline(stepDeadline, taskDeadline *time.Time, newTaskDeadline time.Time) *time.Time {
	if stepDeadline == nil || taskDeadline == nil {
		return nil
	}
	offset := stepDeadline.Sub(*taskDeadline)
	shifted := newTaskDeadline.Add(offset)
	return &shifted
}
