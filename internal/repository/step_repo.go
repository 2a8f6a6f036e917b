package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// StepRepository handles pipeline step database operations
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

func (r *StepRepository) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

func marshalAssignees(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to marshal additional assignees: %w", err)
	}
	return string(data), nil
}

// Create inserts a new pipeline step
func (r *StepRepository) Create(tx *sql.Tx, step *models.PipelineStep) error {
	query := `
		INSERT INTO pipeline_steps (
			task_id, step_order, name, status, assigned_to,
			additional_assignees, is_joint, mini_deadline, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if step.Status == "" {
		step.Status = models.StepStatusLocked
	}

	assignees, err := marshalAssignees(step.AdditionalAssignees)
	if err != nil {
		return err
	}

	result, err := r.execer(tx).Exec(query,
		step.TaskID,
		step.StepOrder,
		step.Name,
		step.Status,
		step.AssignedTo,
		assignees,
		step.IsJoint,
		step.MiniDeadline,
		step.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create step",
			zap.Int64("task_id", step.TaskID),
			zap.Int("step_order", step.StepOrder),
			zap.Error(err))
		return fmt.Errorf("failed to create step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	step.ID = id
	return nil
}

const stepColumns = `id, task_id, step_order, name, status, assigned_to,
	additional_assignees, is_joint, mini_deadline, completed_at,
	created_at, updated_at`

func scanStep(row interface{ Scan(...interface{}) error }) (*models.PipelineStep, error) {
	var step models.PipelineStep
	var assignedTo sql.NullInt64
	var assigneesJSON string
	var miniDeadline, completedAt sql.NullTime

	err := row.Scan(
		&step.ID,
		&step.TaskID,
		&step.StepOrder,
		&step.Name,
		&step.Status,
		&assignedTo,
		&assigneesJSON,
		&step.IsJoint,
		&miniDeadline,
		&completedAt,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		step.AssignedTo = &assignedTo.Int64
	}
	if miniDeadline.Valid {
		step.MiniDeadline = &miniDeadline.Time
	}
	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(assigneesJSON), &step.AdditionalAssignees); err != nil {
		return nil, fmt.Errorf("failed to unmarshal additional assignees: %w", err)
	}

	return &step, nil
}

// GetByID retrieves a step by ID; returns nil when not found
func (r *StepRepository) GetByID(id int64) (*models.PipelineStep, error) {
	query := fmt.Sprintf("SELECT %s FROM pipeline_steps WHERE id = ?", stepColumns)

	step, err := scanStep(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}

	return step, nil
}

// GetByTaskAndOrder retrieves a task's step at a given position; nil when absent
func (r *StepRepository) GetByTaskAndOrder(taskID int64, order int) (*models.PipelineStep, error) {
	query := fmt.Sprintf("SELECT %s FROM pipeline_steps WHERE task_id = ? AND step_order = ?", stepColumns)

	step, err := scanStep(r.db.QueryRow(query, taskID, order))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step by order",
			zap.Int64("task_id", taskID),
			zap.Int("step_order", order),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}

	return step, nil
}

// ListByTask retrieves all steps of a task ordered by step_order
func (r *StepRepository) ListByTask(taskID int64) ([]*models.PipelineStep, error) {
	query := fmt.Sprintf("SELECT %s FROM pipeline_steps WHERE task_id = ? ORDER BY step_order", stepColumns)

	rows, err := r.db.Query(query, taskID)
	if err != nil {
		r.logger.Error("Failed to list steps", zap.Int64("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.PipelineStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// ListByAssigneeStatus retrieves steps assigned to a member with the given
// status, joined with their task so callers can show titles and deadlines.
func (r *StepRepository) ListByAssigneeStatus(memberID int64, status string) ([]*models.PipelineStep, error) {
	// joint steps count for every listed candidate, not only the primary
	query := fmt.Sprintf(`
		SELECT %s FROM pipeline_steps
		WHERE status = ?
		  AND (assigned_to = ?
		       OR EXISTS (SELECT 1 FROM json_each(additional_assignees) WHERE value = ?))
		ORDER BY mini_deadline IS NULL, mini_deadline
	`, stepColumns)

	rows, err := r.db.Query(query, status, memberID, memberID)
	if err != nil {
		r.logger.Error("Failed to list steps by assignee",
			zap.Int64("member_id", memberID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.PipelineStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// CompareAndSwapStatus transitions a step from one status to another in a
// single guarded UPDATE. It reports false when the step was no longer in the
// expected status, which is how two racing transitions are serialized.
func (r *StepRepository) CompareAndSwapStatus(tx *sql.Tx, stepID int64, from, to string, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE pipeline_steps
		SET status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.execer(tx).Exec(query, to, completedAt, stepID, from)
	if err != nil {
		r.logger.Error("Failed to update step status",
			zap.Int64("step_id", stepID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return false, fmt.Errorf("failed to update step status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// ClaimExclusive collapses a joint step to a single assignee. Guarded on
// is_joint and unlocked status so a second claim reports false.
func (r *StepRepository) ClaimExclusive(tx *sql.Tx, stepID, claimerID int64) (bool, error) {
	query := `
		UPDATE pipeline_steps
		SET assigned_to = ?, additional_assignees = '[]', is_joint = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_joint = 1 AND status = ?
	`

	result, err := r.execer(tx).Exec(query, claimerID, stepID, models.StepStatusUnlocked)
	if err != nil {
		r.logger.Error("Failed to claim step",
			zap.Int64("step_id", stepID),
			zap.Int64("claimer_id", claimerID),
			zap.Error(err))
		return false, fmt.Errorf("failed to claim step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// DeleteIncomplete removes a task's non-completed steps; used by the
// wholesale step replacement on edit, which preserves completed steps.
func (r *StepRepository) DeleteIncomplete(tx *sql.Tx, taskID int64) error {
	query := "DELETE FROM pipeline_steps WHERE task_id = ? AND status != ?"

	_, err := r.execer(tx).Exec(query, taskID, models.StepStatusCompleted)
	if err != nil {
		r.logger.Error("Failed to delete incomplete steps",
			zap.Int64("task_id", taskID),
			zap.Error(err))
		return fmt.Errorf("failed to delete incomplete steps: %w", err)
	}
	return nil
}
