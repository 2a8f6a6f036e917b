package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// TaskRepository handles task database operations
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create creates a new task
func (r *TaskRepository) Create(tx *sql.Tx, task *models.Task) error {
	query := `
		INSERT INTO tasks (
			team_id, title, description, conclusion, actionables, deadline,
			status, recurrence_type, recurrence_interval, recurrence_enabled,
			source_task_id, recurrence_count, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if task.Status == "" {
		task.Status = models.TaskStatusActive
	}

	result, err := r.execer(tx).Exec(query,
		task.TeamID,
		task.Title,
		task.Description,
		task.Conclusion,
		task.Actionables,
		task.Deadline,
		task.Status,
		nullString(task.RecurrenceType),
		task.RecurrenceInterval,
		task.RecurrenceEnabled,
		task.SourceTaskID,
		task.RecurrenceCount,
		task.CreatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create task", zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

const taskColumns = `id, team_id, title, description, conclusion, actionables,
	deadline, status, completed_at, recurrence_type, recurrence_interval,
	recurrence_enabled, source_task_id, recurrence_count, created_by,
	created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var task models.Task
	var deadline, completedAt sql.NullTime
	var recurrenceType sql.NullString
	var sourceTaskID sql.NullInt64

	err := row.Scan(
		&task.ID,
		&task.TeamID,
		&task.Title,
		&task.Description,
		&task.Conclusion,
		&task.Actionables,
		&deadline,
		&task.Status,
		&completedAt,
		&recurrenceType,
		&task.RecurrenceInterval,
		&task.RecurrenceEnabled,
		&sourceTaskID,
		&task.RecurrenceCount,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deadline.Valid {
		task.Deadline = &deadline.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if recurrenceType.Valid {
		task.RecurrenceType = recurrenceType.String
	}
	if sourceTaskID.Valid {
		task.SourceTaskID = &sourceTaskID.Int64
	}

	return &task, nil
}

// GetByID retrieves a task by ID; returns nil when not found
func (r *TaskRepository) GetByID(id int64) (*models.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns)

	task, err := scanTask(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListByTeam retrieves tasks for a team, optionally filtered by status
func (r *TaskRepository) ListByTeam(teamID int64, status string) ([]*models.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE team_id = ?", taskColumns)
	args := []interface{}{teamID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Int64("team_id", teamID), zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// Update updates a task's editable fields
func (r *TaskRepository) Update(tx *sql.Tx, task *models.Task) error {
	query := `
		UPDATE tasks SET
			title = ?, description = ?, conclusion = ?, actionables = ?,
			deadline = ?, recurrence_type = ?, recurrence_interval = ?,
			recurrence_enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := r.execer(tx).Exec(query,
		task.Title,
		task.Description,
		task.Conclusion,
		task.Actionables,
		task.Deadline,
		nullString(task.RecurrenceType),
		task.RecurrenceInterval,
		task.RecurrenceEnabled,
		task.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update task", zap.Int64("id", task.ID), zap.Error(err))
		return fmt.Errorf("failed to update task: %w", err)
	}

	return nil
}

// MarkCompleted transitions an active task to completed. The status guard
// makes the update a compare-and-swap: it reports false when the task was
// not active anymore.
func (r *TaskRepository) MarkCompleted(tx *sql.Tx, id int64, completedAt time.Time) (bool, error) {
	query := `
		UPDATE tasks SET status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.execer(tx).Exec(query, models.TaskStatusCompleted, completedAt, id, models.TaskStatusActive)
	if err != nil {
		r.logger.Error("Failed to complete task", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to complete task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// MarkActive reopens a completed task; compare-and-swap on status.
func (r *TaskRepository) MarkActive(tx *sql.Tx, id int64) (bool, error) {
	query := `
		UPDATE tasks SET status = ?, completed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.execer(tx).Exec(query, models.TaskStatusActive, id, models.TaskStatusCompleted)
	if err != nil {
		r.logger.Error("Failed to reopen task", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to reopen task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// Delete deletes a task; its steps cascade at the schema level
func (r *TaskRepository) Delete(tx *sql.Tx, id int64) error {
	_, err := r.execer(tx).Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to delete task", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
