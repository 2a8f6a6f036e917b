package repository

import (
	"database/sql"
	"fmt"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// CommentRepository handles step comment database operations
type CommentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *sql.DB, logger *zap.Logger) *CommentRepository {
	return &CommentRepository{db: db, logger: logger}
}

func (r *CommentRepository) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a step comment
func (r *CommentRepository) Create(tx *sql.Tx, comment *models.StepComment) error {
	query := "INSERT INTO step_comments (step_id, author_id, body) VALUES (?, ?, ?)"

	result, err := r.execer(tx).Exec(query, comment.StepID, comment.AuthorID, comment.Body)
	if err != nil {
		r.logger.Error("Failed to create comment", zap.Int64("step_id", comment.StepID), zap.Error(err))
		return fmt.Errorf("failed to create comment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	comment.ID = id
	return nil
}

// ListByStep retrieves a step's comments, oldest first
func (r *CommentRepository) ListByStep(stepID int64) ([]*models.StepComment, error) {
	query := `
		SELECT id, step_id, author_id, body, created_at
		FROM step_comments WHERE step_id = ? ORDER BY created_at
	`

	rows, err := r.db.Query(query, stepID)
	if err != nil {
		r.logger.Error("Failed to list comments", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.StepComment
	for rows.Next() {
		var c models.StepComment
		if err := rows.Scan(&c.ID, &c.StepID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, &c)
	}

	return comments, rows.Err()
}
