package repository

import (
	"database/sql"
	"fmt"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// NotificationRepository handles notification database operations
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

// Create inserts a notification. Callers treat failures as best-effort:
// a failed write never rolls back the transition that produced it.
func (r *NotificationRepository) Create(notification *models.Notification) error {
	query := `
		INSERT INTO notifications (member_id, type, task_id, step_id, message)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		notification.MemberID,
		notification.Type,
		notification.TaskID,
		notification.StepID,
		notification.Message,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.Int64("member_id", notification.MemberID),
			zap.String("type", notification.Type),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	notification.ID = id
	return nil
}

// ListByMember retrieves a member's notifications, newest first.
// activeOnly filters out addressed ones.
func (r *NotificationRepository) ListByMember(memberID int64, activeOnly bool) ([]*models.Notification, error) {
	query := `
		SELECT id, member_id, type, task_id, step_id, message, is_read, is_addressed, created_at
		FROM notifications WHERE member_id = ?
	`
	if activeOnly {
		query += " AND is_addressed = 0"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.Query(query, memberID)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Int64("member_id", memberID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var taskID, stepID sql.NullInt64
		err := rows.Scan(&n.ID, &n.MemberID, &n.Type, &taskID, &stepID,
			&n.Message, &n.IsRead, &n.IsAddressed, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if taskID.Valid {
			n.TaskID = &taskID.Int64
		}
		if stepID.Valid {
			n.StepID = &stepID.Int64
		}
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// MarkRead flags a notification as seen. Read and addressed are orthogonal.
func (r *NotificationRepository) MarkRead(id, memberID int64) (bool, error) {
	result, err := r.db.Exec(
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND member_id = ?",
		id, memberID,
	)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// MarkAddressed archives a notification out of the active inbox
func (r *NotificationRepository) MarkAddressed(id, memberID int64) (bool, error) {
	result, err := r.db.Exec(
		"UPDATE notifications SET is_addressed = 1 WHERE id = ? AND member_id = ?",
		id, memberID,
	)
	if err != nil {
		r.logger.Error("Failed to mark notification addressed", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark notification addressed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// CountUnread counts a member's unread notifications
func (r *NotificationRepository) CountUnread(memberID int64) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM notifications WHERE member_id = ? AND is_read = 0",
		memberID,
	).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count unread notifications", zap.Int64("member_id", memberID), zap.Error(err))
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}
