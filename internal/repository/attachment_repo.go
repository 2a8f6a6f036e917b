package repository

import (
	"database/sql"
	"fmt"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// AttachmentRepository handles attachment metadata database operations
type AttachmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *sql.DB, logger *zap.Logger) *AttachmentRepository {
	return &AttachmentRepository{db: db, logger: logger}
}

// Create inserts attachment metadata
func (r *AttachmentRepository) Create(attachment *models.Attachment) error {
	query := `
		INSERT INTO attachments (step_id, uploader_id, file_name, stored_path, size_bytes, content_type, page_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		attachment.StepID,
		attachment.UploaderID,
		attachment.FileName,
		attachment.StoredPath,
		attachment.SizeBytes,
		attachment.ContentType,
		attachment.PageCount,
	)
	if err != nil {
		r.logger.Error("Failed to create attachment",
			zap.Int64("step_id", attachment.StepID),
			zap.String("file_name", attachment.FileName),
			zap.Error(err))
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	attachment.ID = id
	return nil
}

// GetByID retrieves one attachment; returns nil when not found
func (r *AttachmentRepository) GetByID(id int64) (*models.Attachment, error) {
	query := `
		SELECT id, step_id, uploader_id, file_name, stored_path, size_bytes, content_type, page_count, created_at
		FROM attachments WHERE id = ?
	`

	var a models.Attachment
	var pageCount sql.NullInt64
	err := r.db.QueryRow(query, id).Scan(&a.ID, &a.StepID, &a.UploaderID, &a.FileName,
		&a.StoredPath, &a.SizeBytes, &a.ContentType, &pageCount, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get attachment", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	if pageCount.Valid {
		pages := int(pageCount.Int64)
		a.PageCount = &pages
	}
	return &a, nil
}

// ListByStep retrieves a step's attachments, newest first
func (r *AttachmentRepository) ListByStep(stepID int64) ([]*models.Attachment, error) {
	query := `
		SELECT id, step_id, uploader_id, file_name, stored_path, size_bytes, content_type, page_count, created_at
		FROM attachments WHERE step_id = ? ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, stepID)
	if err != nil {
		r.logger.Error("Failed to list attachments", zap.Int64("step_id", stepID), zap.Error(err))
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		var a models.Attachment
		var pageCount sql.NullInt64
		err := rows.Scan(&a.ID, &a.StepID, &a.UploaderID, &a.FileName,
			&a.StoredPath, &a.SizeBytes, &a.ContentType, &pageCount, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		if pageCount.Valid {
			pages := int(pageCount.Int64)
			a.PageCount = &pages
		}
		attachments = append(attachments, &a)
	}

	return attachments, rows.Err()
}

// EmailSettingsRepository handles digest preference operations
type EmailSettingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEmailSettingsRepository creates a new email settings repository
func NewEmailSettingsRepository(db *sql.DB, logger *zap.Logger) *EmailSettingsRepository {
	return &EmailSettingsRepository{db: db, logger: logger}
}

// Get retrieves a member's digest settings, defaulting to enabled at 08:00
// when no row exists.
func (r *EmailSettingsRepository) Get(memberID int64) (*models.EmailSettings, error) {
	var settings models.EmailSettings
	err := r.db.QueryRow(
		"SELECT member_id, digest_enabled, digest_hour FROM email_settings WHERE member_id = ?",
		memberID,
	).Scan(&settings.MemberID, &settings.DigestEnabled, &settings.DigestHour)
	if err == sql.ErrNoRows {
		return &models.EmailSettings{MemberID: memberID, DigestEnabled: true, DigestHour: 8}, nil
	}
	if err != nil {
		r.logger.Error("Failed to get email settings", zap.Int64("member_id", memberID), zap.Error(err))
		return nil, fmt.Errorf("failed to get email settings: %w", err)
	}
	return &settings, nil
}

// Upsert writes a member's digest settings by conflict key
func (r *EmailSettingsRepository) Upsert(settings *models.EmailSettings) error {
	query := `
		INSERT INTO email_settings (member_id, digest_enabled, digest_hour)
		VALUES (?, ?, ?)
		ON CONFLICT (member_id) DO UPDATE SET
			digest_enabled = excluded.digest_enabled,
			digest_hour = excluded.digest_hour
	`

	_, err := r.db.Exec(query, settings.MemberID, settings.DigestEnabled, settings.DigestHour)
	if err != nil {
		r.logger.Error("Failed to upsert email settings", zap.Int64("member_id", settings.MemberID), zap.Error(err))
		return fmt.Errorf("failed to upsert email settings: %w", err)
	}
	return nil
}
