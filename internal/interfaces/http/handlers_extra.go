package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/ai"
	"github.com/relaydesk/relay/internal/attachment"
	"github.com/relaydesk/relay/internal/auth"
	"github.com/relaydesk/relay/internal/models"
	"github.com/relaydesk/relay/internal/pipeline"
	"github.com/relaydesk/relay/internal/tasks"
)

// maxAttachmentSize caps uploads at 20 MiB
const maxAttachmentSize = 20 << 20

// ListNotifications handles GET /api/v1/me/notifications.
// By default only unaddressed notifications are returned; ?all=true
// includes addressed ones.
func (h *Handlers) ListNotifications(c *gin.Context) {
	member := currentMember(c)
	activeOnly := c.Query("all") != "true"

	list, err := h.notifications.ListByMember(member.ID, activeOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	unread, err := h.notifications.CountUnread(member.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"notifications": list, "unread": unread})
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	updated, err := h.notifications.MarkRead(id, currentMember(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !updated {
		h.fail(c, pipeline.ErrNotFound)
		return
	}
	ok(c, gin.H{"read": id})
}

// MarkNotificationAddressed handles POST /api/v1/notifications/:id/address
func (h *Handlers) MarkNotificationAddressed(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	updated, err := h.notifications.MarkAddressed(id, currentMember(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !updated {
		h.fail(c, pipeline.ErrNotFound)
		return
	}
	ok(c, gin.H{"addressed": id})
}

// GetEmailSettings handles GET /api/v1/me/email-settings
func (h *Handlers) GetEmailSettings(c *gin.Context) {
	settings, err := h.emailSettings.Get(currentMember(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, settings)
}

// EmailSettingsRequest carries digest preferences
type EmailSettingsRequest struct {
	DigestEnabled bool `json:"digest_enabled"`
	DigestHour    int  `json:"digest_hour"`
}

// UpdateEmailSettings handles PUT /api/v1/me/email-settings
func (h *Handlers) UpdateEmailSettings(c *gin.Context) {
	var req EmailSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid settings body")
		return
	}
	if req.DigestHour < 0 || req.DigestHour > 23 {
		badRequest(c, "digest_hour must be 0-23")
		return
	}

	settings := &models.EmailSettings{
		MemberID:      currentMember(c).ID,
		DigestEnabled: req.DigestEnabled,
		DigestHour:    req.DigestHour,
	}
	if err := h.emailSettings.Upsert(settings); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, settings)
}

// ListComments handles GET /api/v1/steps/:id/comments
func (h *Handlers) ListComments(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	list, err := h.comments.ListByStep(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// PostCommentRequest carries a comment body
type PostCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

// PostComment handles POST /api/v1/steps/:id/comments
func (h *Handlers) PostComment(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	var req PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a comment body is required")
		return
	}

	step, err := h.stepsRepo.GetByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if step == nil {
		h.fail(c, pipeline.ErrNotFound)
		return
	}

	comment := &models.StepComment{
		StepID:   id,
		AuthorID: currentMember(c).ID,
		Body:     req.Body,
	}
	if err := h.comments.Create(nil, comment); err != nil {
		h.fail(c, err)
		return
	}

	h.emitter.CommentPosted(comment, step.TaskID)
	created(c, comment)
}

// ListAttachments handles GET /api/v1/steps/:id/attachments
func (h *Handlers) ListAttachments(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	list, err := h.attachments.ListByStep(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// UploadAttachment handles POST /api/v1/steps/:id/attachments
func (h *Handlers) UploadAttachment(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	step, err := h.stepsRepo.GetByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if step == nil {
		h.fail(c, pipeline.ErrNotFound)
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "a file field is required")
		return
	}
	defer file.Close()

	if header.Size > maxAttachmentSize {
		badRequest(c, "file too large")
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize+1))
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(content) > maxAttachmentSize {
		badRequest(c, "file too large")
		return
	}

	storedPath, err := h.storage.Save(step.TaskID, step.ID, header.Filename, content)
	if err != nil {
		h.fail(c, err)
		return
	}

	record := &models.Attachment{
		StepID:      step.ID,
		UploaderID:  currentMember(c).ID,
		FileName:    header.Filename,
		StoredPath:  storedPath,
		SizeBytes:   int64(len(content)),
		ContentType: header.Header.Get("Content-Type"),
	}
	if attachment.IsPDF(header.Filename) {
		record.PageCount = h.previewer.PageCount(storedPath)
	}

	if err := h.attachments.Create(record); err != nil {
		h.fail(c, err)
		return
	}
	created(c, record)
}

// findAttachment loads an attachment record by its ID
func (h *Handlers) findAttachment(c *gin.Context, id int64) *models.Attachment {
	// attachments are listed per step; resolve via the stored metadata
	record, err := h.attachments.GetByID(id)
	if err != nil {
		h.fail(c, err)
		return nil
	}
	if record == nil {
		h.fail(c, pipeline.ErrNotFound)
		return nil
	}
	return record
}

// DownloadAttachment handles GET /api/v1/attachments/:id
func (h *Handlers) DownloadAttachment(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	record := h.findAttachment(c, id)
	if record == nil {
		return
	}

	path, err := h.storage.Open(record.StoredPath)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.FileAttachment(path, record.FileName)
}

// PreviewAttachment handles GET /api/v1/attachments/:id/preview
func (h *Handlers) PreviewAttachment(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	record := h.findAttachment(c, id)
	if record == nil {
		return
	}
	if !attachment.IsPDF(record.FileName) {
		badRequest(c, "preview is only available for PDF attachments")
		return
	}

	png, err := h.previewer.FirstPagePNG(record.StoredPath)
	if err != nil {
		h.logger.Warn("Preview rendering failed",
			zap.Int64("attachment_id", id),
			zap.Error(err))
		h.fail(c, pipeline.ErrNotFound)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// ExtractRequest carries one AI extraction turn
type ExtractRequest struct {
	TeamID     int64         `json:"team_id" binding:"required"`
	Transcript []ai.ChatTurn `json:"transcript" binding:"required"`
	TaskID     *int64        `json:"task_id,omitempty"` // set for edit mode
}

// ExtractTask handles POST /api/v1/ai/extract
func (h *Handlers) ExtractTask(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "team_id and transcript are required")
		return
	}

	roster, err := h.members.ListByTeam(req.TeamID, true)
	if err != nil {
		h.fail(c, err)
		return
	}

	extractReq := ai.ExtractRequest{Transcript: req.Transcript, Roster: roster}
	if req.TaskID != nil {
		task, err := h.tasksRepo.GetByID(*req.TaskID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if task == nil {
			h.fail(c, tasks.ErrNotFound)
			return
		}
		steps, err := h.stepsRepo.ListByTask(task.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		sheet := ai.BuildSheet(task, steps, roster)
		extractReq.Sheet = &sheet
	}

	result, err := h.extractor.Extract(c.Request.Context(), extractReq)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, result)
}

// ConfirmRequest carries a reviewed proposal. Without a task_id it creates
// a new task; with one it rewrites that task's incomplete tail.
type ConfirmRequest struct {
	TeamID   int64             `json:"team_id" binding:"required"`
	TaskID   *int64            `json:"task_id,omitempty"`
	Proposal *ai.ReadyProposal `json:"proposal" binding:"required"`
}

// ConfirmTask handles POST /api/v1/ai/confirm
func (h *Handlers) ConfirmTask(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "team_id and proposal are required")
		return
	}

	actor := currentMember(c)
	if req.TaskID != nil {
		task, steps, err := h.taskService.ApplyProposal(c.Request.Context(), actor.ID, *req.TaskID, req.Proposal)
		if err != nil {
			h.fail(c, err)
			return
		}
		ok(c, TaskResponse{Task: task, Steps: steps})
		return
	}

	task, steps, err := h.taskService.ConfirmProposal(c.Request.Context(), actor.ID, req.TeamID, req.Proposal)
	if err != nil {
		h.fail(c, err)
		return
	}
	created(c, TaskResponse{Task: task, Steps: steps})
}

// ListTeams handles GET /api/v1/teams, scoped to the actor's business
func (h *Handlers) ListTeams(c *gin.Context) {
	list, err := h.teams.ListByBusiness(currentMember(c).BusinessID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// ListTeamMembers handles GET /api/v1/teams/:id/members
func (h *Handlers) ListTeamMembers(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	assignableOnly := c.Query("assignable") == "true"
	list, err := h.members.ListByTeam(id, assignableOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// CreateMemberRequest carries a new member
type CreateMemberRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	TeamID      int64  `json:"team_id" binding:"required"`
}

// CreateMember handles POST /api/v1/members. Admin only. Members without
// an email are assignable identities that cannot log in.
func (h *Handlers) CreateMember(c *gin.Context) {
	actor := currentMember(c)
	if actor.Role != models.RoleAdmin {
		h.fail(c, pipeline.ErrUnauthorized)
		return
	}

	var req CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "display_name and team_id are required")
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	switch role {
	case models.RoleAdmin, models.RoleLead, models.RoleUser:
	default:
		badRequest(c, fmt.Sprintf("unknown role %q", role))
		return
	}
	if req.Email == "" && req.Password != "" {
		badRequest(c, "a password requires an email")
		return
	}

	member := &models.Member{
		BusinessID:  actor.BusinessID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        role,
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.fail(c, err)
			return
		}
		member.PasswordHash = hash
	}

	if err := h.members.Create(nil, member); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.members.AddToTeam(nil, member.ID, req.TeamID); err != nil {
		h.fail(c, err)
		return
	}
	created(c, member)
}

// ArchiveMember handles POST /api/v1/members/:id/archive. Admin only.
// Archived members keep their history but disappear from rosters.
func (h *Handlers) ArchiveMember(c *gin.Context) {
	if currentMember(c).Role != models.RoleAdmin {
		h.fail(c, pipeline.ErrUnauthorized)
		return
	}
	id, okID := pathID(c)
	if !okID {
		return
	}

	if err := h.members.SetArchived(nil, id, true); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"archived": id})
}

// GetDashboard handles GET /api/v1/teams/:id/dashboard
func (h *Handlers) GetDashboard(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	board, err := h.aggregator.Build(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, board)
}

// ExportDashboard handles GET /api/v1/teams/:id/dashboard/export
func (h *Handlers) ExportDashboard(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	board, err := h.aggregator.Build(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	name := fmt.Sprintf("dashboard_team%d_%s.xlsx", id, time.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := h.exporter.Export(board, c.Writer); err != nil {
		h.logger.Error("Dashboard export failed", zap.Error(err))
	}
}

// RunDigest handles POST /cron/digest. The optional hour query narrows the
// run to members whose preferred hour matches; it defaults to the server's
// current hour.
func (h *Handlers) RunDigest(c *gin.Context) {
	hour := time.Now().Hour()
	if raw := c.Query("hour"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < -1 || parsed > 23 {
			badRequest(c, "hour must be 0-23, or -1 for all")
			return
		}
		hour = parsed
	}

	report, err := h.digest.Run(c.Request.Context(), hour)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, report)
}
