package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/ai"
	"github.com/relaydesk/relay/internal/attachment"
	"github.com/relaydesk/relay/internal/auth"
	"github.com/relaydesk/relay/internal/config"
	"github.com/relaydesk/relay/internal/dashboard"
	"github.com/relaydesk/relay/internal/email"
	"github.com/relaydesk/relay/internal/models"
	"github.com/relaydesk/relay/internal/notify"
	"github.com/relaydesk/relay/internal/pipeline"
	"github.com/relaydesk/relay/internal/repository"
	"github.com/relaydesk/relay/internal/tasks"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	cfg *config.Config

	members       *repository.MemberRepository
	teams         *repository.TeamRepository
	tasksRepo     *repository.TaskRepository
	stepsRepo     *repository.StepRepository
	notifications *repository.NotificationRepository
	comments      *repository.CommentRepository
	attachments   *repository.AttachmentRepository
	emailSettings *repository.EmailSettingsRepository

	taskService *tasks.Service
	engine      *pipeline.Engine
	extractor   *ai.Extractor
	aggregator  *dashboard.Aggregator
	exporter    *dashboard.Exporter
	emitter     *notify.Emitter
	storage     *attachment.Storage
	previewer   *attachment.Previewer
	digest      *email.Digest

	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		cfg:           deps.Config,
		members:       deps.Members,
		teams:         deps.Teams,
		tasksRepo:     deps.Tasks,
		stepsRepo:     deps.Steps,
		notifications: deps.Notifications,
		comments:      deps.Comments,
		attachments:   deps.Attachments,
		emailSettings: deps.EmailSettings,
		taskService:   deps.TaskService,
		engine:        deps.Engine,
		extractor:     deps.Extractor,
		aggregator:    deps.Aggregator,
		exporter:      deps.Exporter,
		emitter:       deps.Emitter,
		storage:       deps.Storage,
		previewer:     deps.Previewer,
		digest:        deps.Digest,
		logger:        deps.Logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail maps domain errors onto HTTP statuses
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, tasks.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, pipeline.ErrInvalidState),
		errors.Is(err, pipeline.ErrNoPreviousStep),
		errors.Is(err, tasks.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, tasks.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ai.ErrUnavailable), errors.Is(err, ai.ErrMalformed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// LoginRequest carries login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	member, err := h.members.GetByEmail(req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	if member == nil || member.Archived || !auth.CheckPassword(req.Password, member.PasswordHash) {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(member.ID, h.cfg.Auth.JWTSecret, h.cfg.Auth.TokenTTL)
	if err != nil {
		h.fail(c, err)
		return
	}

	ok(c, gin.H{"token": token, "member": member})
}

// Me handles GET /api/v1/me
func (h *Handlers) Me(c *gin.Context) {
	ok(c, currentMember(c))
}

// TaskResponse is a task together with its pipeline
type TaskResponse struct {
	Task  *models.Task           `json:"task"`
	Steps []*models.PipelineStep `json:"steps"`
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	var input tasks.CreateTaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid task body")
		return
	}

	actor := currentMember(c)
	task, steps, err := h.taskService.Create(c.Request.Context(), actor.ID, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	created(c, TaskResponse{Task: task, Steps: steps})
}

// GetTask handles GET /api/v1/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	task, err := h.tasksRepo.GetByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if task == nil {
		h.fail(c, tasks.ErrNotFound)
		return
	}
	steps, err := h.stepsRepo.ListByTask(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, TaskResponse{Task: task, Steps: steps})
}

// ListTasks handles GET /api/v1/teams/:id/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	teamID, okID := pathID(c)
	if !okID {
		return
	}

	status := c.Query("status")
	switch status {
	case "", models.TaskStatusActive, models.TaskStatusCompleted:
	default:
		badRequest(c, "invalid status filter")
		return
	}

	list, err := h.tasksRepo.ListByTeam(teamID, status)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, list)
}

// canEditTask gates structural task edits
func canEditTask(actor *models.Member, task *models.Task) bool {
	return actor.Role == models.RoleAdmin ||
		actor.Role == models.RoleLead ||
		actor.ID == task.CreatedBy
}

// UpdateTask handles PATCH /api/v1/tasks/:id
func (h *Handlers) UpdateTask(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	var input tasks.UpdateDetailsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid task body")
		return
	}

	task, err := h.tasksRepo.GetByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if task == nil {
		h.fail(c, tasks.ErrNotFound)
		return
	}
	if !canEditTask(currentMember(c), task) {
		h.fail(c, pipeline.ErrUnauthorized)
		return
	}

	updated, err := h.taskService.UpdateDetails(c.Request.Context(), id, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, updated)
}

// ReplaceStepsRequest carries the new incomplete pipeline tail
type ReplaceStepsRequest struct {
	Steps []tasks.StepInput `json:"steps" binding:"required"`
}

// ReplaceSteps handles PUT /api/v1/tasks/:id/steps
func (h *Handlers) ReplaceSteps(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	var req ReplaceStepsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid steps body")
		return
	}

	task, err := h.tasksRepo.GetByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if task == nil {
		h.fail(c, tasks.ErrNotFound)
		return
	}
	actor := currentMember(c)
	if !canEditTask(actor, task) {
		h.fail(c, pipeline.ErrUnauthorized)
		return
	}

	steps, err := h.taskService.ReplaceSteps(c.Request.Context(), actor.ID, id, req.Steps)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, steps)
}

// DeleteTask handles DELETE /api/v1/tasks/:id
func (h *Handlers) DeleteTask(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	if currentMember(c).Role != models.RoleAdmin {
		h.fail(c, pipeline.ErrUnauthorized)
		return
	}
	if err := h.taskService.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"deleted": id})
}

// ReopenTask handles POST /api/v1/tasks/:id/reopen
func (h *Handlers) ReopenTask(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	step, err := h.engine.Reopen(c.Request.Context(), id, currentMember(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"reopened_step": step})
}

// CompleteStep handles POST /api/v1/steps/:id/complete
func (h *Handlers) CompleteStep(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	result, err := h.engine.Complete(c.Request.Context(), id, currentMember(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, result)
}

// ReturnStepRequest carries the mandatory return reason
type ReturnStepRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ReturnStep handles POST /api/v1/steps/:id/return
func (h *Handlers) ReturnStep(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	var req ReturnStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a return reason is required")
		return
	}

	step, err := h.engine.Return(c.Request.Context(), id, currentMember(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"reopened_step": step})
}

// ClaimStep handles POST /api/v1/steps/:id/claim
func (h *Handlers) ClaimStep(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	step, err := h.engine.Claim(c.Request.Context(), id, currentMember(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, step)
}
