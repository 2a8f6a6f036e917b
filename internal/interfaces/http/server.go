// Package http provides the HTTP adapter over the application services.
// Handlers stay thin: bind, call a service, map the error, respond.
package http

import (
	"context"
	"fmt"
	"net/http"
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

// Deps bundles everything the HTTP layer serves
type Deps struct {
	Config *config.Config

	Members       *repository.MemberRepository
	Teams         *repository.TeamRepository
	Tasks         *repository.TaskRepository
	Steps         *repository.StepRepository
	Notifications *repository.NotificationRepository
	Comments      *repository.CommentRepository
	Attachments   *repository.AttachmentRepository
	EmailSettings *repository.EmailSettingsRepository

	TaskService *tasks.Service
	Engine      *pipeline.Engine
	Extractor   *ai.Extractor
	Aggregator  *dashboard.Aggregator
	Exporter    *dashboard.Exporter
	Emitter     *notify.Emitter
	Storage     *attachment.Storage
	Previewer   *attachment.Previewer
	Digest      *email.Digest

	Logger *zap.Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     config.ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     *zap.Logger
}

// NewServer creates a new HTTP server wired to the application services
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   deps.Config.Server,
		router:   gin.New(),
		handlers: NewHandlers(deps),
		logger:   deps.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

const memberKey = "member"

// authMiddleware validates the bearer token and loads the acting member
func (s *Server) authMiddleware() gin.HandlerFunc {
	secret := s.handlers.cfg.Auth.JWTSecret
	return func(c *gin.Context) {
		token := auth.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false, Error: "missing bearer token",
			})
			return
		}

		memberID, err := auth.ParseToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false, Error: "invalid token",
			})
			return
		}

		member, err := s.handlers.members.GetByID(memberID)
		if err != nil || member == nil || member.Archived {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false, Error: "unknown member",
			})
			return
		}

		c.Set(memberKey, member)
		c.Next()
	}
}

// cronMiddleware guards scheduler-triggered endpoints with a shared secret
func (s *Server) cronMiddleware() gin.HandlerFunc {
	secret := s.handlers.cfg.Cron.Secret
	return func(c *gin.Context) {
		if c.GetHeader("X-Cron-Secret") != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false, Error: "invalid cron secret",
			})
			return
		}
		c.Next()
	}
}

func currentMember(c *gin.Context) *models.Member {
	return c.MustGet(memberKey).(*models.Member)
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api/v1")
	api.POST("/auth/login", h.Login)

	authed := api.Group("")
	authed.Use(s.authMiddleware())
	{
		authed.GET("/me", h.Me)
		authed.GET("/me/notifications", h.ListNotifications)
		authed.POST("/notifications/:id/read", h.MarkNotificationRead)
		authed.POST("/notifications/:id/address", h.MarkNotificationAddressed)
		authed.GET("/me/email-settings", h.GetEmailSettings)
		authed.PUT("/me/email-settings", h.UpdateEmailSettings)

		authed.GET("/teams", h.ListTeams)
		authed.GET("/teams/:id/tasks", h.ListTasks)
		authed.GET("/teams/:id/members", h.ListTeamMembers)
		authed.GET("/teams/:id/dashboard", h.GetDashboard)
		authed.GET("/teams/:id/dashboard/export", h.ExportDashboard)

		authed.POST("/tasks", h.CreateTask)
		authed.GET("/tasks/:id", h.GetTask)
		authed.PATCH("/tasks/:id", h.UpdateTask)
		authed.DELETE("/tasks/:id", h.DeleteTask)
		authed.PUT("/tasks/:id/steps", h.ReplaceSteps)
		authed.POST("/tasks/:id/reopen", h.ReopenTask)

		authed.POST("/steps/:id/complete", h.CompleteStep)
		authed.POST("/steps/:id/return", h.ReturnStep)
		authed.POST("/steps/:id/claim", h.ClaimStep)
		authed.GET("/steps/:id/comments", h.ListComments)
		authed.POST("/steps/:id/comments", h.PostComment)
		authed.GET("/steps/:id/attachments", h.ListAttachments)
		authed.POST("/steps/:id/attachments", h.UploadAttachment)
		authed.GET("/attachments/:id", h.DownloadAttachment)
		authed.GET("/attachments/:id/preview", h.PreviewAttachment)

		authed.POST("/ai/extract", h.ExtractTask)
		authed.POST("/ai/confirm", h.ConfirmTask)

		authed.POST("/members", h.CreateMember)
		authed.POST("/members/:id/archive", h.ArchiveMember)
	}

	cron := s.router.Group("/cron")
	cron.Use(s.cronMiddleware())
	cron.POST("/digest", h.RunDigest)
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
