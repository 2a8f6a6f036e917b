// Package notify writes notifications as side effects of pipeline
// transitions. Every write is best-effort: failures are logged and never
// propagate to the transition that triggered them.
package notify

import (
	"fmt"

	"github.com/relaydesk/relay/internal/models"
	"go.uber.org/zap"
)

// NotificationWriter is the slice of the notification repository the
// emitter needs
type NotificationWriter interface {
	Create(notification *models.Notification) error
}

// MemberDirectory resolves member identities for message text and
// directory-wide mention lookups
type MemberDirectory interface {
	GetByID(id int64) (*models.Member, error)
	ListAll() ([]*models.Member, error)
}

// Emitter produces notifications for state-machine transitions, recurrence
// cycles, and comment mentions
type Emitter struct {
	notifications NotificationWriter
	members       MemberDirectory
	logger        *zap.Logger
}

// NewEmitter creates a new notification emitter
func NewEmitter(notifications NotificationWriter, members MemberDirectory, logger *zap.Logger) *Emitter {
	return &Emitter{
		notifications: notifications,
		members:       members,
		logger:        logger,
	}
}

func (e *Emitter) write(n *models.Notification) {
	if err := e.notifications.Create(n); err != nil {
		e.logger.Warn("Dropped notification",
			zap.Int64("member_id", n.MemberID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

// StepUnlocked notifies a newly unlocked step's assignees, excluding the
// actor who completed the previous step.
func (e *Emitter) StepUnlocked(task *models.Task, step *models.PipelineStep, actorID int64) {
	message := fmt.Sprintf("Step %q of %q is now ready for you", step.Name, task.Title)
	for _, memberID := range step.EligibleAssignees() {
		if memberID == actorID {
			continue
		}
		e.write(&models.Notification{
			MemberID: memberID,
			Type:     models.NotificationAssignment,
			TaskID:   &task.ID,
			StepID:   &step.ID,
			Message:  message,
		})
	}
}

// TaskCompleted notifies the task creator that the final step finished
func (e *Emitter) TaskCompleted(task *models.Task, actorID int64) {
	e.write(&models.Notification{
		MemberID: task.CreatedBy,
		Type:     models.NotificationTaskCompleted,
		TaskID:   &task.ID,
		Message:  fmt.Sprintf("Task %q is complete", task.Title),
	})
}

// StepReturned notifies the reopened step's assignee with the return reason
func (e *Emitter) StepReturned(task *models.Task, reopened *models.PipelineStep, reason string, actorID int64) {
	if reopened.AssignedTo == nil || *reopened.AssignedTo == actorID {
		return
	}
	e.write(&models.Notification{
		MemberID: *reopened.AssignedTo,
		Type:     models.NotificationReturn,
		TaskID:   &task.ID,
		StepID:   &reopened.ID,
		Message:  fmt.Sprintf("Step %q of %q was returned to you: %s", reopened.Name, task.Title, reason),
	})
}

// StepClaimed tells everyone who was eligible for a joint step that
// someone else claimed it.
func (e *Emitter) StepClaimed(task *models.Task, step *models.PipelineStep, previouslyEligible []int64, claimerID int64) {
	claimerName := "another member"
	if claimer, err := e.members.GetByID(claimerID); err == nil && claimer != nil {
		claimerName = claimer.DisplayName
	}

	message := fmt.Sprintf("%s claimed step %q of %q", claimerName, step.Name, task.Title)
	for _, memberID := range previouslyEligible {
		if memberID == claimerID {
			continue
		}
		e.write(&models.Notification{
			MemberID: memberID,
			Type:     models.NotificationClaim,
			TaskID:   &task.ID,
			StepID:   &step.ID,
			Message:  message,
		})
	}
}

// CycleStarted notifies the new cycle's first-step assignees
func (e *Emitter) CycleStarted(task *models.Task, first *models.PipelineStep) {
	message := fmt.Sprintf("A new cycle of %q has started", task.Title)
	for _, memberID := range first.EligibleAssignees() {
		e.write(&models.Notification{
			MemberID: memberID,
			Type:     models.NotificationNewCycle,
			TaskID:   &task.ID,
			StepID:   &first.ID,
			Message:  message,
		})
	}
}

// CommentPosted fans out mention notifications for a step comment. Mention
// lookup is directory-wide, not team-scoped, unlike AI member creation.
func (e *Emitter) CommentPosted(comment *models.StepComment, taskID int64) {
	tokens := ParseMentions(comment.Body)
	if len(tokens) == 0 {
		return
	}

	members, err := e.members.ListAll()
	if err != nil {
		e.logger.Warn("Mention lookup failed", zap.Error(err))
		return
	}

	notified := make(map[int64]bool)
	for _, member := range MatchMentions(tokens, members) {
		if member.ID == comment.AuthorID || notified[member.ID] {
			continue
		}
		notified[member.ID] = true
		e.write(&models.Notification{
			MemberID: member.ID,
			Type:     models.NotificationMention,
			TaskID:   &taskID,
			StepID:   &comment.StepID,
			Message:  fmt.Sprintf("You were mentioned in a comment: %s", comment.Body),
		})
	}
}
