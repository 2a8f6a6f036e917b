package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/models"
)

// MemberDirectory lists potential digest recipients
type MemberDirectory interface {
	ListAll() ([]*models.Member, error)
}

// SettingsStore reads per-member digest preferences
type SettingsStore interface {
	Get(memberID int64) (*models.EmailSettings, error)
}

// StepStore lists a member's actionable steps
type StepStore interface {
	ListByAssigneeStatus(memberID int64, status string) ([]*models.PipelineStep, error)
}

// TaskStore resolves step owners to task titles
type TaskStore interface {
	GetByID(id int64) (*models.Task, error)
}

// NotificationStore counts a member's unread notifications
type NotificationStore interface {
	CountUnread(memberID int64) (int, error)
}

// digestTemplate renders the daily digest body. Kept small on purpose;
// mail clients mangle anything fancier.
var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body style="font-family: sans-serif; color: #222;">
<p>Hi {{.Name}},</p>
<p>You have <strong>{{len .Steps}}</strong> step(s) waiting on you{{if .Unread}} and <strong>{{.Unread}}</strong> unread notification(s){{end}}.</p>
<ul>
{{range .Steps}}<li><strong>{{.TaskTitle}}</strong>: {{.StepName}}{{if .Deadline}} (due {{.Deadline}}){{end}}</li>
{{end}}</ul>
<p>Open your dashboard to get started.</p>
</body>
</html>`))

type digestStep struct {
	TaskTitle string
	StepName  string
	Deadline  string
}

type digestData struct {
	Name   string
	Steps  []digestStep
	Unread int
}

// Report summarizes one digest run
type Report struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Digest assembles and sends the daily email digest
type Digest struct {
	members       MemberDirectory
	settings      SettingsStore
	steps         StepStore
	tasks         TaskStore
	notifications NotificationStore
	sender        Sender
	logger        *zap.Logger
}

// NewDigest creates a new digest service
func NewDigest(
	members MemberDirectory,
	settings SettingsStore,
	steps StepStore,
	tasks TaskStore,
	notifications NotificationStore,
	sender Sender,
	logger *zap.Logger,
) *Digest {
	return &Digest{
		members:       members,
		settings:      settings,
		steps:         steps,
		tasks:         tasks,
		notifications: notifications,
		sender:        sender,
		logger:        logger,
	}
}

// Run sends the digest to every opted-in member whose preferred hour
// matches. hour < 0 ignores the preference and mails everyone opted in.
// One member failing never aborts the run.
func (d *Digest) Run(ctx context.Context, hour int) (*Report, error) {
	members, err := d.members.ListAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	report := &Report{}
	for _, member := range members {
		if member.Archived || member.Email == "" {
			report.Skipped++
			continue
		}

		settings, err := d.settings.Get(member.ID)
		if err != nil {
			d.logger.Error("Failed to load digest settings",
				zap.Int64("member_id", member.ID), zap.Error(err))
			report.Failed++
			continue
		}
		if !settings.DigestEnabled || (hour >= 0 && settings.DigestHour != hour) {
			report.Skipped++
			continue
		}

		sent, err := d.sendOne(ctx, member)
		switch {
		case err != nil:
			d.logger.Error("Failed to send digest",
				zap.Int64("member_id", member.ID), zap.Error(err))
			report.Failed++
		case sent:
			report.Sent++
		default:
			report.Skipped++
		}
	}

	d.logger.Info("Digest run finished",
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// sendOne builds and delivers a single member's digest. Members with
// nothing actionable and nothing unread get no email.
func (d *Digest) sendOne(ctx context.Context, member *models.Member) (bool, error) {
	steps, err := d.steps.ListByAssigneeStatus(member.ID, models.StepStatusUnlocked)
	if err != nil {
		return false, err
	}
	unread, err := d.notifications.CountUnread(member.ID)
	if err != nil {
		return false, err
	}
	if len(steps) == 0 && unread == 0 {
		return false, nil
	}

	data := digestData{Name: member.DisplayName, Unread: unread}
	for _, step := range steps {
		row := digestStep{StepName: step.Name}
		task, err := d.tasks.GetByID(step.TaskID)
		if err != nil {
			return false, err
		}
		if task != nil {
			row.TaskTitle = task.Title
		}
		if step.MiniDeadline != nil {
			row.Deadline = step.MiniDeadline.Format("Jan 2")
		}
		data.Steps = append(data.Steps, row)
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return false, fmt.Errorf("failed to render digest: %w", err)
	}

	subject := fmt.Sprintf("Your tasks for %s", time.Now().Format("Jan 2"))
	if err := d.sender.Send(ctx, member.Email, subject, buf.String()); err != nil {
		return false, err
	}
	return true, nil
}
