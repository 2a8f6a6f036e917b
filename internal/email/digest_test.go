package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/internal/models"
)

type mockDirectory struct {
	members []*models.Member
}

func (m *mockDirectory) ListAll() ([]*models.Member, error) {
	return m.members, nil
}

type mockSettings struct {
	byMember map[int64]*models.EmailSettings
}

func (m *mockSettings) Get(memberID int64) (*models.EmailSettings, error) {
	if s, ok := m.byMember[memberID]; ok {
		return s, nil
	}
	return &models.EmailSettings{MemberID: memberID, DigestEnabled: true, DigestHour: 8}, nil
}

type mockSteps struct {
	byMember map[int64][]*models.PipelineStep
}

func (m *mockSteps) ListByAssigneeStatus(memberID int64, status string) ([]*models.PipelineStep, error) {
	return m.byMember[memberID], nil
}

type mockTasks struct {
	byID map[int64]*models.Task
}

func (m *mockTasks) GetByID(id int64) (*models.Task, error) {
	return m.byID[id], nil
}

type mockUnread struct {
	byMember map[int64]int
}

func (m *mockUnread) CountUnread(memberID int64) (int, error) {
	return m.byMember[memberID], nil
}

type sentMail struct {
	to      string
	subject string
	html    string
}

type mockSender struct {
	sent []sentMail
	fail map[string]bool
}

func (m *mockSender) Send(ctx context.Context, to, subject, html string) error {
	if m.fail[to] {
		return errors.New("delivery refused")
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

func digestFixture() (*Digest, *mockSender) {
	deadline := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	members := &mockDirectory{members: []*models.Member{
		{ID: 1, DisplayName: "Maya Chen", Email: "maya@example.com"},
		{ID: 2, DisplayName: "Bob", Email: "bob@example.com"},
		{ID: 3, DisplayName: "No Address"},
		{ID: 4, DisplayName: "Opted Out", Email: "out@example.com"},
		{ID: 5, DisplayName: "Idle", Email: "idle@example.com"},
	}}
	settings := &mockSettings{byMember: map[int64]*models.EmailSettings{
		4: {MemberID: 4, DigestEnabled: false},
	}}
	steps := &mockSteps{byMember: map[int64][]*models.PipelineStep{
		1: {
			{ID: 11, TaskID: 100, Name: "Review draft", Status: models.StepStatusUnlocked, MiniDeadline: &deadline},
			{ID: 12, TaskID: 101, Name: "Send invoice", Status: models.StepStatusUnlocked},
		},
		2: {{ID: 13, TaskID: 100, Name: "Collect numbers", Status: models.StepStatusUnlocked}},
	}}
	tasks := &mockTasks{byID: map[int64]*models.Task{
		100: {ID: 100, Title: "Quarterly report"},
		101: {ID: 101, Title: "Billing"},
	}}
	unread := &mockUnread{byMember: map[int64]int{1: 3}}
	sender := &mockSender{fail: map[string]bool{}}
	d := NewDigest(members, settings, steps, tasks, unread, sender, zap.NewNop())
	return d, sender
}

func TestDigestRun(t *testing.T) {
	d, sender := digestFixture()

	report, err := d.Run(context.Background(), -1)
	require.NoError(t, err)

	// maya and bob have work; no-address, opted-out and idle are skipped
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, sender.sent, 2)

	mail := sender.sent[0]
	assert.Equal(t, "maya@example.com", mail.to)
	assert.Contains(t, mail.html, "Quarterly report")
	assert.Contains(t, mail.html, "Review draft")
	assert.Contains(t, mail.html, "due Mar 1")
	assert.Contains(t, mail.html, "3</strong> unread")
}

func TestDigestHourFilter(t *testing.T) {
	d, sender := digestFixture()

	// everyone defaults to hour 8; a 9 o'clock run mails nobody
	report, err := d.Run(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Empty(t, sender.sent)

	report, err = d.Run(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
}

func TestDigestFailureIsolated(t *testing.T) {
	d, sender := digestFixture()
	sender.fail["maya@example.com"] = true

	report, err := d.Run(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "bob@example.com", sender.sent[0].to)
}

func TestDigestEscapesHTML(t *testing.T) {
	d, sender := digestFixture()
	d.tasks.(*mockTasks).byID[100].Title = `<script>alert("x")</script>`

	_, err := d.Run(context.Background(), -1)
	require.NoError(t, err)
	require.NotEmpty(t, sender.sent)
	assert.NotContains(t, sender.sent[0].html, "<script>")
	assert.True(t, strings.Contains(sender.sent[0].html, "&lt;script&gt;"))
}
