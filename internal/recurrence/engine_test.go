package recurrence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/relaydesk/relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTxRunner struct{}

func (m *mockTxRunner) WithTransaction(fn func(*sql.Tx) error) error {
	return fn(nil)
}

type mockTaskCreator struct {
	created []*models.Task
	err     error
}

func (m *mockTaskCreator) Create(tx *sql.Tx, task *models.Task) error {
	if m.err != nil {
		return m.err
	}
	task.ID = int64(len(m.created) + 500)
	m.created = append(m.created, task)
	return nil
}

type mockStepStore struct {
	templates []*models.PipelineStep
	created   []*models.PipelineStep
}

func (m *mockStepStore) ListByTask(taskID int64) ([]*models.PipelineStep, error) {
	return m.templates, nil
}

func (m *mockStepStore) Create(tx *sql.Tx, step *models.PipelineStep) error {
	step.ID = int64(len(m.created) + 900)
	m.created = append(m.created, step)
	return nil
}

type mockNotifier struct {
	cycles []int64
	firsts []int64
}

func (m *mockNotifier) CycleStarted(task *models.Task, first *models.PipelineStep) {
	m.cycles = append(m.cycles, task.ID)
	m.firsts = append(m.firsts, first.ID)
}

func date(y int, mo time.Month, d int) time.Time {
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestNextDeadline(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		rtype    string
		interval int
		expected time.Time
	}{
		{"daily x1", date(2025, 1, 10), models.RecurrenceDaily, 1, date(2025, 1, 11)},
		{"daily x3", date(2025, 1, 10), models.RecurrenceDaily, 3, date(2025, 1, 13)},
		{"weekly x1", date(2025, 1, 10), models.RecurrenceWeekly, 1, date(2025, 1, 17)},
		{"weekly x2", date(2025, 1, 10), models.RecurrenceWeekly, 2, date(2025, 1, 24)},
		{"monthly x1", date(2025, 1, 10), models.RecurrenceMonthly, 1, date(2025, 2, 10)},
		// Native AddDate semantics: Jan 31 + 1 month normalizes to Mar 3
		// (2025 is not a leap year); no end-of-month clamping.
		{"monthly over month end", date(2025, 1, 31), models.RecurrenceMonthly, 1, date(2025, 3, 3)},
		{"monthly x6", date(2025, 1, 10), models.RecurrenceMonthly, 6, date(2025, 7, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDeadline(tt.from, tt.rtype, tt.interval)
			if !got.Equal(tt.expected) {
				t.Errorf("NextDeadline() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func weeklyTask() *models.Task {
	return &models.Task{
		ID:                 42,
		TeamID:             7,
		Title:              "Weekly metrics review",
		Description:        "desc",
		Deadline:           ptr(date(2025, 1, 10)),
		Status:             models.TaskStatusCompleted,
		RecurrenceType:     models.RecurrenceWeekly,
		RecurrenceInterval: 1,
		RecurrenceEnabled:  true,
		RecurrenceCount:    0,
		CreatedBy:          1,
	}
}

func TestSpawnNextCycle(t *testing.T) {
	alice, carol := int64(1), int64(3)
	steps := &mockStepStore{templates: []*models.PipelineStep{
		{TaskID: 42, StepOrder: 1, Name: "Collect", Status: models.StepStatusCompleted, AssignedTo: &alice, MiniDeadline: ptr(date(2025, 1, 8))},
		{TaskID: 42, StepOrder: 2, Name: "Analyze", Status: models.StepStatusCompleted, AdditionalAssignees: []int64{2, 3}, IsJoint: true},
		{TaskID: 42, StepOrder: 3, Name: "Present", Status: models.StepStatusCompleted, AssignedTo: &carol, MiniDeadline: ptr(date(2025, 1, 10))},
	}}
	tasks := &mockTaskCreator{}
	notifier := &mockNotifier{}
	engine := NewEngine(&mockTxRunner{}, tasks, steps, notifier, zap.NewNop())

	next, err := engine.SpawnNextCycle(context.Background(), weeklyTask())
	require.NoError(t, err)

	require.NotNil(t, next.Deadline)
	assert.Equal(t, date(2025, 1, 17), *next.Deadline)
	assert.Equal(t, models.TaskStatusActive, next.Status)
	assert.Equal(t, 1, next.RecurrenceCount)
	require.NotNil(t, next.SourceTaskID)
	assert.Equal(t, int64(42), *next.SourceTaskID)
	assert.True(t, next.RecurrenceEnabled)

	require.Len(t, steps.created, 3)

	first := steps.created[0]
	assert.Equal(t, models.StepStatusUnlocked, first.Status)
	// Two-day offset from the old task deadline is preserved.
	require.NotNil(t, first.MiniDeadline)
	assert.Equal(t, date(2025, 1, 15), *first.MiniDeadline)

	second := steps.created[1]
	assert.Equal(t, models.StepStatusLocked, second.Status)
	assert.True(t, second.IsJoint)
	assert.Equal(t, []int64{2, 3}, second.AdditionalAssignees)
	assert.Nil(t, second.MiniDeadline)

	// Zero offset: step deadline equal to the task deadline follows it exactly.
	third := steps.created[2]
	assert.Equal(t, models.StepStatusLocked, third.Status)
	require.NotNil(t, third.MiniDeadline)
	assert.Equal(t, date(2025, 1, 17), *third.MiniDeadline)
	assert.Nil(t, third.CompletedAt)

	require.Len(t, notifier.cycles, 1)
	assert.Equal(t, next.ID, notifier.cycles[0])
	assert.Equal(t, first.ID, notifier.firsts[0])
}

func TestSpawnNextCycle_LineagePointsAtOrigin(t *testing.T) {
	task := weeklyTask()
	origin := int64(7)
	task.SourceTaskID = &origin
	task.RecurrenceCount = 4

	alice := int64(1)
	steps := &mockStepStore{templates: []*models.PipelineStep{
		{TaskID: 42, StepOrder: 1, Name: "Only", Status: models.StepStatusCompleted, AssignedTo: &alice},
	}}
	engine := NewEngine(&mockTxRunner{}, &mockTaskCreator{}, steps, &mockNotifier{}, zap.NewNop())

	next, err := engine.SpawnNextCycle(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, next.SourceTaskID)
	assert.Equal(t, origin, *next.SourceTaskID)
	assert.Equal(t, 5, next.RecurrenceCount)
}

func TestSpawnNextCycle_NoDeadlineUsesNow(t *testing.T) {
	task := weeklyTask()
	task.Deadline = nil

	alice := int64(1)
	steps := &mockStepStore{templates: []*models.PipelineStep{
		{TaskID: 42, StepOrder: 1, Name: "Only", Status: models.StepStatusCompleted, AssignedTo: &alice, MiniDeadline: ptr(date(2025, 1, 8))},
	}}
	engine := NewEngine(&mockTxRunner{}, &mockTaskCreator{}, steps, &mockNotifier{}, zap.NewNop())
	engine.now = func() time.Time { return date(2025, 3, 1) }

	next, err := engine.SpawnNextCycle(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, next.Deadline)
	assert.Equal(t, date(2025, 3, 8), *next.Deadline)

	// Original task deadline absent: the clone's step deadline stays unset.
	assert.Nil(t, steps.created[0].MiniDeadline)
}

func TestSpawnNextCycle_InsertFailure(t *testing.T) {
	alice := int64(1)
	steps := &mockStepStore{templates: []*models.PipelineStep{
		{TaskID: 42, StepOrder: 1, Name: "Only", Status: models.StepStatusCompleted, AssignedTo: &alice},
	}}
	tasks := &mockTaskCreator{err: errors.New("disk full")}
	notifier := &mockNotifier{}
	engine := NewEngine(&mockTxRunner{}, tasks, steps, notifier, zap.NewNop())

	_, err := engine.SpawnNextCycle(context.Background(), weeklyTask())
	assert.Error(t, err)
	assert.Empty(t, notifier.cycles)
}

func TestSpawnNextCycle_NotRecurring(t *testing.T) {
	task := weeklyTask()
	task.RecurrenceEnabled = false

	engine := NewEngine(&mockTxRunner{}, &mockTaskCreator{}, &mockStepStore{}, &mockNotifier{}, zap.NewNop())
	_, err := engine.SpawnNextCycle(context.Background(), task)
	assert.Error(t, err)
}
