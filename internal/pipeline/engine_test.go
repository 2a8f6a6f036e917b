package pipeline

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

// Mock implementations

type mockTxRunner struct{}

func (m *mockTxRunner) WithTransaction(fn func(*sql.Tx) error) error {
	return fn(nil)
}

type mockStore struct {
	tasks map[int64]*models.Task
	steps map[int64]*models.PipelineStep
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks: make(map[int64]*models.Task),
		steps: make(map[int64]*models.PipelineStep),
	}
}

func (m *mockStore) GetByID(id int64) (*models.Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (m *mockStore) MarkCompleted(tx *sql.Tx, id int64, completedAt time.Time) (bool, error) {
	task, ok := m.tasks[id]
	if !ok || task.Status != models.TaskStatusActive {
		return false, nil
	}
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &completedAt
	return true, nil
}

func (m *mockStore) MarkActive(tx *sql.Tx, id int64) (bool, error) {
	task, ok := m.tasks[id]
	if !ok || task.Status != models.TaskStatusCompleted {
		return false, nil
	}
	task.Status = models.TaskStatusActive
	task.CompletedAt = nil
	return true, nil
}

type mockStepStore struct {
	store *mockStore
}

func (m *mockStepStore) GetByID(id int64) (*models.PipelineStep, error) {
	step, ok := m.store.steps[id]
	if !ok {
		return nil, nil
	}
	copied := *step
	return &copied, nil
}

func (m *mockStepStore) GetByTaskAndOrder(taskID int64, order int) (*models.PipelineStep, error) {
	for _, step := range m.store.steps {
		if step.TaskID == taskID && step.StepOrder == order {
			copied := *step
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockStepStore) ListByTask(taskID int64) ([]*models.PipelineStep, error) {
	var steps []*models.PipelineStep
	for order := 1; ; order++ {
		step, _ := m.GetByTaskAndOrder(taskID, order)
		if step == nil {
			break
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (m *mockStepStore) CompareAndSwapStatus(tx *sql.Tx, stepID int64, from, to string, completedAt *time.Time) (bool, error) {
	step, ok := m.store.steps[stepID]
	if !ok || step.Status != from {
		return false, nil
	}
	step.Status = to
	step.CompletedAt = completedAt
	return true, nil
}

func (m *mockStepStore) ClaimExclusive(tx *sql.Tx, stepID, claimerID int64) (bool, error) {
	step, ok := m.store.steps[stepID]
	if !ok || !step.IsJoint || step.Status != models.StepStatusUnlocked {
		return false, nil
	}
	step.AssignedTo = &claimerID
	step.AdditionalAssignees = []int64{}
	step.IsJoint = false
	return true, nil
}

type mockCommentStore struct {
	created []*models.StepComment
	err     error
}

func (m *mockCommentStore) Create(tx *sql.Tx, comment *models.StepComment) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, comment)
	return nil
}

type notifierCall struct {
	kind     string
	stepID   int64
	taskID   int64
	actorID  int64
	reason   string
	eligible []int64
}

type mockNotifier struct {
	calls []notifierCall
}

func (m *mockNotifier) StepUnlocked(task *models.Task, step *models.PipelineStep, actorID int64) {
	m.calls = append(m.calls, notifierCall{kind: "unlocked", stepID: step.ID, taskID: task.ID, actorID: actorID})
}

func (m *mockNotifier) TaskCompleted(task *models.Task, actorID int64) {
	m.calls = append(m.calls, notifierCall{kind: "task_completed", taskID: task.ID, actorID: actorID})
}

func (m *mockNotifier) StepReturned(task *models.Task, reopened *models.PipelineStep, reason string, actorID int64) {
	m.calls = append(m.calls, notifierCall{kind: "returned", stepID: reopened.ID, taskID: task.ID, actorID: actorID, reason: reason})
}

func (m *mockNotifier) StepClaimed(task *models.Task, step *models.PipelineStep, previouslyEligible []int64, claimerID int64) {
	m.calls = append(m.calls, notifierCall{kind: "claimed", stepID: step.ID, taskID: task.ID, actorID: claimerID, eligible: previouslyEligible})
}

type mockSpawner struct {
	spawned []*models.Task
	err     error
}

func (m *mockSpawner) SpawnNextCycle(ctx context.Context, task *models.Task) (*models.Task, error) {
	if m.err != nil {
		return nil, m.err
	}
	next := &models.Task{
		ID:              task.ID + 1000,
		TeamID:          task.TeamID,
		Title:           task.Title,
		Status:          models.TaskStatusActive,
		RecurrenceCount: task.RecurrenceCount + 1,
	}
	m.spawned = append(m.spawned, next)
	return next, nil
}

// Test fixture: task 1 with steps A(1):Alice(10), B(2):Bob(11), C(3):Carol(12)

const (
	aliceID = int64(10)
	bobID   = int64(11)
	carolID = int64(12)
)

func member(id int64, role string) *models.Member {
	return &models.Member{ID: id, DisplayName: "m", Role: role}
}

func assignedTo(id int64) *int64 { return &id }

func newFixture(t *testing.T) (*Engine, *mockStore, *mockNotifier, *mockSpawner, *mockCommentStore) {
	t.Helper()

	store := newMockStore()
	store.tasks[1] = &models.Task{ID: 1, TeamID: 1, Title: "Quarterly report", Status: models.TaskStatusActive, CreatedBy: aliceID}
	store.steps[101] = &models.PipelineStep{ID: 101, TaskID: 1, StepOrder: 1, Name: "Draft", Status: models.StepStatusUnlocked, AssignedTo: assignedTo(aliceID)}
	store.steps[102] = &models.PipelineStep{ID: 102, TaskID: 1, StepOrder: 2, Name: "Review", Status: models.StepStatusLocked, AssignedTo: assignedTo(bobID)}
	store.steps[103] = &models.PipelineStep{ID: 103, TaskID: 1, StepOrder: 3, Name: "Publish", Status: models.StepStatusLocked, AssignedTo: assignedTo(carolID)}

	notifier := &mockNotifier{}
	spawner := &mockSpawner{}
	comments := &mockCommentStore{}
	engine := NewEngine(&mockTxRunner{}, store, &mockStepStore{store: store}, comments, notifier, spawner, zap.NewNop())
	return engine, store, notifier, spawner, comments
}

func TestEngine_Complete_UnlocksNext(t *testing.T) {
	engine, store, notifier, _, _ := newFixture(t)

	result, err := engine.Complete(context.Background(), 101, member(aliceID, models.RoleUser))
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusCompleted, store.steps[101].Status)
	assert.NotNil(t, store.steps[101].CompletedAt)
	assert.Equal(t, models.StepStatusUnlocked, store.steps[102].Status)
	assert.Equal(t, models.StepStatusLocked, store.steps[103].Status)
	assert.False(t, result.TaskCompleted)
	require.NotNil(t, result.UnlockedNext)
	assert.Equal(t, int64(102), result.UnlockedNext.ID)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "unlocked", notifier.calls[0].kind)
	assert.Equal(t, int64(102), notifier.calls[0].stepID)
	assert.Equal(t, aliceID, notifier.calls[0].actorID)
}

func TestEngine_Complete_LockedStepFails(t *testing.T) {
	engine, store, _, _, _ := newFixture(t)

	_, err := engine.Complete(context.Background(), 102, member(bobID, models.RoleUser))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.StepStatusLocked, store.steps[102].Status)
}

func TestEngine_Complete_WrongActorFails(t *testing.T) {
	engine, _, _, _, _ := newFixture(t)

	_, err := engine.Complete(context.Background(), 101, member(bobID, models.RoleUser))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEngine_Complete_AdminOverrides(t *testing.T) {
	engine, _, _, _, _ := newFixture(t)

	_, err := engine.Complete(context.Background(), 101, member(bobID, models.RoleAdmin))
	assert.NoError(t, err)
}

func TestEngine_Complete_UnassignedStepAllowsAnyone(t *testing.T) {
	engine, store, _, _, _ := newFixture(t)
	store.steps[101].AssignedTo = nil

	_, err := engine.Complete(context.Background(), 101, member(carolID, models.RoleUser))
	assert.NoError(t, err)
}

func TestEngine_Complete_LastStepCompletesTask(t *testing.T) {
	engine, store, notifier, _, _ := newFixture(t)
	store.steps[101].Status = models.StepStatusCompleted
	store.steps[102].Status = models.StepStatusCompleted
	store.steps[103].Status = models.StepStatusUnlocked

	result, err := engine.Complete(context.Background(), 103, member(carolID, models.RoleUser))
	require.NoError(t, err)

	assert.True(t, result.TaskCompleted)
	assert.Equal(t, models.TaskStatusCompleted, store.tasks[1].Status)
	assert.NotNil(t, store.tasks[1].CompletedAt)

	for _, step := range store.steps {
		assert.NotEqual(t, models.StepStatusUnlocked, step.Status)
	}

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "task_completed", notifier.calls[0].kind)
}

func TestEngine_Complete_LastStepSpawnsRecurrence(t *testing.T) {
	engine, store, _, spawner, _ := newFixture(t)
	store.tasks[1].RecurrenceEnabled = true
	store.tasks[1].RecurrenceType = models.RecurrenceWeekly
	store.tasks[1].RecurrenceInterval = 1
	store.steps[101].Status = models.StepStatusCompleted
	store.steps[102].Status = models.StepStatusCompleted
	store.steps[103].Status = models.StepStatusUnlocked

	result, err := engine.Complete(context.Background(), 103, member(carolID, models.RoleUser))
	require.NoError(t, err)

	require.Len(t, spawner.spawned, 1)
	require.NotNil(t, result.NextCycle)
	assert.Equal(t, 1, result.NextCycle.RecurrenceCount)
}

func TestEngine_Complete_RecurrenceFailureIsNonFatal(t *testing.T) {
	engine, store, _, spawner, _ := newFixture(t)
	spawner.err = errors.New("insert failed")
	store.tasks[1].RecurrenceEnabled = true
	store.tasks[1].RecurrenceType = models.RecurrenceDaily
	store.tasks[1].RecurrenceInterval = 2
	store.steps[101].Status = models.StepStatusCompleted
	store.steps[102].Status = models.StepStatusCompleted
	store.steps[103].Status = models.StepStatusUnlocked

	result, err := engine.Complete(context.Background(), 103, member(carolID, models.RoleUser))
	require.NoError(t, err)
	assert.True(t, result.TaskCompleted)
	assert.Nil(t, result.NextCycle)
	assert.Equal(t, models.TaskStatusCompleted, store.tasks[1].Status)
}

func TestEngine_Return_RewindsOnePosition(t *testing.T) {
	engine, store, notifier, _, comments := newFixture(t)
	completedAt := time.Now()
	store.steps[101].Status = models.StepStatusCompleted
	store.steps[101].CompletedAt = &completedAt
	store.steps[102].Status = models.StepStatusUnlocked

	reopened, err := engine.Return(context.Background(), 102, member(bobID, models.RoleUser), "missing data")
	require.NoError(t, err)

	assert.Equal(t, int64(101), reopened.ID)
	assert.Equal(t, models.StepStatusLocked, store.steps[102].Status)
	assert.Equal(t, models.StepStatusUnlocked, store.steps[101].Status)
	assert.Nil(t, store.steps[101].CompletedAt)

	require.Len(t, comments.created, 1)
	assert.Equal(t, int64(101), comments.created[0].StepID)
	assert.Equal(t, "missing data", comments.created[0].Body)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "returned", notifier.calls[0].kind)
	assert.Equal(t, "missing data", notifier.calls[0].reason)
}

func TestEngine_Return_FirstStepFails(t *testing.T) {
	engine, _, _, _, _ := newFixture(t)

	_, err := engine.Return(context.Background(), 101, member(aliceID, models.RoleUser), "oops")
	assert.ErrorIs(t, err, ErrNoPreviousStep)
}

func TestEngine_Return_LockedStepFails(t *testing.T) {
	engine, _, _, _, _ := newFixture(t)

	_, err := engine.Return(context.Background(), 103, member(carolID, models.RoleUser), "nope")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEngine_Claim_CollapsesJointStep(t *testing.T) {
	engine, store, notifier, _, _ := newFixture(t)
	daveID, eveID := int64(20), int64(21)
	store.steps[101].AssignedTo = assignedTo(daveID)
	store.steps[101].AdditionalAssignees = []int64{eveID}
	store.steps[101].IsJoint = true

	claimed, err := engine.Claim(context.Background(), 101, member(eveID, models.RoleUser))
	require.NoError(t, err)

	require.NotNil(t, claimed.AssignedTo)
	assert.Equal(t, eveID, *claimed.AssignedTo)
	assert.Empty(t, claimed.AdditionalAssignees)
	assert.False(t, claimed.IsJoint)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "claimed", notifier.calls[0].kind)
	assert.Equal(t, []int64{daveID, eveID}, notifier.calls[0].eligible)
	assert.Equal(t, eveID, notifier.calls[0].actorID)
}

func TestEngine_Claim_SecondClaimFails(t *testing.T) {
	engine, store, _, _, _ := newFixture(t)
	eveID := int64(21)
	store.steps[101].AdditionalAssignees = []int64{eveID}
	store.steps[101].IsJoint = true

	_, err := engine.Claim(context.Background(), 101, member(eveID, models.RoleUser))
	require.NoError(t, err)

	// The step is no longer joint, so a repeat claim is rejected.
	_, err = engine.Claim(context.Background(), 101, member(aliceID, models.RoleLead))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEngine_Claim_OutsiderFails(t *testing.T) {
	engine, store, _, _, _ := newFixture(t)
	store.steps[101].AdditionalAssignees = []int64{int64(21)}
	store.steps[101].IsJoint = true

	_, err := engine.Claim(context.Background(), 101, member(carolID, models.RoleUser))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEngine_Reopen_RewindsLastStep(t *testing.T) {
	engine, store, _, _, _ := newFixture(t)
	now := time.Now()
	store.tasks[1].Status = models.TaskStatusCompleted
	store.tasks[1].CompletedAt = &now
	for _, step := range store.steps {
		step.Status = models.StepStatusCompleted
		step.CompletedAt = &now
	}

	last, err := engine.Reopen(context.Background(), 1, member(aliceID, models.RoleAdmin))
	require.NoError(t, err)

	assert.Equal(t, int64(103), last.ID)
	assert.Equal(t, models.StepStatusUnlocked, store.steps[103].Status)
	assert.Nil(t, store.steps[103].CompletedAt)
	assert.Equal(t, models.TaskStatusActive, store.tasks[1].Status)
	assert.Nil(t, store.tasks[1].CompletedAt)
}

func TestEngine_Reopen_RequiresAdmin(t *testing.T) {
	engine, store, _, _, _ := newFixture(t)
	store.tasks[1].Status = models.TaskStatusCompleted

	_, err := engine.Reopen(context.Background(), 1, member(aliceID, models.RoleLead))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEngine_Reopen_ActiveTaskFails(t *testing.T) {
	engine, _, _, _, _ := newFixture(t)

	_, err := engine.Reopen(context.Background(), 1, member(aliceID, models.RoleAdmin))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEngine_Complete_MissingStep(t *testing.T) {
	engine, _, _, _, _ := newFixture(t)

	_, err := engine.Complete(context.Background(), 999, member(aliceID, models.RoleAdmin))
	assert.ErrorIs(t, err, ErrNotFound)
}
