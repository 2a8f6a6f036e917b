package notify

import (
	"errors"
	"testing"

	"github.com/relaydesk/relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWriter struct {
	created []*models.Notification
	err     error
}

func (m *mockWriter) Create(n *models.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, n)
	return nil
}

type mockDirectory struct {
	members map[int64]*models.Member
}

func (m *mockDirectory) GetByID(id int64) (*models.Member, error) {
	return m.members[id], nil
}

func (m *mockDirectory) ListAll() ([]*models.Member, error) {
	var all []*models.Member
	for _, member := range m.members {
		all = append(all, member)
	}
	return all, nil
}

func newEmitter(members map[int64]*models.Member) (*Emitter, *mockWriter) {
	writer := &mockWriter{}
	return NewEmitter(writer, &mockDirectory{members: members}, zap.NewNop()), writer
}

func memberIDs(created []*models.Notification) []int64 {
	ids := make([]int64, 0, len(created))
	for _, n := range created {
		ids = append(ids, n.MemberID)
	}
	return ids
}

func assignedTo(id int64) *int64 { return &id }

func TestStepUnlocked_NotifiesAssigneesExceptActor(t *testing.T) {
	emitter, writer := newEmitter(nil)

	task := &models.Task{ID: 1, Title: "Launch"}
	step := &models.PipelineStep{
		ID:                  2,
		Name:                "Review",
		AssignedTo:          assignedTo(11),
		AdditionalAssignees: []int64{12, 10},
		IsJoint:             true,
	}

	emitter.StepUnlocked(task, step, 10)

	assert.ElementsMatch(t, []int64{11, 12}, memberIDs(writer.created))
	for _, n := range writer.created {
		assert.Equal(t, models.NotificationAssignment, n.Type)
		require.NotNil(t, n.StepID)
		assert.Equal(t, int64(2), *n.StepID)
	}
}

func TestStepReturned_CarriesReason(t *testing.T) {
	emitter, writer := newEmitter(nil)

	task := &models.Task{ID: 1, Title: "Launch"}
	reopened := &models.PipelineStep{ID: 2, Name: "Draft", AssignedTo: assignedTo(11)}

	emitter.StepReturned(task, reopened, "missing data", 12)

	require.Len(t, writer.created, 1)
	assert.Equal(t, int64(11), writer.created[0].MemberID)
	assert.Equal(t, models.NotificationReturn, writer.created[0].Type)
	assert.Contains(t, writer.created[0].Message, "missing data")
}

func TestStepClaimed_NamesClaimer(t *testing.T) {
	emitter, writer := newEmitter(map[int64]*models.Member{
		21: {ID: 21, DisplayName: "Eve"},
	})

	task := &models.Task{ID: 1, Title: "Launch"}
	step := &models.PipelineStep{ID: 2, Name: "Ship"}

	emitter.StepClaimed(task, step, []int64{20, 21}, 21)

	require.Len(t, writer.created, 1)
	assert.Equal(t, int64(20), writer.created[0].MemberID)
	assert.Equal(t, models.NotificationClaim, writer.created[0].Type)
	assert.Contains(t, writer.created[0].Message, "Eve")
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	writer := &mockWriter{err: errors.New("table locked")}
	emitter := NewEmitter(writer, &mockDirectory{}, zap.NewNop())

	// Must not panic or propagate.
	emitter.TaskCompleted(&models.Task{ID: 1, Title: "x", CreatedBy: 5}, 5)
	assert.Empty(t, writer.created)
}

func TestParseMentions(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{"single mention", "ping @maya about this", []string{"maya"}},
		{"multiple mentions", "@bob and @carol please review", []string{"bob", "carol"}},
		{"no mentions", "nothing to see here", []string{}},
		{"email is not stripped of mention", "mail me at x@example.com", []string{"example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseMentions(tt.body))
		})
	}
}

func TestCommentPosted_MentionFanOut(t *testing.T) {
	emitter, writer := newEmitter(map[int64]*models.Member{
		1: {ID: 1, DisplayName: "Maya Chen"},
		2: {ID: 2, DisplayName: "Bob Ross"},
		3: {ID: 3, DisplayName: "Carol"},
	})

	comment := &models.StepComment{ID: 9, StepID: 4, AuthorID: 3, Body: "@maya @bob take a look"}
	emitter.CommentPosted(comment, 1)

	assert.ElementsMatch(t, []int64{1, 2}, memberIDs(writer.created))
	for _, n := range writer.created {
		assert.Equal(t, models.NotificationMention, n.Type)
	}
}

func TestCommentPosted_ExcludesAuthorAndDeduplicates(t *testing.T) {
	emitter, writer := newEmitter(map[int64]*models.Member{
		1: {ID: 1, DisplayName: "Maya Chen"},
	})

	// Two tokens both match Maya; she authored the comment, so nothing is sent.
	comment := &models.StepComment{ID: 9, StepID: 4, AuthorID: 1, Body: "@maya @chen noted"}
	emitter.CommentPosted(comment, 1)

	assert.Empty(t, writer.created)
}
