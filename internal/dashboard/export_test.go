package dashboard

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestExport(t *testing.T) {
	deadline := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	board := &TeamDashboard{
		TeamID:      1,
		GeneratedAt: time.Now(),
		Tasks: []TaskSummary{
			{TaskID: 1, Title: "Onboard client", Deadline: &deadline,
				TotalSteps: 3, CompletedSteps: 1, Completion: 1.0 / 3.0,
				CurrentStep: &StepRef{Name: "Review"}, Recurring: true},
		},
		Members: []MemberView{
			{MemberID: 10, DisplayName: "Maya Chen",
				Now:  []StepRef{{TaskTitle: "Onboard client", Name: "Review", MiniDeadline: &deadline}},
				Done: 1},
		},
		Unassigned: []StepRef{{TaskTitle: "Onboard client", Name: "Send"}},
	}

	var buf bytes.Buffer
	err := NewExporter(zap.NewNop()).Export(board, &buf)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Overview", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Onboard client", title)

	progress, err := f.GetCellValue("Overview", "E2")
	require.NoError(t, err)
	assert.Equal(t, "33%", progress)

	member, err := f.GetCellValue("Members", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Maya Chen", member)

	next, err := f.GetCellValue("Members", "E2")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", next)

	unassigned, err := f.GetCellValue("Members", "A3")
	require.NoError(t, err)
	assert.Equal(t, "(unassigned)", unassigned)
}
