package dashboard

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Exporter renders a dashboard as an xlsx workbook with an overview sheet
// per team snapshot and a per-member workload sheet
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates a new dashboard exporter
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// Export writes the workbook to w
func (e *Exporter) Export(board *TeamDashboard, w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	const overview = "Overview"
	const members = "Members"

	if err := f.SetSheetName("Sheet1", overview); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(members); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := e.fillOverview(f, overview, board); err != nil {
		return err
	}
	if err := e.fillMembers(f, members, board); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Dashboard exported",
		zap.Int64("team_id", board.TeamID),
		zap.Int("tasks", len(board.Tasks)),
		zap.Int("members", len(board.Members)))
	return nil
}

func (e *Exporter) fillOverview(f *excelize.File, sheet string, board *TeamDashboard) error {
	headers := []interface{}{"Task", "Deadline", "Steps", "Completed", "Progress", "Current step", "Recurring"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, task := range board.Tasks {
		current := ""
		if task.CurrentStep != nil {
			current = task.CurrentStep.Name
		}
		recurring := ""
		if task.Recurring {
			recurring = "yes"
		}
		row := []interface{}{
			task.Title,
			formatDate(task.Deadline),
			task.TotalSteps,
			task.CompletedSteps,
			fmt.Sprintf("%.0f%%", task.Completion*100),
			current,
			recurring,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write task row: %w", err)
		}
	}
	return nil
}

func (e *Exporter) fillMembers(f *excelize.File, sheet string, board *TeamDashboard) error {
	headers := []interface{}{"Member", "Actionable now", "Upcoming", "Done", "Next deadline"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	rowNum := 2
	for _, view := range board.Members {
		row := []interface{}{
			view.DisplayName,
			joinSteps(view.Now),
			joinSteps(view.Upcoming),
			view.Done,
			nextDeadline(view.Now),
		}
		cell := fmt.Sprintf("A%d", rowNum)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write member row: %w", err)
		}
		rowNum++
	}

	if len(board.Unassigned) > 0 {
		row := []interface{}{
			"(unassigned)",
			joinSteps(board.Unassigned),
			"",
			"",
			nextDeadline(board.Unassigned),
		}
		cell := fmt.Sprintf("A%d", rowNum)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write unassigned row: %w", err)
		}
	}
	return nil
}

func joinSteps(refs []StepRef) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, fmt.Sprintf("%s / %s", ref.TaskTitle, ref.Name))
	}
	return strings.Join(parts, "; ")
}

func nextDeadline(refs []StepRef) string {
	// refs arrive deadline-sorted with undeadlined steps last
	for _, ref := range refs {
		if ref.MiniDeadline != nil {
			return formatDate(ref.MiniDeadline)
		}
	}
	return ""
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
