package pipeline

import (
	"testing"

	"github.com/relaydesk/relay/internal/models"
)

func TestAllow(t *testing.T) {
	primary := int64(1)
	joint := &models.PipelineStep{
		AssignedTo:          &primary,
		AdditionalAssignees: []int64{2, 3},
		IsJoint:             true,
	}
	exclusive := &models.PipelineStep{AssignedTo: &primary}
	unassigned := &models.PipelineStep{}

	tests := []struct {
		name     string
		actor    *models.Member
		action   Action
		step     *models.PipelineStep
		expected bool
	}{
		{"primary completes own step", &models.Member{ID: 1, Role: models.RoleUser}, ActionComplete, exclusive, true},
		{"other user cannot complete", &models.Member{ID: 5, Role: models.RoleUser}, ActionComplete, exclusive, false},
		{"lead is not admin for complete", &models.Member{ID: 5, Role: models.RoleLead}, ActionComplete, exclusive, false},
		{"admin completes any step", &models.Member{ID: 5, Role: models.RoleAdmin}, ActionComplete, exclusive, true},
		{"anyone completes unassigned step", &models.Member{ID: 5, Role: models.RoleUser}, ActionComplete, unassigned, true},
		{"additional assignee completes joint step", &models.Member{ID: 2, Role: models.RoleUser}, ActionComplete, joint, true},
		{"additional assignee of non-joint step cannot complete", &models.Member{ID: 2, Role: models.RoleUser}, ActionComplete, &models.PipelineStep{AssignedTo: &primary, AdditionalAssignees: []int64{2}}, false},
		{"primary returns own step", &models.Member{ID: 1, Role: models.RoleUser}, ActionReturn, exclusive, true},
		{"other user cannot return", &models.Member{ID: 5, Role: models.RoleUser}, ActionReturn, exclusive, false},
		{"additional assignee claims", &models.Member{ID: 3, Role: models.RoleUser}, ActionClaim, joint, true},
		{"lead claims any joint step", &models.Member{ID: 9, Role: models.RoleLead}, ActionClaim, joint, true},
		{"admin claims any joint step", &models.Member{ID: 9, Role: models.RoleAdmin}, ActionClaim, joint, true},
		{"outsider cannot claim", &models.Member{ID: 9, Role: models.RoleUser}, ActionClaim, joint, false},
		{"admin reopens", &models.Member{ID: 9, Role: models.RoleAdmin}, ActionReopen, nil, true},
		{"lead cannot reopen", &models.Member{ID: 9, Role: models.RoleLead}, ActionReopen, nil, false},
		{"nil actor denied", nil, ActionComplete, unassigned, false},
		{"unknown action denied", &models.Member{ID: 9, Role: models.RoleAdmin}, Action("delete"), exclusive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allow(tt.actor, tt.action, tt.step); got != tt.expected {
				t.Errorf("Allow() = %v, want %v", got, tt.expected)
			}
		})
	}
}
