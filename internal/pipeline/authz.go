package pipeline

import "github.com/relaydesk/relay/internal/models"

// Action is a state-machine operation subject to authorization
type Action string

const (
	ActionComplete Action = "complete"
	ActionReturn   Action = "return"
	ActionClaim    Action = "claim"
	ActionReopen   Action = "reopen"
)

// Allow is the single authorization policy used by every transition.
// Complete and return share eligibility: primary assignee, admin, or an
// additional assignee of a joint step. A step with no primary assignee has
// no assignment restriction at all. Claim additionally admits leads; reopen
// is admin-only and step-independent.
func Allow(actor *models.Member, action Action, step *models.PipelineStep) bool {
	if actor == nil {
		return false
	}

	switch action {
	case ActionComplete, ActionReturn:
		if actor.Role == models.RoleAdmin {
			return true
		}
		if step.AssignedTo == nil {
			return true
		}
		if *step.AssignedTo == actor.ID {
			return true
		}
		return step.IsJoint && step.HasAdditionalAssignee(actor.ID)

	case ActionClaim:
		if actor.Role == models.RoleAdmin || actor.Role == models.RoleLead {
			return true
		}
		if step.AssignedTo != nil && *step.AssignedTo == actor.ID {
			return true
		}
		return step.HasAdditionalAssignee(actor.ID)

	case ActionReopen:
		return actor.Role == models.RoleAdmin

	default:
		return false
	}
}
