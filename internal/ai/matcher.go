package ai

import (
	"strings"

	"github.com/relaydesk/relay/internal/models"
)

// MatchName resolves an extracted name against the roster using symmetric
// case-insensitive containment: "maya" matches "Maya Chen" and "Maya Chen"
// matches a member named "Maya". The first roster match wins; archived
// members never match.
func MatchName(name string, roster []*models.Member) *models.Member {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	for _, member := range roster {
		if member.Archived {
			continue
		}
		have := strings.ToLower(member.DisplayName)
		if strings.Contains(have, needle) || strings.Contains(needle, have) {
			return member
		}
	}
	return nil
}

// ResolveNames matches every distinct assignee name of a proposal against
// the roster. Order follows first appearance across steps and alternatives.
func ResolveNames(proposal *ReadyProposal, roster []*models.Member) []Resolution {
	seen := make(map[string]bool)
	var out []Resolution

	add := func(name string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		res := Resolution{Name: strings.TrimSpace(name)}
		if member := MatchName(name, roster); member != nil {
			res.Matched = true
			res.MemberID = member.ID
		}
		out = append(out, res)
	}

	for _, step := range proposal.Steps {
		if step.IsJoint() {
			for _, alt := range step.Alternatives {
				add(alt)
			}
			continue
		}
		add(step.AssigneeName)
	}
	return out
}
