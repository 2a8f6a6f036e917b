package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaydesk/relay/internal/models"
)

func roster(names ...string) []*models.Member {
	out := make([]*models.Member, len(names))
	for i, name := range names {
		out[i] = &models.Member{ID: int64(i + 1), DisplayName: name}
	}
	return out
}

func TestMatchName(t *testing.T) {
	members := roster("Maya Chen", "Bob", "Alicia Keys")

	tests := []struct {
		name     string
		input    string
		wantID   int64
		wantNone bool
	}{
		{"exact match", "Bob", 2, false},
		{"case insensitive", "bob", 2, false},
		{"extracted short form matches longer roster name", "maya", 1, false},
		{"extracted long form matches shorter roster name", "Bob Smith", 2, false},
		{"whitespace trimmed", "  Maya Chen  ", 1, false},
		{"no match", "Zed", 0, true},
		{"empty name", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchName(tt.input, members)
			if tt.wantNone {
				assert.Nil(t, got)
				return
			}
			assert.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestMatchNameSymmetric(t *testing.T) {
	// containment runs both ways: a roster member named just "Maya"
	// still matches the extracted "Maya Chen"
	short := roster("Maya")
	got := MatchName("Maya Chen", short)
	assert.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
}

func TestMatchNameFirstWins(t *testing.T) {
	members := roster("Ann Lee", "Annabel")
	got := MatchName("ann", members)
	assert.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
}

func TestMatchNameSkipsArchived(t *testing.T) {
	members := roster("Maya Chen", "Maya Chen")
	members[0].Archived = true
	got := MatchName("maya", members)
	assert.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
}

func TestResolveNames(t *testing.T) {
	members := roster("Maya Chen", "Bob")
	proposal := &ReadyProposal{
		Title: "Onboard client",
		Steps: []StepProposal{
			{Description: "Draft contract", AssigneeName: "maya"},
			{Description: "Review", Alternatives: []string{"Bob", "Zed"}},
			{Description: "Send", AssigneeName: "bob"}, // dedupes with Bob
		},
	}

	got := ResolveNames(proposal, members)
	assert.Len(t, got, 3)

	assert.Equal(t, "maya", got[0].Name)
	assert.True(t, got[0].Matched)
	assert.Equal(t, int64(1), got[0].MemberID)

	assert.Equal(t, "Bob", got[1].Name)
	assert.True(t, got[1].Matched)

	assert.Equal(t, "Zed", got[2].Name)
	assert.False(t, got[2].Matched)
	assert.Zero(t, got[2].MemberID)
}
