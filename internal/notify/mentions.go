package notify

import (
	"regexp"
	"strings"

	"github.com/relaydesk/relay/internal/models"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ParseMentions extracts @name tokens from a comment body
func ParseMentions(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		tokens = append(tokens, match[1])
	}
	return tokens
}

// MatchMentions resolves mention tokens against the member directory with a
// case-insensitive substring match on display names. One member can match
// several tokens; callers deduplicate.
func MatchMentions(tokens []string, members []*models.Member) []*models.Member {
	var matched []*models.Member
	for _, token := range tokens {
		folded := strings.ToLower(token)
		for _, member := range members {
			if strings.Contains(strings.ToLower(member.DisplayName), folded) {
				matched = append(matched, member)
			}
		}
	}
	return matched
}
