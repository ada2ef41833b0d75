package extract

import (
	"strings"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// Rule maps keywords to an infraction type. A rule matches when the
// lower-cased text contains every AllOf keyword and, if AnyOf is set, at
// least one AnyOf keyword. A rule without keywords never matches.
type Rule struct {
	Type  models.InfractionType
	AllOf []string
	AnyOf []string
}

// Matches reports whether lowered text satisfies the rule.
func (r Rule) Matches(lowered string) bool {
	if len(r.AllOf) == 0 && len(r.AnyOf) == 0 {
		return false
	}
	for _, kw := range r.AllOf {
		if !strings.Contains(lowered, kw) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, kw := range r.AnyOf {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// DefaultRules is evaluated top to bottom; the first match wins.
var DefaultRules = []Rule{
	{Type: models.InfractionTempBan, AllOf: []string{"ban"}, AnyOf: []string{"temp", "temporary"}},
	{Type: models.InfractionBan, AllOf: []string{"ban"}},
	{Type: models.InfractionKick, AllOf: []string{"kick", "warn"}},
	{Type: models.InfractionMute, AllOf: []string{"mute"}},
	// moderators misspell this one a lot
	{Type: models.InfractionWarn, AnyOf: []string{"warn", "barn", "marm", "warm", "worm"}},
}

// Classify applies DefaultRules to text.
func Classify(text string) models.InfractionType {
	return ClassifyWith(text, DefaultRules)
}

// ClassifyWith applies rules in order and returns the first match, or
// InfractionUnknown.
func ClassifyWith(text string, rules []Rule) models.InfractionType {
	lowered := strings.ToLower(text)
	for _, r := range rules {
		if r.Matches(lowered) {
			return r.Type
		}
	}
	return models.InfractionUnknown
}
