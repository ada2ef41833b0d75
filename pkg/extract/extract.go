// Package extract turns free-text moderation log messages into structured
// fields. Every function here is pure and safe for concurrent use.
package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// ReasonNotFound is returned by Reason when the text has no qualifying digit run.
const ReasonNotFound = "reason not found"

const (
	// minRunLength is the shortest digit run treated as an ID
	minRunLength = 6
	// snowflakeMinLength separates Discord snowflakes from Roblox IDs
	snowflakeMinLength = 16
)

var (
	paragraphBreak = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

	// [123], <@123>, <@!123> or a 17-19 digit line on its own
	discordForms = regexp.MustCompile(`\[(\d+)\]|<@!?(\d+)>|(?m:^[ \t]*(\d{17,19})[ \t]*\r?$)`)

	digitRun = regexp.MustCompile(`\d{6,}`)
)

// Fields groups everything extracted from one message.
type Fields struct {
	DiscordUserIDs []uint64
	RobloxUserIDs  []uint64
	Infraction     models.InfractionType
	Reason         string
}

// HasIDs reports whether at least one user was found.
func (f Fields) HasIDs() bool {
	return len(f.DiscordUserIDs) > 0 || len(f.RobloxUserIDs) > 0
}

// Parse runs every extractor over text.
func Parse(text string) Fields {
	return Fields{
		DiscordUserIDs: DiscordIDs(text),
		RobloxUserIDs:  RobloxIDs(text),
		Infraction:     Classify(text),
		Reason:         Reason(text),
	}
}

// FirstParagraph returns text up to the first blank line.
func FirstParagraph(text string) string {
	if loc := paragraphBreak.FindStringIndex(text); loc != nil {
		return text[:loc[0]]
	}
	return text
}

// DiscordIDs returns the Discord user IDs found in the first paragraph, in
// the order they appear. Duplicates are kept.
func DiscordIDs(text string) []uint64 {
	head := FirstParagraph(text)

	var ids []uint64
	for _, m := range discordForms.FindAllStringSubmatch(head, -1) {
		for _, group := range m[1:] {
			if group == "" {
				continue
			}
			id, err := strconv.ParseUint(group, 10, 64)
			if err != nil {
				// overflow, not an ID
				break
			}
			ids = append(ids, id)
			break
		}
	}
	return ids
}

// RobloxIDs returns every digit run of 6 to 15 characters in text, sorted
// ascending without duplicates.
func RobloxIDs(text string) []uint64 {
	var ids []uint64
	for _, run := range digitRun.FindAllString(text, -1) {
		if len(run) >= snowflakeMinLength {
			continue
		}
		id, err := strconv.ParseUint(run, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Reason returns the text following the last run of 6 or more digits, with
// square brackets removed. ReasonNotFound is returned when no such run exists.
func Reason(text string) string {
	text = strings.TrimSpace(text)

	cut := -1
	run := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c < '0' || c > '9' {
			run = 0
			continue
		}
		run++
		if run >= minRunLength {
			cut = i + 1
		}
	}
	if cut < 0 {
		return ReasonNotFound
	}

	reason := strings.NewReplacer("[", "", "]", "").Replace(text[cut:])
	return strings.TrimSpace(reason)
}
