package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

func TestDiscordIDs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []uint64
	}{
		{
			name: "all three forms in order",
			text: "[123456789012345678]\n<@234567890123456789> <@!345678901234567890>\n456789012345678901",
			want: []uint64{123456789012345678, 234567890123456789, 345678901234567890, 456789012345678901},
		},
		{
			name: "duplicates kept and not sorted",
			text: "<@300> [100] <@300>",
			want: []uint64{300, 100, 300},
		},
		{
			name: "later paragraphs ignored",
			text: "<@111111111111111111>\n\nwitness <@222222222222222222>",
			want: []uint64{111111111111111111},
		},
		{
			name: "blank line with spaces still breaks",
			text: "<@111111111111111111>\n   \n[222222222222222222]",
			want: []uint64{111111111111111111},
		},
		{
			name: "bare line needs 17 to 19 digits",
			text: "1234567890123456\n12345678901234567890",
			want: nil,
		},
		{
			name: "bare id inside a sentence is not a line",
			text: "user 123456789012345678 was banned",
			want: nil,
		},
		{
			name: "bare line with surrounding spaces",
			text: "Ban\n  123456789012345678  \nreason",
			want: []uint64{123456789012345678},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiscordIDs(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRobloxIDs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []uint64
	}{
		{
			name: "sorted and deduplicated",
			text: "banned 1234567 and 123456, also 1234567",
			want: []uint64{123456, 1234567},
		},
		{
			name: "snowflakes and short runs skipped",
			text: "<@123456789012345678> 12345 99999",
			want: nil,
		},
		{
			name: "whole text is scanned",
			text: "first\n\nsecond 987654",
			want: []uint64{987654},
		},
		{
			name: "fifteen digits kept sixteen dropped",
			text: "123456789012345 1234567890123456",
			want: []uint64{123456789012345},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RobloxIDs(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"123456 This is the reason", "This is the reason"},
		{"12345 Too short", ReasonNotFound},
		{"123456789\n[Complex reason]\nwith brackets", "Complex reason\nwith brackets"},
		{"User 1234567 [Exploiting] 7654321 [Speed hacks]", "Speed hacks"},
		{"   123456   ", ""},
		{"", ReasonNotFound},
		{"abc 12345 def 67890 ghi", ReasonNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.text))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want models.InfractionType
	}{
		{"temporary ban for exploiting", models.InfractionTempBan},
		{"Temp Ban 3 days", models.InfractionTempBan},
		{"ban for exploiting", models.InfractionBan},
		{"ban and warn", models.InfractionBan},
		{"kick warn for spam", models.InfractionKick},
		{"MUTE for spam", models.InfractionMute},
		{"barn for vc", models.InfractionWarn},
		{"WORM for trolling", models.InfractionWarn},
		{"kick for trolling", models.InfractionUnknown},
		{"hello there", models.InfractionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassifyWithRuleOrder(t *testing.T) {
	rules := []Rule{
		{Type: models.InfractionWarn, AnyOf: []string{"warn"}},
		{Type: models.InfractionBan, AllOf: []string{"ban"}},
	}
	assert.Equal(t, models.InfractionWarn, ClassifyWith("ban warn", rules))
	assert.Equal(t, models.InfractionBan, ClassifyWith("ban", rules))
	assert.Equal(t, models.InfractionUnknown, ClassifyWith("anything", []Rule{{Type: models.InfractionBan}}))
	assert.Equal(t, models.InfractionUnknown, ClassifyWith("ban", nil))
}

func TestParseModLogMessage(t *testing.T) {
	text := "[Ban]\n[<@123456789012345678>:123456789012345678 - robloxName:1234567]\n[Exploiting in game]\nNote: none"

	f := Parse(text)
	assert.Equal(t, []uint64{123456789012345678}, f.DiscordUserIDs)
	assert.Equal(t, []uint64{1234567}, f.RobloxUserIDs)
	assert.Equal(t, models.InfractionBan, f.Infraction)
	assert.Equal(t, "Exploiting in game\nNote: none", f.Reason)
	assert.True(t, f.HasIDs())

	assert.False(t, Parse("nothing to see").HasIDs())
}
