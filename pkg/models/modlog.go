package models

import (
	"fmt"
	"strconv"
	"strings"
)

// LogType identifica el tipo de canal de logs que produjo un registro
type LogType uint8

const (
	LogTypeGame LogType = iota
	LogTypeDiscord
)

// String returns the display name of the log type
func (t LogType) String() string {
	switch t {
	case LogTypeGame:
		return "Game"
	case LogTypeDiscord:
		return "Discord"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (t LogType) MarshalText() ([]byte, error) {
	switch t {
	case LogTypeGame, LogTypeDiscord:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("invalid log type %d", t)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *LogType) UnmarshalText(b []byte) error {
	v, err := ParseLogType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseLogType parses "game" or "discord" (case-insensitive)
func ParseLogType(s string) (LogType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "game":
		return LogTypeGame, nil
	case "discord":
		return LogTypeDiscord, nil
	}
	return 0, fmt.Errorf("unknown log type %q", s)
}

// InfractionType es la clasificación heurística de una sanción
type InfractionType uint8

const (
	InfractionUnknown InfractionType = iota
	InfractionBan
	InfractionTempBan
	InfractionKick
	InfractionMute
	InfractionWarn
)

var infractionNames = map[InfractionType]string{
	InfractionBan:     "Ban",
	InfractionTempBan: "Temporary Ban",
	InfractionKick:    "Kick",
	InfractionMute:    "Mute",
	InfractionWarn:    "Warn",
	InfractionUnknown: "Unknown",
}

// String returns the display name of the infraction
func (t InfractionType) String() string {
	if name, ok := infractionNames[t]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler
func (t InfractionType) MarshalText() ([]byte, error) {
	if _, ok := infractionNames[t]; !ok {
		return nil, fmt.Errorf("invalid infraction type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *InfractionType) UnmarshalText(b []byte) error {
	v, err := ParseInfractionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseInfractionType accepts display names ("Temporary Ban") and short
// forms ("tempban", "temp_ban").
func ParseInfractionType(s string) (InfractionType, error) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	switch norm {
	case "ban":
		return InfractionBan, nil
	case "temporaryban", "tempban":
		return InfractionTempBan, nil
	case "kick":
		return InfractionKick, nil
	case "mute":
		return InfractionMute, nil
	case "warn":
		return InfractionWarn, nil
	case "unknown":
		return InfractionUnknown, nil
	}
	return InfractionUnknown, fmt.Errorf("unknown infraction type %q", s)
}

// LogRecord es un registro de moderación estructurado, derivado de un
// mensaje de un canal de logs. MessageID es la clave primaria.
type LogRecord struct {
	LogType        LogType        `json:"log_type"`
	InfractionType InfractionType `json:"infraction_type"`
	RobloxUserIDs  []uint64       `json:"roblox_user_ids"`
	DiscordUserIDs []uint64       `json:"discord_user_ids"`
	Reason         string         `json:"reason"`
	MessageID      uint64         `json:"message_id"`
	ChannelID      uint64         `json:"channel_id"`
}

// UserIDs returns the union of both ID sets without duplicates, Discord IDs
// first.
func (r LogRecord) UserIDs() []uint64 {
	seen := make(map[uint64]struct{}, len(r.DiscordUserIDs)+len(r.RobloxUserIDs))
	out := make([]uint64, 0, len(r.DiscordUserIDs)+len(r.RobloxUserIDs))
	for _, ids := range [][]uint64{r.DiscordUserIDs, r.RobloxUserIDs} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// ModLogDocument is the string-keyed form of a LogRecord used by the HTTP
// API, MQTT payloads and the Mongo mirror. Snowflakes don't survive a trip
// through JavaScript numbers.
type ModLogDocument struct {
	MessageID      string   `bson:"messageId" json:"messageId"`
	ChannelID      string   `bson:"channelId" json:"channelId"`
	LogType        string   `bson:"logType" json:"logType"`
	InfractionType string   `bson:"infractionType" json:"infractionType"`
	RobloxUserIDs  []string `bson:"robloxUserIds" json:"robloxUserIds"`
	DiscordUserIDs []string `bson:"discordUserIds" json:"discordUserIds"`
	Reason         string   `bson:"reason" json:"reason"`
}

// ToDocument converts a record into its string-keyed form
func (r LogRecord) ToDocument() ModLogDocument {
	return ModLogDocument{
		MessageID:      strconv.FormatUint(r.MessageID, 10),
		ChannelID:      strconv.FormatUint(r.ChannelID, 10),
		LogType:        r.LogType.String(),
		InfractionType: r.InfractionType.String(),
		RobloxUserIDs:  formatIDs(r.RobloxUserIDs),
		DiscordUserIDs: formatIDs(r.DiscordUserIDs),
		Reason:         r.Reason,
	}
}

// ToRecord parses a document back into a LogRecord
func (d ModLogDocument) ToRecord() (LogRecord, error) {
	var rec LogRecord
	var err error

	if rec.MessageID, err = ParseSnowflake(d.MessageID); err != nil {
		return rec, fmt.Errorf("messageId: %w", err)
	}
	if rec.ChannelID, err = ParseSnowflake(d.ChannelID); err != nil {
		return rec, fmt.Errorf("channelId: %w", err)
	}
	if rec.LogType, err = ParseLogType(d.LogType); err != nil {
		return rec, err
	}
	if d.InfractionType != "" {
		if rec.InfractionType, err = ParseInfractionType(d.InfractionType); err != nil {
			return rec, err
		}
	}
	if rec.RobloxUserIDs, err = parseIDs(d.RobloxUserIDs); err != nil {
		return rec, fmt.Errorf("robloxUserIds: %w", err)
	}
	if rec.DiscordUserIDs, err = parseIDs(d.DiscordUserIDs); err != nil {
		return rec, fmt.Errorf("discordUserIds: %w", err)
	}
	rec.Reason = d.Reason
	return rec, nil
}

// ParseSnowflake parses a non-zero decimal ID
func ParseSnowflake(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func formatIDs(ids []uint64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatUint(id, 10)
	}
	return out
}

func parseIDs(ids []string) ([]uint64, error) {
	out := make([]uint64, 0, len(ids))
	for _, s := range ids {
		id, err := ParseSnowflake(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
