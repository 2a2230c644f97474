package logs

import (
	"encoding/json"
	"log/slog"
	"strings"

	"courier/internal/logging"
)

// Filter selects JSON log records. Zero values match everything.
type Filter struct {
	MinLevel     slog.Leveler
	ConnectionID string
	Account      string
}

// Empty reports whether the filter passes every line unchanged.
func (f Filter) Empty() bool {
	return f.MinLevel == nil && f.ConnectionID == "" && f.Account == ""
}

// Match reports whether line passes the filter. Lines that are not JSON
// objects only pass an empty filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	if f.MinLevel != nil {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(stringField(record, slog.LevelKey))); err == nil && parsed < f.MinLevel.Level() {
			return false
		}
	}
	if f.ConnectionID != "" && stringField(record, logging.FieldConnectionID) != f.ConnectionID {
		return false
	}
	if f.Account != "" && stringField(record, logging.FieldAccount) != f.Account {
		return false
	}
	return true
}

// ParseLevel maps a level name onto slog levels. Unknown names mean debug.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelDebug
	}
	return level
}

func stringField(record map[string]any, key string) string {
	value, _ := record[key].(string)
	return value
}
