package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/steward/internal/store"
)

// decodeObject unmarshals raw input into out. A JSON string containing a
// serialized object is unwrapped first: some models double-encode the tool
// input.
func decodeObject(raw json.RawMessage, out interface{}) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		trimmed = strings.TrimSpace(text)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("tool input is not a JSON object")
	}
	return json.Unmarshal([]byte(trimmed), out)
}

// optInt is an optional integer field that tolerates numeric strings and
// remembers whether the value parsed, so each action can report its own
// field-specific error.
type optInt struct {
	valid bool
	value int
}

func (o *optInt) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		return nil
	}
	var quoted string
	if err := json.Unmarshal(data, &quoted); err == nil {
		text = strings.TrimSpace(quoted)
	}
	if value, err := strconv.Atoi(text); err == nil {
		o.valid = true
		o.value = value
	}
	return nil
}

// Positive returns the value when it parsed as an integer > 0.
func (o *optInt) Positive() (int, bool) {
	if !o.valid || o.value <= 0 {
		return 0, false
	}
	return o.value, true
}

// NonNegative returns the value when it parsed as an integer >= 0.
func (o *optInt) NonNegative() (int, bool) {
	if !o.valid || o.value < 0 {
		return 0, false
	}
	return o.value, true
}

// AtLeast returns the value when it parsed as an integer >= min.
func (o *optInt) AtLeast(min int) (int, bool) {
	if !o.valid || o.value < min {
		return 0, false
	}
	return o.value, true
}

// RepeatTimes returns the value when it is -1 (unbounded) or >= 2.
func (o *optInt) RepeatTimes() (int, bool) {
	if !o.valid {
		return 0, false
	}
	if o.value == -1 || o.value >= 2 {
		return o.value, true
	}
	return 0, false
}

// normalizeDatetime canonicalizes "YYYY-MM-DD HH:MM" local timestamps,
// collapsing stray whitespace. Returns "" when the text does not parse.
func normalizeDatetime(value string) string {
	text := strings.Join(strings.Fields(value), " ")
	parsed, err := time.ParseInLocation(store.TimeLayout, text, time.Local)
	if err != nil {
		return ""
	}
	return parsed.Format(store.TimeLayout)
}

// optionalDatetime resolves a key-present optional timestamp: an empty
// value clears the column, a valid value normalizes, anything else is
// invalid.
func optionalDatetime(value *string) (normalized string, clear, invalid bool) {
	if value == nil {
		return "", false, false
	}
	text := strings.TrimSpace(*value)
	if text == "" {
		return "", true, false
	}
	normalized = normalizeDatetime(text)
	if normalized == "" {
		return "", false, true
	}
	return normalized, false, false
}

// normalizeTag resolves an optional tag filter: absent or blank means "no
// filter"; anything else is canonicalized.
func normalizeTag(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return ""
	}
	return store.NormalizeTag(*value)
}

func truncateText(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := limit - 3
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + "..."
}
