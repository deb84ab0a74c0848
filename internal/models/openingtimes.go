package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
)

// OpeningTimes holds one entry per weekday, Monday first. Each entry is either
// empty (closed or unknown) or an [open, close] pair in 24-hour HH:mm form.
// The sentinel ["00:00", "00:00"] means open around the clock.
type OpeningTimes [][]string

var timeOfDayPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Validate checks the 7-day shape and every time range.
func (ot OpeningTimes) Validate() error {
	if len(ot) != 7 {
		return fmt.Errorf("opening times must contain exactly 7 entries, got %d", len(ot))
	}
	for day, entry := range ot {
		switch len(entry) {
		case 0:
			continue
		case 2:
			open, close := entry[0], entry[1]
			if !timeOfDayPattern.MatchString(open) {
				return fmt.Errorf("day %d: invalid opening time %q", day, open)
			}
			if !timeOfDayPattern.MatchString(close) {
				return fmt.Errorf("day %d: invalid closing time %q", day, close)
			}
			if open == "00:00" && close == "00:00" {
				continue
			}
			if open >= close {
				return fmt.Errorf("day %d: opening time %q must precede closing time %q", day, open, close)
			}
		default:
			return fmt.Errorf("day %d: entry must be empty or an [open, close] pair", day)
		}
	}
	return nil
}

// Value implements driver.Valuer, storing the structure as jsonb.
func (ot OpeningTimes) Value() (driver.Value, error) {
	if ot == nil {
		return nil, nil
	}
	return json.Marshal(ot)
}

// Scan implements sql.Scanner.
func (ot *OpeningTimes) Scan(src interface{}) error {
	if src == nil {
		*ot = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into OpeningTimes", src)
	}
	return json.Unmarshal(raw, ot)
}
