package filter

import (
	"fmt"
	"strings"
	"time"

	"vadash/internal/domain"
)

// Mode decides how the set dimensions of a Criteria combine.
type Mode string

const (
	MatchAll Mode = "all"
	MatchAny Mode = "any"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchAll, "and":
		return MatchAll, nil
	case MatchAny, "or":
		return MatchAny, nil
	}
	return "", fmt.Errorf("unknown combine mode %q", s)
}

type Predicate func(domain.Record) bool

// Compile folds every set dimension of c into one predicate. Empty criteria
// compile to a predicate that accepts everything.
func Compile(c domain.Criteria, mode Mode) Predicate {
	var parts []Predicate
	if c.Cause != "" {
		cause := c.Cause
		parts = append(parts, func(r domain.Record) bool { return r.Cause == cause })
	}
	if c.MinDate != "" {
		parts = append(parts, minDatePredicate(c.MinDate))
	}
	if c.MaxDate != "" {
		parts = append(parts, maxDatePredicate(c.MaxDate))
	}
	if c.HasGeography() {
		parts = append(parts, geographyPredicate(Geography{District: c.District, Province: c.Province}))
	}
	if c.AgeGroup != "" {
		age := string(c.AgeGroup)
		parts = append(parts, func(r domain.Record) bool { return strings.EqualFold(string(r.AgeGroup), age) })
	}
	if c.Sex != "" {
		sex := strings.TrimSpace(c.Sex)
		parts = append(parts, func(r domain.Record) bool { return strings.EqualFold(strings.TrimSpace(r.Sex), sex) })
	}

	if len(parts) == 0 {
		return func(domain.Record) bool { return true }
	}
	if mode == MatchAny {
		return func(r domain.Record) bool {
			for _, p := range parts {
				if p(r) {
					return true
				}
			}
			return false
		}
	}
	return func(r domain.Record) bool {
		for _, p := range parts {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Apply recomputes every active flag against all of c in a single pass.
func Apply(records []domain.Record, c domain.Criteria, mode Mode) []domain.Record {
	return mark(records, Compile(c, mode))
}

// Date presets offered by the death-date dropdown.
const (
	PresetAnyTime      = "Any Time"
	PresetWithinMonth  = "Within 1 Month"
	PresetWithin3Month = "Within 3 months"
	PresetWithinYear   = "Within 1 year"
	PresetCustom       = "Custom"
)

// DatePreset turns a preset name into a MinDate relative to now. Any Time
// and Custom yield an empty bound; Custom callers supply their own dates.
func DatePreset(name string, now time.Time) (string, error) {
	var from time.Time
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", strings.ToLower(PresetAnyTime), strings.ToLower(PresetCustom):
		return "", nil
	case strings.ToLower(PresetWithinMonth):
		from = now.AddDate(0, -1, 0)
	case strings.ToLower(PresetWithin3Month):
		from = now.AddDate(0, -3, 0)
	case strings.ToLower(PresetWithinYear):
		from = now.AddDate(-1, 0, 0)
	default:
		return "", fmt.Errorf("unknown date preset %q", name)
	}
	return from.Format("2006-01-02"), nil
}
