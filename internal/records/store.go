// Package records holds the raw VA dataset and its per-record active flags.
// It does no derived computation.
package records

import (
	"sort"
	"strings"

	"vadash/internal/domain"
)

type GeoLabelMode string

const (
	// FirstToken keeps only the first word: "Lusaka Province" -> "Lusaka".
	FirstToken GeoLabelMode = "first_token"
	// StripLevel drops a trailing level word: "North Western Province" -> "North Western".
	StripLevel GeoLabelMode = "strip_level"
)

func ParseGeoLabelMode(s string) (GeoLabelMode, bool) {
	switch GeoLabelMode(strings.ToLower(strings.TrimSpace(s))) {
	case FirstToken, "":
		return FirstToken, true
	case StripLevel:
		return StripLevel, true
	}
	return "", false
}

type Store struct {
	records []domain.Record
	mode    GeoLabelMode
}

func NewStore(mode GeoLabelMode) *Store {
	if mode == "" {
		mode = FirstToken
	}
	return &Store{mode: mode}
}

// Load replaces the stored set and marks every record active.
func (s *Store) Load(raw []domain.Record) {
	s.records = make([]domain.Record, len(raw))
	for i, r := range raw {
		r.Active = true
		s.records[i] = r
	}
}

// All returns a copy of the full set, active or not.
func (s *Store) All() []domain.Record {
	out := make([]domain.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Replace installs a freshly filtered copy of the set. It is the only way
// active flags change; a set of a different length is a programming error
// and is ignored.
func (s *Store) Replace(set []domain.Record) bool {
	if len(set) != len(s.records) {
		return false
	}
	s.records = make([]domain.Record, len(set))
	copy(s.records, set)
	return true
}

func (s *Store) Len() int { return len(s.records) }

func (s *Store) ActiveCount() int {
	n := 0
	for _, r := range s.records {
		if r.Active {
			n++
		}
	}
	return n
}

// Active returns the active records with geography labels reduced for
// grouping.
func (s *Store) Active() []domain.Record {
	return ActiveOf(s.records, s.mode)
}

// ActiveOf applies the same selection and normalization to any set, for
// callers that filtered a copy without installing it.
func ActiveOf(set []domain.Record, mode GeoLabelMode) []domain.Record {
	out := make([]domain.Record, 0, len(set))
	for _, r := range set {
		if !r.Active {
			continue
		}
		r.Province = NormalizeGeoLabel(r.Province, mode)
		r.District = NormalizeGeoLabel(r.District, mode)
		out = append(out, r)
	}
	return out
}

func NormalizeGeoLabel(label string, mode GeoLabelMode) string {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return ""
	}
	if mode == StripLevel {
		last := fields[len(fields)-1]
		if len(fields) > 1 && (strings.EqualFold(last, domain.ProvinceLevel.Label()) || strings.EqualFold(last, domain.DistrictLevel.Label())) {
			fields = fields[:len(fields)-1]
		}
		return strings.Join(fields, " ")
	}
	return fields[0]
}

// Causes lists the distinct non-empty causes, sorted, for the cause dropdown.
func (s *Store) Causes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.records {
		if r.Cause == "" || seen[r.Cause] {
			continue
		}
		seen[r.Cause] = true
		out = append(out, r.Cause)
	}
	sort.Strings(out)
	return out
}

// Regions lists the distinct raw province and district labels, sorted.
func (s *Store) Regions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range s.records {
		for _, label := range []string{r.Province, r.District} {
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}
