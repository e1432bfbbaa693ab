// Package filter recomputes the active flag of every record from filter
// criteria. Every function takes the full set and returns a new slice; the
// input is never mutated and a call never carries over an earlier call's
// flags.
package filter

import (
	"strings"
	"time"

	"vadash/internal/domain"
)

// Geography is a district-or-province name match.
type Geography struct {
	District string
	Province string
}

func (g Geography) IsEmpty() bool {
	return g.District == "" && g.Province == ""
}

// ByCause activates records whose cause equals cause exactly. An empty cause
// activates everything.
func ByCause(records []domain.Record, cause string) []domain.Record {
	if cause == "" {
		return ResetAll(records)
	}
	return mark(records, func(r domain.Record) bool { return r.Cause == cause })
}

// ByMinDate activates records that died strictly after minDate. Records with
// an unparseable date never match. An empty minDate activates everything; a
// minDate that does not parse matches nothing.
func ByMinDate(records []domain.Record, minDate string) []domain.Record {
	if minDate == "" {
		return ResetAll(records)
	}
	return mark(records, minDatePredicate(minDate))
}

// ByGeography activates records whose district contains g.District or whose
// province is exactly "<g.Province> Province".
func ByGeography(records []domain.Record, g Geography) []domain.Record {
	if g.IsEmpty() {
		return ResetAll(records)
	}
	return mark(records, geographyPredicate(g))
}

func ResetAll(records []domain.Record) []domain.Record {
	return mark(records, func(domain.Record) bool { return true })
}

func mark(records []domain.Record, keep func(domain.Record) bool) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, r := range records {
		r.Active = keep(r)
		out[i] = r
	}
	return out
}

func minDatePredicate(minDate string) func(domain.Record) bool {
	after, ok := domain.ParseDate(minDate)
	if !ok {
		return func(domain.Record) bool { return false }
	}
	return func(r domain.Record) bool {
		d, ok := r.DeathDate()
		return ok && after.Before(d)
	}
}

// maxDatePredicate is inclusive of the whole calendar day of maxDate.
func maxDatePredicate(maxDate string) func(domain.Record) bool {
	last, ok := domain.ParseDate(maxDate)
	if !ok {
		return func(domain.Record) bool { return false }
	}
	end := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location()).AddDate(0, 0, 1)
	return func(r domain.Record) bool {
		d, ok := r.DeathDate()
		return ok && d.Before(end)
	}
}

func geographyPredicate(g Geography) func(domain.Record) bool {
	province := ""
	if g.Province != "" {
		province = g.Province + " " + domain.ProvinceLevel.Label()
	}
	return func(r domain.Record) bool {
		if g.District != "" && strings.Contains(r.District, g.District) {
			return true
		}
		return province != "" && r.Province == province
	}
}
