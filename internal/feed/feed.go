// Package feed parses the VA records feed and fetches it from disk or over
// HTTP.
package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"vadash/internal/domain"
)

var ErrMalformedFeed = errors.New("malformed feed")

// Parse reads a feed document. Individual records are taken as-is; missing
// fields become empty strings so downstream aggregates can drop them.
func Parse(data []byte) (domain.Dataset, error) {
	if !gjson.ValidBytes(data) {
		return domain.Dataset{}, ErrMalformedFeed
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return domain.Dataset{}, fmt.Errorf("%w: top level is not an object", ErrMalformedFeed)
	}

	var ds domain.Dataset
	valid := doc.Get("data.valid")
	if valid.Exists() && !valid.IsArray() {
		return domain.Dataset{}, fmt.Errorf("%w: data.valid is not a list", ErrMalformedFeed)
	}
	valid.ForEach(func(_, v gjson.Result) bool {
		ds.Valid = append(ds.Valid, parseRecord(v))
		return true
	})

	invalid := doc.Get("data.invalid")
	switch {
	case invalid.IsArray():
		ds.Uncoded = len(invalid.Array())
	case invalid.Type == gjson.Number:
		ds.Uncoded = int(invalid.Int())
	}

	ds.UpdateStats = domain.UpdateStats{
		LastUpdate:    doc.Get("update_stats.last_update").String(),
		LastInterview: doc.Get("update_stats.last_interview").String(),
	}
	// Some exports wrap the stats in a one-element list.
	if stats := doc.Get("update_stats"); stats.IsArray() {
		ds.UpdateStats = domain.UpdateStats{
			LastUpdate:    stats.Get("0.last_update").String(),
			LastInterview: stats.Get("0.last_interview").String(),
		}
	}

	doc.Get("all_causes_list").ForEach(func(_, c gjson.Result) bool {
		if s := strings.TrimSpace(c.String()); s != "" {
			ds.AllCauses = append(ds.AllCauses, s)
		}
		return true
	})
	return ds, nil
}

func parseRecord(v gjson.Result) domain.Record {
	return domain.Record{
		ID:           v.Get("id").String(),
		Cause:        strings.TrimSpace(causeOf(v.Get("cause"))),
		Date:         strings.TrimSpace(v.Get("date").String()),
		Province:     strings.TrimSpace(v.Get("province").String()),
		District:     strings.TrimSpace(v.Get("district").String()),
		AgeGroup:     ageGroupOf(v),
		Sex:          strings.ToLower(strings.TrimSpace(firstOf(v, "sex", "Id10019"))),
		PlaceOfDeath: strings.TrimSpace(firstOf(v, "place_of_death", "Id10058")),
		Facility:     strings.TrimSpace(v.Get("location").String()),
	}
}

func causeOf(c gjson.Result) string {
	if c.IsObject() {
		return c.Get("cause").String()
	}
	if c.Type == gjson.Null {
		return ""
	}
	return c.String()
}

func firstOf(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k).String(); s != "" {
			return s
		}
	}
	return ""
}

// ageGroupOf keeps a canonical age_group, otherwise falls back to the
// isNeonatal1/isChild1/isAdult1 flags and then to ageInYears.
func ageGroupOf(v gjson.Result) domain.AgeGroup {
	g := domain.AgeGroup(strings.ToLower(strings.TrimSpace(v.Get("age_group").String())))
	if g.Canonical() {
		return g
	}
	switch {
	case flagSet(v.Get("isNeonatal1")):
		return domain.Neonate
	case flagSet(v.Get("isChild1")):
		return domain.Child
	case flagSet(v.Get("isAdult1")):
		return domain.Adult
	}
	age, ok := intOf(v.Get("ageInYears"))
	if !ok {
		return domain.UnknownAge
	}
	switch {
	case age <= 1:
		return domain.Neonate
	case age <= 16:
		return domain.Child
	}
	return domain.Adult
}

func flagSet(r gjson.Result) bool {
	n, ok := intOf(r)
	return ok && n == 1
}

func intOf(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Float()), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}
