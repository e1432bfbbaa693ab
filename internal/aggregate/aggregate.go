// Package aggregate derives grouped counts from the active, normalized
// record subset. Records missing the grouping field drop out of that one
// aggregate only.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"vadash/internal/domain"
)

// DefaultLabelWidth is the display budget for cause and place labels.
const DefaultLabelWidth = 15

// counter groups keys in first-seen order.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) rows() []domain.AggregateRow {
	rows := make([]domain.AggregateRow, 0, len(c.order))
	for _, key := range c.order {
		rows = append(rows, domain.AggregateRow{Key: key, Label: key, Count: c.counts[key]})
	}
	return rows
}

// sortByCount orders rows by count descending, ties by key.
func sortByCount(rows []domain.AggregateRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
}

// ByCause counts coded records per cause, most frequent first. Labels are
// truncated to width runes only after grouping, so causes sharing a prefix
// stay separate rows.
func ByCause(records []domain.Record, width int) []domain.AggregateRow {
	c := newCounter()
	for _, r := range records {
		if r.Cause == "" {
			continue
		}
		c.add(r.Cause)
	}
	rows := c.rows()
	sortByCount(rows)
	for i := range rows {
		rows[i].Label = Truncate(rows[i].Key, width)
	}
	return rows
}

// ByGeography counts records per province or district in first-seen order.
func ByGeography(records []domain.Record, level domain.Level) []domain.AggregateRow {
	c := newCounter()
	for _, r := range records {
		key := r.Province
		if level == domain.DistrictLevel {
			key = r.District
		}
		if key == "" {
			continue
		}
		c.add(key)
	}
	return c.rows()
}

// ByAgeAndSex always returns one row per canonical age group, in canonical
// order, with zero counts back-filled.
func ByAgeAndSex(records []domain.Record) []domain.DemographicRow {
	rows := make([]domain.DemographicRow, len(domain.CanonicalAgeGroups))
	index := make(map[domain.AgeGroup]int, len(rows))
	for i, g := range domain.CanonicalAgeGroups {
		rows[i] = domain.DemographicRow{AgeGroup: g, Label: g.Label()}
		index[g] = i
	}
	for _, r := range records {
		i, ok := index[domain.AgeGroup(strings.ToLower(string(r.AgeGroup)))]
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(r.Sex)) {
		case "female":
			rows[i].Female++
		case "male":
			rows[i].Male++
		}
	}
	return rows
}

// ByPlaceOfDeath counts records per raw place, most frequent first, with a
// readable label truncated to width runes.
func ByPlaceOfDeath(records []domain.Record, width int) []domain.AggregateRow {
	c := newCounter()
	for _, r := range records {
		place := strings.TrimSpace(r.PlaceOfDeath)
		if place == "" {
			continue
		}
		c.add(place)
	}
	rows := c.rows()
	sortByCount(rows)
	for i := range rows {
		rows[i].Label = Truncate(PlaceLabel(rows[i].Key), width)
	}
	return rows
}

// TrendByMonth buckets records on the last day of their death month and
// returns the buckets in calendar order.
func TrendByMonth(records []domain.Record) []domain.TrendPoint {
	return TrendBy(records, domain.Month)
}

// TrendBy buckets records on the last day of their death period and returns
// the buckets in calendar order. Records without a parseable date drop out.
func TrendBy(records []domain.Record, period domain.Period) []domain.TrendPoint {
	counts := make(map[time.Time]int)
	for _, r := range records {
		d, ok := r.DeathDate()
		if !ok {
			continue
		}
		counts[period.End(d)]++
	}
	points := make([]domain.TrendPoint, 0, len(counts))
	for end, n := range counts {
		points = append(points, domain.TrendPoint{Month: end, Label: period.Label(end), Count: n})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Month.Before(points[j].Month) })
	return points
}

// WithPercent returns a copy of rows with Percent set to each row's share of
// the total, rounded to one decimal.
func WithPercent(rows []domain.AggregateRow) []domain.AggregateRow {
	total := 0
	for _, r := range rows {
		total += r.Count
	}
	out := make([]domain.AggregateRow, len(rows))
	copy(out, rows)
	if total == 0 {
		return out
	}
	for i := range out {
		out[i].Percent = math.Round(float64(out[i].Count)*1000/float64(total)) / 10
	}
	return out
}

// Highlights summarizes the active subset for the dashboard header.
func Highlights(active []domain.Record, uncoded int, stats domain.UpdateStats) domain.Highlights {
	h := domain.Highlights{
		UncodedVAs:    uncoded,
		LastUpdate:    stats.LastUpdate,
		LastInterview: stats.LastInterview,
	}
	facilities := make(map[string]bool)
	for _, r := range active {
		if r.Cause != "" {
			h.CodedVAs++
		}
		if r.Facility != "" {
			facilities[r.Facility] = true
		}
	}
	h.ActiveFacilities = len(facilities)
	return h
}
