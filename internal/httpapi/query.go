package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
	"vadash/internal/filter"
)

var datePresets = []string{
	filter.PresetAnyTime,
	filter.PresetWithinMonth,
	filter.PresetWithin3Month,
	filter.PresetWithinYear,
	filter.PresetCustom,
}

// Query is a parsed dashboard request. A zero View leaves the presentation
// to the dashboard's current setting.
type Query struct {
	Criteria domain.Criteria
	Level    domain.Level
	View     domain.View
}

// ParseQuery reads the dashboard query parameters. Missing or empty values
// place no constraint. date_preset fills start_date when start_date itself
// is not given.
func ParseQuery(v url.Values, now time.Time) (Query, error) {
	get := func(key string) string { return strings.TrimSpace(v.Get(key)) }

	var q Query
	q.Criteria.Cause = get("cause_of_death")
	q.Criteria.MinDate = get("start_date")
	q.Criteria.MaxDate = get("end_date")
	q.Criteria.District, q.Criteria.Province = domain.ParseRegion(get("region_of_interest"))
	q.Criteria.AgeGroup = domain.AgeGroup(get("age"))
	q.Criteria.Sex = get("sex")

	if preset := get("date_preset"); preset != "" && q.Criteria.MinDate == "" {
		minDate, err := filter.DatePreset(preset, now)
		if err != nil {
			return Query{}, err
		}
		q.Criteria.MinDate = minDate
	}

	for _, d := range []struct{ key, value string }{
		{"start_date", q.Criteria.MinDate},
		{"end_date", q.Criteria.MaxDate},
	} {
		if d.value == "" {
			continue
		}
		if _, ok := domain.ParseDate(d.value); !ok {
			return Query{}, fmt.Errorf("%s %q is not a date", d.key, d.value)
		}
	}

	if level := get("level"); level != "" {
		parsed, ok := domain.ParseLevel(level)
		if !ok {
			return Query{}, fmt.Errorf("unknown level %q", level)
		}
		q.Level = parsed
	}

	q.View.CODGroup = get("cod_group")
	q.View.MapMetric = get("map_metric")
	if factor := get("factor"); factor != "" {
		parsed, ok := domain.ParseFactor(factor)
		if !ok {
			return Query{}, fmt.Errorf("unknown factor %q", factor)
		}
		q.View.Factor = parsed
	}
	if period := get("trend_period"); period != "" {
		parsed, ok := domain.ParsePeriod(period)
		if !ok {
			return Query{}, fmt.Errorf("unknown trend_period %q", period)
		}
		q.View.Period = parsed
	}
	if topN := get("top_n"); topN != "" {
		n, err := strconv.Atoi(topN)
		if err != nil || n < 1 {
			return Query{}, fmt.Errorf("top_n %q is not a positive number", topN)
		}
		q.View.TopN = n
	}
	return q, nil
}

// Resolve checks a non-zero View against the cause groups c knows about.
func (q Query) Resolve(c *dashboard.Controller) (Query, error) {
	if q.View == (domain.View{}) {
		return q, nil
	}
	view, err := c.ValidateView(q.View)
	if err != nil {
		return Query{}, err
	}
	q.View = view
	return q, nil
}
