package domain

import (
	"sort"
	"strings"
	"time"
)

// DefaultTopN is how many causes the cause chart and the map metric list keep.
const DefaultTopN = 10

// AllCauses selects every cause, as a cause group or as the map metric.
const AllCauses = "all"

// NeonatalGroup is the built-in cause group of neonate deaths. It selects
// by age rather than by cause.
const NeonatalGroup = "neonatal"

// Factor is the demographic dimension a breakdown splits counts by.
type Factor string

const (
	Overall      Factor = "overall"
	BySex        Factor = "sex"
	ByAgeGroup   Factor = "age_group"
	ByPlace      Factor = "place_of_death"
	overallCount        = "all"
)

// ParseFactor accepts the canonical names and the display forms used in
// dropdowns, such as "Age Group" or "All".
func ParseFactor(s string) (Factor, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch key {
	case "", "all", string(Overall):
		return Overall, true
	case string(BySex):
		return BySex, true
	case string(ByAgeGroup), "age":
		return ByAgeGroup, true
	case string(ByPlace), "place":
		return ByPlace, true
	}
	return "", false
}

// Value returns the factor column of r, normalized for grouping. An empty
// value means r has no value for the factor.
func (f Factor) Value(r Record) string {
	switch f {
	case BySex:
		return strings.ToLower(strings.TrimSpace(r.Sex))
	case ByAgeGroup:
		g := AgeGroup(strings.ToLower(string(r.AgeGroup)))
		if !g.Canonical() {
			return ""
		}
		return string(g)
	case ByPlace:
		return strings.TrimSpace(r.PlaceOfDeath)
	}
	return overallCount
}

// Period is the bucket width of the trend series.
type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
	Year  Period = "year"
)

func ParsePeriod(s string) (Period, bool) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Month, true
	case Day, Week, Month, Year:
		return p, true
	}
	return "", false
}

// End returns the last day of the period containing t. Weeks end on
// Sunday.
func (p Period) End(t time.Time) time.Time {
	y, m, d := t.Date()
	switch p {
	case Day:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case Week:
		offset := (7 - int(t.Weekday())) % 7
		return time.Date(y, m, d+offset, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// Label formats a period end for chart axes.
func (p Period) Label(end time.Time) string {
	switch p {
	case Week:
		return end.Format("2006-01-02")
	case Year:
		return end.Format("2006")
	}
	return end.Format("1/2/2006")
}

// View selects how the active subset is presented. It never changes which
// records are active.
type View struct {
	CODGroup  string `json:"cod_group,omitempty"`
	Factor    Factor `json:"factor,omitempty"`
	Period    Period `json:"trend_period,omitempty"`
	MapMetric string `json:"map_metric,omitempty"`
	TopN      int    `json:"top_n,omitempty"`
}

func (v View) WithDefaults() View {
	if v.CODGroup == "" {
		v.CODGroup = AllCauses
	}
	if v.Factor == "" {
		v.Factor = Overall
	}
	if v.Period == "" {
		v.Period = Month
	}
	if v.MapMetric == "" {
		v.MapMetric = AllCauses
	}
	if v.TopN <= 0 {
		v.TopN = DefaultTopN
	}
	return v
}

// FactorRow is one cause split across the values of a factor.
type FactorRow struct {
	Key    string         `json:"key"`
	Label  string         `json:"label"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// CauseGroups maps group names to the causes they contain. Group names are
// lower case.
type CauseGroups struct {
	names   []string
	members map[string]map[string]bool
}

func NewCauseGroups() CauseGroups {
	return CauseGroups{members: make(map[string]map[string]bool)}
}

// Add puts cause into group, creating the group on first use.
func (g *CauseGroups) Add(group, cause string) {
	group = strings.ToLower(strings.TrimSpace(group))
	if g.members == nil {
		g.members = make(map[string]map[string]bool)
	}
	set, ok := g.members[group]
	if !ok {
		set = make(map[string]bool)
		g.members[group] = set
		g.names = append(g.names, group)
	}
	set[cause] = true
}

// Names lists the groups in the order they were first added.
func (g CauseGroups) Names() []string {
	return append([]string(nil), g.names...)
}

func (g CauseGroups) Has(group string) bool {
	_, ok := g.members[strings.ToLower(strings.TrimSpace(group))]
	return ok
}

func (g CauseGroups) Contains(group, cause string) bool {
	return g.members[strings.ToLower(strings.TrimSpace(group))][cause]
}

// Causes lists the members of group in sorted order.
func (g CauseGroups) Causes(group string) []string {
	set := g.members[strings.ToLower(strings.TrimSpace(group))]
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
