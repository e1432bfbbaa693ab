package aggregate

import (
	"strings"

	"vadash/internal/domain"
)

// Top returns at most n leading rows. n <= 0 keeps every row.
func Top(rows []domain.AggregateRow, n int) []domain.AggregateRow {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[:n]
}

// InCauseGroup keeps the records belonging to group. "all" and names
// starting with it keep every coded record, the neonatal group keeps neonate
// deaths, and an unknown group keeps nothing.
func InCauseGroup(records []domain.Record, groups domain.CauseGroups, group string) []domain.Record {
	group = strings.ToLower(strings.TrimSpace(group))
	var keep func(domain.Record) bool
	switch {
	case group == "" || strings.HasPrefix(group, domain.AllCauses):
		keep = func(r domain.Record) bool { return r.Cause != "" }
	case group == domain.NeonatalGroup && !groups.Has(group):
		keep = func(r domain.Record) bool {
			return domain.AgeGroup(strings.ToLower(string(r.AgeGroup))) == domain.Neonate
		}
	case groups.Has(group):
		keep = func(r domain.Record) bool { return groups.Contains(group, r.Cause) }
	default:
		return nil
	}
	var out []domain.Record
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ByCauseGroup ranks the causes of group and keeps the n most frequent.
func ByCauseGroup(records []domain.Record, groups domain.CauseGroups, group string, n, width int) []domain.AggregateRow {
	return Top(ByCause(InCauseGroup(records, groups, group), width), n)
}

// ByFactor splits each cause in causes across the values of factor, keeping
// the order of causes. Overall puts every record under "all". Records with
// no value for the factor count towards Total only.
func ByFactor(records []domain.Record, factor domain.Factor, causes []domain.AggregateRow) []domain.FactorRow {
	rows := make([]domain.FactorRow, len(causes))
	index := make(map[string]int, len(causes))
	for i, c := range causes {
		rows[i] = domain.FactorRow{Key: c.Key, Label: c.Label, Counts: make(map[string]int)}
		index[c.Key] = i
	}
	for _, r := range records {
		i, ok := index[r.Cause]
		if !ok {
			continue
		}
		rows[i].Total++
		if v := factor.Value(r); v != "" {
			rows[i].Counts[v]++
		}
	}
	return rows
}

// MetricOptions lists the map metrics worth offering: "all" followed by the
// n most frequent causes. It is empty when no record is coded.
func MetricOptions(records []domain.Record, n int) []string {
	top := Top(ByCause(records, 0), n)
	if len(top) == 0 {
		return nil
	}
	out := make([]string, 0, len(top)+1)
	out = append(out, domain.AllCauses)
	for _, row := range top {
		out = append(out, row.Key)
	}
	return out
}

// WithCause keeps the records coded as cause. "all" keeps every record.
func WithCause(records []domain.Record, cause string) []domain.Record {
	if cause == "" || strings.EqualFold(cause, domain.AllCauses) {
		return records
	}
	var out []domain.Record
	for _, r := range records {
		if r.Cause == cause {
			out = append(out, r)
		}
	}
	return out
}
