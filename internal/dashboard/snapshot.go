package dashboard

import (
	"vadash/internal/aggregate"
	"vadash/internal/domain"
	"vadash/internal/filter"
	"vadash/internal/geo"
	"vadash/internal/records"
	"vadash/internal/scale"
)

// Snapshot is one fully recomputed dashboard view. Slices are shared
// between subscribers and must be treated as read-only.
type Snapshot struct {
	Seq      uint64          `json:"seq"`
	Criteria domain.Criteria `json:"criteria"`
	Level    domain.Level    `json:"level"`
	View     domain.View     `json:"view"`

	CODGrouping  []domain.AggregateRow   `json:"COD_grouping"`
	CODTrend     []domain.TrendPoint     `json:"COD_trend"`
	PlaceOfDeath []domain.AggregateRow   `json:"place_of_death"`
	Demographics []domain.DemographicRow `json:"demographics"`
	ProvinceSums []domain.AggregateRow   `json:"geographic_province_sums"`
	DistrictSums []domain.AggregateRow   `json:"geographic_district_sums"`
	UncodedVAs   int                     `json:"uncoded_vas"`
	UpdateStats  domain.UpdateStats      `json:"update_stats"`
	AllCauses    []string                `json:"all_causes_list"`
	Regions      []string                `json:"regions"`

	TopCauses      []domain.AggregateRow `json:"top_causes"`
	CauseBreakdown []domain.FactorRow    `json:"cause_breakdown"`
	Trend          []domain.TrendPoint   `json:"trend"`
	CODGroups      []string              `json:"cod_groups"`
	MapMetrics     []string              `json:"map_metric_options"`
	MapSums        []domain.AggregateRow `json:"map_sums"`

	GeoScale    scale.Scale        `json:"geo_scale"`
	MapColors   []geo.FeatureColor `json:"map_colors"`
	Highlights  domain.Highlights  `json:"highlights"`
	SmallSample bool               `json:"small_sample"`
	ActiveVAs   int                `json:"active_vas"`
	TotalVAs    int                `json:"total_vas"`
}

// GeoSums returns the geographic aggregate for level.
func (s Snapshot) GeoSums(level domain.Level) []domain.AggregateRow {
	if level == domain.DistrictLevel {
		return s.DistrictSums
	}
	return s.ProvinceSums
}

// input is everything a recompute reads, copied out of the controller so
// evaluation can run without holding its lock.
type input struct {
	all       []domain.Record
	uncoded   int
	stats     domain.UpdateStats
	allCauses []string
	regions   []string
	features  []geo.Feature
	criteria  domain.Criteria
	level     domain.Level
	view      domain.View
}

// evaluate filters in one pass, aggregates the active subset and bins the
// geographic aggregate of the current level, narrowed to the map metric. filtered is the full set with
// fresh active flags.
func evaluate(in input, opts Options) (snap Snapshot, filtered []domain.Record) {
	filtered = filter.Apply(in.all, in.criteria, opts.CombineMode)
	active := records.ActiveOf(filtered, opts.GeoLabelMode)

	view := in.view.WithDefaults()
	topCauses := aggregate.WithPercent(aggregate.ByCauseGroup(active, opts.CauseGroups, view.CODGroup, view.TopN, opts.LabelWidth))

	snap = Snapshot{
		Criteria:     in.criteria,
		Level:        in.level,
		View:         view,
		CODGrouping:  aggregate.WithPercent(aggregate.ByCause(active, opts.LabelWidth)),
		CODTrend:     aggregate.TrendByMonth(active),
		PlaceOfDeath: aggregate.WithPercent(aggregate.ByPlaceOfDeath(active, opts.LabelWidth)),
		Demographics: aggregate.ByAgeAndSex(active),
		ProvinceSums: aggregate.ByGeography(active, domain.ProvinceLevel),
		DistrictSums: aggregate.ByGeography(active, domain.DistrictLevel),
		UncodedVAs:   in.uncoded,
		UpdateStats:  in.stats,
		AllCauses:    in.allCauses,
		Regions:      in.regions,
		Highlights:   aggregate.Highlights(active, in.uncoded, in.stats),
		ActiveVAs:    len(active),
		TotalVAs:     len(in.all),

		TopCauses:      topCauses,
		CauseBreakdown: aggregate.ByFactor(active, view.Factor, topCauses),
		Trend:          aggregate.TrendBy(active, view.Period),
		CODGroups:      codGroupOptions(opts.CauseGroups),
		MapMetrics:     aggregate.MetricOptions(active, view.TopN),
		MapSums:        aggregate.ByGeography(aggregate.WithCause(active, view.MapMetric), in.level),
	}

	geoRows := snap.MapSums
	counts := make([]int, len(geoRows))
	for i, r := range geoRows {
		counts[i] = r.Count
	}
	snap.GeoScale = scale.New(counts, opts.Scale)
	snap.MapColors = geo.ColorFeatures(in.features, geoRows, snap.GeoScale, in.level, opts.GeoLabelMode)
	snap.SmallSample = opts.SmallSampleThreshold > 0 && snap.Highlights.CodedVAs < opts.SmallSampleThreshold
	return snap, filtered
}

// codGroupOptions lists the selectable cause groups, built-ins first.
func codGroupOptions(groups domain.CauseGroups) []string {
	out := []string{domain.AllCauses}
	if !groups.Has(domain.NeonatalGroup) {
		out = append(out, domain.NeonatalGroup)
	}
	return append(out, groups.Names()...)
}
