package app

import (
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"vadash/internal/httpapi"
)

// queryFlags mirrors the dashboard query parameters on the command line.
type queryFlags struct {
	cause, region, startDate, endDate, preset, age, sex, level string

	codGroup, factor, period, mapMetric, topN string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.cause, "cause", "", "cause of death")
	fs.StringVar(&f.region, "region", "", `region of interest, e.g. "Lusaka Province" or "Kabwe District"`)
	fs.StringVar(&f.startDate, "start-date", "", "exclude deaths on or before this date (YYYY-MM-DD)")
	fs.StringVar(&f.endDate, "end-date", "", "exclude deaths after this date (YYYY-MM-DD)")
	fs.StringVar(&f.preset, "preset", "", `date preset, e.g. "Within 1 year"`)
	fs.StringVar(&f.age, "age", "", "age group: neonate, child or adult")
	fs.StringVar(&f.sex, "sex", "", "female or male")
	fs.StringVar(&f.level, "level", "", "map level: province or district")
	fs.StringVar(&f.codGroup, "cod-group", "", `cause group for the top causes, e.g. "all" or "neonatal"`)
	fs.StringVar(&f.factor, "factor", "", "split top causes by: overall, sex, age_group or place_of_death")
	fs.StringVar(&f.period, "trend-period", "", "trend bucket: day, week, month or year")
	fs.StringVar(&f.mapMetric, "map-metric", "", `cause to colour the map by, or "all"`)
	fs.StringVar(&f.topN, "top-n", "", "number of top causes to keep (default 10)")
}

func (f queryFlags) query(now time.Time) (httpapi.Query, error) {
	v := url.Values{}
	v.Set("cause_of_death", f.cause)
	v.Set("region_of_interest", f.region)
	v.Set("start_date", f.startDate)
	v.Set("end_date", f.endDate)
	v.Set("date_preset", f.preset)
	v.Set("age", f.age)
	v.Set("sex", f.sex)
	v.Set("level", f.level)
	v.Set("cod_group", f.codGroup)
	v.Set("factor", f.factor)
	v.Set("trend_period", f.period)
	v.Set("map_metric", f.mapMetric)
	v.Set("top_n", f.topN)
	return httpapi.ParseQuery(v, now)
}
