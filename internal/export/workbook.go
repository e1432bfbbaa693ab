// Package export writes the current dashboard view as an XLSX workbook, one
// sheet per panel.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
)

const (
	SheetSummary      = "Summary"
	SheetCauses       = "Causes"
	SheetTrend        = "Trend"
	SheetPlaces       = "Place of Death"
	SheetDemographics = "Demographics"
	SheetGeography    = "Geography"
	SheetTopCauses    = "Top Causes"
)

type sheet struct {
	name   string
	header []any
	rows   [][]any
	width  float64
}

// WriteWorkbook renders snap to w.
func WriteWorkbook(w io.Writer, snap dashboard.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := buildSheets(snap)
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("new sheet %s: %w", s.name, err)
		}
		if err := writeSheet(f, s); err != nil {
			return fmt.Errorf("sheet %s: %w", s.name, err)
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, s sheet) error {
	header := s.header
	if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(s.header))
	if err := f.SetColWidth(s.name, "A", last, s.width); err != nil {
		return err
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(s.name, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

func buildSheets(snap dashboard.Snapshot) []sheet {
	h := snap.Highlights
	c := snap.Criteria
	summary := sheet{
		name:   SheetSummary,
		header: []any{"Field", "Value"},
		width:  24,
		rows: [][]any{
			{"Coded VAs", h.CodedVAs},
			{"Uncoded VAs", h.UncodedVAs},
			{"Active facilities", h.ActiveFacilities},
			{"Last update", h.LastUpdate},
			{"Last interview", h.LastInterview},
			{"Small sample", snap.SmallSample},
			{"Cause filter", c.Cause},
			{"Start date", c.MinDate},
			{"End date", c.MaxDate},
			{"Province filter", c.Province},
			{"District filter", c.District},
			{"Age filter", string(c.AgeGroup)},
			{"Sex filter", c.Sex},
			{"Map level", string(snap.Level)},
			{"Map metric", snap.View.MapMetric},
			{"Cause group", snap.View.CODGroup},
			{"Breakdown", string(snap.View.Factor)},
			{"Trend period", string(snap.View.Period)},
		},
	}

	causes := sheet{name: SheetCauses, header: []any{"Cause", "Count", "Percent"}, width: 32}
	for _, r := range snap.CODGrouping {
		causes.rows = append(causes.rows, []any{r.Key, r.Count, r.Percent})
	}

	trend := sheet{name: SheetTrend, header: []any{"Month", "Deaths"}, width: 16}
	for _, p := range snap.CODTrend {
		trend.rows = append(trend.rows, []any{p.Month.Format("2006-01"), p.Count})
	}

	places := sheet{name: SheetPlaces, header: []any{"Place", "Count", "Percent"}, width: 28}
	for _, r := range snap.PlaceOfDeath {
		places.rows = append(places.rows, []any{r.Label, r.Count, r.Percent})
	}

	demo := sheet{name: SheetDemographics, header: []any{"Age group", "Female", "Male"}, width: 22}
	for _, r := range snap.Demographics {
		demo.rows = append(demo.rows, []any{r.Label, r.Female, r.Male})
	}

	// The map colours the current level by the map metric's count.
	mapCounts := make(map[string]int, len(snap.MapSums))
	for _, r := range snap.MapSums {
		mapCounts[r.Key] = r.Count
	}
	geography := sheet{name: SheetGeography, header: []any{"Level", "Area", "Count", "Colour"}, width: 20}
	for _, level := range []domain.Level{domain.ProvinceLevel, domain.DistrictLevel} {
		for _, r := range snap.GeoSums(level) {
			colour := ""
			if n, ok := mapCounts[r.Key]; ok && level == snap.Level {
				colour = snap.GeoScale.Color(n)
			}
			geography.rows = append(geography.rows, []any{level.Label(), r.Key, r.Count, colour})
		}
	}

	return []sheet{summary, causes, trend, places, demo, geography, topCausesSheet(snap)}
}

// topCausesSheet has one column per factor value, in sorted order.
func topCausesSheet(snap dashboard.Snapshot) sheet {
	seen := make(map[string]bool)
	var values []string
	for _, r := range snap.CauseBreakdown {
		for v := range r.Counts {
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}
	sort.Strings(values)

	s := sheet{name: SheetTopCauses, header: []any{"Cause", "Total"}, width: 20}
	for _, v := range values {
		s.header = append(s.header, v)
	}
	for _, r := range snap.CauseBreakdown {
		row := []any{r.Key, r.Total}
		for _, v := range values {
			row = append(row, r.Counts[v])
		}
		s.rows = append(s.rows, row)
	}
	return s
}
