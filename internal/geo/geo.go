// Package geo reads the GeoJSON boundary reference and assigns choropleth
// colours to its features.
package geo

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"vadash/internal/domain"
	"vadash/internal/records"
	"vadash/internal/scale"
)

var ErrInvalidGeoJSON = errors.New("invalid geojson")

type Feature struct {
	AreaName   string `json:"area_name"`
	LevelLabel string `json:"area_level_label"`
}

// Region is the raw label a feature would carry in the feed,
// e.g. "Lusaka Province".
func (f Feature) Region() string {
	return f.AreaName + " " + f.LevelLabel
}

// ParseFeatures extracts the area properties of every feature. Features
// without an area name are skipped.
func ParseFeatures(data []byte) ([]Feature, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidGeoJSON
	}
	list := gjson.GetBytes(data, "features")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: missing features array", ErrInvalidGeoJSON)
	}
	var features []Feature
	list.ForEach(func(_, f gjson.Result) bool {
		name := f.Get("properties.area_name").String()
		if name == "" {
			return true
		}
		features = append(features, Feature{
			AreaName:   name,
			LevelLabel: f.Get("properties.area_level_label").String(),
		})
		return true
	})
	return features, nil
}

func LoadFeatures(path string) ([]Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geojson %s: %w", path, err)
	}
	features, err := ParseFeatures(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson %s: %w", path, err)
	}
	return features, nil
}

type FeatureColor struct {
	Area    string `json:"area"`
	Level   string `json:"level"`
	Count   int    `json:"count"`
	Bucket  int    `json:"bucket"`
	Color   string `json:"color"`
	HasData bool   `json:"has_data"`
}

// ColorFeatures colours every feature of the given level. Feature labels are
// normalized with the same mode as the aggregate keys; a feature with no
// matching row gets the no-data colour.
func ColorFeatures(features []Feature, rows []domain.AggregateRow, s scale.Scale, level domain.Level, mode records.GeoLabelMode) []FeatureColor {
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Key] = r.Count
	}
	var out []FeatureColor
	for _, f := range features {
		if f.LevelLabel != level.Label() {
			continue
		}
		fc := FeatureColor{Area: f.AreaName, Level: f.LevelLabel, Color: scale.NoDataColor, Bucket: -1}
		if n, ok := counts[records.NormalizeGeoLabel(f.Region(), mode)]; ok {
			fc.Count = n
			fc.Bucket = s.Bucket(n)
			fc.Color = s.Color(n)
			fc.HasData = true
		}
		out = append(out, fc)
	}
	return out
}
