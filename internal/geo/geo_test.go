package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vadash/internal/domain"
	"vadash/internal/records"
	"vadash/internal/scale"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"area_name": "Zambia", "area_level_label": "Country"}},
    {"type": "Feature", "properties": {"area_name": "Lusaka", "area_level_label": "Province"}},
    {"type": "Feature", "properties": {"area_name": "North Western", "area_level_label": "Province"}},
    {"type": "Feature", "properties": {"area_name": "Kabwe", "area_level_label": "District"}},
    {"type": "Feature", "properties": {}}
  ]
}`

func TestParseFeatures(t *testing.T) {
	features, err := ParseFeatures([]byte(sampleGeoJSON))
	require.NoError(t, err)
	require.Len(t, features, 4)
	assert.Equal(t, "Lusaka Province", features[1].Region())
}

func TestParseFeaturesRejectsBadInput(t *testing.T) {
	_, err := ParseFeatures([]byte("{not json"))
	assert.ErrorIs(t, err, ErrInvalidGeoJSON)

	_, err = ParseFeatures([]byte(`{"type": "FeatureCollection"}`))
	assert.ErrorIs(t, err, ErrInvalidGeoJSON)
}

func TestLoadFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zambia.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sampleGeoJSON), 0o644))

	features, err := LoadFeatures(path)
	require.NoError(t, err)
	assert.Len(t, features, 4)

	_, err = LoadFeatures(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestColorFeatures(t *testing.T) {
	features, err := ParseFeatures([]byte(sampleGeoJSON))
	require.NoError(t, err)

	rows := []domain.AggregateRow{{Key: "Lusaka", Count: 40}}
	s := scale.New([]int{40}, scale.DefaultOptions())

	colored := ColorFeatures(features, rows, s, domain.ProvinceLevel, records.FirstToken)
	require.Len(t, colored, 2)

	assert.Equal(t, "Lusaka", colored[0].Area)
	assert.True(t, colored[0].HasData)
	assert.Equal(t, 40, colored[0].Count)
	assert.Equal(t, s.Color(40), colored[0].Color)

	assert.Equal(t, "North Western", colored[1].Area)
	assert.False(t, colored[1].HasData)
	assert.Equal(t, scale.NoDataColor, colored[1].Color)
	assert.Equal(t, -1, colored[1].Bucket)
}

func TestColorFeaturesStripLevel(t *testing.T) {
	features, err := ParseFeatures([]byte(sampleGeoJSON))
	require.NoError(t, err)

	rows := []domain.AggregateRow{{Key: "North Western", Count: 3}}
	s := scale.New([]int{3}, scale.DefaultOptions())
	colored := ColorFeatures(features, rows, s, domain.ProvinceLevel, records.StripLevel)
	require.Len(t, colored, 2)
	assert.False(t, colored[0].HasData)
	assert.True(t, colored[1].HasData)
}
