package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vadash/internal/domain"
)

const sampleFeed = `{
  "data": {
    "valid": [
      {"id": 1, "cause": "TB", "date": "2021-01-15", "province": "Lusaka Province", "district": "Lusaka District",
       "age_group": "adult", "Id10019": "Female", "Id10058": "hospital", "location": "Clinic A"},
      {"id": 2, "cause": "Malaria", "date": "dk", "province": "Central Province", "district": "Kabwe District",
       "age_group": "", "isChild1": "1", "sex": "male", "place_of_death": "home"},
      {"id": 3, "cause": null, "ageInYears": 40},
      {"id": 4, "cause": "Anaemia", "ageInYears": "dk"},
      {"id": 5, "cause": "Sepsis", "age_group": "Unknown", "isNeonatal1": 1}
    ],
    "invalid": 12
  },
  "update_stats": {"last_update": "2024-02-01", "last_interview": "2024-01-30"},
  "all_causes_list": ["Anaemia", "Malaria", "TB", ""]
}`

func TestParse(t *testing.T) {
	ds, err := Parse([]byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, ds.Valid, 5)

	first := ds.Valid[0]
	assert.Equal(t, domain.Record{
		ID:           "1",
		Cause:        "TB",
		Date:         "2021-01-15",
		Province:     "Lusaka Province",
		District:     "Lusaka District",
		AgeGroup:     domain.Adult,
		Sex:          "female",
		PlaceOfDeath: "hospital",
		Facility:     "Clinic A",
	}, first)

	assert.Equal(t, domain.Child, ds.Valid[1].AgeGroup)
	assert.Equal(t, "male", ds.Valid[1].Sex)
	assert.Equal(t, "home", ds.Valid[1].PlaceOfDeath)

	assert.Equal(t, "", ds.Valid[2].Cause)
	assert.Equal(t, domain.Adult, ds.Valid[2].AgeGroup)
	assert.Equal(t, domain.UnknownAge, ds.Valid[3].AgeGroup)
	assert.Equal(t, domain.Neonate, ds.Valid[4].AgeGroup)

	assert.Equal(t, 12, ds.Uncoded)
	assert.Equal(t, domain.UpdateStats{LastUpdate: "2024-02-01", LastInterview: "2024-01-30"}, ds.UpdateStats)
	assert.Equal(t, []string{"Anaemia", "Malaria", "TB"}, ds.AllCauses)
}

func TestParseInvalidAsList(t *testing.T) {
	ds, err := Parse([]byte(`{"data": {"valid": [], "invalid": [{"id": 9}, {"id": 10}]},
		"update_stats": [{"last_update": "2024-02-01", "last_interview": "2024-01-30"}]}`))
	require.NoError(t, err)
	assert.Empty(t, ds.Valid)
	assert.Equal(t, 2, ds.Uncoded)
	assert.Equal(t, "2024-02-01", ds.UpdateStats.LastUpdate)
}

func TestAgeInYearsBoundaries(t *testing.T) {
	ds, err := Parse([]byte(`{"data": {"valid": [
		{"ageInYears": 1}, {"ageInYears": 2}, {"ageInYears": 16}, {"ageInYears": 17}
	]}}`))
	require.NoError(t, err)
	got := []domain.AgeGroup{}
	for _, r := range ds.Valid {
		got = append(got, r.AgeGroup)
	}
	assert.Equal(t, []domain.AgeGroup{domain.Neonate, domain.Child, domain.Child, domain.Adult}, got)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("<html>502</html>"))
	assert.ErrorIs(t, err, ErrMalformedFeed)

	_, err = Parse([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrMalformedFeed)

	_, err = Parse([]byte(`{"data": {"valid": "nope"}}`))
	assert.ErrorIs(t, err, ErrMalformedFeed)
}

func TestFileFetcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o644))

	ds, err := Load(context.Background(), FileFetcher{Path: path})
	require.NoError(t, err)
	assert.Len(t, ds.Valid, 5)

	_, err = Load(context.Background(), FileFetcher{Path: filepath.Join(t.TempDir(), "nope.json")})
	assert.Error(t, err)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "denied", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	ds, err := Load(context.Background(), HTTPFetcher{URL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	assert.Equal(t, 12, ds.Uncoded)

	_, err = Load(context.Background(), HTTPFetcher{URL: srv.URL})
	assert.Error(t, err)
}
