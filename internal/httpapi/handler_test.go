package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
	"vadash/internal/export"
	"vadash/internal/metrics"
	"vadash/internal/storage/sqlite"
)

var fixedNow = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router     http.Handler
	controller *dashboard.Controller
	metrics    *metrics.Metrics
	db         *sql.DB
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := dashboard.New(dashboard.DefaultOptions(), nil, m)
	c.Load(domain.Dataset{
		Valid: []domain.Record{
			{ID: "1", Cause: "TB", Date: "2021-01-15", Province: "Lusaka Province", District: "Lusaka District", AgeGroup: domain.Adult, Sex: "female"},
			{ID: "2", Cause: "Malaria", Date: "2021-02-10", Province: "Central Province", District: "Kabwe District", AgeGroup: domain.Child, Sex: "male"},
			{ID: "3", Cause: "TB", Date: "2021-03-05", Province: "Central Province", District: "Kabwe District", AgeGroup: domain.Adult, Sex: "male"},
		},
		Uncoded:   2,
		AllCauses: []string{"Malaria", "TB"},
	})

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "vadash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := New(c, db, nil, m)
	h.now = func() time.Time { return fixedNow }
	return testServer{router: NewRouter(h, reg), controller: c, metrics: m, db: db}
}

func (s testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s testServer) send(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestDashboardQuery(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/dashboard?cause_of_death=TB&region_of_interest=Kabwe+District&level=district")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	body := decodeSnapshot(t, rec)
	assert.JSONEq(t, `1`, string(body["active_vas"]))
	assert.JSONEq(t, `"district"`, string(body["level"]))

	var causes []domain.AggregateRow
	require.NoError(t, json.Unmarshal(body["COD_grouping"], &causes))
	require.Len(t, causes, 1)
	assert.Equal(t, "TB", causes[0].Key)
	assert.Equal(t, 1, causes[0].Count)

	var districts []domain.AggregateRow
	require.NoError(t, json.Unmarshal(body["geographic_district_sums"], &districts))
	require.Len(t, districts, 1)
	assert.Equal(t, "Kabwe", districts[0].Key)
}

func TestDashboardQueryLeavesSharedStateAlone(t *testing.T) {
	s := newTestServer(t)
	before := s.controller.Snapshot()

	rec := s.get(t, "/api/dashboard?sex=male")
	require.Equal(t, http.StatusOK, rec.Code)

	after := s.controller.Snapshot()
	assert.Equal(t, before.Seq, after.Seq)
	assert.Equal(t, 3, after.ActiveVAs)
	assert.True(t, after.Criteria.IsEmpty())
}

func TestDashboardQueryEmptyParamsMatchAll(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/dashboard?start_date=&end_date=&cause_of_death=&region_of_interest=&age=&sex=")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeSnapshot(t, rec)
	assert.JSONEq(t, `3`, string(body["active_vas"]))
	assert.JSONEq(t, `2`, string(body["uncoded_vas"]))
}

func TestDashboardQueryRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"bad start date", "start_date=yesterday", "start_date"},
		{"bad end date", "end_date=2021-13-45", "end_date"},
		{"unknown level", "level=country", "unknown level"},
		{"unknown preset", "date_preset=Fortnight", "unknown date preset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(t, "/api/dashboard?"+tt.query)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "bad_request", body["error"])
			assert.Contains(t, body["error_description"], tt.want)
		})
	}
}

func TestSnapshotAndOptions(t *testing.T) {
	s := newTestServer(t)
	s.controller.SetCriteria(domain.Criteria{Cause: "Malaria"})

	rec := s.get(t, "/api/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeSnapshot(t, rec)
	assert.JSONEq(t, `1`, string(body["active_vas"]))

	rec = s.get(t, "/api/options")
	require.Equal(t, http.StatusOK, rec.Code)
	var opts struct {
		Causes  []string `json:"all_causes_list"`
		Regions []string `json:"regions"`
		Presets []string `json:"date_presets"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&opts))
	assert.Equal(t, []string{"Malaria", "TB"}, opts.Causes)
	assert.Contains(t, opts.Regions, "Kabwe District")
	assert.Len(t, opts.Presets, 5)
}

func TestExportWorkbook(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/export.xlsx?cause_of_death=TB")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "va-dashboard-2024-05-31.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetCauses)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "TB", rows[1][0])
	assert.Equal(t, "2", rows[1][1])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	s.get(t, "/api/dashboard")
	s.get(t, "/api/dashboard?sex=female")
	assert.Equal(t, 1, testutil.CollectAndCount(s.metrics.QueryDuration))

	rec = s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vadash_query_duration_seconds"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec = s.get(t, "/api/snapshot")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery(url.Values{
		"date_preset":        {"Within 1 Month"},
		"region_of_interest": {"Lusaka Province"},
		"age":                {"Adult"},
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", q.Criteria.MinDate)
	assert.Equal(t, "Lusaka", q.Criteria.Province)
	assert.Empty(t, q.Criteria.District)
	assert.Equal(t, domain.AgeGroup("Adult"), q.Criteria.AgeGroup)
	assert.Empty(t, q.Level)
	assert.Equal(t, domain.View{}, q.View)

	q, err = ParseQuery(url.Values{
		"date_preset": {"Within 1 year"},
		"start_date":  {"2020-01-01"},
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", q.Criteria.MinDate, "explicit start_date wins over the preset")
}
