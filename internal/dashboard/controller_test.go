package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vadash/internal/domain"
	"vadash/internal/geo"
	"vadash/internal/metrics"
	"vadash/internal/scale"
)

func testDataset() domain.Dataset {
	return domain.Dataset{
		Valid: []domain.Record{
			{ID: "1", Cause: "TB", Date: "2021-01-15", Province: "Lusaka Province", District: "Lusaka District", AgeGroup: domain.Adult, Sex: "female", PlaceOfDeath: "hospital", Facility: "Clinic A"},
			{ID: "2", Cause: "TB", Date: "2021-02-20", Province: "Central Province", District: "Kabwe District", AgeGroup: domain.Child, Sex: "male", PlaceOfDeath: "home", Facility: "Clinic B"},
			{ID: "3", Cause: "Malaria", Date: "2021-02-10", Province: "Lusaka Province", District: "Chongwe District", AgeGroup: domain.Adult, Sex: "male", PlaceOfDeath: "home", Facility: "Clinic A"},
		},
		Uncoded:     5,
		UpdateStats: domain.UpdateStats{LastUpdate: "2024-02-01", LastInterview: "2024-01-30"},
	}
}

func testFeatures() []geo.Feature {
	return []geo.Feature{
		{AreaName: "Lusaka", LevelLabel: "Province"},
		{AreaName: "Central", LevelLabel: "Province"},
		{AreaName: "Copperbelt", LevelLabel: "Province"},
		{AreaName: "Kabwe", LevelLabel: "District"},
	}
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) add(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func TestLoadPublishesFullSnapshot(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	rec := &recorder{}
	c.Subscribe(rec.add)
	c.SetFeatures(testFeatures())
	c.Load(testDataset())

	snaps := rec.all()
	require.Len(t, snaps, 2)
	snap := snaps[1]
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, 3, snap.ActiveVAs)
	assert.Equal(t, 5, snap.UncodedVAs)
	require.Len(t, snap.CODGrouping, 2)
	assert.Equal(t, "TB", snap.CODGrouping[0].Key)
	assert.Equal(t, 66.7, snap.CODGrouping[0].Percent)
	assert.Len(t, snap.Demographics, 3)
	assert.Equal(t, []string{"Malaria", "TB"}, snap.AllCauses)
	assert.Equal(t, "Lusaka", snap.ProvinceSums[0].Key)
	assert.Equal(t, 2, snap.Highlights.ActiveFacilities)
	assert.True(t, snap.SmallSample)

	require.Len(t, snap.MapColors, 3)
	assert.True(t, snap.MapColors[0].HasData)
	assert.Equal(t, scale.NoDataColor, snap.MapColors[2].Color)
	assert.Equal(t, snap, c.Snapshot())
}

func TestSetCriteriaAppliesAllDimensionsAtOnce(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.Load(testDataset())

	c.SetCriteria(domain.Criteria{Cause: "TB", MinDate: "2021-02-01"})
	snap := c.Snapshot()
	assert.Equal(t, 1, snap.ActiveVAs)
	require.Len(t, snap.CODTrend, 1)
	assert.Equal(t, "2/28/2021", snap.CODTrend[0].Label)

	c.Reset()
	assert.Equal(t, 3, c.Snapshot().ActiveVAs)
}

func TestLoadKeepsCriteria(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.SetCriteria(domain.Criteria{Province: "Lusaka"})
	c.Load(testDataset())

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.ActiveVAs)
	assert.Equal(t, "Lusaka", snap.Criteria.Province)
}

func TestSetLevelRebinsMap(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.SetFeatures(testFeatures())
	c.Load(testDataset())

	require.NoError(t, c.SetLevel("District"))
	snap := c.Snapshot()
	assert.Equal(t, domain.DistrictLevel, snap.Level)
	require.Len(t, snap.MapColors, 1)
	assert.Equal(t, "Kabwe", snap.MapColors[0].Area)
	assert.True(t, snap.MapColors[0].HasData)

	assert.Error(t, c.SetLevel("country"))
	assert.Equal(t, domain.DistrictLevel, c.Snapshot().Level)
}

func TestQueryDoesNotChangeState(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.Load(testDataset())
	before := c.Snapshot()

	q := c.Query(domain.Criteria{Sex: "female"}, domain.DistrictLevel, domain.View{})
	assert.Equal(t, 1, q.ActiveVAs)
	assert.Equal(t, domain.DistrictLevel, q.Level)
	assert.Equal(t, before.Seq, q.Seq)

	assert.Equal(t, before, c.Snapshot())
}

func TestSubscribersSeeMonotonicSeq(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.Load(testDataset())

	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.add)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.SetCriteria(domain.Criteria{Cause: "TB"})
			} else {
				c.Reset()
			}
		}(i)
	}
	wg.Wait()

	snaps := rec.all()
	require.Len(t, snaps, 21, "one initial delivery plus one per change")
	for i := 1; i < len(snaps); i++ {
		assert.Equal(t, snaps[i-1].Seq+1, snaps[i].Seq)
	}

	unsubscribe()
	c.Reset()
	assert.Len(t, rec.all(), 21)
}

func TestSubscribeBeforeAnyPublish(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	rec := &recorder{}
	c.Subscribe(rec.add)
	assert.Empty(t, rec.all())
}

func TestFetchGuarding(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(DefaultOptions(), nil, m)

	first, firstCtx := c.BeginFetch(context.Background())
	second, secondCtx := c.BeginFetch(context.Background())

	assert.Error(t, firstCtx.Err(), "older fetch is cancelled")
	assert.NoError(t, secondCtx.Err())

	stale := domain.Dataset{Valid: []domain.Record{{ID: "stale", Cause: "Old"}}}
	assert.False(t, c.CompleteFetch(first, stale))
	assert.Equal(t, 0, c.Snapshot().TotalVAs)

	assert.True(t, c.CompleteFetch(second, testDataset()))
	assert.Equal(t, 3, c.Snapshot().TotalVAs)
	assert.Error(t, secondCtx.Err(), "completed fetch releases its context")

	assert.Equal(t, 1, c.StaleFetches())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleFetches))
}

func TestAbortFetch(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.Load(testDataset())

	ticket, ctx := c.BeginFetch(context.Background())
	assert.True(t, c.AbortFetch(ticket))
	assert.Error(t, ctx.Err())
	assert.Equal(t, 3, c.Snapshot().TotalVAs, "failed fetch keeps prior state")
	assert.Equal(t, 0, c.StaleFetches())
}

func TestAbortSupersededFetchIsStale(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(DefaultOptions(), nil, m)

	older, olderCtx := c.BeginFetch(context.Background())
	newer, _ := c.BeginFetch(context.Background())
	require.Error(t, olderCtx.Err())

	assert.False(t, c.AbortFetch(older), "cancelled by the newer fetch")
	assert.Equal(t, 1, c.StaleFetches())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleFetches))

	assert.True(t, c.AbortFetch(newer))
	assert.Equal(t, 1, c.StaleFetches())
}

func TestOptionsVariants(t *testing.T) {
	opts := DefaultOptions()
	opts.SmallSampleThreshold = 0
	opts.LabelWidth = 3
	c := New(opts, nil, nil)
	c.Load(testDataset())

	snap := c.Snapshot()
	assert.False(t, snap.SmallSample)
	assert.Equal(t, "Mal", snap.CODGrouping[1].Label)
	assert.Equal(t, "Malaria", snap.CODGrouping[1].Key)
}

func TestSnapshotJSONNames(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.Load(testDataset())

	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, name := range []string{
		"COD_grouping", "COD_trend", "place_of_death", "demographics",
		"geographic_province_sums", "geographic_district_sums", "uncoded_vas",
		"update_stats", "all_causes_list", "geo_scale", "map_colors",
		"highlights", "small_sample", "criteria", "level", "seq",
	} {
		assert.Contains(t, fields, name)
	}
}

func TestSetViewRepublishes(t *testing.T) {
	groups := domain.NewCauseGroups()
	groups.Add("infectious", "Malaria")
	opts := DefaultOptions()
	opts.CauseGroups = groups
	c := New(opts, nil, nil)
	c.SetFeatures(testFeatures())
	c.Load(testDataset())

	snap := c.Snapshot()
	assert.Equal(t, domain.View{}.WithDefaults(), snap.View)
	assert.Equal(t, []string{"all", "neonatal", "infectious"}, snap.CODGroups)
	assert.Equal(t, []string{"all", "TB", "Malaria"}, snap.MapMetrics)
	assert.Equal(t, snap.ProvinceSums, snap.MapSums)
	require.Len(t, snap.Trend, 2)

	require.NoError(t, c.SetView(domain.View{
		CODGroup:  "Infectious",
		Factor:    "Sex",
		Period:    "year",
		MapMetric: "Malaria",
	}))
	snap = c.Snapshot()
	assert.Equal(t, uint64(3), snap.Seq)
	require.Len(t, snap.TopCauses, 1)
	assert.Equal(t, "Malaria", snap.TopCauses[0].Key)
	require.Len(t, snap.CauseBreakdown, 1)
	assert.Equal(t, map[string]int{"male": 1}, snap.CauseBreakdown[0].Counts)
	require.Len(t, snap.Trend, 1)
	assert.Equal(t, "2021", snap.Trend[0].Label)
	assert.Equal(t, []domain.AggregateRow{{Key: "Lusaka", Label: "Lusaka", Count: 1}}, snap.MapSums)
	assert.Len(t, snap.ProvinceSums, 2)
	colored := map[string]bool{}
	for _, fc := range snap.MapColors {
		colored[fc.Area] = fc.HasData
	}
	assert.True(t, colored["Lusaka"])
	assert.False(t, colored["Central"])

	assert.Error(t, c.SetView(domain.View{Factor: "height"}))
	assert.Error(t, c.SetView(domain.View{Period: "fortnight"}))
	assert.Error(t, c.SetView(domain.View{CODGroup: "injuries"}))
	assert.Equal(t, uint64(3), c.Snapshot().Seq)
}

func TestQueryOverridesView(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)
	c.Load(testDataset())

	q := c.Query(domain.Criteria{}, "", domain.View{TopN: 1, Period: domain.Week})
	require.Len(t, q.TopCauses, 1)
	assert.Equal(t, "TB", q.TopCauses[0].Key)
	assert.Equal(t, []string{"all", "TB"}, q.MapMetrics)
	assert.Len(t, q.Trend, 3)
	assert.Equal(t, domain.Month, c.Snapshot().View.Period)
}
