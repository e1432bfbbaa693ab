package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
)

func sampleSnapshot() dashboard.Snapshot {
	month := func(m time.Month) time.Time { return time.Date(2021, m, 1, 0, 0, 0, 0, time.UTC) }
	return dashboard.Snapshot{
		Criteria:  domain.Criteria{Province: "Lusaka", Sex: "female"},
		ActiveVAs: 12,
		CODGrouping: []domain.AggregateRow{
			{Key: "TB", Count: 6, Percent: 50},
			{Key: "Malaria", Count: 4, Percent: 33.3},
			{Key: "HIV/AIDS", Count: 2, Percent: 16.7},
		},
		CODTrend: []domain.TrendPoint{
			{Month: month(1), Count: 5},
			{Month: month(2), Count: 7},
		},
		PlaceOfDeath: []domain.AggregateRow{{Key: "hospital", Label: "Hospital", Count: 12}},
		Highlights:   domain.Highlights{CodedVAs: 12, UncodedVAs: 3, ActiveFacilities: 2, LastInterview: "2021-02-27"},
		SmallSample:  true,
	}
}

func TestBuildPrompts(t *testing.T) {
	system, user := BuildPrompts(sampleSnapshot())

	assert.Contains(t, system, "verbal autopsy")
	assert.Contains(t, user, "Coded VAs matching filters: 12\n")
	assert.Contains(t, user, "Uncoded VAs: 3\n")
	assert.Contains(t, user, "Filters: province=Lusaka, sex=female\n")
	assert.Contains(t, user, "Warning: small sample")
	assert.Contains(t, user, "- TB: 6 (50.0%)\n")
	assert.Contains(t, user, "- Malaria: 4 (33.3%)\n")
	assert.Contains(t, user, "- Feb 2021: 7\n")
	assert.Contains(t, user, "- Hospital: 12\n")
}

func TestBuildPromptsCapsCausesAndMonths(t *testing.T) {
	snap := sampleSnapshot()
	snap.CODGrouping = nil
	for i := 0; i < 8; i++ {
		snap.CODGrouping = append(snap.CODGrouping, domain.AggregateRow{Key: "cause-" + string(rune('a'+i)), Count: 8 - i})
	}
	snap.CODTrend = nil
	for m := time.January; m <= time.September; m++ {
		snap.CODTrend = append(snap.CODTrend, domain.TrendPoint{Month: time.Date(2021, m, 1, 0, 0, 0, 0, time.UTC), Count: int(m)})
	}

	_, user := BuildPrompts(snap)
	assert.Contains(t, user, "cause-e")
	assert.NotContains(t, user, "cause-f")
	assert.NotContains(t, user, "Mar 2021")
	assert.Contains(t, user, "Apr 2021")
	assert.Contains(t, user, "Sep 2021")
}

func TestNarrate(t *testing.T) {
	n := New("test-key", "", nil)
	assert.Equal(t, DefaultModel, n.model)

	var gotUser string
	n.complete = func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
		gotUser = userPrompt
		return "  \"TB leads with half of coded deaths.\n\nThe sample is small.\"  ", Usage{InputTokens: 100, OutputTokens: 20}, nil
	}

	text, usage, err := n.Narrate(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "TB leads with half of coded deaths. The sample is small.", text)
	assert.Equal(t, int64(120), usage.TotalTokens())
	assert.Contains(t, gotUser, "TB")
}

func TestNarrateSkipsEmptySnapshot(t *testing.T) {
	n := New("test-key", "m", nil)
	n.complete = func(context.Context, string, string) (string, Usage, error) {
		t.Fatal("API called for empty snapshot")
		return "", Usage{}, nil
	}
	text, _, err := n.Narrate(context.Background(), dashboard.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestNarratePropagatesError(t *testing.T) {
	n := New("test-key", "m", nil)
	n.complete = func(context.Context, string, string) (string, Usage, error) {
		return "", Usage{}, errors.New("overloaded")
	}
	_, _, err := n.Narrate(context.Background(), sampleSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestCleanNarrativeCapsLength(t *testing.T) {
	got := cleanNarrative(strings.Repeat("word ", 400))
	assert.LessOrEqual(t, len([]rune(got)), maxNarrativeChars+1)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestUsageAdd(t *testing.T) {
	var total Usage
	total.Add(Usage{InputTokens: 10, OutputTokens: 5, CacheReadInputTokens: 3})
	total.Add(Usage{InputTokens: 1, OutputTokens: 1, CacheCreationInputTokens: 7})
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 6, CacheCreationInputTokens: 7, CacheReadInputTokens: 3}, total)
}
