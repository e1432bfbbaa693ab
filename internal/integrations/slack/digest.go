package slackbot

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"vadash/internal/dashboard"
	"vadash/internal/httpapi"
)

const digestTopCauses = 5

// argAliases maps short command keys onto dashboard query parameters.
var argAliases = map[string]string{
	"cause":  "cause_of_death",
	"region": "region_of_interest",
	"from":   "start_date",
	"to":     "end_date",
	"preset": "date_preset",
	"group":  "cod_group",
	"period": "trend_period",
	"metric": "map_metric",
}

var argKeys = map[string]bool{
	"cause_of_death":     true,
	"region_of_interest": true,
	"start_date":         true,
	"end_date":           true,
	"date_preset":        true,
	"age":                true,
	"sex":                true,
	"level":              true,
	"cod_group":          true,
	"factor":             true,
	"trend_period":       true,
	"map_metric":         true,
	"top_n":              true,
}

// ParseCommandArgs reads key=value pairs from a slash command. Values with
// spaces are double-quoted: region="Lusaka Province".
func ParseCommandArgs(text string) (httpapi.Query, error) {
	pairs, err := splitArgs(text)
	if err != nil {
		return httpapi.Query{}, err
	}
	v := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return httpapi.Query{}, fmt.Errorf("expected key=value, got %q", pair)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if alias, ok := argAliases[key]; ok {
			key = alias
		}
		if !argKeys[key] {
			return httpapi.Query{}, fmt.Errorf("unknown filter %q", key)
		}
		v.Set(key, value)
	}
	return httpapi.ParseQuery(v, time.Now())
}

func splitArgs(text string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range text {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case (r == ' ' || r == '\t' || r == '\n') && !quoted:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

// FormatDigest renders snap as a Slack message. narrative may be empty.
func FormatDigest(snap dashboard.Snapshot, narrative string) string {
	h := snap.Highlights
	var lines []string
	lines = append(lines, fmt.Sprintf("*VA dashboard*: %d coded VAs, %d uncoded, %d active facilities",
		h.CodedVAs, h.UncodedVAs, h.ActiveFacilities))

	if f := snap.Criteria.Describe("%s `%s`"); f != "" {
		lines = append(lines, "Filters: "+f)
	}
	if h.LastInterview != "" {
		lines = append(lines, "Last interview: "+h.LastInterview)
	}
	if snap.SmallSample {
		lines = append(lines, ":warning: Small sample: figures may not be representative.")
	}

	if len(snap.CODGrouping) == 0 {
		lines = append(lines, "", "No coded VAs match these filters.")
	} else {
		lines = append(lines, "", "*Leading causes*")
		for i, row := range snap.CODGrouping {
			if i == digestTopCauses {
				lines = append(lines, fmt.Sprintf("_and %d more_", len(snap.CODGrouping)-digestTopCauses))
				break
			}
			lines = append(lines, fmt.Sprintf("%d. %s: %d (%.1f%%)", i+1, row.Label, row.Count, row.Percent))
		}
	}

	if n := len(snap.CODTrend); n > 0 {
		last := snap.CODTrend[n-1]
		lines = append(lines, "", fmt.Sprintf("*Latest month* %s: %d deaths", last.Month.Format("Jan 2006"), last.Count))
	}

	if narrative != "" {
		lines = append(lines, "", ">"+narrative)
	}
	return strings.Join(lines, "\n")
}
