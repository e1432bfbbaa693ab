package aggregate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var placeNames = map[string]string{
	"dk":                               "Unknown",
	"ref":                              "Refused to Answer",
	"on_route_to_hospital_or_facility": "En Route to Facility",
	"other_health_facility":            "Other Health Facility",
}

// PlaceLabel turns a coded place of death such as "other_health_facility"
// into a display name.
func PlaceLabel(place string) string {
	key := strings.ToLower(strings.TrimSpace(place))
	if name, ok := placeNames[key]; ok {
		return name
	}
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// Truncate cuts s to at most width runes. A width of zero or less keeps s.
func Truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width])
}
