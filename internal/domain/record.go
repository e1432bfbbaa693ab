package domain

import (
	"strings"
	"time"
)

type AgeGroup string

const (
	Neonate    AgeGroup = "neonate"
	Child      AgeGroup = "child"
	Adult      AgeGroup = "adult"
	UnknownAge AgeGroup = "Unknown"
)

// CanonicalAgeGroups is the fixed row order of the demographics table.
var CanonicalAgeGroups = []AgeGroup{Neonate, Child, Adult}

func (g AgeGroup) Canonical() bool {
	switch g {
	case Neonate, Child, Adult:
		return true
	}
	return false
}

func (g AgeGroup) Label() string {
	switch g {
	case Neonate:
		return "Neonate (< 28 days)"
	case Child:
		return "Child (≤ 12 years)"
	case Adult:
		return "Adult (> 12 years)"
	}
	return string(g)
}

// Record is one VA interview. Cause is empty for uncoded interviews and Date
// keeps the raw date-of-death string so unparseable values survive loading.
type Record struct {
	ID           string   `json:"id"`
	Cause        string   `json:"cause"`
	Date         string   `json:"date"`
	Province     string   `json:"province"`
	District     string   `json:"district"`
	AgeGroup     AgeGroup `json:"age_group"`
	Sex          string   `json:"sex"`
	PlaceOfDeath string   `json:"place_of_death"`
	Facility     string   `json:"location"`
	Active       bool     `json:"active"`
}

func (r Record) DeathDate() (time.Time, bool) {
	return ParseDate(r.Date)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006",
}

// ParseDate accepts the date shapes seen in VA exports. "dk" (don't know),
// empty and anything else unparseable report false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type Level string

const (
	ProvinceLevel Level = "province"
	DistrictLevel Level = "district"
)

func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "province":
		return ProvinceLevel, true
	case "district":
		return DistrictLevel, true
	}
	return "", false
}

// Label is the suffix used in raw geography labels ("Lusaka Province").
func (l Level) Label() string {
	switch l {
	case ProvinceLevel:
		return "Province"
	case DistrictLevel:
		return "District"
	}
	return ""
}

type UpdateStats struct {
	LastUpdate    string `json:"last_update"`
	LastInterview string `json:"last_interview"`
}

// Dataset is one complete feed load.
type Dataset struct {
	Valid       []Record
	Uncoded     int
	UpdateStats UpdateStats
	AllCauses   []string
}
