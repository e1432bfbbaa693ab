package domain

import (
	"fmt"
	"strings"
	"time"
)

// Criteria holds the analyst's filter selection. An empty field places no
// constraint on that dimension.
type Criteria struct {
	Cause    string   `json:"cause_of_death,omitempty"`
	MinDate  string   `json:"start_date,omitempty"`
	MaxDate  string   `json:"end_date,omitempty"`
	District string   `json:"district,omitempty"`
	Province string   `json:"province,omitempty"`
	AgeGroup AgeGroup `json:"age,omitempty"`
	Sex      string   `json:"sex,omitempty"`
}

func (c Criteria) IsEmpty() bool {
	return c == Criteria{}
}

// Describe renders the non-empty criteria in a fixed order, each as
// fmt.Sprintf(pair, name, value), joined by ", ".
func (c Criteria) Describe(pair string) string {
	var parts []string
	add := func(name, value string) {
		if value != "" {
			parts = append(parts, fmt.Sprintf(pair, name, value))
		}
	}
	add("cause", c.Cause)
	add("from", c.MinDate)
	add("to", c.MaxDate)
	add("province", c.Province)
	add("district", c.District)
	add("age", string(c.AgeGroup))
	add("sex", c.Sex)
	return strings.Join(parts, ", ")
}

func (c Criteria) HasGeography() bool {
	return c.District != "" || c.Province != ""
}

// ParseRegion splits a region_of_interest value such as "Lusaka Province"
// or "Kabwe District" into the geography criterion. A bare name with no
// level label is treated as a district match, which also covers provinces
// whose districts share the name.
func ParseRegion(region string) (district, province string) {
	region = strings.TrimSpace(region)
	if region == "" {
		return "", ""
	}
	fields := strings.Fields(region)
	last := fields[len(fields)-1]
	name := strings.TrimSpace(strings.TrimSuffix(region, last))
	switch {
	case strings.EqualFold(last, ProvinceLevel.Label()) && name != "":
		return "", name
	case strings.EqualFold(last, DistrictLevel.Label()) && name != "":
		return name, ""
	}
	return region, ""
}

type AggregateRow struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent,omitempty"`
}

type DemographicRow struct {
	AgeGroup AgeGroup `json:"age_key"`
	Label    string   `json:"age_group"`
	Female   int      `json:"female"`
	Male     int      `json:"male"`
}

type TrendPoint struct {
	Month time.Time `json:"month"`
	Label string    `json:"date"`
	Count int       `json:"count"`
}

type Highlights struct {
	CodedVAs         int    `json:"coded_vas"`
	UncodedVAs       int    `json:"uncoded_vas"`
	ActiveFacilities int    `json:"active_facilities"`
	LastUpdate       string `json:"last_update"`
	LastInterview    string `json:"last_interview"`
}
