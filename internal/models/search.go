package models

import "fmt"

// TriState is a three-valued filter over a nullable boolean column. The empty
// string means the filter is omitted entirely.
type TriState string

const (
	TriStateOmitted TriState = ""
	TriStateTrue    TriState = "true"
	TriStateFalse   TriState = "false"
	TriStateUnknown TriState = "unknown"
)

// Validate rejects unsupported values.
func (t TriState) Validate() error {
	switch t {
	case TriStateOmitted, TriStateTrue, TriStateFalse, TriStateUnknown:
		return nil
	}
	return fmt.Errorf("unsupported tri-state value %q", string(t))
}

// Sort keys accepted by search queries.
const (
	SortUpdatedDesc  = "updated-desc"
	SortUpdatedAsc   = "updated-asc"
	SortCreatedDesc  = "created-desc"
	SortCreatedAsc   = "created-asc"
	SortVerifiedDesc = "verified-desc"
	SortVerifiedAsc  = "verified-asc"
	SortNameDesc     = "name-desc"
	SortNameAsc      = "name-asc"
)

// SearchSortKeys enumerates every accepted sort value.
var SearchSortKeys = map[string]struct{}{
	SortUpdatedDesc:  {},
	SortUpdatedAsc:   {},
	SortCreatedDesc:  {},
	SortCreatedAsc:   {},
	SortVerifiedDesc: {},
	SortVerifiedAsc:  {},
	SortNameDesc:     {},
	SortNameAsc:      {},
}

const (
	SearchMinLimit = 1
	SearchMaxLimit = 200
)

// SearchFilter is the validated parameter bag for filtered search.
type SearchFilter struct {
	Search   string `json:"search"`
	AreaName string `json:"areaName"`
	AreaType string `json:"areaType"`

	Active     TriState `json:"active"`
	Accessible TriState `json:"accessible"`
	BabyChange TriState `json:"babyChange"`
	AllGender  TriState `json:"allGender"`
	NoPayment  TriState `json:"noPayment"`
	Radar      TriState `json:"radar"`

	Verified    *bool `json:"verified"`
	HasLocation *bool `json:"hasLocation"`

	Sort  string `json:"sort"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// Validate checks enum fields. Pagination bounds are clamped by Normalize, not
// rejected.
func (f SearchFilter) Validate() error {
	for name, ts := range map[string]TriState{
		"active":     f.Active,
		"accessible": f.Accessible,
		"babyChange": f.BabyChange,
		"allGender":  f.AllGender,
		"noPayment":  f.NoPayment,
		"radar":      f.Radar,
	} {
		if err := ts.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if f.Sort != "" {
		if _, ok := SearchSortKeys[f.Sort]; !ok {
			return fmt.Errorf("unsupported sort key %q", f.Sort)
		}
	}
	return nil
}

// Normalize clamps pagination and applies the default sort.
func (f *SearchFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < SearchMinLimit {
		f.Limit = SearchMinLimit
	}
	if f.Limit > SearchMaxLimit {
		f.Limit = SearchMaxLimit
	}
	if f.Sort == "" {
		f.Sort = SortUpdatedDesc
	}
}

// Offset derives the row offset for the current page.
func (f SearchFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// AreaCount is one entry of the top-area breakdown in search metrics.
type AreaCount struct {
	Name  string `db:"name" json:"name"`
	Count int    `db:"count" json:"count"`
}

// SearchMetrics aggregates flag counts over the same predicate as a search.
type SearchMetrics struct {
	Filtered   int            `json:"filtered"`
	FlagCounts map[string]int `json:"flagCounts"`
	TopAreas   []AreaCount    `json:"topAreas"`
}
