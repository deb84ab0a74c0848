package repository

import (
	"fmt"
	"strings"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
)

// looColumns is the full projection shared by every read path. Identifiers are
// fixed at compile time; caller input only ever travels through bind args.
const looColumns = `l.id, l.name, l.lat, l.lng, l.geohash, l.area_id, a.name AS area_name, a.type AS area_type,
        l.contributors, l.active, l.accessible, l.all_gender, l.attended, l.automatic, l.baby_change,
        l.children, l.men, l.women, l.urinal_only, l.no_payment, l.radar,
        l.notes, l.payment_details, l.removal_reason, l.opening_times,
        l.verified_at, l.created_at, l.updated_at`

const looFrom = `FROM loos l LEFT JOIN areas a ON a.id = l.area_id`

// triStateColumns maps each tri-state filter to its column fragment.
var triStateColumns = []struct {
	column string
	pick   func(models.SearchFilter) models.TriState
}{
	{"l.active", func(f models.SearchFilter) models.TriState { return f.Active }},
	{"l.accessible", func(f models.SearchFilter) models.TriState { return f.Accessible }},
	{"l.baby_change", func(f models.SearchFilter) models.TriState { return f.BabyChange }},
	{"l.all_gender", func(f models.SearchFilter) models.TriState { return f.AllGender }},
	{"l.no_payment", func(f models.SearchFilter) models.TriState { return f.NoPayment }},
	{"l.radar", func(f models.SearchFilter) models.TriState { return f.Radar }},
}

// metricFlagColumns drives the per-flag counts in search metrics.
var metricFlagColumns = []struct {
	Name   string
	Column string
}{
	{"active", "l.active"},
	{"accessible", "l.accessible"},
	{"babyChange", "l.baby_change"},
	{"allGender", "l.all_gender"},
	{"noPayment", "l.no_payment"},
	{"radar", "l.radar"},
}

var searchSortClauses = map[string]string{
	models.SortUpdatedDesc:  "l.updated_at DESC NULLS LAST",
	models.SortUpdatedAsc:   "l.updated_at ASC NULLS LAST",
	models.SortCreatedDesc:  "l.created_at DESC NULLS LAST",
	models.SortCreatedAsc:   "l.created_at ASC NULLS LAST",
	models.SortVerifiedDesc: "l.verified_at DESC NULLS LAST",
	models.SortVerifiedAsc:  "l.verified_at ASC NULLS LAST",
	models.SortNameDesc:     "l.name DESC NULLS LAST",
	models.SortNameAsc:      "l.name ASC NULLS LAST",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralises pattern metacharacters in caller-supplied text before
// it is wrapped in wildcards.
func escapeLike(raw string) string {
	return likeEscaper.Replace(raw)
}

// buildSearchWhere compiles a filter into a WHERE clause and its bind args.
// Search, its COUNT twin and the metrics aggregates all reuse this single
// predicate so they can never disagree on what matched.
func buildSearchWhere(f models.SearchFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, f.Search, pattern)
		idArg := len(args) - 1
		// Stored ids are canonically lowercase hex; LOWER on the bind value
		// keeps the exact-id leg case-insensitive like the ILIKE legs.
		conditions = append(conditions, fmt.Sprintf(
			`(l.id = LOWER($%d) OR l.name ILIKE $%d ESCAPE '\' OR l.notes ILIKE $%d ESCAPE '\' OR l.geohash ILIKE $%d ESCAPE '\')`,
			idArg, idArg+1, idArg+1, idArg+1))
	}
	if f.AreaName != "" {
		args = append(args, "%"+escapeLike(f.AreaName)+"%")
		conditions = append(conditions, fmt.Sprintf(`a.name ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.AreaType != "" {
		args = append(args, "%"+escapeLike(f.AreaType)+"%")
		conditions = append(conditions, fmt.Sprintf(`a.type ILIKE $%d ESCAPE '\'`, len(args)))
	}

	for _, ts := range triStateColumns {
		switch ts.pick(f) {
		case models.TriStateTrue:
			conditions = append(conditions, ts.column+" = TRUE")
		case models.TriStateFalse:
			conditions = append(conditions, ts.column+" = FALSE")
		case models.TriStateUnknown:
			conditions = append(conditions, ts.column+" IS NULL")
		}
	}

	if f.Verified != nil {
		if *f.Verified {
			conditions = append(conditions, "l.verified_at IS NOT NULL")
		} else {
			conditions = append(conditions, "l.verified_at IS NULL")
		}
	}
	if f.HasLocation != nil {
		if *f.HasLocation {
			conditions = append(conditions, "l.geom IS NOT NULL")
		} else {
			conditions = append(conditions, "l.geom IS NULL")
		}
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildSearchOrder maps the sort enum onto a fixed ORDER BY fragment with a
// deterministic id tie-break.
func buildSearchOrder(sort string) string {
	clause, ok := searchSortClauses[sort]
	if !ok {
		clause = searchSortClauses[models.SortUpdatedDesc]
	}
	return "ORDER BY " + clause + ", l.id ASC"
}
