package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mmcloughlin/geohash"
	"go.uber.org/zap"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
	appErrors "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/errors"
)

// looGeohashPrecision is the stored geohash length; 9 characters resolve to
// under five meters, comfortably below GPS accuracy.
const looGeohashPrecision = 9

// distanceExpr is shared between the proximity filter and the projected
// distance so the two can never disagree. $1 is latitude, $2 longitude.
const distanceExpr = "ST_DistanceSphere(l.geom, ST_SetSRID(ST_MakePoint($2, $1), 4326))"

// appendVersionQuery writes one audit log row inside the mutation transaction.
// The log carries no foreign-key column; the record id lives inside the
// snapshot jsonb.
const appendVersionQuery = `INSERT INTO loo_versions (record, old_record, created_at)
        SELECT to_jsonb(l), $2::jsonb, NOW() FROM loos l WHERE l.id = $1`

// LooRepository manages persistence for facility records and their audit log.
type LooRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewLooRepository constructs a LooRepository.
func NewLooRepository(db *sqlx.DB, logger *zap.Logger) *LooRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LooRepository{db: db, logger: logger}
}

// columnValue pairs a whitelisted column with its bind value. Column names are
// fixed string literals below; caller strings never become identifiers.
type columnValue struct {
	column string
	value  interface{}
}

// mutationValues flattens the set fields of a mutation into column/value
// pairs. Explicit nulls become nil bind values; absent fields do not appear.
func mutationValues(mut models.LooMutation) []columnValue {
	var out []columnValue
	add := func(set bool, column string, value interface{}) {
		if set {
			out = append(out, columnValue{column: column, value: value})
		}
	}

	add(mut.Name.IsSet(), "name", mut.Name.Ptr())
	add(mut.AreaID.IsSet(), "area_id", mut.AreaID.Ptr())
	add(mut.Active.IsSet(), "active", mut.Active.Ptr())
	add(mut.Accessible.IsSet(), "accessible", mut.Accessible.Ptr())
	add(mut.AllGender.IsSet(), "all_gender", mut.AllGender.Ptr())
	add(mut.Attended.IsSet(), "attended", mut.Attended.Ptr())
	add(mut.Automatic.IsSet(), "automatic", mut.Automatic.Ptr())
	add(mut.BabyChange.IsSet(), "baby_change", mut.BabyChange.Ptr())
	add(mut.Children.IsSet(), "children", mut.Children.Ptr())
	add(mut.Men.IsSet(), "men", mut.Men.Ptr())
	add(mut.Women.IsSet(), "women", mut.Women.Ptr())
	add(mut.UrinalOnly.IsSet(), "urinal_only", mut.UrinalOnly.Ptr())
	add(mut.NoPayment.IsSet(), "no_payment", mut.NoPayment.Ptr())
	add(mut.Radar.IsSet(), "radar", mut.Radar.Ptr())
	add(mut.Notes.IsSet(), "notes", mut.Notes.Ptr())
	add(mut.PaymentDetails.IsSet(), "payment_details", mut.PaymentDetails.Ptr())
	add(mut.RemovalReason.IsSet(), "removal_reason", mut.RemovalReason.Ptr())
	add(mut.VerifiedAt.IsSet(), "verified_at", mut.VerifiedAt.Ptr())

	if mut.OpeningTimes.IsSet() {
		if ot, ok := mut.OpeningTimes.Value(); ok {
			out = append(out, columnValue{column: "opening_times", value: ot})
		} else {
			out = append(out, columnValue{column: "opening_times", value: nil})
		}
	}

	return out
}

// Create inserts a brand-new record and its first version in one transaction.
// An existing id is a conflict.
func (r *LooRepository) Create(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.GetContext(ctx, &exists, "SELECT 1 FROM loos WHERE id = $1", id)
	if err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "loo already exists")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check loo existence: %w", err)
	}

	if err := r.insertLoo(ctx, tx, id, mut, contributor); err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "loo already exists")
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, appendVersionQuery, id, nil); err != nil {
		return nil, fmt.Errorf("append version: %w", err)
	}

	loo, err := findLooByID(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("reload created loo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransaction.Code, appErrors.ErrTransaction.Status, "commit create")
	}
	return loo, nil
}

// Upsert applies a partial mutation, falling back to an insert when the id is
// new. Exactly one version is appended per call, carrying the pre-mutation
// snapshot. The create/create race on a brand-new id deliberately surfaces the
// store's uniqueness violation as a retryable failure.
func (r *LooRepository) Upsert(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var oldSnapshot []byte
	err = tx.GetContext(ctx, &oldSnapshot, "SELECT to_jsonb(l) FROM loos l WHERE l.id = $1", id)
	existed := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("snapshot loo: %w", err)
	}

	if existed {
		if err := r.updateLoo(ctx, tx, id, mut, contributor); err != nil {
			return nil, false, err
		}
	} else {
		oldSnapshot = nil
		if err := r.insertLoo(ctx, tx, id, mut, contributor); err != nil {
			if isUniqueViolation(err) {
				return nil, false, appErrors.Wrap(err, appErrors.ErrTransaction.Code, appErrors.ErrTransaction.Status, "concurrent create raced this upsert, retry")
			}
			return nil, false, err
		}
	}

	var oldArg interface{}
	if oldSnapshot != nil {
		oldArg = oldSnapshot
	}
	if _, err := tx.ExecContext(ctx, appendVersionQuery, id, oldArg); err != nil {
		return nil, false, fmt.Errorf("append version: %w", err)
	}

	loo, err := findLooByID(ctx, tx, id)
	if err != nil {
		return nil, false, fmt.Errorf("reload upserted loo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrTransaction.Code, appErrors.ErrTransaction.Status, "commit upsert")
	}
	return loo, !existed, nil
}

func (r *LooRepository) insertLoo(ctx context.Context, tx *sqlx.Tx, id string, mut models.LooMutation, contributor string) error {
	now := time.Now().UTC()
	contributors := pq.StringArray{}
	if contributor != "" {
		contributors = pq.StringArray{contributor}
	}

	columns := []string{"id", "contributors", "created_at", "updated_at"}
	args := []interface{}{id, contributors, now, now}
	placeholders := []string{"$1", "$2", "$3", "$4"}

	for _, cv := range mutationValues(mut) {
		args = append(args, cv.value)
		columns = append(columns, cv.column)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	if mut.Location.IsSet() {
		columns = append(columns, "lat", "lng", "geohash", "geom")
		if pt, ok := mut.Location.Value(); ok {
			args = append(args, pt.Lat)
			latArg := len(args)
			args = append(args, pt.Lng)
			lngArg := len(args)
			args = append(args, geohash.EncodeWithPrecision(pt.Lat, pt.Lng, looGeohashPrecision))
			placeholders = append(placeholders,
				fmt.Sprintf("$%d", latArg),
				fmt.Sprintf("$%d", lngArg),
				fmt.Sprintf("$%d", len(args)),
				fmt.Sprintf("ST_SetSRID(ST_MakePoint($%d, $%d), 4326)", lngArg, latArg))
		} else {
			placeholders = append(placeholders, "NULL", "NULL", "NULL", "NULL")
		}
	}

	query := fmt.Sprintf("INSERT INTO loos (%s) VALUES (%s)",
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert loo: %w", err)
	}
	return nil
}

func (r *LooRepository) updateLoo(ctx context.Context, tx *sqlx.Tx, id string, mut models.LooMutation, contributor string) error {
	now := time.Now().UTC()

	var sets []string
	var args []interface{}

	for _, cv := range mutationValues(mut) {
		args = append(args, cv.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", cv.column, len(args)))
	}

	if mut.Location.IsSet() {
		if pt, ok := mut.Location.Value(); ok {
			args = append(args, pt.Lat)
			latArg := len(args)
			args = append(args, pt.Lng)
			lngArg := len(args)
			args = append(args, geohash.EncodeWithPrecision(pt.Lat, pt.Lng, looGeohashPrecision))
			sets = append(sets,
				fmt.Sprintf("lat = $%d", latArg),
				fmt.Sprintf("lng = $%d", lngArg),
				fmt.Sprintf("geohash = $%d", len(args)),
				fmt.Sprintf("geom = ST_SetSRID(ST_MakePoint($%d, $%d), 4326)", lngArg, latArg))
		} else {
			sets = append(sets, "lat = NULL", "lng = NULL", "geohash = NULL", "geom = NULL")
		}
	}

	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	if contributor != "" {
		args = append(args, contributor)
		sets = append(sets, fmt.Sprintf("contributors = array_append(COALESCE(contributors, ARRAY[]::text[]), $%d)", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE loos SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update loo: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// The row vanished between snapshot and update; treat as retryable.
		return appErrors.Clone(appErrors.ErrTransaction, "loo disappeared mid-transaction, retry")
	}
	return nil
}

// FindByID loads one record with its area. sql.ErrNoRows passes through so the
// service can treat absence as a normal outcome.
func (r *LooRepository) FindByID(ctx context.Context, id string) (*models.Loo, error) {
	return findLooByID(ctx, r.db, id)
}

func findLooByID(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Loo, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE l.id = $1", looColumns, looFrom)
	var loo models.Loo
	if err := sqlx.GetContext(ctx, q, &loo, query, id); err != nil {
		return nil, err
	}
	loo.Hydrate()
	return &loo, nil
}

// FindByIDs returns the records present among ids, preserving input order.
// Missing ids are simply absent from the result.
func (r *LooRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Loo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s %s WHERE l.id = ANY($1) ORDER BY array_position($1::text[], l.id)`, looColumns, looFrom)
	var loos []models.Loo
	if err := r.db.SelectContext(ctx, &loos, query, pq.StringArray(ids)); err != nil {
		return nil, fmt.Errorf("find loos by ids: %w", err)
	}
	hydrateAll(loos)
	return loos, nil
}

// Search runs the compiled filter plus its matching COUNT statement.
func (r *LooRepository) Search(ctx context.Context, filter models.SearchFilter) ([]models.Loo, int, error) {
	where, args := buildSearchWhere(filter)
	order := buildSearchOrder(filter.Sort)

	query := fmt.Sprintf("SELECT %s %s %s %s LIMIT %d OFFSET %d",
		looColumns, looFrom, where, order, filter.Limit, filter.Offset())
	var loos []models.Loo
	if err := r.db.SelectContext(ctx, &loos, query, args...); err != nil {
		return nil, 0, fmt.Errorf("search loos: %w", err)
	}
	hydrateAll(loos)

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s %s", looFrom, where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count loos: %w", err)
	}
	return loos, total, nil
}

// SearchMetrics reuses the search predicate for per-flag counts and a top-N
// area breakdown, guaranteeing the aggregates match the paginated result set.
func (r *LooRepository) SearchMetrics(ctx context.Context, filter models.SearchFilter, topAreas int) (*models.SearchMetrics, error) {
	where, args := buildSearchWhere(filter)

	metrics := &models.SearchMetrics{FlagCounts: make(map[string]int, len(metricFlagColumns))}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s %s", looFrom, where)
	if err := r.db.GetContext(ctx, &metrics.Filtered, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count filtered loos: %w", err)
	}

	for _, flag := range metricFlagColumns {
		query := fmt.Sprintf("SELECT COUNT(*) %s %s AND %s = TRUE", looFrom, where, flag.Column)
		var count int
		if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
			return nil, fmt.Errorf("count %s loos: %w", flag.Name, err)
		}
		metrics.FlagCounts[flag.Name] = count
	}

	if topAreas > 0 {
		query := fmt.Sprintf(`SELECT a.name, COUNT(*) AS count %s %s AND a.name IS NOT NULL
                GROUP BY a.name ORDER BY count DESC, a.name ASC LIMIT %d`, looFrom, where, topAreas)
		if err := r.db.SelectContext(ctx, &metrics.TopAreas, query, args...); err != nil {
			return nil, fmt.Errorf("top areas: %w", err)
		}
	}

	return metrics, nil
}

// FindNear returns records within radius meters of the point, nearest first,
// each annotated with its spherical distance.
func (r *LooRepository) FindNear(ctx context.Context, lat, lng, radiusMeters float64) ([]models.LooWithDistance, error) {
	query := fmt.Sprintf(`SELECT %s, %s AS distance %s
        WHERE l.geom IS NOT NULL AND %s <= $3
        ORDER BY distance ASC, l.id ASC`, looColumns, distanceExpr, looFrom, distanceExpr)
	var loos []models.LooWithDistance
	if err := r.db.SelectContext(ctx, &loos, query, lat, lng, radiusMeters); err != nil {
		return nil, fmt.Errorf("find loos near point: %w", err)
	}
	for i := range loos {
		loos[i].Hydrate()
	}
	return loos, nil
}

// geohashPrefixArgs matches stored geohashes beginning with the escaped
// prefix; an optional active-only restriction is ANDed on.
func geohashPrefixArgs(prefix string, activeOnly bool) (string, []interface{}) {
	cond := `l.geohash LIKE $1 ESCAPE '\'`
	if activeOnly {
		cond += " AND l.active = TRUE"
	}
	return cond, []interface{}{escapeLike(prefix) + "%"}
}

// FindByGeohash returns full records whose geohash starts with prefix.
func (r *LooRepository) FindByGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.Loo, error) {
	cond, args := geohashPrefixArgs(prefix, activeOnly)
	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY l.geohash ASC, l.id ASC", looColumns, looFrom, cond)
	var loos []models.Loo
	if err := r.db.SelectContext(ctx, &loos, query, args...); err != nil {
		return nil, fmt.Errorf("find loos by geohash: %w", err)
	}
	hydrateAll(loos)
	return loos, nil
}

// FindSummariesByGeohash returns the trimmed summary shape for a prefix.
func (r *LooRepository) FindSummariesByGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.LooSummary, error) {
	cond, args := geohashPrefixArgs(prefix, activeOnly)
	query := fmt.Sprintf(`SELECT l.id, l.name, l.geohash, l.active, l.accessible, l.no_payment,
        l.baby_change, l.all_gender, l.radar, l.automatic, l.updated_at, l.verified_at
        FROM loos l WHERE %s ORDER BY l.geohash ASC, l.id ASC`, cond)
	var summaries []models.LooSummary
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("find loo summaries by geohash: %w", err)
	}
	return summaries, nil
}

// FindUpdatedSince returns records whose updated_at is strictly after since.
func (r *LooRepository) FindUpdatedSince(ctx context.Context, since time.Time) ([]models.Loo, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE l.updated_at > $1 ORDER BY l.updated_at ASC, l.id ASC", looColumns, looFrom)
	var loos []models.Loo
	if err := r.db.SelectContext(ctx, &loos, query, since); err != nil {
		return nil, fmt.Errorf("find loos updated since: %w", err)
	}
	hydrateAll(loos)
	return loos, nil
}

func hydrateAll(loos []models.Loo) {
	for i := range loos {
		loos[i].Hydrate()
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
