package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
	appErrors "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/errors"
)

// legacyLocationSuffix marks a retired reporting convention; versions carrying
// it never surface to callers.
const legacyLocationSuffix = "-location"

type versionReader interface {
	ListByLooID(ctx context.Context, looID string) ([]models.Version, error)
}

// ReportService reconstructs the report list from the append-only version log.
// It owns no storage: reports are a pure transform over consecutive snapshots,
// recomputed on every read.
type ReportService struct {
	versions versionReader
	logger   *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(versions versionReader, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{versions: versions, logger: logger}
}

// snapshotColumns is the fixed translation from storage columns to the exposed
// report representation. System bookkeeping (id, geohash, geom, raw lat/lng,
// created_at, updated_at) stays out; the coordinate pair is folded into a
// single location field below.
var snapshotColumns = []struct{ exposed, column string }{
	{"name", "name"},
	{"areaId", "area_id"},
	{"contributors", "contributors"},
	{"active", "active"},
	{"accessible", "accessible"},
	{"allGender", "all_gender"},
	{"attended", "attended"},
	{"automatic", "automatic"},
	{"babyChange", "baby_change"},
	{"children", "children"},
	{"men", "men"},
	{"women", "women"},
	{"urinalOnly", "urinal_only"},
	{"noPayment", "no_payment"},
	{"radar", "radar"},
	{"notes", "notes"},
	{"paymentDetails", "payment_details"},
	{"removalReason", "removal_reason"},
	{"openingTimes", "opening_times"},
	{"verifiedAt", "verified_at"},
}

// classificationExcluded gates only the system-report flag, never the exposed
// diff: a system report still shows its location change to callers.
var classificationExcluded = map[string]struct{}{
	"contributors": {},
	"location":     {},
}

// GetReports returns the chronological report list for one record, oldest
// first. Hydrated reports carry the full snapshot at each version; when
// includeContributors is false every contributor is redacted.
func (s *ReportService) GetReports(ctx context.Context, looID string, hydrate, includeContributors bool) ([]models.Report, error) {
	versions, err := s.versions.ListByLooID(ctx, looID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load version log")
	}

	reports := make([]models.Report, 0, len(versions))
	for _, v := range versions {
		report, keep, err := s.buildReport(v, hydrate, includeContributors)
		if err != nil {
			return nil, err
		}
		if keep {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func (s *ReportService) buildReport(v models.Version, hydrate, includeContributors bool) (models.Report, bool, error) {
	row, err := decodeSnapshot(v.Record)
	if err != nil {
		return models.Report{}, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
			fmt.Sprintf("corrupt version record %d", v.ID))
	}
	current := looSnapshot(row)

	var previous map[string]interface{}
	if oldRow, err := decodeSnapshot(v.OldRecord); err != nil {
		return models.Report{}, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
			fmt.Sprintf("corrupt version old_record %d", v.ID))
	} else if oldRow != nil {
		previous = looSnapshot(oldRow)
	}

	contributor := lastContributor(current)
	if strings.HasSuffix(contributor, legacyLocationSuffix) {
		return models.Report{}, false, nil
	}

	var diff map[string]models.FieldChange
	if previous != nil {
		diff = computeDiff(previous, current)
	}

	report := models.Report{
		ID:             strconv.FormatInt(v.ID, 10),
		CreatedAt:      v.CreatedAt,
		VerifiedAt:     parseStoredTime(current["verifiedAt"]),
		Diff:           diff,
		IsSystemReport: isSystemReport(previous, current),
	}
	if includeContributors {
		c := contributor
		report.Contributor = &c
	}
	if hydrate {
		report.Record = current
	}
	return report, true, nil
}

// decodeSnapshot unwraps a jsonb column into a key/value row; nil or JSON null
// yields a nil map.
func decodeSnapshot(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var row map[string]interface{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// looSnapshot applies the fixed storage-to-exposed translation to one row.
func looSnapshot(row map[string]interface{}) map[string]interface{} {
	snap := make(map[string]interface{}, len(snapshotColumns)+1)
	for _, field := range snapshotColumns {
		snap[field.exposed] = row[field.column]
	}
	lat, latOK := row["lat"].(float64)
	lng, lngOK := row["lng"].(float64)
	if latOK && lngOK {
		snap["location"] = map[string]interface{}{"lat": lat, "lng": lng}
	} else {
		snap["location"] = nil
	}
	return snap
}

// computeDiff compares two snapshots over the union of their keys using deep
// equality, so structurally equal composites (coordinates, opening times)
// never produce spurious entries.
func computeDiff(previous, current map[string]interface{}) map[string]models.FieldChange {
	diff := make(map[string]models.FieldChange)
	for key := range unionKeys(previous, current) {
		if !reflect.DeepEqual(previous[key], current[key]) {
			diff[key] = models.FieldChange{Previous: previous[key], Current: current[key]}
		}
	}
	return diff
}

// isSystemReport flags automated location-only corrections: a previous
// snapshot exists, the coordinate pair changed, and nothing outside the
// excluded set changed with it.
func isSystemReport(previous, current map[string]interface{}) bool {
	if previous == nil {
		return false
	}
	if reflect.DeepEqual(previous["location"], current["location"]) {
		return false
	}
	for key := range unionKeys(previous, current) {
		if _, excluded := classificationExcluded[key]; excluded {
			continue
		}
		if !reflect.DeepEqual(previous[key], current[key]) {
			return false
		}
	}
	return true
}

func unionKeys(a, b map[string]interface{}) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}

// lastContributor resolves who made this specific change: the final entry of
// the contributors array at that version, or the anonymous sentinel.
func lastContributor(snapshot map[string]interface{}) string {
	arr, _ := snapshot["contributors"].([]interface{})
	if len(arr) == 0 {
		return models.AnonymousContributor
	}
	last, _ := arr[len(arr)-1].(string)
	if last == "" {
		return models.AnonymousContributor
	}
	return last
}

// storedTimeLayouts covers the timestamp renderings Postgres produces inside
// to_jsonb output.
var storedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
}

func parseStoredTime(v interface{}) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
