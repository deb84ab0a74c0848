package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
)

const reportLooID = "abcdefabcdefabcdefabcdef"

type mockVersionRepo struct {
	versions []models.Version
	err      error
}

func (m *mockVersionRepo) ListByLooID(ctx context.Context, looID string) ([]models.Version, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.versions, nil
}

func snapshotJSON(t *testing.T, overrides map[string]interface{}) json.RawMessage {
	t.Helper()
	row := map[string]interface{}{
		"id":              reportLooID,
		"name":            "Victoria Station",
		"lat":             51.49,
		"lng":             -0.14,
		"geohash":         "gcpuuz2gs",
		"area_id":         nil,
		"contributors":    []string{"editor"},
		"active":          true,
		"accessible":      true,
		"all_gender":      nil,
		"attended":        nil,
		"automatic":       nil,
		"baby_change":     nil,
		"children":        nil,
		"men":             nil,
		"women":           nil,
		"urinal_only":     nil,
		"no_payment":      false,
		"radar":           nil,
		"notes":           nil,
		"payment_details": nil,
		"removal_reason":  nil,
		"opening_times":   nil,
		"verified_at":     nil,
		"created_at":      "2026-01-02T10:00:00+00:00",
		"updated_at":      "2026-01-02T10:00:00+00:00",
	}
	for k, v := range overrides {
		row[k] = v
	}
	raw, err := json.Marshal(row)
	require.NoError(t, err)
	return raw
}

func TestGetReportsCreateThenEdit(t *testing.T) {
	first := snapshotJSON(t, nil)
	second := snapshotJSON(t, map[string]interface{}{
		"accessible":   false,
		"contributors": []string{"editor", "editor2"},
	})

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 1, Record: first, CreatedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)},
		{ID: 2, Record: second, OldRecord: first, CreatedAt: time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC)},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, true)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// Oldest first: the creation event has no diff.
	assert.Equal(t, "1", reports[0].ID)
	assert.Nil(t, reports[0].Diff)
	assert.False(t, reports[0].IsSystemReport)
	require.NotNil(t, reports[0].Contributor)
	assert.Equal(t, "editor", *reports[0].Contributor)

	require.NotNil(t, reports[1].Diff)
	change, ok := reports[1].Diff["accessible"]
	require.True(t, ok)
	assert.Equal(t, true, change.Previous)
	assert.Equal(t, false, change.Current)
	assert.False(t, reports[1].IsSystemReport)
	require.NotNil(t, reports[1].Contributor)
	assert.Equal(t, "editor2", *reports[1].Contributor)
}

func TestGetReportsLocationOnlyChangeIsSystemReport(t *testing.T) {
	before := snapshotJSON(t, nil)
	after := snapshotJSON(t, map[string]interface{}{
		"lat":          51.5,
		"lng":          -0.15,
		"geohash":      "gcpuvpmene",
		"contributors": []string{"editor", "editor"},
	})

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 7, Record: after, OldRecord: before, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, true)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	assert.True(t, reports[0].IsSystemReport)
	// The classification gate never filters the exposed diff.
	change, ok := reports[0].Diff["location"]
	require.True(t, ok)
	assert.NotNil(t, change.Previous)
	assert.NotNil(t, change.Current)
}

func TestGetReportsLocationPlusFieldChangeIsNotSystemReport(t *testing.T) {
	before := snapshotJSON(t, nil)
	after := snapshotJSON(t, map[string]interface{}{
		"lat":   51.5,
		"lng":   -0.15,
		"notes": "moved entrance",
	})

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 3, Record: after, OldRecord: before, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].IsSystemReport)
}

func TestGetReportsFiltersLegacyLocationContributor(t *testing.T) {
	first := snapshotJSON(t, nil)
	legacy := snapshotJSON(t, map[string]interface{}{
		"contributors": []string{"editor", "importer-location"},
		"lat":          51.5,
	})

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 1, Record: first, CreatedAt: time.Now().UTC()},
		{ID: 2, Record: legacy, OldRecord: first, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "1", reports[0].ID)
}

func TestGetReportsAnonymousContributor(t *testing.T) {
	record := snapshotJSON(t, map[string]interface{}{"contributors": []string{}})

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 1, Record: record, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Contributor)
	assert.Equal(t, models.AnonymousContributor, *reports[0].Contributor)
}

func TestGetReportsRedactsContributors(t *testing.T) {
	record := snapshotJSON(t, nil)

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 1, Record: record, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, false)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].Contributor)
}

func TestGetReportsHydratedCarriesSnapshot(t *testing.T) {
	record := snapshotJSON(t, nil)

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 1, Record: record, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, true, true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Record)
	assert.Equal(t, "Victoria Station", reports[0].Record["name"])
	location, ok := reports[0].Record["location"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 51.49, location["lat"].(float64), 1e-9)
	// Storage bookkeeping never leaks into the exposed snapshot.
	_, hasGeohash := reports[0].Record["geohash"]
	assert.False(t, hasGeohash)
}

func TestGetReportsIdenticalCompositesProduceNoDiff(t *testing.T) {
	openingTimes := []interface{}{
		[]interface{}{"09:00", "17:00"}, []interface{}{}, []interface{}{}, []interface{}{},
		[]interface{}{}, []interface{}{}, []interface{}{},
	}
	before := snapshotJSON(t, map[string]interface{}{"opening_times": openingTimes})
	after := snapshotJSON(t, map[string]interface{}{
		"opening_times": openingTimes,
		"notes":         "checked",
	})

	repo := &mockVersionRepo{versions: []models.Version{
		{ID: 2, Record: after, OldRecord: before, CreatedAt: time.Now().UTC()},
	}}
	svc := NewReportService(repo, nil)

	reports, err := svc.GetReports(context.Background(), reportLooID, false, true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	_, hasOpeningTimes := reports[0].Diff["openingTimes"]
	assert.False(t, hasOpeningTimes)
	_, hasNotes := reports[0].Diff["notes"]
	assert.True(t, hasNotes)
}
