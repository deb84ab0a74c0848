package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/service"
	appErrors "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/errors"
)

const handlerLooID = "abcdefabcdefabcdefabcdef"

type looServiceMock struct {
	loo      *models.Loo
	loos     []models.Loo
	reports  []models.Report
	updates  *models.LooUpdates
	created  bool
	err      error
	lastIDs  []string
	lastMut  models.LooMutation
	lastCtb  string
	lastFil  models.SearchFilter
	includeC bool
}

func (m *looServiceMock) Create(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, error) {
	m.lastMut = mut
	m.lastCtb = contributor
	return m.loo, m.err
}

func (m *looServiceMock) Upsert(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, bool, error) {
	m.lastMut = mut
	m.lastCtb = contributor
	return m.loo, m.created, m.err
}

func (m *looServiceMock) GetByID(ctx context.Context, id string) (*models.Loo, error) {
	return m.loo, m.err
}

func (m *looServiceMock) GetByIDs(ctx context.Context, ids []string) ([]models.Loo, error) {
	m.lastIDs = ids
	return m.loos, m.err
}

func (m *looServiceMock) Search(ctx context.Context, filter models.SearchFilter) ([]models.Loo, *models.Pagination, error) {
	m.lastFil = filter
	return m.loos, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.loos)}, m.err
}

func (m *looServiceMock) GetSearchMetrics(ctx context.Context, filter models.SearchFilter) (*models.SearchMetrics, error) {
	m.lastFil = filter
	return &models.SearchMetrics{}, m.err
}

func (m *looServiceMock) GetByProximity(ctx context.Context, q service.ProximityQuery) ([]models.LooWithDistance, error) {
	return nil, m.err
}

func (m *looServiceMock) GetWithinGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.Loo, error) {
	return m.loos, m.err
}

func (m *looServiceMock) GetWithinGeohashSummary(ctx context.Context, prefix string, activeOnly bool) ([]models.LooSummary, error) {
	return nil, m.err
}

func (m *looServiceMock) GetWithinGeohashCompressed(ctx context.Context, prefix string, activeOnly bool) ([]models.CompressedLoo, error) {
	return nil, m.err
}

func (m *looServiceMock) GetUpdates(ctx context.Context, since time.Time) (*models.LooUpdates, error) {
	return m.updates, m.err
}

func (m *looServiceMock) GetReports(ctx context.Context, id string, hydrate, includeContributors bool) ([]models.Report, error) {
	m.includeC = includeContributors
	return m.reports, m.err
}

func newTestRouter(mock *looServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewLooHandler(mock, 20, models.SearchMaxLimit).Register(r.Group("/api/v1"))
	return r
}

func TestLooHandlerUpsertCreated(t *testing.T) {
	mock := &looServiceMock{loo: &models.Loo{ID: handlerLooID}, created: true}
	r := newTestRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/api/v1/loos/"+handlerLooID,
		bytes.NewBufferString(`{"name": "Victoria Station", "accessible": true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(contributorHeader, "editor")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "editor", mock.lastCtb)
	name, ok := mock.lastMut.Name.Value()
	require.True(t, ok)
	assert.Equal(t, "Victoria Station", name)
}

func TestLooHandlerUpsertExisting(t *testing.T) {
	mock := &looServiceMock{loo: &models.Loo{ID: handlerLooID}, created: false}
	r := newTestRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/api/v1/loos/"+handlerLooID,
		bytes.NewBufferString(`{"active": false}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mock.lastCtb)
}

func TestLooHandlerCreateInvalidBody(t *testing.T) {
	r := newTestRouter(&looServiceMock{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/loos/"+handlerLooID,
		bytes.NewBufferString(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLooHandlerGetNotFound(t *testing.T) {
	mock := &looServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "loo not found")}
	r := newTestRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos/"+handlerLooID, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLooHandlerGetManySplitsIDs(t *testing.T) {
	mock := &looServiceMock{}
	r := newTestRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos?ids=a,%20b,,c", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b", "c"}, mock.lastIDs)
}

func TestLooHandlerGetManyRequiresIDs(t *testing.T) {
	r := newTestRouter(&looServiceMock{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLooHandlerSearchParsesFilter(t *testing.T) {
	mock := &looServiceMock{}
	r := newTestRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/api/v1/loos/search?search=station&accessible=true&radar=unknown&sort=name-asc&page=2&limit=50", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "station", mock.lastFil.Search)
	assert.Equal(t, models.TriStateTrue, mock.lastFil.Accessible)
	assert.Equal(t, models.TriStateUnknown, mock.lastFil.Radar)
	assert.Equal(t, models.SortNameAsc, mock.lastFil.Sort)
	assert.Equal(t, 2, mock.lastFil.Page)
	assert.Equal(t, 50, mock.lastFil.Limit)
}

func TestLooHandlerSearchAppliesConfiguredLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &looServiceMock{}
	r := gin.New()
	NewLooHandler(mock, 30, 100).Register(r.Group("/api/v1"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos/search", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, mock.lastFil.Limit)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/loos/search?limit=500", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, mock.lastFil.Limit)
}

func TestLooHandlerNearRejectsBadCoordinates(t *testing.T) {
	r := newTestRouter(&looServiceMock{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos/near/abc/def", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLooHandlerByGeohashRejectsUnknownFormat(t *testing.T) {
	r := newTestRouter(&looServiceMock{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos/geohash/gcpu?format=xml", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLooHandlerUpdatesRequiresTimestamp(t *testing.T) {
	r := newTestRouter(&looServiceMock{updates: &models.LooUpdates{}})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos/updates?since=yesterday", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/loos/updates?since=2026-08-01T00:00:00Z", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLooHandlerReportsGateContributors(t *testing.T) {
	mock := &looServiceMock{reports: []models.Report{}}
	r := newTestRouter(mock)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/loos/"+handlerLooID+"/reports", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, mock.includeC)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/loos/"+handlerLooID+"/reports", nil)
	req.Header.Set(contributorHeader, "editor")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.includeC)
}
