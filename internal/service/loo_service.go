package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
	appErrors "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/errors"
)

const defaultRecordCacheCapacity = 512

// sharedCachePrefix namespaces every shared cache key this service owns so a
// single pattern invalidation clears them all after a write.
const sharedCachePrefix = "loos:"

type looRepository interface {
	Create(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, error)
	Upsert(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, bool, error)
	FindByID(ctx context.Context, id string) (*models.Loo, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Loo, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]models.Loo, int, error)
	SearchMetrics(ctx context.Context, filter models.SearchFilter, topAreas int) (*models.SearchMetrics, error)
	FindNear(ctx context.Context, lat, lng, radiusMeters float64) ([]models.LooWithDistance, error)
	FindByGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.Loo, error)
	FindSummariesByGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.LooSummary, error)
	FindUpdatedSince(ctx context.Context, since time.Time) ([]models.Loo, error)
}

// ProximityQuery bounds a proximity search.
type ProximityQuery struct {
	Lat          float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng          float64 `json:"lng" validate:"gte=-180,lte=180"`
	RadiusMeters float64 `json:"radiusMeters" validate:"gte=0"`
}

// LooService orchestrates record reads and writes. It owns a bounded
// in-process LRU over individual records; the cache is a latency optimization
// only and must stay safe to lose entirely.
type LooService struct {
	repo         looRepository
	reports      *ReportService
	recordCache  *lru.Cache[string, *models.Loo]
	shared       *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	topAreaCount int
}

// NewLooService constructs the loo service.
func NewLooService(repo looRepository, reports *ReportService, shared *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cacheCapacity, topAreaCount int) (*LooService, error) {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheCapacity < 1 {
		cacheCapacity = defaultRecordCacheCapacity
	}
	if topAreaCount < 1 {
		topAreaCount = 10
	}
	recordCache, err := lru.New[string, *models.Loo](cacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &LooService{
		repo:         repo,
		reports:      reports,
		recordCache:  recordCache,
		shared:       shared,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		topAreaCount: topAreaCount,
	}, nil
}

// Create registers a brand-new record. An existing id is a conflict.
func (s *LooService) Create(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, error) {
	if err := s.validateWrite(id, mut); err != nil {
		return nil, err
	}

	s.recordCache.Remove(id)
	start := time.Now()
	loo, err := s.repo.Create(ctx, id, mut, contributor)
	if err != nil {
		return nil, asServiceError(err, "failed to create loo")
	}
	s.observeQuery("loo_create", start)

	s.invalidateAfterWrite(ctx, id)
	return loo, nil
}

// Upsert applies a partial mutation, creating the record when the id is new.
func (s *LooService) Upsert(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, bool, error) {
	if err := s.validateWrite(id, mut); err != nil {
		return nil, false, err
	}

	s.recordCache.Remove(id)
	start := time.Now()
	loo, created, err := s.repo.Upsert(ctx, id, mut, contributor)
	if err != nil {
		return nil, false, asServiceError(err, "failed to upsert loo")
	}
	s.observeQuery("loo_upsert", start)

	s.invalidateAfterWrite(ctx, id)
	return loo, created, nil
}

// GetByID reads one record through the bounded cache.
func (s *LooService) GetByID(ctx context.Context, id string) (*models.Loo, error) {
	if err := models.ValidateLooID(id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	if loo, ok := s.recordCache.Get(id); ok {
		s.metrics.RecordCacheLookup("record", true)
		return loo, nil
	}
	s.metrics.RecordCacheLookup("record", false)

	start := time.Now()
	loo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loo not found")
		}
		return nil, asServiceError(err, "failed to load loo")
	}
	s.observeQuery("loo_get", start)

	s.recordCache.Add(id, loo)
	return loo, nil
}

// GetByIDs returns the records present among ids in input order; missing ids
// are absent rather than an error.
func (s *LooService) GetByIDs(ctx context.Context, ids []string) ([]models.Loo, error) {
	for _, id := range ids {
		if err := models.ValidateLooID(id); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	loos, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, asServiceError(err, "failed to load loos")
	}
	return loos, nil
}

// Search runs a filtered, sorted, paginated query plus its count twin.
func (s *LooService) Search(ctx context.Context, filter models.SearchFilter) ([]models.Loo, *models.Pagination, error) {
	if err := filter.Validate(); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	filter.Normalize()

	start := time.Now()
	loos, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, nil, asServiceError(err, "failed to search loos")
	}
	s.observeQuery("loo_search", start)

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.Limit, TotalCount: total}
	return loos, pagination, nil
}

// GetSearchMetrics aggregates flag counts and top areas over the identical
// predicate a search with the same filter would use.
func (s *LooService) GetSearchMetrics(ctx context.Context, filter models.SearchFilter) (*models.SearchMetrics, error) {
	if err := filter.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	filter.Normalize()

	cacheKey := searchMetricsCacheKey(filter)
	var cached models.SearchMetrics
	if hit, _ := s.shared.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	start := time.Now()
	metrics, err := s.repo.SearchMetrics(ctx, filter, s.topAreaCount)
	if err != nil {
		return nil, asServiceError(err, "failed to aggregate search metrics")
	}
	s.observeQuery("loo_search_metrics", start)

	if err := s.shared.Set(ctx, cacheKey, metrics, 0); err != nil {
		s.logger.Warn("cache search metrics", zap.Error(err))
	}
	return metrics, nil
}

// GetByProximity returns records within the radius, nearest first.
func (s *LooService) GetByProximity(ctx context.Context, q ProximityQuery) ([]models.LooWithDistance, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid proximity query")
	}
	start := time.Now()
	loos, err := s.repo.FindNear(ctx, q.Lat, q.Lng, q.RadiusMeters)
	if err != nil {
		return nil, asServiceError(err, "failed to search by proximity")
	}
	s.observeQuery("loo_proximity", start)
	return loos, nil
}

// GetWithinGeohash returns full records under a geohash prefix.
func (s *LooService) GetWithinGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.Loo, error) {
	if prefix == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "geohash prefix is required")
	}
	loos, err := s.repo.FindByGeohash(ctx, prefix, activeOnly)
	if err != nil {
		return nil, asServiceError(err, "failed to search by geohash")
	}
	return loos, nil
}

// GetWithinGeohashSummary returns the trimmed shape under a geohash prefix.
func (s *LooService) GetWithinGeohashSummary(ctx context.Context, prefix string, activeOnly bool) ([]models.LooSummary, error) {
	if prefix == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "geohash prefix is required")
	}
	summaries, err := s.repo.FindSummariesByGeohash(ctx, prefix, activeOnly)
	if err != nil {
		return nil, asServiceError(err, "failed to search by geohash")
	}
	return summaries, nil
}

// GetWithinGeohashCompressed returns the lossy map-rendering tuples under a
// geohash prefix, cached in the shared cache when enabled.
func (s *LooService) GetWithinGeohashCompressed(ctx context.Context, prefix string, activeOnly bool) ([]models.CompressedLoo, error) {
	if prefix == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "geohash prefix is required")
	}

	cacheKey := fmt.Sprintf("%sdataset:%s:%t", sharedCachePrefix, prefix, activeOnly)
	var cached []models.CompressedLoo
	if hit, _ := s.shared.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	loos, err := s.repo.FindByGeohash(ctx, prefix, activeOnly)
	if err != nil {
		return nil, asServiceError(err, "failed to search by geohash")
	}
	compressed := make([]models.CompressedLoo, 0, len(loos))
	for _, loo := range loos {
		compressed = append(compressed, models.CompressLoo(loo))
	}

	if err := s.shared.Set(ctx, cacheKey, compressed, 0); err != nil {
		s.logger.Warn("cache compressed dataset", zap.Error(err))
	}
	return compressed, nil
}

// GetUpdates returns records changed after since, split into active compressed
// upserts and inactive id-only deletions for incremental sync.
func (s *LooService) GetUpdates(ctx context.Context, since time.Time) (*models.LooUpdates, error) {
	loos, err := s.repo.FindUpdatedSince(ctx, since)
	if err != nil {
		return nil, asServiceError(err, "failed to load updates")
	}

	updates := &models.LooUpdates{Upserted: []models.CompressedLoo{}, Deleted: []string{}}
	for _, loo := range loos {
		if loo.Active != nil && *loo.Active {
			updates.Upserted = append(updates.Upserted, models.CompressLoo(loo))
		} else {
			updates.Deleted = append(updates.Deleted, loo.ID)
		}
	}
	return updates, nil
}

// GetReports exposes the audit trail for one record.
func (s *LooService) GetReports(ctx context.Context, id string, hydrate, includeContributors bool) ([]models.Report, error) {
	if err := models.ValidateLooID(id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return s.reports.GetReports(ctx, id, hydrate, includeContributors)
}

func (s *LooService) validateWrite(id string, mut models.LooMutation) error {
	if err := models.ValidateLooID(id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := mut.Validate(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return nil
}

// invalidateAfterWrite drops every cached view that could now be stale.
func (s *LooService) invalidateAfterWrite(ctx context.Context, id string) {
	s.recordCache.Remove(id)
	if err := s.shared.Invalidate(ctx, sharedCachePrefix+"*"); err != nil {
		s.logger.Warn("invalidate shared cache", zap.String("id", id), zap.Error(err))
	}
}

func (s *LooService) observeQuery(label string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

// asServiceError passes typed errors through untouched and wraps everything
// else as internal.
func asServiceError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func searchMetricsCacheKey(filter models.SearchFilter) string {
	raw, err := json.Marshal(filter)
	if err != nil {
		return sharedCachePrefix + "metrics:invalid"
	}
	return fmt.Sprintf("%smetrics:%x", sharedCachePrefix, sha256.Sum256(raw))
}
