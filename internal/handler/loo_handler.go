package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/service"
	appErrors "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/errors"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/response"
)

// contributorHeader carries the authenticated contributor identity resolved by
// the outer auth layer; empty means anonymous access.
const contributorHeader = "X-Contributor"

// LooOrchestrator is the service surface the handler depends on.
type LooOrchestrator interface {
	Create(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, error)
	Upsert(ctx context.Context, id string, mut models.LooMutation, contributor string) (*models.Loo, bool, error)
	GetByID(ctx context.Context, id string) (*models.Loo, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Loo, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]models.Loo, *models.Pagination, error)
	GetSearchMetrics(ctx context.Context, filter models.SearchFilter) (*models.SearchMetrics, error)
	GetByProximity(ctx context.Context, q service.ProximityQuery) ([]models.LooWithDistance, error)
	GetWithinGeohash(ctx context.Context, prefix string, activeOnly bool) ([]models.Loo, error)
	GetWithinGeohashSummary(ctx context.Context, prefix string, activeOnly bool) ([]models.LooSummary, error)
	GetWithinGeohashCompressed(ctx context.Context, prefix string, activeOnly bool) ([]models.CompressedLoo, error)
	GetUpdates(ctx context.Context, since time.Time) (*models.LooUpdates, error)
	GetReports(ctx context.Context, id string, hydrate, includeContributors bool) ([]models.Report, error)
}

// LooHandler exposes the record endpoints.
type LooHandler struct {
	loos         LooOrchestrator
	defaultLimit int
	maxLimit     int
}

// NewLooHandler constructs a LooHandler. The limits bound the search page
// size: defaultLimit applies when the caller omits one, maxLimit caps what a
// caller may request.
func NewLooHandler(loos LooOrchestrator, defaultLimit, maxLimit int) *LooHandler {
	if defaultLimit < models.SearchMinLimit {
		defaultLimit = 20
	}
	if maxLimit < models.SearchMinLimit || maxLimit > models.SearchMaxLimit {
		maxLimit = models.SearchMaxLimit
	}
	return &LooHandler{loos: loos, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Register wires the loo routes onto a router group.
func (h *LooHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/loos/:id", h.Create)
	rg.PUT("/loos/:id", h.Upsert)
	rg.GET("/loos", h.GetMany)
	rg.GET("/loos/search", h.Search)
	rg.GET("/loos/metrics", h.SearchMetrics)
	rg.GET("/loos/updates", h.Updates)
	rg.GET("/loos/near/:lat/:lng", h.Near)
	rg.GET("/loos/geohash/:prefix", h.ByGeohash)
	rg.GET("/loos/:id", h.Get)
	rg.GET("/loos/:id/reports", h.Reports)
}

// Create registers a brand-new loo under the caller-supplied id.
func (h *LooHandler) Create(c *gin.Context) {
	var mut models.LooMutation
	if err := c.ShouldBindJSON(&mut); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	loo, err := h.loos.Create(c.Request.Context(), c.Param("id"), mut, c.GetHeader(contributorHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, loo)
}

// Upsert applies a partial mutation, creating the loo when the id is new.
func (h *LooHandler) Upsert(c *gin.Context) {
	var mut models.LooMutation
	if err := c.ShouldBindJSON(&mut); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	loo, created, err := h.loos.Upsert(c.Request.Context(), c.Param("id"), mut, c.GetHeader(contributorHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, loo)
		return
	}
	response.JSON(c, http.StatusOK, loo, nil)
}

// Get returns one loo by id.
func (h *LooHandler) Get(c *gin.Context) {
	loo, err := h.loos.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loo, nil)
}

// GetMany returns the loos present among a comma-separated id list, preserving
// input order.
func (h *LooHandler) GetMany(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "ids query parameter is required"))
		return
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	loos, err := h.loos.GetByIDs(c.Request.Context(), ids)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loos, nil)
}

// Search runs a filtered, sorted, paginated query.
func (h *LooHandler) Search(c *gin.Context) {
	filter := h.parseSearchFilter(c)
	loos, pagination, err := h.loos.Search(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loos, pagination)
}

// SearchMetrics returns per-flag counts and a top-area breakdown for a filter.
func (h *LooHandler) SearchMetrics(c *gin.Context) {
	filter := h.parseSearchFilter(c)
	metrics, err := h.loos.GetSearchMetrics(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, metrics, nil)
}

// Near returns loos within a radius of a point, nearest first.
func (h *LooHandler) Near(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Param("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Param("lng"), 64)
	if latErr != nil || lngErr != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "lat and lng must be numbers"))
		return
	}
	radius := 1000.0
	if raw := c.Query("radiusMeters"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "radiusMeters must be a number"))
			return
		}
		radius = parsed
	}

	loos, err := h.loos.GetByProximity(c.Request.Context(), service.ProximityQuery{Lat: lat, Lng: lng, RadiusMeters: radius})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, loos, nil)
}

// ByGeohash returns loos under a geohash prefix in one of three shapes.
func (h *LooHandler) ByGeohash(c *gin.Context) {
	prefix := c.Param("prefix")
	activeOnly := c.DefaultQuery("active", "false") == "true"
	ctx := c.Request.Context()

	switch c.DefaultQuery("format", "full") {
	case "compressed":
		compressed, err := h.loos.GetWithinGeohashCompressed(ctx, prefix, activeOnly)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, compressed, nil)
	case "summary":
		summaries, err := h.loos.GetWithinGeohashSummary(ctx, prefix, activeOnly)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, summaries, nil)
	case "full":
		loos, err := h.loos.GetWithinGeohash(ctx, prefix, activeOnly)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, loos, nil)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be full, summary or compressed"))
	}
}

// Updates returns records changed after a timestamp for incremental sync.
func (h *LooHandler) Updates(c *gin.Context) {
	raw := c.Query("since")
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "since must be an RFC3339 timestamp"))
		return
	}
	updates, err := h.loos.GetUpdates(c.Request.Context(), since)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updates, nil)
}

// Reports returns the audit trail for one loo. Contributors are redacted
// unless the caller presents a contributor identity.
func (h *LooHandler) Reports(c *gin.Context) {
	hydrate := c.DefaultQuery("hydrate", "false") == "true"
	includeContributors := c.GetHeader(contributorHeader) != ""

	reports, err := h.loos.GetReports(c.Request.Context(), c.Param("id"), hydrate, includeContributors)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, nil)
}

func (h *LooHandler) parseSearchFilter(c *gin.Context) models.SearchFilter {
	filter := models.SearchFilter{
		Search:     strings.TrimSpace(c.Query("search")),
		AreaName:   strings.TrimSpace(c.Query("areaName")),
		AreaType:   strings.TrimSpace(c.Query("areaType")),
		Active:     models.TriState(c.Query("active")),
		Accessible: models.TriState(c.Query("accessible")),
		BabyChange: models.TriState(c.Query("babyChange")),
		AllGender:  models.TriState(c.Query("allGender")),
		NoPayment:  models.TriState(c.Query("noPayment")),
		Radar:      models.TriState(c.Query("radar")),
		Sort:       c.Query("sort"),
	}
	if v := c.Query("verified"); v == "true" || v == "false" {
		b := v == "true"
		filter.Verified = &b
	}
	if v := c.Query("hasLocation"); v == "true" || v == "false" {
		b := v == "true"
		filter.HasLocation = &b
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	filter.Limit = h.defaultLimit
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}
	if filter.Limit > h.maxLimit {
		filter.Limit = h.maxLimit
	}
	return filter
}
