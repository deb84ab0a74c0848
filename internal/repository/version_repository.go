package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/models"
)

// VersionRepository reads the append-only audit log. The log is never updated
// or deleted; reports are derived from it on every read.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository constructs a VersionRepository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// ListByLooID returns every version for one record, oldest first, ties broken
// by log id so the ordering is deterministic when timestamps collide.
func (r *VersionRepository) ListByLooID(ctx context.Context, looID string) ([]models.Version, error) {
	const query = `SELECT id, record, old_record, created_at FROM loo_versions
        WHERE record->>'id' = $1 ORDER BY created_at ASC, id ASC`
	var versions []models.Version
	if err := r.db.SelectContext(ctx, &versions, query, looID); err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", looID, err)
	}
	return versions, nil
}
