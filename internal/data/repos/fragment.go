package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/types"
)

// FragmentRepo is append-only: fragments are immutable once written, so there
// are no update or delete paths.
type FragmentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, frags []*types.Fragment) ([]*types.Fragment, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*types.Fragment, error)
	ListForIndex(ctx context.Context, tx *gorm.DB) ([]*types.Fragment, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type fragmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFragmentRepo(db *gorm.DB, baseLog *logger.Logger) FragmentRepo {
	repoLog := baseLog.With("repo", "FragmentRepo")
	return &fragmentRepo{db: db, log: repoLog}
}

func (r *fragmentRepo) Create(ctx context.Context, tx *gorm.DB, frags []*types.Fragment) ([]*types.Fragment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(frags) == 0 {
		return []*types.Fragment{}, nil
	}

	// Keep batches small because Content is large
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(frags, batchSize).Error; err != nil {
		return nil, err
	}
	return frags, nil
}

func (r *fragmentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*types.Fragment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Fragment
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListForIndex returns every fragment in insertion order. The in-memory index
// replays this exact order so ranking ties stay stable across restarts.
func (r *fragmentRepo) ListForIndex(ctx context.Context, tx *gorm.DB) ([]*types.Fragment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Fragment
	if err := transaction.WithContext(ctx).
		Order("seq ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fragmentRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.Fragment{}).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
