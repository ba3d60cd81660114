package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/types"
)

type TableBodyRepo interface {
	Create(ctx context.Context, tx *gorm.DB, body *types.TableBody) (*types.TableBody, error)
	GetByAssetID(ctx context.Context, tx *gorm.DB, assetID string) (*types.TableBody, error)
}

type tableBodyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTableBodyRepo(db *gorm.DB, baseLog *logger.Logger) TableBodyRepo {
	repoLog := baseLog.With("repo", "TableBodyRepo")
	return &tableBodyRepo{db: db, log: repoLog}
}

func (r *tableBodyRepo) Create(ctx context.Context, tx *gorm.DB, body *types.TableBody) (*types.TableBody, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(body).Error; err != nil {
		return nil, err
	}
	return body, nil
}

func (r *tableBodyRepo) GetByAssetID(ctx context.Context, tx *gorm.DB, assetID string) (*types.TableBody, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.TableBody
	if err := transaction.WithContext(ctx).
		Where("asset_id = ?", assetID).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}
