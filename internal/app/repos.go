package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/data/repos"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
)

type Repos struct {
	Fragment  repos.FragmentRepo
	Asset     repos.AssetRepo
	TableBody repos.TableBodyRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Fragment:  repos.NewFragmentRepo(db, log),
		Asset:     repos.NewAssetRepo(db, log),
		TableBody: repos.NewTableBodyRepo(db, log),
	}
}
