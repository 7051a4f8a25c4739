package repo

import (
	"github.com/solweave/strategy-engine/internal/entity"
	"gorm.io/gorm"
)

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.StrategyGraph{})
}
