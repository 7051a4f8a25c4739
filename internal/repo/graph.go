package repo

import (
	"context"

	"github.com/solweave/strategy-engine/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GraphRepo interface {
	Save(ctx context.Context, g entity.StrategyGraph) error
	FindByGraphId(ctx context.Context, graphId string) (entity.StrategyGraph, error)
	FindAll(ctx context.Context) ([]entity.StrategyGraph, error)
	Delete(ctx context.Context, graphId string) error
}

type graphRepo struct {
	db *gorm.DB
}

func NewGraphRepo(db *gorm.DB) GraphRepo {
	return &graphRepo{
		db: db,
	}
}

// Save upsert by graph_id
func (r *graphRepo) Save(ctx context.Context, g entity.StrategyGraph) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "graph_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "definition", "status",
			"invocations", "completed_runs", "failed_runs", "last_run_at", "updated_at",
		}),
	}).Create(&g).Error
}

func (r *graphRepo) FindByGraphId(ctx context.Context, graphId string) (entity.StrategyGraph, error) {
	var g entity.StrategyGraph
	err := r.db.WithContext(ctx).Where("graph_id = ?", graphId).First(&g).Error
	if err != nil {
		return entity.StrategyGraph{}, err
	}
	return g, nil
}

func (r *graphRepo) FindAll(ctx context.Context) ([]entity.StrategyGraph, error) {
	var graphs []entity.StrategyGraph
	err := r.db.WithContext(ctx).Find(&graphs).Error
	if err != nil {
		return nil, err
	}
	return graphs, nil
}

func (r *graphRepo) Delete(ctx context.Context, graphId string) error {
	return r.db.WithContext(ctx).Where("graph_id = ?", graphId).Delete(&entity.StrategyGraph{}).Error
}
