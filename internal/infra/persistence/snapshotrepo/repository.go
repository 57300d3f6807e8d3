package snapshotrepo

import (
	"context"
	"errors"

	"github.com/google/wire"
	domain "github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
	"gorm.io/gorm"
)

var Provider = wire.NewSet(NewMysqlRepositoryImpl)

type MysqlRepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewMysqlRepositoryImpl(db commonrepo.DB) domain.Repo {
	return &MysqlRepositoryImpl{
		DefaultRepo: commonrepo.NewDefaultRepo(db),
	}
}

func (r *MysqlRepositoryImpl) Create(ctx context.Context, snapshot *domain.Snapshot) error {
	po := new(ExecutionSnapshot).FromDomain(snapshot)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	snapshot.CreatedAt = po.CreatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id string) (*domain.Snapshot, error) {
	var po = new(ExecutionSnapshot)
	if err := r.Db(ctx).First(po, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) GetLatestValid(ctx context.Context, runID string) (*domain.Snapshot, error) {
	var po = new(ExecutionSnapshot)
	err := r.Db(ctx).
		Where("run_id = ? AND is_valid = ?", runID, true).
		Order("created_at DESC").
		First(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) InvalidateForRun(ctx context.Context, runID string, exceptID string) error {
	return r.Db(ctx).Model(&ExecutionSnapshot{}).
		Where("run_id = ? AND id <> ? AND is_valid = ?", runID, exceptID, true).
		Updates(map[string]any{"is_valid": false}).Error
}

func (r *MysqlRepositoryImpl) ListForRun(ctx context.Context, runID string) ([]*domain.Snapshot, error) {
	var pos []*ExecutionSnapshot
	err := r.Db(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC, id ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	domains := make([]*domain.Snapshot, len(pos))
	for i := range pos {
		domains[i] = pos[i].ToDomain()
	}
	return domains, nil
}
