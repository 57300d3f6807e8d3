package runrepo

import (
	"context"
	"errors"

	"github.com/google/wire"
	domain "github.com/taskrun/engine/internal/biz/run"
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

func (r *MysqlRepositoryImpl) Create(ctx context.Context, run *domain.Run) error {
	po := new(TaskRun).FromDomain(run)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	run.CreatedAt = po.CreatedAt
	run.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	var po = new(TaskRun)
	if err := r.Db(ctx).First(po, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) GetByFriendlyID(ctx context.Context, friendlyID string) (*domain.Run, error) {
	var po = new(TaskRun)
	if err := r.Db(ctx).First(po, "friendly_id = ?", friendlyID).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) Save(ctx context.Context, run *domain.Run) error {
	po := new(TaskRun).FromDomain(run)
	if err := r.Db(ctx).Save(po).Error; err != nil {
		return err
	}
	run.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) FindByIdempotencyKey(ctx context.Context, environmentID, key string) (*domain.Run, error) {
	var po = new(TaskRun)
	err := r.Db(ctx).
		Where("environment_id = ? AND idempotency_key = ?", environmentID, key).
		First(po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) List(ctx context.Context, filter domain.ListFilter, offset, limit int) ([]*domain.Run, int64, error) {
	db := r.Db(ctx).Model(&TaskRun{})

	if filter.EnvironmentID.IsPresent() {
		db = db.Where("environment_id = ?", filter.EnvironmentID.MustGet())
	}
	if filter.TaskIdentifier.IsPresent() {
		db = db.Where("task_identifier = ?", filter.TaskIdentifier.MustGet())
	}
	if filter.Status.IsPresent() {
		db = db.Where("status = ?", filter.Status.MustGet())
	}
	if filter.WorkerQueue.IsPresent() {
		db = db.Where("worker_queue = ?", filter.WorkerQueue.MustGet())
	}

	var count int64
	if err := db.Count(&count).Error; err != nil {
		return nil, 0, err
	}

	var pos []*TaskRun
	if err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&pos).Error; err != nil {
		return nil, 0, err
	}

	domains := make([]*domain.Run, len(pos))
	for i := range pos {
		domains[i] = pos[i].ToDomain()
	}
	return domains, count, nil
}
