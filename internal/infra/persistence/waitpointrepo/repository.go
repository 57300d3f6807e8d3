package waitpointrepo

import (
	"context"
	"errors"

	"github.com/google/wire"
	domain "github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
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

func (r *MysqlRepositoryImpl) Create(ctx context.Context, wp *domain.Waitpoint) error {
	po := new(Waitpoint).FromDomain(wp)
	if err := r.Db(ctx).Create(po).Error; err != nil {
		return err
	}
	wp.CreatedAt = po.CreatedAt
	wp.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) GetByID(ctx context.Context, id string) (*domain.Waitpoint, error) {
	var po = new(Waitpoint)
	if err := r.Db(ctx).First(po, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *MysqlRepositoryImpl) GetByIDs(ctx context.Context, ids []string) ([]*domain.Waitpoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var pos []*Waitpoint
	if err := r.Db(ctx).Where("id IN ?", ids).Find(&pos).Error; err != nil {
		return nil, err
	}
	domains := make([]*domain.Waitpoint, len(pos))
	for i := range pos {
		domains[i] = pos[i].ToDomain()
	}
	return domains, nil
}

func (r *MysqlRepositoryImpl) Save(ctx context.Context, wp *domain.Waitpoint) error {
	po := new(Waitpoint).FromDomain(wp)
	if err := r.Db(ctx).Save(po).Error; err != nil {
		return err
	}
	wp.UpdatedAt = po.UpdatedAt
	return nil
}

func (r *MysqlRepositoryImpl) FindByIdempotencyKeyAny(ctx context.Context, environmentID, key string) (*domain.Waitpoint, error) {
	var po = new(Waitpoint)
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

func (r *MysqlRepositoryImpl) MarkCompleted(ctx context.Context, wp *domain.Waitpoint) (bool, error) {
	po := new(Waitpoint).FromDomain(wp)
	res := r.Db(ctx).Model(&Waitpoint{}).
		Where("id = ? AND status = ?", wp.ID, string(domain.StatusPending)).
		Updates(map[string]any{
			"status":          po.Status,
			"completed_at":    po.CompletedAt,
			"output":          po.Output,
			"output_type":     po.OutputType,
			"output_is_error": po.OutputIsError,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *MysqlRepositoryImpl) Associate(ctx context.Context, assoc *domain.Association) error {
	po := &TaskRunWaitpoint{
		RunID:       assoc.RunID,
		WaitpointID: assoc.WaitpointID,
		ProjectID:   assoc.ProjectID,
	}
	// ON CONFLICT DO NOTHING keeps re-blocking on the same waitpoint idempotent.
	return r.Db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(po).Error
}

func (r *MysqlRepositoryImpl) DeleteAssociation(ctx context.Context, runID, waitpointID string) error {
	return r.Db(ctx).
		Where("run_id = ? AND waitpoint_id = ?", runID, waitpointID).
		Delete(&TaskRunWaitpoint{}).Error
}

func (r *MysqlRepositoryImpl) DeleteAssociationsForRun(ctx context.Context, runID string) error {
	return r.Db(ctx).
		Where("run_id = ?", runID).
		Delete(&TaskRunWaitpoint{}).Error
}

func (r *MysqlRepositoryImpl) CountAssociationsForRun(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := r.Db(ctx).Model(&TaskRunWaitpoint{}).
		Where("run_id = ?", runID).
		Count(&count).Error
	return count, err
}

func (r *MysqlRepositoryImpl) RunsBlockedBy(ctx context.Context, waitpointID string) ([]string, error) {
	var runIDs []string
	err := r.Db(ctx).Model(&TaskRunWaitpoint{}).
		Where("waitpoint_id = ?", waitpointID).
		Pluck("run_id", &runIDs).Error
	return runIDs, err
}
