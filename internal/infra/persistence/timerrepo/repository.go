package timerrepo

import (
	"context"
	"time"

	"github.com/google/wire"
	domain "github.com/taskrun/engine/internal/biz/timer"
	"github.com/taskrun/engine/internal/infra/persistence/commonrepo"
	"gorm.io/datatypes"
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

func (r *MysqlRepositoryImpl) Upsert(ctx context.Context, entry *domain.Entry) error {
	po := &TimerEntry{
		Key:     entry.Key,
		Kind:    entry.Kind,
		FireAt:  entry.FireAt,
		Payload: datatypes.JSONMap(entry.Payload),
	}
	return r.Db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "timer_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "fire_at", "payload", "claimed_at"}),
	}).Create(po).Error
}

func (r *MysqlRepositoryImpl) Delete(ctx context.Context, key string) error {
	return r.Db(ctx).Where("timer_key = ?", key).Delete(&TimerEntry{}).Error
}

// ClaimDue marks due entries with a claim timestamp inside a transaction so
// concurrent pollers on different instances do not double-dispatch within the
// reclaim window. Delivery stays at-least-once; fired actions are idempotent.
func (r *MysqlRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, reclaimAfter time.Duration, limit int) ([]*domain.Entry, error) {
	var claimed []*domain.Entry
	err := r.Execute(ctx, func(ctx context.Context) error {
		var pos []*TimerEntry
		err := r.Db(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("fire_at <= ?", now).
			Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-reclaimAfter)).
			Order("fire_at ASC").
			Limit(limit).
			Find(&pos).Error
		if err != nil {
			return err
		}
		if len(pos) == 0 {
			return nil
		}
		keys := make([]string, len(pos))
		for i, po := range pos {
			keys[i] = po.Key
		}
		err = r.Db(ctx).Model(&TimerEntry{}).
			Where("timer_key IN ?", keys).
			Updates(map[string]any{"claimed_at": now}).Error
		if err != nil {
			return err
		}
		claimed = make([]*domain.Entry, len(pos))
		for i, po := range pos {
			claimed[i] = po.ToDomain()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
