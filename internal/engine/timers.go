package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/taskrun/engine/internal/biz/timer"
	"github.com/taskrun/engine/pkg/config"
	"go.uber.org/zap"
)

// TimerHandler performs the action a fired timer names. It must be
// idempotent: entries are delivered at-least-once. A returned error keeps
// the persisted entry so the poll loop redelivers it.
type TimerHandler func(ctx context.Context, entry *timer.Entry) error

// TimerService provides durable timers for date-time waitpoints, manual
// waitpoint timeouts, retry delays and run TTLs. Every schedule is persisted
// before it is armed, so a restart loses nothing: the poll loop claims due
// entries from storage and re-dispatches them. An in-process time.AfterFunc
// per entry keeps latency low on the instance that scheduled it.
type TimerService struct {
	repo    timer.Repo
	logger  *zap.Logger
	cfg     config.TimerConfig
	handler TimerHandler

	cron *cron.Cron

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerService(repo timer.Repo, cfg config.TimerConfig, logger *zap.Logger) *TimerService {
	return &TimerService{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		cron:   cron.New(cron.WithSeconds()),
		timers: make(map[string]*time.Timer),
	}
}

// SetHandler wires the dispatch target. Must be called before Start.
func (s *TimerService) SetHandler(h TimerHandler) {
	s.handler = h
}

func (s *TimerService) Start() error {
	if s.handler == nil {
		return fmt.Errorf("timer service started without a handler")
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), s.poll)
	if err != nil {
		return fmt.Errorf("failed to schedule timer poll: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *TimerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
}

// Schedule persists the entry and arms the in-process fast path. Scheduling
// an existing key replaces it.
func (s *TimerService) Schedule(ctx context.Context, entry *timer.Entry) error {
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist timer %s: %w", entry.Key, err)
	}
	s.armLocal(entry)
	return nil
}

func (s *TimerService) Cancel(ctx context.Context, key string) error {
	s.mu.Lock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	return s.repo.Delete(ctx, key)
}

func (s *TimerService) armLocal(entry *timer.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[entry.Key]; ok {
		old.Stop()
	}
	e := *entry
	s.timers[entry.Key] = time.AfterFunc(time.Until(entry.FireAt), func() {
		s.fire(&e)
	})
}

func (s *TimerService) fire(entry *timer.Entry) {
	ctx := context.Background()

	s.mu.Lock()
	delete(s.timers, entry.Key)
	s.mu.Unlock()

	if err := s.handler(ctx, entry); err != nil {
		// keep the entry: the poll loop reclaims and redelivers it
		s.logger.Error("timer handler failed, will redeliver",
			zap.String("key", entry.Key),
			zap.String("kind", string(entry.Kind)),
			zap.Error(err))
		return
	}

	if err := s.repo.Delete(ctx, entry.Key); err != nil {
		s.logger.Error("failed to delete fired timer",
			zap.String("key", entry.Key),
			zap.Error(err))
	}
}

// poll recovers entries whose local timer was lost to a restart, and entries
// scheduled by instances that died before firing them.
func (s *TimerService) poll() {
	ctx := context.Background()

	reclaimAfter := s.cfg.PollInterval * 5
	entries, err := s.repo.ClaimDue(ctx, time.Now(), reclaimAfter, s.cfg.ClaimBatch)
	if err != nil {
		s.logger.Error("failed to claim due timers", zap.Error(err))
		return
	}

	for _, entry := range entries {
		s.logger.Debug("dispatching claimed timer",
			zap.String("key", entry.Key),
			zap.String("kind", string(entry.Kind)))
		s.fire(entry)
	}
}
