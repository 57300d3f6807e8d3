package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/timer"
	"github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/pkg/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The fakes below back the engine with process memory so tests need neither
// MySQL nor Redis. They mirror the mysql repositories' contracts, including
// gorm.ErrRecordNotFound on missing rows and nil-without-error lookups.

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]*run.Run
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: make(map[string]*run.Run)}
}

func (r *memRunRepo) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memRunRepo) Create(ctx context.Context, rr *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rr.CreatedAt.IsZero() {
		rr.CreatedAt = time.Now()
	}
	cp := *rr
	r.runs[rr.ID] = &cp
	return nil
}

func (r *memRunRepo) GetByID(ctx context.Context, id string) (*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rr, ok := r.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rr
	return &cp, nil
}

func (r *memRunRepo) GetByFriendlyID(ctx context.Context, friendlyID string) (*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rr := range r.runs {
		if rr.FriendlyID == friendlyID {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRunRepo) Save(ctx context.Context, rr *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rr
	cp.UpdatedAt = time.Now()
	r.runs[rr.ID] = &cp
	return nil
}

func (r *memRunRepo) FindByIdempotencyKey(ctx context.Context, environmentID, key string) (*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rr := range r.runs {
		if rr.EnvironmentID == environmentID && rr.IdempotencyKey == key {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRunRepo) List(ctx context.Context, filter run.ListFilter, offset, limit int) ([]*run.Run, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*run.Run
	for _, rr := range r.runs {
		if v, ok := filter.EnvironmentID.Get(); ok && rr.EnvironmentID != v {
			continue
		}
		if v, ok := filter.TaskIdentifier.Get(); ok && rr.TaskIdentifier != v {
			continue
		}
		if v, ok := filter.Status.Get(); ok && rr.Status != v {
			continue
		}
		if v, ok := filter.WorkerQueue.Get(); ok && rr.WorkerQueue != v {
			continue
		}
		cp := *rr
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

type memSnapshotRepo struct {
	mu    sync.Mutex
	order []string
	snaps map[string]*snapshot.Snapshot
}

func newMemSnapshotRepo() *memSnapshotRepo {
	return &memSnapshotRepo{snaps: make(map[string]*snapshot.Snapshot)}
}

func (r *memSnapshotRepo) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memSnapshotRepo) Create(ctx context.Context, s *snapshot.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	r.snaps[s.ID] = &cp
	r.order = append(r.order, s.ID)
	return nil
}

func (r *memSnapshotRepo) GetByID(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snaps[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSnapshotRepo) GetLatestValid(ctx context.Context, runID string) (*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.snaps[r.order[i]]
		if s.RunID == runID && s.IsValid {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSnapshotRepo) InvalidateForRun(ctx context.Context, runID string, exceptID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snaps {
		if s.RunID == runID && s.ID != exceptID {
			s.IsValid = false
		}
	}
	return nil
}

func (r *memSnapshotRepo) ListForRun(ctx context.Context, runID string) ([]*snapshot.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*snapshot.Snapshot
	for _, id := range r.order {
		s := r.snaps[id]
		if s.RunID == runID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// validCount reports how many valid snapshots the run has, for invariant
// assertions.
func (r *memSnapshotRepo) validCount(runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.snaps {
		if s.RunID == runID && s.IsValid {
			n++
		}
	}
	return n
}

type memWaitpointRepo struct {
	mu     sync.Mutex
	wps    map[string]*waitpoint.Waitpoint
	assocs []waitpoint.Association

	// afterGetByIDs runs once after the next GetByIDs read, outside the
	// repo mutex, to interleave a concurrent writer at that exact point.
	afterGetByIDs func()
}

func newMemWaitpointRepo() *memWaitpointRepo {
	return &memWaitpointRepo{wps: make(map[string]*waitpoint.Waitpoint)}
}

func (r *memWaitpointRepo) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memWaitpointRepo) Create(ctx context.Context, wp *waitpoint.Waitpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp.CreatedAt.IsZero() {
		wp.CreatedAt = time.Now()
	}
	cp := *wp
	r.wps[wp.ID] = &cp
	return nil
}

func (r *memWaitpointRepo) GetByID(ctx context.Context, id string) (*waitpoint.Waitpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.wps[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *wp
	return &cp, nil
}

func (r *memWaitpointRepo) GetByIDs(ctx context.Context, ids []string) ([]*waitpoint.Waitpoint, error) {
	r.mu.Lock()
	var out []*waitpoint.Waitpoint
	for _, id := range ids {
		if wp, ok := r.wps[id]; ok {
			cp := *wp
			out = append(out, &cp)
		}
	}
	hook := r.afterGetByIDs
	r.afterGetByIDs = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *memWaitpointRepo) Save(ctx context.Context, wp *waitpoint.Waitpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *wp
	cp.UpdatedAt = time.Now()
	r.wps[wp.ID] = &cp
	return nil
}

func (r *memWaitpointRepo) FindByIdempotencyKeyAny(ctx context.Context, environmentID, key string) (*waitpoint.Waitpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wp := range r.wps {
		if wp.EnvironmentID == environmentID && wp.IdempotencyKey == key {
			cp := *wp
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memWaitpointRepo) MarkCompleted(ctx context.Context, wp *waitpoint.Waitpoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.wps[wp.ID]
	if !ok || stored.Status != waitpoint.StatusPending {
		return false, nil
	}
	cp := *wp
	cp.UpdatedAt = time.Now()
	r.wps[wp.ID] = &cp
	return true, nil
}

func (r *memWaitpointRepo) Associate(ctx context.Context, assoc *waitpoint.Association) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assocs {
		if a.RunID == assoc.RunID && a.WaitpointID == assoc.WaitpointID {
			return nil
		}
	}
	a := *assoc
	a.CreatedAt = time.Now()
	r.assocs = append(r.assocs, a)
	return nil
}

func (r *memWaitpointRepo) DeleteAssociation(ctx context.Context, runID, waitpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.assocs {
		if a.RunID == runID && a.WaitpointID == waitpointID {
			r.assocs = append(r.assocs[:i], r.assocs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *memWaitpointRepo) DeleteAssociationsForRun(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []waitpoint.Association
	for _, a := range r.assocs {
		if a.RunID != runID {
			kept = append(kept, a)
		}
	}
	r.assocs = kept
	return nil
}

func (r *memWaitpointRepo) CountAssociationsForRun(ctx context.Context, runID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.assocs {
		if a.RunID == runID {
			n++
		}
	}
	return n, nil
}

func (r *memWaitpointRepo) RunsBlockedBy(ctx context.Context, waitpointID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.assocs {
		if a.WaitpointID == waitpointID {
			out = append(out, a.RunID)
		}
	}
	return out, nil
}

type memTimerRepo struct {
	mu      sync.Mutex
	entries map[string]*timer.Entry
}

func newMemTimerRepo() *memTimerRepo {
	return &memTimerRepo{entries: make(map[string]*timer.Entry)}
}

func (r *memTimerRepo) Upsert(ctx context.Context, entry *timer.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	cp.ClaimedAt = nil
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.entries[entry.Key] = &cp
	return nil
}

func (r *memTimerRepo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *memTimerRepo) ClaimDue(ctx context.Context, now time.Time, reclaimAfter time.Duration, limit int) ([]*timer.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*timer.Entry
	for _, e := range r.entries {
		if len(out) >= limit {
			break
		}
		if e.FireAt.After(now) {
			continue
		}
		if e.ClaimedAt != nil && now.Sub(*e.ClaimedAt) < reclaimAfter {
			continue
		}
		claimed := now
		e.ClaimedAt = &claimed
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTimerRepo) get(key string) *timer.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

type testEngine struct {
	*Engine
	runs       *memRunRepo
	snapshots  *memSnapshotRepo
	waitpoints *memWaitpointRepo
	timerRepo  *memTimerRepo
	queue      *MemoryWorkerQueue
}

func newTestEngine() *testEngine {
	cfg := config.EngineConfig{
		InstanceID:      "engine-test",
		LockDuration:    5 * time.Second,
		LockWaitTimeout: 5 * time.Second,
		LockRetryDelay:  5 * time.Millisecond,
		MaxAttempts:     3,
		DequeueMaxItems: 10,
		Visibility:      30 * time.Second,
	}
	logger := zap.NewNop()

	runs := newMemRunRepo()
	snapshots := newMemSnapshotRepo()
	waitpoints := newMemWaitpointRepo()
	timerRepo := newMemTimerRepo()

	queue := NewMemoryWorkerQueue(cfg.Visibility)
	locker := NewMemoryRunLock(cfg.LockWaitTimeout)
	timers := NewTimerService(timerRepo, config.TimerConfig{PollInterval: time.Second, ClaimBatch: 100}, logger)
	bus := NewEventBus(nil, logger)
	metrics := NewMetrics(prometheus.NewRegistry())

	eng := New(cfg, logger, runs, snapshots, waitpoints, locker, queue, timers, bus, metrics)
	return &testEngine{
		Engine:     eng,
		runs:       runs,
		snapshots:  snapshots,
		waitpoints: waitpoints,
		timerRepo:  timerRepo,
		queue:      queue,
	}
}

func (te *testEngine) trigger(ctx context.Context, opts ...func(*TriggerRequest)) (*run.Run, error) {
	req := TriggerRequest{
		EnvironmentID:  "env_1",
		ProjectID:      "proj_1",
		TaskIdentifier: "my-task",
		WorkerQueue:    "default",
		Payload:        `{"hello":"world"}`,
		PayloadType:    "application/json",
	}
	for _, opt := range opts {
		opt(&req)
	}
	return te.Trigger(ctx, req)
}

// dequeueOne claims exactly one run from the default queue and fails fast
// when delivery went missing.
func (te *testEngine) dequeueOne(ctx context.Context, workerQueue string) (*ExecutionData, error) {
	items, err := te.DequeueFromWorkerQueue(ctx, "consumer-1", workerQueue)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, &NotFoundError{Kind: "dequeued run", ID: workerQueue}
	}
	return items[0], nil
}
