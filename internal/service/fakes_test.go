package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/lock"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/repository"
)

// fakeDispatchRepo is an in-memory store. Function fields override the
// default behavior of the matching method.
type fakeDispatchRepo struct {
	mu      sync.Mutex
	records map[string]domain.DispatchRecord

	getByIDFn          func(ctx context.Context, id string) (*domain.DispatchRecord, error)
	completeDispatchFn func(ctx context.Context, id string, outcome domain.DispatchOutcome) error
	listExpiredFn      func(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	deleteBatchFn      func(ctx context.Context, ids []string) error
	listStaleFn        func(ctx context.Context, olderThan time.Time, limit int) ([]domain.DispatchRecord, error)

	completeCalls  int
	deleteCalls    int
	lastDeleteIDs  []string
	lastListLimit  int
	lastListCutoff time.Time
}

var _ repository.DispatchRepository = (*fakeDispatchRepo)(nil)

func newFakeDispatchRepo(records ...domain.DispatchRecord) *fakeDispatchRepo {
	repo := &fakeDispatchRepo{records: make(map[string]domain.DispatchRecord)}
	for _, r := range records {
		repo.records[r.ID] = r
	}
	return repo
}

func (f *fakeDispatchRepo) Create(ctx context.Context, record *domain.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID == "" {
		record.ID = "generated-1"
	}
	f.records[record.ID] = *record
	return nil
}

func (f *fakeDispatchRepo) GetByID(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}

func (f *fakeDispatchRepo) CompleteDispatch(ctx context.Context, id string, outcome domain.DispatchOutcome) error {
	f.mu.Lock()
	f.completeCalls++
	f.mu.Unlock()

	if f.completeDispatchFn != nil {
		return f.completeDispatchFn(ctx, id, outcome)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if record.Status != domain.StatusPending {
		return domain.ErrConflict
	}
	outcome.Apply(&record)
	f.records[id] = record
	return nil
}

func (f *fakeDispatchRepo) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	f.lastListLimit = limit
	f.lastListCutoff = cutoff
	f.mu.Unlock()

	if f.listExpiredFn != nil {
		return f.listExpiredFn(ctx, cutoff, limit)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, r := range f.records {
		if r.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeDispatchRepo) DeleteBatch(ctx context.Context, ids []string) error {
	f.mu.Lock()
	f.deleteCalls++
	f.lastDeleteIDs = append([]string(nil), ids...)
	f.mu.Unlock()

	if f.deleteBatchFn != nil {
		return f.deleteBatchFn(ctx, ids)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.records, id)
	}
	return nil
}

func (f *fakeDispatchRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.DispatchRecord, error) {
	if f.listStaleFn != nil {
		return f.listStaleFn(ctx, olderThan, limit)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []domain.DispatchRecord
	for _, r := range f.records {
		if r.Status == domain.StatusPending && !r.CreatedAt.After(olderThan) {
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (f *fakeDispatchRepo) Ping(ctx context.Context) error { return nil }

func (f *fakeDispatchRepo) record(id string) (domain.DispatchRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	return r, ok
}

type fakeProvider struct {
	sendFn func(ctx context.Context, req provider.Request) (*provider.ProviderResponse, error)
	calls  []provider.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, req provider.Request) (*provider.ProviderResponse, error) {
	f.calls = append(f.calls, req)
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.ProviderResponse{MessageID: "msg-123"}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeLocker struct {
	tryLockFn func(ctx context.Context, key string) (func(context.Context) error, error)
	released  int
}

func (f *fakeLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	if f.tryLockFn != nil {
		return f.tryLockFn(ctx, key)
	}
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

var _ lock.Locker = (*fakeLocker)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
	published []queue.DispatchMessage
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) recordIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.published))
	for _, m := range f.published {
		ids = append(ids, m.RecordID)
	}
	return ids
}

type fakeFeed struct {
	watchFn func(ctx context.Context, fn repository.InsertHandler) error
}

func (f *fakeFeed) WatchInserted(ctx context.Context, fn repository.InsertHandler) error {
	if f.watchFn != nil {
		return f.watchFn(ctx, fn)
	}
	<-ctx.Done()
	return nil
}

func pendingRecord(id string, createdAt time.Time) domain.DispatchRecord {
	return domain.DispatchRecord{
		ID:        id,
		Target:    "tok1",
		Payload:   domain.Payload{Title: "Hi", Body: "there"},
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
	}
}
