package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/lock"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, repo *fakeDispatchRepo, gateway *fakeProvider, locker *fakeLocker) *Dispatcher {
	t.Helper()

	dispatcher, err := NewDispatcher(
		repo,
		&fakeConsumer{},
		gateway,
		&fakeRateLimiter{},
		locker,
		domain.DefaultPlatformOptions(""),
		2,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	dispatcher.now = func() time.Time { return fixedNow }
	return dispatcher
}

func TestDispatcherSendSuccess(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow.Add(-time.Minute)))
	gateway := &fakeProvider{}
	locker := &fakeLocker{}
	dispatcher := newTestDispatcher(t, repo, gateway, locker)

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	got, _ := repo.record("r1")
	if got.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.GatewayMessageID != "msg-123" {
		t.Fatalf("gatewayMessageId = %q, want msg-123", got.GatewayMessageID)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(fixedNow) {
		t.Fatalf("processedAt = %v, want %v", got.ProcessedAt, fixedNow)
	}
	if got.ErrorDetail != "" {
		t.Fatalf("errorDetail = %q, want empty", got.ErrorDetail)
	}
	if len(gateway.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gateway.calls))
	}
	if locker.released != 1 {
		t.Fatalf("lock released %d times, want 1", locker.released)
	}
}

func TestDispatcherBuildsRequestWithDefaults(t *testing.T) {
	t.Parallel()

	record := pendingRecord("r1", fixedNow)
	record.PlatformOptions = &domain.PlatformOptions{ChannelID: "promo"}
	repo := newFakeDispatchRepo(record)
	gateway := &fakeProvider{}
	dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	req := gateway.calls[0]
	if req.Options.ChannelID != "promo" {
		t.Fatalf("channel = %q, want promo", req.Options.ChannelID)
	}
	if req.Options.Priority != domain.PriorityHigh || req.Options.Sound != domain.DefaultSound {
		t.Fatalf("options = %+v, want high priority and default sound", req.Options)
	}
	if req.Badge() != domain.DefaultBadge {
		t.Fatalf("badge = %d, want %d", req.Badge(), domain.DefaultBadge)
	}
}

func TestDispatcherGatewayInvalidTarget(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	gateway := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.Request) (*provider.ProviderResponse, error) {
			return nil, &provider.GatewayError{Code: domain.ErrorCodeInvalidTarget}
		},
	}
	dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil (gateway errors never propagate)", err)
	}

	got, _ := repo.record("r1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorDetail != "InvalidTarget" {
		t.Fatalf("errorDetail = %q, want InvalidTarget", got.ErrorDetail)
	}
	if got.ErrorCode != domain.ErrorCodeInvalidTarget {
		t.Fatalf("errorCode = %q, want InvalidTarget", got.ErrorCode)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(fixedNow) {
		t.Fatalf("processedAt = %v, want %v", got.ProcessedAt, fixedNow)
	}
	if got.GatewayMessageID != "" {
		t.Fatalf("gatewayMessageId = %q, want empty", got.GatewayMessageID)
	}
}

func TestDispatcherGatewayErrorCodes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		wantCode domain.ErrorCode
	}{
		{name: "unreachable", err: &provider.GatewayError{Code: domain.ErrorCodeGatewayUnreachable, Message: "connection refused"}, wantCode: domain.ErrorCodeGatewayUnreachable},
		{name: "invalid payload", err: &provider.GatewayError{Code: domain.ErrorCodeInvalidPayload, Message: "bad data"}, wantCode: domain.ErrorCodeInvalidPayload},
		{name: "unclassified", err: errors.New("boom"), wantCode: domain.ErrorCodeUnknown},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
			gateway := &fakeProvider{
				sendFn: func(ctx context.Context, req provider.Request) (*provider.ProviderResponse, error) {
					return nil, tc.err
				},
			}
			dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

			if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			got, _ := repo.record("r1")
			if got.Status != domain.StatusFailed {
				t.Fatalf("status = %s, want failed", got.Status)
			}
			if got.ErrorCode != tc.wantCode {
				t.Fatalf("errorCode = %s, want %s", got.ErrorCode, tc.wantCode)
			}
			if got.ErrorDetail != tc.err.Error() {
				t.Fatalf("errorDetail = %q, want %q", got.ErrorDetail, tc.err.Error())
			}
			if len(gateway.calls) != 1 {
				t.Fatalf("gateway calls = %d, want exactly 1 (no retry)", len(gateway.calls))
			}
		})
	}
}

func TestDispatcherSkipsTerminalRecord(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.Status{domain.StatusSent, domain.StatusFailed} {
		status := status
		t.Run(status.String(), func(t *testing.T) {
			t.Parallel()

			record := pendingRecord("r1", fixedNow)
			record.Status = status
			repo := newFakeDispatchRepo(record)
			gateway := &fakeProvider{}
			dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

			if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if repo.completeCalls != 0 {
				t.Fatalf("CompleteDispatch calls = %d, want 0", repo.completeCalls)
			}
			if len(gateway.calls) != 0 {
				t.Fatalf("gateway calls = %d, want 0", len(gateway.calls))
			}
		})
	}
}

func TestDispatcherIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	gateway := &fakeProvider{}
	dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

	for i := 0; i < 3; i++ {
		if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
			t.Fatalf("Dispatch() #%d error = %v", i+1, err)
		}
	}

	if len(gateway.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gateway.calls))
	}
	if repo.completeCalls != 1 {
		t.Fatalf("CompleteDispatch calls = %d, want 1", repo.completeCalls)
	}
}

func TestDispatcherLocalValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		mutate   func(*domain.DispatchRecord)
		wantCode domain.ErrorCode
	}{
		{name: "empty target", mutate: func(r *domain.DispatchRecord) { r.Target = "" }, wantCode: domain.ErrorCodeInvalidTarget},
		{name: "empty payload", mutate: func(r *domain.DispatchRecord) { r.Payload = domain.Payload{} }, wantCode: domain.ErrorCodeInvalidPayload},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			record := pendingRecord("r1", fixedNow)
			tc.mutate(&record)
			repo := newFakeDispatchRepo(record)
			gateway := &fakeProvider{}
			dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

			if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if len(gateway.calls) != 0 {
				t.Fatalf("gateway calls = %d, want 0", len(gateway.calls))
			}

			got, _ := repo.record("r1")
			if got.Status != domain.StatusFailed || got.ErrorCode != tc.wantCode {
				t.Fatalf("record = %s/%s, want failed/%s", got.Status, got.ErrorCode, tc.wantCode)
			}
		})
	}
}

func TestDispatcherLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	repo.getByIDFn = func(ctx context.Context, id string) (*domain.DispatchRecord, error) {
		t.Fatal("GetByID should not be called without the lock")
		return nil, nil
	}
	gateway := &fakeProvider{}
	locker := &fakeLocker{
		tryLockFn: func(ctx context.Context, key string) (func(context.Context) error, error) {
			return nil, lock.ErrNotAcquired
		},
	}
	dispatcher := newTestDispatcher(t, repo, gateway, locker)

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if len(gateway.calls) != 0 {
		t.Fatalf("gateway calls = %d, want 0", len(gateway.calls))
	}
}

func TestDispatcherReturnsErrorsBeforeSend(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		repo      func() *fakeDispatchRepo
		locker    *fakeLocker
		rateLimit func(ctx context.Context, key string) error
	}{
		{
			name: "store read failure",
			repo: func() *fakeDispatchRepo {
				repo := newFakeDispatchRepo()
				repo.getByIDFn = func(ctx context.Context, id string) (*domain.DispatchRecord, error) {
					return nil, errors.New("firestore unavailable")
				}
				return repo
			},
			locker: &fakeLocker{},
		},
		{
			name: "lock backend failure",
			repo: func() *fakeDispatchRepo { return newFakeDispatchRepo(pendingRecord("r1", fixedNow)) },
			locker: &fakeLocker{
				tryLockFn: func(ctx context.Context, key string) (func(context.Context) error, error) {
					return nil, errors.New("redis down")
				},
			},
		},
		{
			name:   "rate limiter failure",
			repo:   func() *fakeDispatchRepo { return newFakeDispatchRepo(pendingRecord("r1", fixedNow)) },
			locker: &fakeLocker{},
			rateLimit: func(ctx context.Context, key string) error {
				if key != "fake" {
					t.Errorf("rate limit key = %q, want fake", key)
				}
				return errors.New("redis timeout")
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := tc.repo()
			gateway := &fakeProvider{}
			dispatcher := newTestDispatcher(t, repo, gateway, tc.locker)
			dispatcher.rateLimiter = &fakeRateLimiter{waitFn: tc.rateLimit}

			if err := dispatcher.Dispatch(context.Background(), "r1"); err == nil {
				t.Fatal("Dispatch() error = nil, want error so the message is requeued")
			}
			if len(gateway.calls) != 0 {
				t.Fatalf("gateway calls = %d, want 0", len(gateway.calls))
			}
			if repo.completeCalls != 0 {
				t.Fatalf("CompleteDispatch calls = %d, want 0", repo.completeCalls)
			}
		})
	}
}

func TestDispatcherNotFoundIsNoOp(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo()
	gateway := &fakeProvider{}
	dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

	if err := dispatcher.Dispatch(context.Background(), "missing"); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if len(gateway.calls) != 0 || repo.completeCalls != 0 {
		t.Fatalf("gateway calls = %d, complete calls = %d, want 0/0", len(gateway.calls), repo.completeCalls)
	}
}

func TestDispatcherStoreWriteFailureIsLoggedNotRetried(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	repo.completeDispatchFn = func(ctx context.Context, id string, outcome domain.DispatchOutcome) error {
		return errors.New("deadline exceeded")
	}
	gateway := &fakeProvider{}
	dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})
	dispatcher.logger = zap.New(core)

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if repo.completeCalls != 1 {
		t.Fatalf("CompleteDispatch calls = %d, want 1", repo.completeCalls)
	}

	entries := logs.FilterMessage("failed to persist dispatch outcome").All()
	if len(entries) != 1 {
		t.Fatalf("persist failure log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["recordId"]; got != "r1" {
		t.Fatalf("log recordId = %v, want r1", got)
	}

	got, _ := repo.record("r1")
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after failed write", got.Status)
	}
}

func TestDispatcherConflictOnCompleteIsIgnored(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	repo.completeDispatchFn = func(ctx context.Context, id string, outcome domain.DispatchOutcome) error {
		return domain.ErrConflict
	}
	dispatcher := newTestDispatcher(t, repo, &fakeProvider{}, &fakeLocker{})

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
}

func TestDispatcherShutdownDuringSendLeavesRecordPending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	gateway := &fakeProvider{
		sendFn: func(ctx context.Context, req provider.Request) (*provider.ProviderResponse, error) {
			cancel()
			return nil, &provider.GatewayError{Code: domain.ErrorCodeUnknown, Cause: context.Canceled}
		},
	}
	dispatcher := newTestDispatcher(t, repo, gateway, &fakeLocker{})

	if err := dispatcher.Dispatch(ctx, "r1"); err == nil {
		t.Fatal("Dispatch() error = nil, want interruption error")
	}
	if repo.completeCalls != 0 {
		t.Fatalf("CompleteDispatch calls = %d, want 0", repo.completeCalls)
	}
}

func TestDispatcherMetrics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	dispatcher := newTestDispatcher(t, repo, &fakeProvider{}, &fakeLocker{})
	dispatcher.SetMetrics(metrics)

	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	if !strings.Contains(body, "push_relay_dispatches_sent_total 1") {
		t.Fatalf("metrics output missing sent counter of 1:\n%s", body)
	}
	if !strings.Contains(body, `push_relay_dispatches_skipped_total{reason="terminal"} 1`) {
		t.Fatalf("metrics output missing terminal skip counter:\n%s", body)
	}
}

func TestDispatcherProcessMessage(t *testing.T) {
	t.Parallel()

	repo := newFakeDispatchRepo(pendingRecord("r1", fixedNow))
	dispatcher := newTestDispatcher(t, repo, &fakeProvider{}, &fakeLocker{})

	if err := dispatcher.processMessage(context.Background(), queue.DispatchMessage{RecordID: "r1"}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	got, _ := repo.record("r1")
	if got.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
}

func TestDispatcherStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumerErr := errors.New("broker closed")
	dispatcher := newTestDispatcher(t, newFakeDispatchRepo(), &fakeProvider{}, &fakeLocker{})
	dispatcher.consumer = &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			if queueName != queue.DispatchQueue {
				t.Errorf("queue = %q, want %q", queueName, queue.DispatchQueue)
			}
			return consumerErr
		},
	}

	if err := dispatcher.Start(context.Background()); !errors.Is(err, consumerErr) {
		t.Fatalf("Start() error = %v, want %v", err, consumerErr)
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatcher(nil, nil, &fakeProvider{}, &fakeRateLimiter{}, nil, domain.PlatformOptions{}, 1, nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
	if _, err := NewDispatcher(newFakeDispatchRepo(), nil, nil, &fakeRateLimiter{}, nil, domain.PlatformOptions{}, 1, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}

	dispatcher, err := NewDispatcher(newFakeDispatchRepo(), nil, &fakeProvider{}, &fakeRateLimiter{}, nil, domain.PlatformOptions{}, 0, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if dispatcher.concurrency != 1 {
		t.Fatalf("concurrency = %d, want 1", dispatcher.concurrency)
	}
	if _, ok := dispatcher.locker.(lock.NopLocker); !ok {
		t.Fatalf("locker = %T, want lock.NopLocker", dispatcher.locker)
	}
}
