// Package bootstrap builds the backends selected by configuration and owns
// their lifecycle for the api, worker and sweeper processes.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/kursadbilgin/push-relay/internal/config"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/handler"
	awsinfra "github.com/kursadbilgin/push-relay/internal/infra/aws"
	firebaseinfra "github.com/kursadbilgin/push-relay/internal/infra/firebase"
	"github.com/kursadbilgin/push-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/push-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/push-relay/internal/infra/redis"
	"github.com/kursadbilgin/push-relay/internal/lock"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/ratelimit"
	"github.com/kursadbilgin/push-relay/internal/repository"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Runtime lazily opens external clients and closes them in reverse order.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	firebaseApp *firebase.App
	redis       *goredis.Client
	gormDB      *gorm.DB
	firestore   *repository.FirestoreDispatchRepo
	memoryQueue *queue.MemoryQueue
	rabbit      *queue.RabbitMQ

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func New(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cfg: cfg, logger: logger}, nil
}

func (r *Runtime) onClose(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name: name, close: fn})
}

// Close releases every opened client. Errors are logged and joined.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil {
			r.logger.Warn("failed to close client", zap.String("client", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) loadFirebase(ctx context.Context) (*firebase.App, error) {
	if r.firebaseApp != nil {
		return r.firebaseApp, nil
	}
	app, err := firebaseinfra.NewApp(ctx, r.cfg.FirebaseProjectID, r.cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, err
	}
	r.firebaseApp = app
	return app, nil
}

// Redis returns the shared client, or nil when REDIS_URL is not set.
func (r *Runtime) Redis(ctx context.Context) (*goredis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	if strings.TrimSpace(r.cfg.RedisURL) == "" {
		return nil, nil
	}

	client, err := infraredis.NewRedis(ctx, r.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r.redis = client
	r.onClose("redis", client.Close)
	return client, nil
}

// Records opens the dispatch record store selected by STORE_BACKEND.
func (r *Runtime) Records(ctx context.Context) (repository.DispatchRepository, error) {
	switch r.cfg.StoreBackend {
	case config.StorePostgres:
		db, err := r.postgres(ctx)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormDispatchRepo(db)
		repo.SetLogger(r.logger.Named("store"))
		return repo, nil
	case config.StoreFirestore:
		return r.firestoreRepo(ctx)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", r.cfg.StoreBackend)
	}
}

// InsertionFeed opens the store's insertion feed, replaying FeedLookback.
func (r *Runtime) InsertionFeed(ctx context.Context) (repository.InsertionFeed, error) {
	switch r.cfg.StoreBackend {
	case config.StorePostgres:
		db, err := r.postgres(ctx)
		if err != nil {
			return nil, err
		}
		since := time.Now().UTC().Add(-r.cfg.FeedLookback())
		return repository.NewGormInsertionFeed(db, 0, since, r.logger.Named("feed")), nil
	case config.StoreFirestore:
		repo, err := r.firestoreRepo(ctx)
		if err != nil {
			return nil, err
		}
		return repository.NewFirestoreInsertionFeed(repo, r.cfg.FeedLookback(), r.logger.Named("feed")), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", r.cfg.StoreBackend)
	}
}

func (r *Runtime) postgres(ctx context.Context) (*gorm.DB, error) {
	if r.gormDB != nil {
		return r.gormDB, nil
	}

	db, err := postgresql.NewPostgres(ctx, r.cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	r.onClose("postgres", sqlDB.Close)

	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	r.gormDB = db
	return db, nil
}

func (r *Runtime) firestoreRepo(ctx context.Context) (*repository.FirestoreDispatchRepo, error) {
	if r.firestore != nil {
		return r.firestore, nil
	}

	app, err := r.loadFirebase(ctx)
	if err != nil {
		return nil, err
	}
	client, err := firebaseinfra.NewFirestore(ctx, app)
	if err != nil {
		return nil, err
	}
	r.onClose("firestore", client.Close)

	r.firestore = repository.NewFirestoreDispatchRepo(client, r.cfg.FirestoreCollection, r.logger.Named("store"))
	return r.firestore, nil
}

// Gateway builds the push provider selected by PUSH_GATEWAY.
func (r *Runtime) Gateway(ctx context.Context) (provider.Provider, error) {
	switch r.cfg.PushGateway {
	case config.GatewayFCM:
		app, err := r.loadFirebase(ctx)
		if err != nil {
			return nil, err
		}
		client, err := firebaseinfra.NewMessaging(ctx, app)
		if err != nil {
			return nil, err
		}
		return provider.NewFCMProvider(client)
	case config.GatewaySNS:
		client, err := awsinfra.NewSNSClient(ctx, awsinfra.Options{
			Region:          r.cfg.AWSRegion,
			EndpointURL:     r.cfg.AWSEndpointURL,
			AccessKeyID:     r.cfg.AWSAccessKeyID,
			SecretAccessKey: r.cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		return provider.NewSNSProvider(client)
	case config.GatewayWebhook:
		return provider.NewWebhookProvider(r.cfg.WebhookGatewayURL)
	default:
		return nil, fmt.Errorf("unsupported push gateway %q", r.cfg.PushGateway)
	}
}

// RateLimiter shares the send budget across workers through Redis when
// configured; otherwise the budget is per process.
func (r *Runtime) RateLimiter(ctx context.Context) (ratelimit.RateLimiter, error) {
	client, err := r.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		r.logger.Info("redis not configured, using in-process rate limiter")
		return ratelimit.NewLocalRateLimiter(r.cfg.RateLimit, r.cfg.RateLimitWindow()), nil
	}
	return infraredis.NewRedisRateLimiter(client, r.cfg.RateLimit, r.cfg.RateLimitWindow())
}

// Locker returns the per-record lock; a no-op lock without Redis, leaving the
// store's compare-and-swap as the only guard.
func (r *Runtime) Locker(ctx context.Context) (lock.Locker, error) {
	client, err := r.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return lock.NopLocker{}, nil
	}
	return infraredis.NewRedisLocker(client, r.cfg.LockTTL())
}

// Queue returns the work queue publisher and consumer. Without RABBITMQ_URL
// both sides share an in-process queue, so the watcher and dispatcher must
// run in the same process.
func (r *Runtime) Queue() (queue.Publisher, queue.Consumer, error) {
	if strings.TrimSpace(r.cfg.RabbitMQURL) == "" {
		if r.memoryQueue == nil {
			r.memoryQueue = queue.NewMemoryQueue()
			r.onClose("memory-queue", r.memoryQueue.Close)
			r.logger.Info("rabbitmq not configured, using in-process queue")
		}
		return r.memoryQueue, r.memoryQueue, nil
	}

	if r.rabbit == nil {
		client, err := queue.NewRabbitMQ(r.cfg.RabbitMQURL)
		if err != nil {
			return nil, nil, err
		}
		r.rabbit = client
		r.onClose("rabbitmq", client.Close)
	}

	publisher := queue.NewRabbitMQPublisher(r.rabbit, r.cfg.PendingRescanAfter())
	consumer := queue.NewRabbitMQConsumer(r.rabbit, r.cfg.WorkerConcurrency, r.logger.Named("consumer"))
	return publisher, consumer, nil
}

// PlatformDefaults are the delivery defaults applied to every record.
func (r *Runtime) PlatformDefaults() domain.PlatformOptions {
	return domain.DefaultPlatformOptions(r.cfg.DefaultChannelID)
}

// ReadinessChecks returns the checks for /readyz keyed by dependency name.
func (r *Runtime) ReadinessChecks(ctx context.Context, records repository.DispatchRepository) (map[string]handler.Pinger, error) {
	checks := map[string]handler.Pinger{}
	if records != nil {
		checks["store"] = records
	}

	client, err := r.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if client != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}
	return checks, nil
}
