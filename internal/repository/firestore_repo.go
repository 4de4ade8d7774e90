package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type FirestoreDispatchRepo struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

func NewFirestoreDispatchRepo(client *firestore.Client, collection string, logger *zap.Logger) *FirestoreDispatchRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreDispatchRepo{client: client, collection: collection, logger: logger}
}

func (r *FirestoreDispatchRepo) coll() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *FirestoreDispatchRepo) Create(ctx context.Context, record *domain.DispatchRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is required", domain.ErrValidation)
	}
	if record.Status == "" {
		record.Status = domain.StatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	doc := documentFromDomain(record)
	if record.ID != "" {
		if _, err := r.coll().Doc(record.ID).Create(ctx, doc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return fmt.Errorf("%w: record %s already exists", domain.ErrConflict, record.ID)
			}
			return err
		}
		return nil
	}

	ref, _, err := r.coll().Add(ctx, doc)
	if err != nil {
		return err
	}
	record.ID = ref.ID
	return nil
}

func (r *FirestoreDispatchRepo) GetByID(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	snap, err := r.coll().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapshotToDomain(snap)
}

func (r *FirestoreDispatchRepo) CompleteDispatch(ctx context.Context, id string, outcome domain.DispatchOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("%w: outcome status %q is not terminal", domain.ErrValidation, outcome.Status)
	}

	ref := r.coll().Doc(id)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		current, err := snapshotToDomain(snap)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusPending {
			return domain.ErrConflict
		}

		return tx.Update(ref, outcomeUpdates(outcome))
	})
}

func (r *FirestoreDispatchRepo) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	iter := r.coll().
		Where(fieldTimestamp, "<", cutoff).
		Select().
		Limit(normalizeLimit(limit, MaxBatchSize)).
		Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

func (r *FirestoreDispatchRepo) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > MaxBatchSize {
		return fmt.Errorf("%w: batch of %d exceeds %d", domain.ErrValidation, len(ids), MaxBatchSize)
	}

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range ids {
			if err := tx.Delete(r.coll().Doc(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListStalePending only sees documents that carry an explicit pending status.
func (r *FirestoreDispatchRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.DispatchRecord, error) {
	snaps, err := r.coll().
		Where(fieldStatus, "==", domain.StatusPending.String()).
		Where(fieldTimestamp, "<=", olderThan).
		OrderBy(fieldTimestamp, firestore.Asc).
		Limit(normalizeLimit(limit, MaxBatchSize)).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}

	return collectRecords(snaps, snapshotID, snapshotToDomain, r.logger), nil
}

func (r *FirestoreDispatchRepo) Ping(ctx context.Context) error {
	iter := r.coll().Select().Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// FirestoreInsertionFeed listens for documents added to the collection.
type FirestoreInsertionFeed struct {
	repo     *FirestoreDispatchRepo
	lookback time.Duration
	logger   *zap.Logger
}

// NewFirestoreInsertionFeed watches documents whose timestamp falls within
// lookback of the subscription start. The first snapshot reports every such
// document as added.
func NewFirestoreInsertionFeed(repo *FirestoreDispatchRepo, lookback time.Duration, logger *zap.Logger) *FirestoreInsertionFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreInsertionFeed{repo: repo, lookback: lookback, logger: logger}
}

func (f *FirestoreInsertionFeed) WatchInserted(ctx context.Context, fn InsertHandler) error {
	if fn == nil {
		return fmt.Errorf("insert handler is required")
	}

	since := time.Now().UTC().Add(-f.lookback)
	snapshots := f.repo.coll().Where(fieldTimestamp, ">=", since).Snapshots(ctx)
	defer snapshots.Stop()

	for {
		qs, err := snapshots.Next()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore listener failed: %w", err)
		}

		for _, change := range qs.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}

			record, err := snapshotToDomain(change.Doc)
			if err != nil {
				f.logger.Warn("skipping unreadable dispatch document",
					zap.String("recordId", change.Doc.Ref.ID),
					zap.Error(err),
				)
				continue
			}
			if err := fn(ctx, *record); err != nil {
				return err
			}
		}
	}
}

func snapshotID(snap *firestore.DocumentSnapshot) string { return snap.Ref.ID }

func snapshotToDomain(snap *firestore.DocumentSnapshot) (*domain.DispatchRecord, error) {
	var doc dispatchDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	return documentToDomain(snap.Ref.ID, doc)
}
