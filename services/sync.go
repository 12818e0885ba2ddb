package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"property-feed-sync/models"
	"property-feed-sync/storage"
	"property-feed-sync/utils"
)

// ErrMissingExternalID marks a record that cannot be upserted because it
// has no identity.
var ErrMissingExternalID = errors.New("sync: record has no external_id")

// UpsertError reports a record-level failure. It never aborts a batch.
type UpsertError struct {
	ExternalID string
	Op         string
	Err        error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("sync: %s %q: %v", e.Op, e.ExternalID, e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }

// SyncConfig tunes a SyncEngine.
type SyncConfig struct {
	Workers       int
	UpsertTimeout time.Duration
}

// SyncEngine upserts canonical records into a PropertyStore keyed by
// external_id.
type SyncEngine struct {
	store  storage.PropertyStore
	locker storage.Locker
	cfg    SyncConfig
	logger *utils.Logger
}

// NewSyncEngine creates a SyncEngine. A nil locker falls back to an
// in-process keyed mutex.
func NewSyncEngine(store storage.PropertyStore, locker storage.Locker, cfg SyncConfig, logger *utils.Logger) *SyncEngine {
	if locker == nil {
		locker = localLocker{utils.NewKeyedMutex()}
	}
	return &SyncEngine{store: store, locker: locker, cfg: cfg, logger: logger}
}

// localLocker adapts utils.KeyedMutex to storage.Locker.
type localLocker struct{ km *utils.KeyedMutex }

func (l localLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.km.Lock(key), nil
}

// group is every occurrence of one external_id in a batch. The last
// occurrence's data is upserted once.
type group struct {
	record *models.Property
	count  int
}

// Sync upserts records and reports how many were persisted. Failures are
// logged and counted, never returned.
func (s *SyncEngine) Sync(ctx context.Context, records []*models.Property) *models.SyncResult {
	result := &models.SyncResult{Total: len(records)}
	if len(records) == 0 {
		return result
	}

	var order []string
	groups := make(map[string]*group)
	for _, r := range records {
		if r.ExternalID == "" {
			result.Failed++
			s.logger.Warn("[sync] %v (title %q)", ErrMissingExternalID, r.Title)
			continue
		}
		g, ok := groups[r.ExternalID]
		if !ok {
			g = &group{}
			groups[r.ExternalID] = g
			order = append(order, r.ExternalID)
		}
		g.record = r
		g.count++
	}

	var processed, inserted, updated, failed atomic.Int64
	pool := utils.NewWorkerPool(s.cfg.Workers, 0)

	for _, id := range order {
		g := groups[id]
		if ctx.Err() != nil {
			failed.Add(int64(g.count))
			continue
		}
		pool.Submit(func() {
			wasInsert, err := s.upsert(ctx, g.record)
			if err != nil {
				failed.Add(int64(g.count))
				s.logger.Error("[sync] %v", err)
				return
			}
			processed.Add(int64(g.count))
			if wasInsert {
				inserted.Add(1)
			} else {
				updated.Add(1)
			}
		})
	}
	pool.Wait()

	result.Processed = int(processed.Load())
	result.Inserted = int(inserted.Load())
	result.Updated = int(updated.Load())
	result.Failed += int(failed.Load())

	if ctx.Err() != nil {
		s.logger.Warn("[sync] Batch interrupted: %v", ctx.Err())
	}
	s.logger.Info("[sync] %d/%d records persisted (%d inserted, %d updated, %d failed)",
		result.Processed, result.Total, result.Inserted, result.Updated, result.Failed)
	return result
}

// upsert writes one record under its key lock and per-record timeout.
func (s *SyncEngine) upsert(ctx context.Context, p *models.Property) (inserted bool, err error) {
	if s.cfg.UpsertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.UpsertTimeout)
		defer cancel()
	}

	unlock, err := s.locker.Lock(ctx, p.ExternalID)
	if err != nil {
		return false, &UpsertError{ExternalID: p.ExternalID, Op: "lock", Err: err}
	}
	defer unlock()

	_, err = s.store.LookupID(ctx, p.ExternalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = s.store.Insert(ctx, p)
		if !errors.Is(err, storage.ErrDuplicate) {
			if err != nil {
				return false, &UpsertError{ExternalID: p.ExternalID, Op: "insert", Err: err}
			}
			return true, nil
		}
		// Another writer created the row after our lookup.
	case err != nil:
		return false, &UpsertError{ExternalID: p.ExternalID, Op: "lookup", Err: err}
	}

	if err := s.store.Update(ctx, p); err != nil {
		return false, &UpsertError{ExternalID: p.ExternalID, Op: "update", Err: err}
	}
	return false, nil
}
