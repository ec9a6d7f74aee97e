package kme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/qkd-kme/interfaces"
)

// Metrics receives counters from the key distribution service.
type Metrics interface {
	KeysAllocated(n int)
	KeysRetrieved(n int)
	PoolRefilled(generated int)
	RequestFailed(op, reason string)
}

type noopMetrics struct{}

func (noopMetrics) KeysAllocated(int)            {}
func (noopMetrics) KeysRetrieved(int)            {}
func (noopMetrics) PoolRefilled(int)             {}
func (noopMetrics) RequestFailed(string, string) {}

// Service distributes keys between SAEs. It is the only component that
// moves a key from unused to allocated.
type Service struct {
	cfg   interfaces.KMEConfig
	store interfaces.KeyStore
	gen   interfaces.KeyGenerator
	log   *slog.Logger

	metrics Metrics
	now     func() time.Time

	// mu serializes writers within the process; the store pool lock
	// serializes them across processes.
	mu sync.Mutex
}

// NewService validates cfg and wires the service to its store and generator.
func NewService(cfg interfaces.KMEConfig, store interfaces.KeyStore, gen interfaces.KeyGenerator, log *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || gen == nil {
		return nil, errors.New("store and generator are required")
	}

	return &Service{
		cfg:     cfg,
		store:   store,
		gen:     gen,
		log:     log,
		metrics: noopMetrics{},
		now:     time.Now,
	}, nil
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m Metrics) *Service {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
	return s
}

// Config returns the configuration the service runs with.
func (s *Service) Config() interfaces.KMEConfig {
	return s.cfg
}

// EnsurePoolFilled tops the pool up to its maximum size when the number of
// unused default-size keys has dropped under the refill threshold.
func (s *Service) EnsurePoolFilled(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fillPool(ctx); err != nil {
		s.failed("refill", err)
		return err
	}
	return nil
}

// fillPool commits a refill in its own transaction. Callers hold s.mu.
func (s *Service) fillPool(ctx context.Context) error {
	var generated int
	err := s.store.Update(ctx, func(tx interfaces.KeyStoreTx) error {
		pool, err := tx.LockPool(ctx)
		if err != nil {
			return err
		}
		_, generated, err = s.refill(ctx, tx, pool)
		return err
	})
	if err != nil {
		return err
	}

	if generated > 0 {
		s.metrics.PoolRefilled(generated)
		s.log.Info("Refilled key pool", "generated", generated, "maxSize", s.cfg.PoolMaxSize)
	}
	return nil
}

// refill runs under the pool lock. It returns the updated pool and the
// number of keys generated.
func (s *Service) refill(ctx context.Context, tx interfaces.KeyStoreTx, pool interfaces.KeyPool) (interfaces.KeyPool, int, error) {
	pool.MaxSize = s.cfg.PoolMaxSize
	pool.DefaultKeySizeBits = s.cfg.DefaultKeySizeBits
	pool.RefillThreshold = s.cfg.RefillThreshold

	unused, err := tx.UnusedCount(ctx, pool.DefaultKeySizeBits)
	if err != nil {
		return pool, 0, err
	}
	pool.CurrentSize = unused

	generated := 0
	if pool.NeedsRefill() {
		generated = pool.Deficit()
		keys, err := s.gen.GenerateN(generated, pool.DefaultKeySizeBits)
		if err != nil {
			return pool, 0, fmt.Errorf("failed to generate keys: %w", err)
		}
		if err := tx.Append(ctx, keys); err != nil {
			return pool, 0, err
		}
		now := s.now().UTC()
		pool.CurrentSize += generated
		pool.LastRefillAt = &now
	}

	if err := tx.SavePool(ctx, pool); err != nil {
		return pool, 0, err
	}
	return pool, generated, nil
}

// Allocate binds count fresh keys of sizeBits to master and the slave set
// {slave} ∪ additional, records the allocation in the session ledger and
// returns the keys with their material.
//
// The pool is refilled first in a transaction of its own, so a request that
// cannot be served still leaves the refill in place. The allocation itself
// is all-or-nothing: on any error no key changes owner and no session is
// recorded.
func (s *Service) Allocate(ctx context.Context, master, slave string, additional []string, count, sizeBits int) ([]interfaces.Key, error) {
	if err := s.validateAllocation(master, slave, additional, count, sizeBits); err != nil {
		s.failed("allocate", err)
		return nil, err
	}
	slaves := interfaces.SlaveSet(slave, additional)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fillPool(ctx); err != nil {
		s.failed("allocate", err)
		return nil, err
	}

	var keys []interfaces.Key
	err := s.store.Update(ctx, func(tx interfaces.KeyStoreTx) error {
		pool, err := tx.LockPool(ctx)
		if err != nil {
			return err
		}

		if sizeBits == s.cfg.DefaultKeySizeBits {
			keys, err = tx.SelectUnused(ctx, sizeBits, count)
			if err != nil {
				return err
			}
			if len(keys) < count {
				return fmt.Errorf("%w: requested %d keys of %d bits, %d available", interfaces.ErrPoolExhausted, count, sizeBits, len(keys))
			}
		} else {
			// Off-default sizes are not pooled; mint them for this request.
			keys, err = s.gen.GenerateN(count, sizeBits)
			if err != nil {
				return fmt.Errorf("failed to generate keys: %w", err)
			}
			if err := tx.Append(ctx, keys); err != nil {
				return err
			}
		}

		ids := make([]string, len(keys))
		for i := range keys {
			ids[i] = keys[i].ID
		}
		if err := tx.Bind(ctx, ids, master, slaves); err != nil {
			return err
		}

		if err := tx.RecordSession(ctx, interfaces.Session{
			ID:        uuid.NewString(),
			MasterID:  master,
			SlaveIDs:  slaves,
			KeyIDs:    ids,
			CreatedAt: s.now().UTC(),
			Active:    true,
		}); err != nil {
			return err
		}

		if sizeBits != s.cfg.DefaultKeySizeBits {
			return nil
		}
		if pool.CurrentSize, err = tx.UnusedCount(ctx, sizeBits); err != nil {
			return err
		}
		return tx.SavePool(ctx, pool)
	})
	if err != nil {
		s.failed("allocate", err)
		return nil, err
	}

	for i := range keys {
		keys[i].Used = true
		keys[i].MasterID = master
		keys[i].SlaveIDs = slaves
	}

	s.metrics.KeysAllocated(len(keys))
	s.log.Info("Allocated keys", "master", master, "slaves", slaves, "count", len(keys), "size", sizeBits)

	return keys, nil
}

func (s *Service) validateAllocation(master, slave string, additional []string, count, sizeBits int) error {
	switch {
	case master == "":
		return &interfaces.ValidationError{Field: "master_SAE_ID", Reason: "must not be empty"}
	case slave == "":
		return &interfaces.ValidationError{Field: "slave_SAE_ID", Reason: "must not be empty"}
	case count < 1:
		return &interfaces.ValidationError{Field: "number", Reason: "must be at least 1"}
	case count > s.cfg.MaxKeysPerRequest:
		return &interfaces.ValidationError{Field: "number", Reason: fmt.Sprintf("%d exceeds the maximum of %d keys per request", count, s.cfg.MaxKeysPerRequest)}
	case sizeBits < 8 || sizeBits%8 != 0:
		return &interfaces.ValidationError{Field: "size", Reason: fmt.Sprintf("%d is not a positive multiple of 8", sizeBits)}
	case sizeBits < s.cfg.MinKeySizeBits || sizeBits > s.cfg.MaxKeySizeBits:
		return &interfaces.ValidationError{Field: "size", Reason: fmt.Sprintf("%d outside [%d, %d]", sizeBits, s.cfg.MinKeySizeBits, s.cfg.MaxKeySizeBits)}
	case len(additional) > s.cfg.MaxSAEIDCount:
		return &interfaces.ValidationError{Field: "additional_slave_SAE_IDs", Reason: fmt.Sprintf("%d exceeds the maximum of %d", len(additional), s.cfg.MaxSAEIDCount)}
	}
	return nil
}

// Retrieve returns the keys named by keyIDs, in request order, to a
// requester that is one of their slaves, provided counterpart is their
// master. Duplicate ids are collapsed. Any unknown id or any unauthorized
// key fails the whole call.
func (s *Service) Retrieve(ctx context.Context, requester, counterpart string, keyIDs []string) ([]interfaces.Key, error) {
	ids, err := uniqueKeyIDs(keyIDs)
	if err != nil {
		s.failed("retrieve", err)
		return nil, err
	}

	found, err := s.store.KeysByID(ctx, ids)
	if err != nil {
		s.failed("retrieve", err)
		return nil, err
	}

	for _, id := range ids {
		if _, ok := found[id]; !ok {
			err := &interfaces.NotFoundError{KeyID: id}
			s.failed("retrieve", err)
			return nil, err
		}
	}

	keys := make([]interfaces.Key, 0, len(ids))
	for _, id := range ids {
		k := found[id]
		if !authorizedFor(k, requester, counterpart) {
			err := &interfaces.AuthorizationError{SAEID: requester, KeyID: id}
			s.failed("retrieve", err)
			s.log.Warn("Rejected key retrieval", "requester", requester, "master", counterpart, "keyID", id)
			return nil, err
		}
		keys = append(keys, k)
	}

	s.metrics.KeysRetrieved(len(keys))
	s.log.Info("Retrieved keys", "slave", requester, "master", counterpart, "count", len(keys))
	return keys, nil
}

func uniqueKeyIDs(keyIDs []string) ([]string, error) {
	if len(keyIDs) == 0 {
		return nil, &interfaces.ValidationError{Field: "key_IDs", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(keyIDs))
	ids := make([]string, 0, len(keyIDs))
	for _, id := range keyIDs {
		if id == "" {
			return nil, &interfaces.ValidationError{Field: "key_ID", Reason: "must not be empty"}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Status reports pool occupancy and configured bounds for a master/slave
// pair. It never changes the store.
func (s *Service) Status(ctx context.Context, master, slave string) (interfaces.PoolStatus, error) {
	if slave == "" {
		return interfaces.PoolStatus{}, &interfaces.ValidationError{Field: "slave_SAE_ID", Reason: "must not be empty"}
	}

	stored, err := s.store.UnusedCount(ctx, s.cfg.DefaultKeySizeBits)
	if err != nil {
		s.failed("status", err)
		return interfaces.PoolStatus{}, err
	}

	return interfaces.PoolStatus{
		SourceKMEID:       s.cfg.KMEID,
		TargetKMEID:       s.cfg.KMEID,
		MasterSAEID:       master,
		SlaveSAEID:        slave,
		KeySize:           s.cfg.DefaultKeySizeBits,
		StoredKeyCount:    stored,
		MaxKeyCount:       s.cfg.PoolMaxSize,
		MaxKeysPerRequest: s.cfg.MaxKeysPerRequest,
		MaxKeySize:        s.cfg.MaxKeySizeBits,
		MinKeySize:        s.cfg.MinKeySizeBits,
		MaxSAEIDCount:     s.cfg.MaxSAEIDCount,
	}, nil
}

// Stats returns the operator view of the store.
func (s *Service) Stats(ctx context.Context) (interfaces.LedgerStats, error) {
	return s.store.Stats(ctx)
}

// Sessions returns the session ledger in allocation order.
func (s *Service) Sessions(ctx context.Context) ([]interfaces.Session, error) {
	return s.store.Sessions(ctx)
}

func (s *Service) failed(op string, err error) {
	reason := FailureReason(err)
	s.metrics.RequestFailed(op, reason)
	if reason == "storage" || reason == "internal" {
		s.log.Error("KME operation failed", "op", op, "err", err)
		return
	}
	s.log.Debug("KME operation rejected", "op", op, "reason", reason, "err", err)
}

// FailureReason classifies err into a short label for metrics and logs.
func FailureReason(err error) string {
	var (
		ve *interfaces.ValidationError
		ne *interfaces.NotFoundError
		ae *interfaces.AuthorizationError
		se *interfaces.StorageError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &ae):
		return "authorization"
	case errors.Is(err, interfaces.ErrPoolExhausted):
		return "exhausted"
	case errors.As(err, &se):
		return "storage"
	default:
		return "internal"
	}
}
