package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/uptrace/bun"
)

// Store is the bun-backed implementation of interfaces.KeyStore.
type Store struct {
	db     *bun.DB
	dbType string
	sealer *cryptoutils.Sealer
	log    *slog.Logger
}

var _ interfaces.KeyStore = (*Store)(nil)

// WithSealer enables at-rest sealing of key material for keys written from
// now on. Previously sealed keys require the same sealer to be read.
func (s *Store) WithSealer(sealer *cryptoutils.Sealer) *Store {
	s.sealer = sealer
	return s
}

// DBType returns the database type the store was opened with.
func (s *Store) DBType() string {
	return s.dbType
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx interfaces.KeyStoreTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.NewStorageError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&storeTx{tx: tx, sealer: s.sealer}); err != nil {
		s.log.Debug("Rolling back transaction", "err", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		return interfaces.NewStorageError("commit", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, keys []interfaces.Key) error {
	return s.Update(ctx, func(tx interfaces.KeyStoreTx) error {
		if _, err := tx.LockPool(ctx); err != nil {
			return err
		}
		return tx.Append(ctx, keys)
	})
}

func (s *Store) All(ctx context.Context) ([]interfaces.Key, error) {
	var rows []keyRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("seq ASC").Scan(ctx); err != nil {
		return nil, interfaces.NewStorageError("list keys", err)
	}

	keys := make([]interfaces.Key, 0, len(rows))
	for _, r := range rows {
		k, err := r.toKey(s.sealer)
		if err != nil {
			return nil, interfaces.NewStorageError("list keys", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) KeysByID(ctx context.Context, ids []string) (map[string]interfaces.Key, error) {
	out := make(map[string]interfaces.Key, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []keyRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("key_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, interfaces.NewStorageError("keys by id", err)
	}

	for _, r := range rows {
		k, err := r.toKey(s.sealer)
		if err != nil {
			return nil, interfaces.NewStorageError("keys by id", err)
		}
		out[k.ID] = k
	}
	return out, nil
}

func (s *Store) UnusedCount(ctx context.Context, sizeBits int) (int, error) {
	n, err := s.db.NewSelect().
		Model((*keyRow)(nil)).
		Where("used = ?", false).
		Where("size_bits = ?", sizeBits).
		Count(ctx)
	if err != nil {
		return 0, interfaces.NewStorageError("count unused", err)
	}
	return n, nil
}

// Pool returns the pool bookkeeping with CurrentSize counted live.
func (s *Store) Pool(ctx context.Context) (interfaces.KeyPool, error) {
	var row poolRow
	if err := s.db.NewSelect().Model(&row).Where("id = ?", poolRowID).Scan(ctx); err != nil {
		return interfaces.KeyPool{}, interfaces.NewStorageError("read pool", err)
	}

	pool := row.toPool()
	if pool.DefaultKeySizeBits > 0 {
		n, err := s.UnusedCount(ctx, pool.DefaultKeySizeBits)
		if err != nil {
			return interfaces.KeyPool{}, err
		}
		pool.CurrentSize = n
	}
	return pool, nil
}

// Sessions returns the ledger in allocation order.
func (s *Store) Sessions(ctx context.Context) ([]interfaces.Session, error) {
	var rows []sessionRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("seq ASC").Scan(ctx); err != nil {
		return nil, interfaces.NewStorageError("list sessions", err)
	}

	sessions := make([]interfaces.Session, 0, len(rows))
	for _, r := range rows {
		session, err := r.toSession()
		if err != nil {
			return nil, interfaces.NewStorageError("list sessions", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) Stats(ctx context.Context) (interfaces.LedgerStats, error) {
	var stats interfaces.LedgerStats
	var err error

	if stats.TotalKeys, err = s.db.NewSelect().Model((*keyRow)(nil)).Count(ctx); err != nil {
		return stats, interfaces.NewStorageError("stats", err)
	}
	if stats.UnusedKeys, err = s.db.NewSelect().Model((*keyRow)(nil)).Where("used = ?", false).Count(ctx); err != nil {
		return stats, interfaces.NewStorageError("stats", err)
	}
	stats.UsedKeys = stats.TotalKeys - stats.UnusedKeys
	if stats.ActiveSessions, err = s.db.NewSelect().Model((*sessionRow)(nil)).Where("active = ?", true).Count(ctx); err != nil {
		return stats, interfaces.NewStorageError("stats", err)
	}
	if stats.RegisteredSAEs, err = s.db.NewSelect().Model((*saeRow)(nil)).Count(ctx); err != nil {
		return stats, interfaces.NewStorageError("stats", err)
	}

	var row poolRow
	if err := s.db.NewSelect().Model(&row).Where("id = ?", poolRowID).Scan(ctx); err != nil {
		return stats, interfaces.NewStorageError("stats", err)
	}
	stats.LastRefillAt = row.LastRefillAt
	return stats, nil
}

// UpsertSAE records that id was seen with the given certificate. Concurrent
// first sightings of the same id converge on one row.
func (s *Store) UpsertSAE(ctx context.Context, id, subject, serial string, seen time.Time) (interfaces.SAEIdentity, error) {
	if id == "" {
		return interfaces.SAEIdentity{}, &interfaces.ValidationError{Field: "sae_id", Reason: "must not be empty"}
	}
	seen = seen.UTC()

	updated, err := s.touchSAE(ctx, id, subject, serial, seen)
	if err != nil {
		return interfaces.SAEIdentity{}, interfaces.NewStorageError("upsert sae", err)
	}

	if !updated {
		row := saeRow{
			SAEID:              id,
			CertificateSubject: subject,
			CertificateSerial:  serial,
			RegisteredAt:       seen,
			LastSeenAt:         seen,
			Active:             true,
		}
		if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
			// Lost a race with another first sighting.
			if _, retryErr := s.touchSAE(ctx, id, subject, serial, seen); retryErr != nil {
				return interfaces.SAEIdentity{}, interfaces.NewStorageError("upsert sae", errors.Join(err, retryErr))
			}
		}
	}

	var row saeRow
	if err := s.db.NewSelect().Model(&row).Where("sae_id = ?", id).Scan(ctx); err != nil {
		return interfaces.SAEIdentity{}, interfaces.NewStorageError("upsert sae", err)
	}
	return row.toIdentity(), nil
}

func (s *Store) touchSAE(ctx context.Context, id, subject, serial string, seen time.Time) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*saeRow)(nil)).
		Set("certificate_subject = ?", subject).
		Set("certificate_serial = ?", serial).
		Set("last_seen_at = ?", seen).
		Set("active = ?", true).
		Where("sae_id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SAEIdentities(ctx context.Context) ([]interfaces.SAEIdentity, error) {
	var rows []saeRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("registered_at ASC, sae_id ASC").Scan(ctx); err != nil {
		return nil, interfaces.NewStorageError("list sae", err)
	}

	out := make([]interfaces.SAEIdentity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toIdentity())
	}
	return out, nil
}
