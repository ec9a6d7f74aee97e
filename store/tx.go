package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/uptrace/bun"
)

// insertBatchSize bounds the size of a single multi-row INSERT.
const insertBatchSize = 500

// storeTx implements interfaces.KeyStoreTx on top of a bun transaction.
// It never touches the parent *bun.DB: an in-memory sqlite store has a
// single connection, held by the transaction.
type storeTx struct {
	tx     bun.Tx
	sealer *cryptoutils.Sealer
	locked bool
}

var _ interfaces.KeyStoreTx = (*storeTx)(nil)

func (t *storeTx) LockPool(ctx context.Context) (interfaces.KeyPool, error) {
	// A write to the singleton row takes the database writer lock (sqlite)
	// or the row lock (postgres, mysql) for the rest of the transaction.
	_, err := t.tx.NewUpdate().
		Model((*poolRow)(nil)).
		Set("revision = revision + 1").
		Where("id = ?", poolRowID).
		Exec(ctx)
	if err != nil {
		return interfaces.KeyPool{}, interfaces.NewStorageError("lock pool", err)
	}
	t.locked = true

	var row poolRow
	if err := t.tx.NewSelect().Model(&row).Where("id = ?", poolRowID).Scan(ctx); err != nil {
		return interfaces.KeyPool{}, interfaces.NewStorageError("read pool", err)
	}

	pool := row.toPool()
	if pool.DefaultKeySizeBits > 0 {
		pool.CurrentSize, err = t.UnusedCount(ctx, pool.DefaultKeySizeBits)
		if err != nil {
			return interfaces.KeyPool{}, err
		}
	}
	return pool, nil
}

func (t *storeTx) SavePool(ctx context.Context, pool interfaces.KeyPool) error {
	_, err := t.tx.NewUpdate().
		Model((*poolRow)(nil)).
		Set("max_size = ?", pool.MaxSize).
		Set("key_size_bits = ?", pool.DefaultKeySizeBits).
		Set("refill_threshold = ?", pool.RefillThreshold).
		Set("current_size = ?", pool.CurrentSize).
		Set("last_refill_at = ?", pool.LastRefillAt).
		Where("id = ?", poolRowID).
		Exec(ctx)
	return interfaces.NewStorageError("save pool", err)
}

func (t *storeTx) UnusedCount(ctx context.Context, sizeBits int) (int, error) {
	n, err := t.tx.NewSelect().
		Model((*keyRow)(nil)).
		Where("used = ?", false).
		Where("size_bits = ?", sizeBits).
		Count(ctx)
	if err != nil {
		return 0, interfaces.NewStorageError("count unused", err)
	}
	return n, nil
}

func (t *storeTx) Append(ctx context.Context, keys []interfaces.Key) error {
	if len(keys) == 0 {
		return nil
	}
	if !t.locked {
		return interfaces.NewStorageError("append", fmt.Errorf("pool lock not held"))
	}

	seq, err := t.nextSeq(ctx, (*keyRow)(nil))
	if err != nil {
		return interfaces.NewStorageError("append", err)
	}

	rows := make([]keyRow, 0, len(keys))
	for i, k := range keys {
		row, err := newKeyRow(k, seq+int64(i), t.sealer)
		if err != nil {
			return interfaces.NewStorageError("append", err)
		}
		rows = append(rows, row)
	}

	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		batch := rows[start:end]
		if _, err := t.tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return interfaces.NewStorageError("append", err)
		}
	}
	return nil
}

func (t *storeTx) SelectUnused(ctx context.Context, sizeBits, limit int) ([]interfaces.Key, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []keyRow
	err := t.tx.NewSelect().
		Model(&rows).
		Where("used = ?", false).
		Where("size_bits = ?", sizeBits).
		OrderExpr("seq ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, interfaces.NewStorageError("select unused", err)
	}

	keys := make([]interfaces.Key, 0, len(rows))
	for _, r := range rows {
		k, err := r.toKey(t.sealer)
		if err != nil {
			return nil, interfaces.NewStorageError("select unused", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (t *storeTx) Bind(ctx context.Context, keyIDs []string, masterID string, slaveIDs []string) error {
	if len(keyIDs) == 0 {
		return nil
	}

	slaves, err := encodeIDs(slaveIDs)
	if err != nil {
		return interfaces.NewStorageError("bind", err)
	}

	res, err := t.tx.NewUpdate().
		Model((*keyRow)(nil)).
		Set("used = ?", true).
		Set("master_id = ?", masterID).
		Set("slave_ids = ?", slaves).
		Where("key_id IN (?)", bun.In(keyIDs)).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return interfaces.NewStorageError("bind", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return interfaces.NewStorageError("bind", err)
	}
	if int(n) != len(keyIDs) {
		return interfaces.NewStorageError("bind", fmt.Errorf("%w: bound %d of %d keys", interfaces.ErrConflict, n, len(keyIDs)))
	}
	return nil
}

func (t *storeTx) RecordSession(ctx context.Context, session interfaces.Session) error {
	if !t.locked {
		return interfaces.NewStorageError("record session", fmt.Errorf("pool lock not held"))
	}

	seq, err := t.nextSeq(ctx, (*sessionRow)(nil))
	if err != nil {
		return interfaces.NewStorageError("record session", err)
	}

	row, err := newSessionRow(session, seq)
	if err != nil {
		return interfaces.NewStorageError("record session", err)
	}

	if _, err := t.tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return interfaces.NewStorageError("record session", err)
	}
	return nil
}

// nextSeq returns the next insertion sequence number of model's table.
// Callers hold the pool lock, so no other writer can interleave.
func (t *storeTx) nextSeq(ctx context.Context, model any) (int64, error) {
	var maxSeq sql.NullInt64
	err := t.tx.NewSelect().
		Model(model).
		ColumnExpr("MAX(seq)").
		Scan(ctx, &maxSeq)
	if err != nil {
		return 0, err
	}
	return maxSeq.Int64 + 1, nil
}
