package state

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/ledgerstore/kv"
)

// Rollback reverts the store by exactly one committed block (§4.9). It is
// deliberately restricted to a single step: every shadowed STATE key keeps
// only one level of pred/ history, so a second consecutive rollback would
// have nothing correct to restore from.
type Rollback struct {
	db       *kv.Store
	subspace *Subspace
	diffs    *DiffLog
	history  *HistoryReader
	replay   *ReplayProtection
	log      *zap.Logger
}

// NewRollback wires a Rollback over its component stores.
func NewRollback(db *kv.Store, subspace *Subspace, diffs *DiffLog, history *HistoryReader, replay *ReplayProtection, log *zap.Logger) *Rollback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rollback{db: db, subspace: subspace, diffs: diffs, history: history, replay: replay, log: log}
}

// RollbackTo reverts the store from its current height to target, which
// must be exactly one less than the current height. Calling it again with
// the same target it just reached is a no-op, so a crash-and-retry caller
// doesn't need to track whether the rollback already landed.
func (r *Rollback) RollbackTo(target kv.BlockHeight) error {
	currentBytes, err := r.db.GetCF(kv.STATE, keyBytes(kv.StateHeight))
	if err != nil {
		return err
	}
	if currentBytes == nil {
		return kv.Newf(kv.UnknownKeyErr, "rollback: no height recorded")
	}
	l := decodeUint(currentBytes)

	if target == l {
		r.log.Info("rollback: already at target height, no-op", zap.Uint64("height", l))
		return nil
	}
	if l == 0 || target != l-1 {
		return kv.Newf(kv.KeyErr, "rollback only supports a single step back: at %d, asked for %d", l, target)
	}

	batch := kv.NewWriteBatch()
	var mu sync.Mutex

	batch.Put(kv.STATE, keyBytes(kv.StateHeight), encodeUint(l-1))

	for _, name := range kv.ShadowedStateKeys {
		predVal, err := r.db.GetCF(kv.STATE, keyBytes(predKey(name)))
		if err != nil {
			return err
		}
		if predVal != nil {
			batch.Put(kv.STATE, keyBytes(name), predVal)
		}
	}

	if err := r.maybeRestoreConversionState(batch, l); err != nil {
		return err
	}

	batch.Delete(kv.BLOCK, kv.ToDBKey(kv.BlockResultsRoot+kv.Segsep+itoa(l)))

	if err := r.rotateReplayBuckets(batch); err != nil {
		return err
	}

	if err := r.restoreSubspace(batch, &mu, l); err != nil {
		return err
	}

	if err := r.restoreDeletedKeys(batch, &mu, l); err != nil {
		return err
	}

	if err := r.purgeHeight(batch, l); err != nil {
		return err
	}

	if err := r.db.Write(batch); err != nil {
		return err
	}
	r.subspace.cache.Purge()
	r.log.Info("rollback complete", zap.Uint64("from", l), zap.Uint64("to", l-1))
	return nil
}

// maybeRestoreConversionState restores pred/conversion_state only if l's
// epoch differs from the epoch l-1 belonged to — conversion_state only
// changes at epoch boundaries, so rolling back within the same epoch must
// leave it untouched.
func (r *Rollback) maybeRestoreConversionState(batch *kv.WriteBatch, l kv.BlockHeight) error {
	h := kv.HeightPrefix(l)
	epochBytes, err := r.db.GetCF(kv.BLOCK, kv.ToDBKey(h+kv.BlockEpoch))
	if err != nil {
		return err
	}
	predEpochsBytes, err := r.db.GetCF(kv.BLOCK, kv.ToDBKey(h+kv.BlockPredEpochs))
	if err != nil {
		return err
	}
	if epochBytes == nil || predEpochsBytes == nil {
		return nil
	}
	epochAtL := decodeUint(epochBytes)
	var predEpochs PredEpochs
	if err := Decode(predEpochsBytes, &predEpochs); err != nil {
		return err
	}
	if predEpochs.GetEpoch(l-1) == epochAtL {
		return nil
	}
	predConv, err := r.db.GetCF(kv.STATE, keyBytes(predKey(kv.StateConversionState)))
	if err != nil {
		return err
	}
	if predConv != nil {
		batch.Put(kv.STATE, keyBytes(kv.StateConversionState), predConv)
	}
	return nil
}

// rotateReplayBuckets clears last, promotes buffer into last (clearing any
// matching all entry so a promoted hash isn't simultaneously "seen
// forever" and "this block"), and leaves buffer empty — the block that
// used to be "two blocks ago" is now the most recent block again.
func (r *Rollback) rotateReplayBuckets(batch *kv.WriteBatch) error {
	if err := r.db.IteratePrefix(kv.REPLAY, []byte(kv.ReplayLast+kv.Segsep), func(key, _ []byte) (bool, error) {
		batch.Delete(kv.REPLAY, append([]byte(nil), key...))
		return true, nil
	}); err != nil {
		return err
	}

	bufferPrefix := []byte(kv.ReplayBuffer + kv.Segsep)
	var promoted []string
	if err := r.db.IteratePrefix(kv.REPLAY, bufferPrefix, func(key, _ []byte) (bool, error) {
		hash := string(key[len(bufferPrefix):])
		promoted = append(promoted, hash)
		return true, nil
	}); err != nil {
		return err
	}
	for _, hash := range promoted {
		batch.Put(kv.REPLAY, kv.ToDBKey(kv.ReplayKey(kv.ReplayLast, hash)), []byte{1})
		batch.Delete(kv.REPLAY, kv.ToDBKey(kv.ReplayKey(kv.ReplayBuffer, hash)))
		batch.Delete(kv.REPLAY, kv.ToDBKey(kv.ReplayKey(kv.ReplayAll, hash)))
	}
	return nil
}

// restoreSubspace recomputes every currently-live subspace key's value as
// of l-1 and stages the result. Reads fan out concurrently via an
// errgroup; every read observes the store as it stood before this
// rollback, since nothing staged here is applied until the final Write, so
// concurrent staging order has no effect on correctness.
func (r *Rollback) restoreSubspace(batch *kv.WriteBatch, mu *sync.Mutex, l kv.BlockHeight) error {
	var keys []string
	if err := r.db.IteratePrefix(kv.SUBSPACE, nil, func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	}); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(16)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			val, err := r.history.ReadAt(key, l-1, l)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if val == nil {
				batch.Delete(kv.SUBSPACE, kv.ToDBKey(key))
			} else {
				batch.Put(kv.SUBSPACE, kv.ToDBKey(key), val)
			}
			return nil
		})
	}
	return g.Wait()
}

// restoreDeletedKeys recovers subspace keys that were deleted during block
// l: those keys are already absent from the live iteration restoreSubspace
// performs, so they'd otherwise be missed entirely. Every key with an
// "old" diff entry at l is restored to that old value unconditionally —
// for a key that was merely overwritten (not deleted) at l, old@l already
// equals its correct l-1 value, so the restore is a harmless repeat of
// what restoreSubspace just staged.
func (r *Rollback) restoreDeletedKeys(batch *kv.WriteBatch, mu *sync.Mutex, l kv.BlockHeight) error {
	prefix := []byte(itoa(l) + kv.Segsep + "old" + kv.Segsep)
	return r.db.IteratePrefix(kv.DIFFS, prefix, func(key, value []byte) (bool, error) {
		subspaceKey := key[len(prefix):]
		mu.Lock()
		batch.Put(kv.SUBSPACE, append([]byte(nil), subspaceKey...), append([]byte(nil), value...))
		mu.Unlock()
		return true, nil
	})
}

// purgeHeight deletes every DIFFS and BLOCK entry recorded for height l,
// since l is no longer part of the chain after this rollback lands.
func (r *Rollback) purgeHeight(batch *kv.WriteBatch, l kv.BlockHeight) error {
	prefix := []byte(kv.HeightPrefix(l))
	for _, cf := range []kv.CF{kv.DIFFS, kv.BLOCK} {
		if err := r.db.IteratePrefix(cf, prefix, func(key, _ []byte) (bool, error) {
			batch.Delete(cf, append([]byte(nil), key...))
			return true, nil
		}); err != nil {
			return err
		}
	}
	return nil
}
