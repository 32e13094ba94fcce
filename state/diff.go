package state

import (
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// DiffLog records, for every subspace mutation, the value a key had before
// and after the height it changed at, so HistoryReader and Rollback can
// reconstruct any earlier state (§4.4). When persistDiffs is false for a
// write, the previous diff entry for that key becomes unreachable as soon
// as the write lands (nothing can roll back past it anymore) and is
// compacted away eagerly rather than left to accumulate forever.
type DiffLog struct {
	db  *kv.Store
	log *zap.Logger
}

// NewDiffLog wires a DiffLog over db.
func NewDiffLog(db *kv.Store, log *zap.Logger) *DiffLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &DiffLog{db: db, log: log}
}

// RecordWrite stages the diff entries for a write of key at height h: the
// new value always, the old value if one existed. persist=false triggers
// compaction of the now-unreachable prior diff entry.
func (d *DiffLog) RecordWrite(b *kv.WriteBatch, h kv.BlockHeight, key string, old, new []byte, persist bool) error {
	oldKey, newKey := kv.OldAndNewDiffKey(key, h)
	b.Put(kv.DIFFS, kv.ToDBKey(newKey), new)
	if old != nil {
		b.Put(kv.DIFFS, kv.ToDBKey(oldKey), old)
	}
	if !persist {
		return d.compactPrior(b, h, key)
	}
	return nil
}

// RecordDelete stages the diff entry for a deletion of key at height h: the
// old value only (there is no "new" side to a delete). A no-op if old is
// nil, since there's nothing to recover.
func (d *DiffLog) RecordDelete(b *kv.WriteBatch, h kv.BlockHeight, key string, old []byte, persist bool) error {
	if old == nil {
		return nil
	}
	oldKey, _ := kv.OldAndNewDiffKey(key, h)
	b.Put(kv.DIFFS, kv.ToDBKey(oldKey), old)
	if !persist {
		return d.compactPrior(b, h, key)
	}
	return nil
}

// compactPrior walks backward from h-1 to FirstHeight looking for the
// nearest earlier height at which key has a diff entry, and stages the
// removal of both sides of that height's pair. This write's own old@h
// already captures the value that height held, so nothing can ever need
// to roll back past it; anything further back than the nearest prior
// height was already removed when that height's write landed.
func (d *DiffLog) compactPrior(b *kv.WriteBatch, h kv.BlockHeight, key string) error {
	if h <= FirstHeight {
		return nil
	}
	for height := h - 1; height >= FirstHeight; height-- {
		oldKey, newKey := kv.OldAndNewDiffKey(key, height)
		oldVal, err := d.db.GetCF(kv.DIFFS, kv.ToDBKey(oldKey))
		if err != nil {
			return err
		}
		newVal, err := d.db.GetCF(kv.DIFFS, kv.ToDBKey(newKey))
		if err != nil {
			return err
		}
		if oldVal != nil || newVal != nil {
			if oldVal != nil {
				b.Delete(kv.DIFFS, kv.ToDBKey(oldKey))
			}
			if newVal != nil {
				b.Delete(kv.DIFFS, kv.ToDBKey(newKey))
			}
			return nil
		}
		if height == FirstHeight {
			break
		}
	}
	return nil
}
