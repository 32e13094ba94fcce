package state

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

func newRollbackStack(t *testing.T) (*kv.Store, *Subspace, *DiffLog, *HistoryReader, *ReplayProtection, *Rollback) {
	t.Helper()
	db, subspace, diffs, history := newTestStack(t)
	replay := NewReplayProtection(db, zap.NewNop())
	rb := NewRollback(db, subspace, diffs, history, replay, zap.NewNop())
	return db, subspace, diffs, history, replay, rb
}

func setHeight(t *testing.T, db *kv.Store, h kv.BlockHeight) {
	t.Helper()
	require.NoError(t, db.PutCF(kv.STATE, keyBytes(kv.StateHeight), encodeUint(h)))
}

func TestRollbackRestoresOverwrittenDeletedAndAddedKeys(t *testing.T) {
	db, subspace, _, _, _, rb := newRollbackStack(t)

	// height 100: baseline state.
	b := kv.NewWriteBatch()
	_, err := subspace.Write(b, 100, "overwritten", []byte("v100"), true)
	require.NoError(t, err)
	_, err = subspace.Write(b, 100, "deleted", []byte("will-be-deleted"), true)
	require.NoError(t, err)
	require.NoError(t, db.Write(b))
	setHeight(t, db, 100)

	// height 101: overwrite one key, delete another, add a third.
	b2 := kv.NewWriteBatch()
	_, err = subspace.Write(b2, 101, "overwritten", []byte("v101"), true)
	require.NoError(t, err)
	_, err = subspace.Delete(b2, 101, "deleted", true)
	require.NoError(t, err)
	_, err = subspace.Write(b2, 101, "added", []byte("new-at-101"), true)
	require.NoError(t, err)
	require.NoError(t, db.Write(b2))
	setHeight(t, db, 101)

	require.NoError(t, rb.RollbackTo(100))

	v, err := subspace.Read("overwritten")
	require.NoError(t, err)
	require.Equal(t, []byte("v100"), v)

	v, err = subspace.Read("deleted")
	require.NoError(t, err)
	require.Equal(t, []byte("will-be-deleted"), v, "a key deleted at 101 must be restored by rollback")

	v, err = subspace.Read("added")
	require.NoError(t, err)
	require.Nil(t, v, "a key first created at 101 must not exist after rolling back past it")

	heightBytes, err := db.GetCF(kv.STATE, keyBytes(kv.StateHeight))
	require.NoError(t, err)
	require.Equal(t, uint64(100), decodeUint(heightBytes))
}

func TestRollbackIsIdempotentAtTarget(t *testing.T) {
	db, _, _, _, _, rb := newRollbackStack(t)
	setHeight(t, db, 50)
	require.NoError(t, rb.RollbackTo(50))

	heightBytes, err := db.GetCF(kv.STATE, keyBytes(kv.StateHeight))
	require.NoError(t, err)
	require.Equal(t, uint64(50), decodeUint(heightBytes))
}

func TestRollbackRejectsMultiStep(t *testing.T) {
	db, _, _, _, _, rb := newRollbackStack(t)
	setHeight(t, db, 50)
	err := rb.RollbackTo(48)
	require.Error(t, err)
	require.True(t, kv.Is(err, kv.KeyErr))
}

func TestRollbackPurgesHeightDiffsAndBlock(t *testing.T) {
	db, subspace, _, _, _, rb := newRollbackStack(t)

	setHeight(t, db, 9)
	b := kv.NewWriteBatch()
	_, err := subspace.Write(b, 10, "k", []byte("v"), true)
	require.NoError(t, err)
	b.Put(kv.BLOCK, kv.ToDBKey(kv.HeightPrefix(10)+kv.BlockHash), []byte("hash10"))
	require.NoError(t, db.Write(b))
	setHeight(t, db, 10)

	require.NoError(t, rb.RollbackTo(9))

	v, err := db.GetCF(kv.BLOCK, kv.ToDBKey(kv.HeightPrefix(10)+kv.BlockHash))
	require.NoError(t, err)
	require.Nil(t, v)

	oldKey, newKey := kv.OldAndNewDiffKey("k", 10)
	v, err = db.GetCF(kv.DIFFS, kv.ToDBKey(oldKey))
	require.NoError(t, err)
	require.Nil(t, v)
	v, err = db.GetCF(kv.DIFFS, kv.ToDBKey(newKey))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRollbackRotatesReplayBuffers(t *testing.T) {
	db, subspace, _, _, replay, rb := newRollbackStack(t)
	_ = subspace

	b := kv.NewWriteBatch()
	replay.Write(b, kv.ReplayLast, "tx-at-101")
	replay.Write(b, kv.ReplayBuffer, "tx-at-100")
	require.NoError(t, db.Write(b))
	setHeight(t, db, 101)

	require.NoError(t, rb.RollbackTo(100))

	seen, err := replay.HasEntry("tx-at-100")
	require.NoError(t, err)
	require.True(t, seen, "the buffered hash is promoted back to last")

	seen, err = replay.HasEntry("tx-at-101")
	require.NoError(t, err)
	require.False(t, seen, "last is cleared on rollback")
}
