package state

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// TestScenarioWriteThenReadLastBlock covers concrete scenario 1: a write at
// h=0 committed as a default block is readable live, and the block's hash
// is stored under BLOCK/{0}/hash.
func TestScenarioWriteThenReadLastBlock(t *testing.T) {
	db, subspace, _, _ := newTestStack(t)
	merkle := NewMerkleForest(db, zap.NewNop())
	writer := NewBlockWriter(db, merkle, zap.NewNop())

	b := kv.NewWriteBatch()
	_, err := subspace.Write(b, 0, "test", []byte{1, 1, 1, 1}, true)
	require.NoError(t, err)
	require.NoError(t, writer.Stage(b, BlockStateWrite{Height: 0, Hash: []byte("genesis")}))
	require.NoError(t, db.Write(b))

	v, err := subspace.Read("test")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1}, v)

	hash, err := db.GetCF(kv.BLOCK, kv.ToDBKey(kv.HeightPrefix(0)+kv.BlockHash))
	require.NoError(t, err)
	require.Equal(t, []byte("genesis"), hash)
}

// TestScenarioHistoricalRoundTripThenDelete covers concrete scenario 2.
func TestScenarioHistoricalRoundTripThenDelete(t *testing.T) {
	db, subspace, _, history := newTestStack(t)

	b := kv.NewWriteBatch()
	_, err := subspace.Write(b, 100, "batch", []byte{1, 1, 1, 1}, true)
	require.NoError(t, err)
	require.NoError(t, db.Write(b))

	b2 := kv.NewWriteBatch()
	_, err = subspace.Write(b2, 111, "batch", []byte{2, 2, 2, 2}, true)
	require.NoError(t, err)
	require.NoError(t, db.Write(b2))

	v, err := history.ReadAt("batch", 100, 111)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1}, v)

	v, err = history.ReadAt("batch", 111, 111)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 2, 2, 2}, v)

	v, err = subspace.Read("batch")
	require.NoError(t, err)
	require.Equal(t, []byte{2, 2, 2, 2}, v)

	b3 := kv.NewWriteBatch()
	_, err = subspace.Delete(b3, 222, "batch", true)
	require.NoError(t, err)
	require.NoError(t, db.Write(b3))

	v, err = history.ReadAt("batch", 100, 222)
	require.NoError(t, err)
	require.Nil(t, v)
	v, err = history.ReadAt("batch", 111, 222)
	require.NoError(t, err)
	require.Nil(t, v)
	v, err = subspace.Read("batch")
	require.NoError(t, err)
	require.Nil(t, v)
}

// TestScenarioPrefixIterationSegmentBoundaries covers concrete scenario 3
// and invariant P6.
func TestScenarioPrefixIterationSegmentBoundaries(t *testing.T) {
	db := openTestDB(t)
	all := []string{"0/a", "0/b", "0/c", "01/a", "1/a", "1/b", "1/c"}
	for _, k := range all {
		require.NoError(t, db.PutCF(kv.SUBSPACE, kv.ToDBKey(k), []byte("v")))
	}

	var zero []string
	require.NoError(t, db.IteratePrefix(kv.SUBSPACE, []byte("0"+kv.Segsep), func(k, _ []byte) (bool, error) {
		zero = append(zero, string(k))
		return true, nil
	}))
	require.ElementsMatch(t, []string{"0/a", "0/b", "0/c"}, zero)

	var one []string
	require.NoError(t, db.IteratePrefix(kv.SUBSPACE, []byte("1"+kv.Segsep), func(k, _ []byte) (bool, error) {
		one = append(one, string(k))
		return true, nil
	}))
	require.ElementsMatch(t, []string{"1/a", "1/b", "1/c"}, one)

	var everything []string
	require.NoError(t, db.IteratePrefix(kv.SUBSPACE, nil, func(k, _ []byte) (bool, error) {
		everything = append(everything, string(k))
		return true, nil
	}))
	require.Len(t, everything, 7)
	for i := 1; i < len(everything); i++ {
		require.Less(t, everything[i-1], everything[i], "iter_prefix(None) yields all keys in lexicographic order")
	}
}

// TestScenarioRollbackWorkedExample covers concrete scenario 4: the full
// overwrite/delete/add/replay worked example from the testable-properties
// section, P4.
func TestScenarioRollbackWorkedExample(t *testing.T) {
	db, subspace, _, _, replay, rb := newRollbackStack(t)

	b := kv.NewWriteBatch()
	_, err := subspace.Write(b, 100, "overwrite", []byte{1, 1, 1, 0}, true)
	require.NoError(t, err)
	_, err = subspace.Write(b, 100, "delete", []byte{1, 1, 0, 0}, true)
	require.NoError(t, err)
	replay.Write(b, kv.ReplayLast, "tx3")
	replay.Write(b, kv.ReplayLast, "tx4")
	replay.Write(b, kv.ReplayAll, "tx1")
	replay.Write(b, kv.ReplayAll, "tx2")
	replay.Write(b, kv.ReplayBuffer, "tx1")
	replay.Write(b, kv.ReplayBuffer, "tx2")
	require.NoError(t, db.Write(b))
	setHeight(t, db, 100)

	b2 := kv.NewWriteBatch()
	_, err = subspace.Write(b2, 101, "add", []byte{1, 0, 0, 0}, true)
	require.NoError(t, err)
	_, err = subspace.Write(b2, 101, "overwrite", []byte{1, 1, 1, 1}, true)
	require.NoError(t, err)
	_, err = subspace.Delete(b2, 101, "delete", true)
	require.NoError(t, err)
	replay.Delete(b2, kv.ReplayBuffer, "tx1")
	replay.Delete(b2, kv.ReplayBuffer, "tx2")
	replay.Write(b2, kv.ReplayAll, "tx3")
	replay.Delete(b2, kv.ReplayLast, "tx3")
	replay.Delete(b2, kv.ReplayLast, "tx4")
	replay.Write(b2, kv.ReplayBuffer, "tx4")
	replay.Write(b2, kv.ReplayLast, "tx5")
	replay.Write(b2, kv.ReplayLast, "tx6")
	require.NoError(t, db.Write(b2))
	setHeight(t, db, 101)

	require.NoError(t, rb.RollbackTo(100))

	v, err := subspace.Read("overwrite")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 0}, v)

	v, err = subspace.Read("add")
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = subspace.Read("delete")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 0, 0}, v)

	for _, tx := range []string{"tx1", "tx2", "tx3", "tx4"} {
		seen, err := replay.HasEntry(tx)
		require.NoError(t, err)
		require.True(t, seen, "tx %s must remain findable after rollback", tx)
	}
	for _, tx := range []string{"tx5", "tx6"} {
		seen, err := replay.HasEntry(tx)
		require.NoError(t, err)
		require.False(t, seen, "tx %s was only ever recorded at height 101", tx)
	}
}

// TestScenarioSameHeightDoubleWriteEmitsOnePair covers concrete scenario 5.
func TestScenarioSameHeightDoubleWriteEmitsOnePair(t *testing.T) {
	db, subspace, _, _ := newTestStack(t)

	b := kv.NewWriteBatch()
	_, err := subspace.Write(b, 5, "k", []byte("first"), true)
	require.NoError(t, err)
	subspace.cache.Remove("k")
	_, err = subspace.Write(b, 5, "k", []byte("second"), true)
	require.NoError(t, err)
	require.NoError(t, db.Write(b))

	v, err := subspace.Read("k")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), v)

	_, newKey := kv.OldAndNewDiffKey("k", 5)
	diffVal, err := db.GetCF(kv.DIFFS, kv.ToDBKey(newKey))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), diffVal, "only the last write's new value is what lands at this height")
}

// TestScenarioNonPersistedCompactionChain covers concrete scenario 6 and
// invariant P3.
func TestScenarioNonPersistedCompactionChain(t *testing.T) {
	db, subspace, _, _ := newTestStack(t)

	b1 := kv.NewWriteBatch()
	_, err := subspace.Write(b1, 1, "k", []byte("v1"), false)
	require.NoError(t, err)
	require.NoError(t, db.Write(b1))

	b2 := kv.NewWriteBatch()
	_, err = subspace.Write(b2, 10, "k", []byte("v10"), false)
	require.NoError(t, err)
	require.NoError(t, db.Write(b2))

	b3 := kv.NewWriteBatch()
	_, err = subspace.Write(b3, 20, "k", []byte("v20"), false)
	require.NoError(t, err)
	require.NoError(t, db.Write(b3))

	remaining := countDiffEntries(t, db, "k")
	require.Len(t, remaining, 2, "h=1 entries were removed when h=10 committed, h=10 entries were removed when h=20 committed")
	require.Contains(t, remaining, mustDiffKey("k", 20, "new"))
	require.Contains(t, remaining, mustDiffKey("k", 20, "old"))
}

func countDiffEntries(t *testing.T, db *kv.Store, key string) []string {
	t.Helper()
	var found []string
	require.NoError(t, db.IteratePrefix(kv.DIFFS, nil, func(k, _ []byte) (bool, error) {
		found = append(found, string(k))
		return true, nil
	}))
	return found
}

func mustDiffKey(key string, h kv.BlockHeight, which string) string {
	oldKey, newKey := kv.OldAndNewDiffKey(key, h)
	if which == "old" {
		return oldKey
	}
	return newKey
}
