package state

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

func TestReplayProtectionHasEntryIgnoresBuffer(t *testing.T) {
	db := openTestDB(t)
	replay := NewReplayProtection(db, zap.NewNop())

	b := kv.NewWriteBatch()
	replay.Write(b, kv.ReplayBuffer, "deadbeef")
	require.NoError(t, db.Write(b))

	seen, err := replay.HasEntry("deadbeef")
	require.NoError(t, err)
	require.False(t, seen, "a hash only in buffer is not yet considered seen")

	b2 := kv.NewWriteBatch()
	replay.Write(b2, kv.ReplayLast, "cafebabe")
	require.NoError(t, db.Write(b2))
	seen, err = replay.HasEntry("cafebabe")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestReplayProtectionPruneBuffer(t *testing.T) {
	db := openTestDB(t)
	replay := NewReplayProtection(db, zap.NewNop())

	b := kv.NewWriteBatch()
	replay.Write(b, kv.ReplayBuffer, "aa")
	replay.Write(b, kv.ReplayBuffer, "bb")
	require.NoError(t, db.Write(b))

	b2 := kv.NewWriteBatch()
	require.NoError(t, replay.PruneBuffer(b2))
	require.NoError(t, db.Write(b2))

	var seen []string
	require.NoError(t, replay.IterBuffer(func(hash string) (bool, error) {
		seen = append(seen, hash)
		return true, nil
	}))
	require.Empty(t, seen)
}
