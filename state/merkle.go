package state

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// epochEntry is the in-memory epoch index's element: the lowest height at
// which each epoch's subtrees were last written. It's derived, cache-only
// data, never persisted on its own (it's reconstructible by scanning BLOCK
// at startup); the reference pack takes the same stance on its in-memory
// bucket indexes.
type epochEntry struct {
	Epoch      kv.Epoch
	BaseHeight kv.BlockHeight
}

func epochEntryLess(a, b epochEntry) bool { return a.Epoch < b.Epoch }

// MerkleForest persists the base tree (one per height) and the per-store
// subtrees (one per epoch), and tracks which epochs have been pruned so a
// repeated Prune call is a cheap no-op rather than a second set of
// deletes (§4.7).
type MerkleForest struct {
	db  *kv.Store
	log *zap.Logger

	prunedEpochs *roaring.Bitmap
	epochIndex   *btree.BTreeG[epochEntry]
	metrics      *metrics
}

// NewMerkleForest wires a MerkleForest over db.
func NewMerkleForest(db *kv.Store, log *zap.Logger) *MerkleForest {
	if log == nil {
		log = zap.NewNop()
	}
	return &MerkleForest{
		db:           db,
		log:          log,
		prunedEpochs: roaring.New(),
		epochIndex:   btree.NewBTreeG(epochEntryLess),
	}
}

// setMetrics attaches the shared metrics set built by state.Open; left nil
// (the zero value) for tests that construct a MerkleForest directly.
func (m *MerkleForest) setMetrics(ms *metrics) { m.metrics = ms }

// WriteBaseTree stages the base tree's root and store at height h.
func (m *MerkleForest) WriteBaseTree(b *kv.WriteBatch, h kv.BlockHeight, blob MerkleStoreBlob) {
	prefix := kv.BaseTreePrefix(h)
	b.Put(kv.BLOCK, kv.ToDBKey(prefix+"root"), blob.Root)
	b.Put(kv.BLOCK, kv.ToDBKey(prefix+"store"), blob.Store)
}

// WriteSubtrees stages every subtree in subtrees at epoch. It does not
// update the in-memory epoch index; IndexEpoch does that.
func (m *MerkleForest) WriteSubtrees(b *kv.WriteBatch, epoch kv.Epoch, subtrees map[StoreType]MerkleStoreBlob) {
	for _, st := range SubtreeTypes {
		blob, ok := subtrees[st]
		if !ok {
			continue
		}
		prefix := kv.SubtreePrefix(st.String(), epoch)
		b.Put(kv.BLOCK, kv.ToDBKey(prefix+"root"), blob.Root)
		b.Put(kv.BLOCK, kv.ToDBKey(prefix+"store"), blob.Store)
	}
}

// IndexEpoch records baseHeight as epoch's subtree height in the in-memory
// index. The index is in-memory only, and no read path in this package
// consults it.
func (m *MerkleForest) IndexEpoch(epoch kv.Epoch, baseHeight kv.BlockHeight) {
	m.epochIndex.Set(epochEntry{Epoch: epoch, BaseHeight: baseHeight})
}

// Prune stages the deletion of storeType's subtree at epoch, unless it was
// already pruned, in which case it's a no-op (§4.7: pruning the same
// epoch/store pair twice must not error).
func (m *MerkleForest) Prune(b *kv.WriteBatch, storeType StoreType, epoch kv.Epoch) error {
	bit := pruneBit(storeType, epoch)
	if m.prunedEpochs.Contains(bit) {
		return nil
	}
	prefix := kv.SubtreePrefix(storeType.String(), epoch)
	b.Delete(kv.BLOCK, kv.ToDBKey(prefix+"root"))
	b.Delete(kv.BLOCK, kv.ToDBKey(prefix+"store"))
	m.prunedEpochs.Add(bit)
	if m.metrics != nil {
		m.metrics.pruneCount.Inc()
	}
	return nil
}

// pruneBit packs a (storeType, epoch) pair into one uint32 bitmap slot.
// Reserving 4 bits for storeType caps the forest at 16 distinct store
// types, comfortably above SubtreeTypes' current length; epoch is assumed
// to fit in 28 bits, which at one epoch per day is good for roughly 700000
// years of chain lifetime.
func pruneBit(st StoreType, epoch kv.Epoch) uint32 {
	return uint32(st)<<28 | uint32(epoch&0x0fffffff)
}

// ReadStores reconstructs the base tree and every subtree available at
// epoch/baseHeight. A store missing from the underlying data (pruned or
// never written) is simply absent from the returned map rather than
// failing the whole call (§4.7: "any missing store returns None"). If only
// is non-nil, just that one subtree is read; the base tree is read either
// way.
func (m *MerkleForest) ReadStores(epoch kv.Epoch, baseHeight kv.BlockHeight, only *StoreType) (map[StoreType]MerkleStoreBlob, error) {
	out := make(map[StoreType]MerkleStoreBlob)

	basePrefix := kv.BaseTreePrefix(baseHeight)
	root, err := m.db.GetCF(kv.BLOCK, kv.ToDBKey(basePrefix+"root"))
	if err != nil {
		return nil, err
	}
	store, err := m.db.GetCF(kv.BLOCK, kv.ToDBKey(basePrefix+"store"))
	if err != nil {
		return nil, err
	}
	if root != nil && store != nil {
		out[StoreBase] = MerkleStoreBlob{Root: root, Store: store}
	}

	types := SubtreeTypes
	if only != nil {
		types = []StoreType{*only}
	}
	for _, st := range types {
		prefix := kv.SubtreePrefix(st.String(), epoch)
		root, err := m.db.GetCF(kv.BLOCK, kv.ToDBKey(prefix+"root"))
		if err != nil {
			return nil, err
		}
		store, err := m.db.GetCF(kv.BLOCK, kv.ToDBKey(prefix+"store"))
		if err != nil {
			return nil, err
		}
		if root == nil || store == nil {
			continue
		}
		out[st] = MerkleStoreBlob{Root: root, Store: store}
	}
	return out, nil
}
