// Package state implements the ledger's logical components on top of a
// kv.Store: the subspace store, diff log, historical reader, block writer,
// Merkle forest manager, replay protection store, rollback engine, and the
// offline overwrite/migration visitor. Like the reference pack's own
// core/state, it is one flat package with many files rather than a deep
// tree of sub-packages — the components share enough internal state
// (heights, the underlying kv.Store, the codec) that splitting them would
// just mean threading the same handful of fields through package
// boundaries.
package state

import "github.com/erigontech/ledgerstore/kv"

// BlockHeight is the monotone, 64-bit block counter. Height 0 is reserved;
// the first real block is FirstHeight.
type BlockHeight = uint64

// FirstHeight is the first real block height (§3: "first() is one above
// zero"), and the floor of the diff log's backward compaction walk.
const FirstHeight BlockHeight = 1

// Epoch is the monotone counter partitioning heights into epochs.
type Epoch = uint64

// ConversionState is the MASP-style conversion state singleton. Its
// internal shape is opaque to this engine; it round-trips through the
// canonical codec.
type ConversionState struct {
	Data []byte
}

// TxQueue holds the transactions queued for decryption in the next block.
type TxQueue struct {
	Entries [][]byte
}

// EthEventsQueue holds confirmed Ethereum events awaiting in-order
// processing.
type EthEventsQueue struct {
	Entries [][]byte
}

// BlockResults is the per-height outcome blob (success/failure per tx,
// gas used, events) recorded under BLOCK/results/{h}.
type BlockResults struct {
	Data []byte
}

// PredEpochs records, for a range of heights, which epoch each belonged
// to, so the rollback engine can answer "what epoch was height X in".
type PredEpochs struct {
	// Boundaries[i] is the first height of epoch i (Boundaries[0] is
	// FirstHeight's epoch, 0).
	Boundaries []BlockHeight
}

// GetEpoch returns the epoch that height h belonged to, per Boundaries.
func (p PredEpochs) GetEpoch(h BlockHeight) Epoch {
	epoch := Epoch(0)
	for i, boundary := range p.Boundaries {
		if h >= boundary {
			epoch = Epoch(i)
		} else {
			break
		}
	}
	return epoch
}

// AddressGen is the established-address generator's persisted counter
// state.
type AddressGen struct {
	Counter uint64
}

// MerkleStoreBlob is a store's encoded root and serialized tree store, the
// unit the Merkle Forest Manager persists and reconstructs.
type MerkleStoreBlob struct {
	Root  []byte
	Store []byte
}

// BlockStateWrite is everything an external block-applier assembles for
// one committed block (§4.6). FullCommit marks an epoch-boundary block:
// conversion_state and every subtree are rewritten only then.
type BlockStateWrite struct {
	Height     BlockHeight
	FullCommit bool

	NextEpochMinStartHeight BlockHeight
	NextEpochMinStartTime   int64
	UpdateEpochBlocksDelay  uint64
	TxQueue                 TxQueue
	ConversionState         ConversionState // written only when FullCommit

	EthereumHeight BlockHeight
	EthEventsQueue EthEventsQueue

	BaseTree MerkleStoreBlob
	Subtrees map[StoreType]MerkleStoreBlob // written only when FullCommit

	Hash       []byte
	Time       int64
	Epoch      Epoch
	PredEpochs PredEpochs
	AddressGen AddressGen
	Header     []byte // raw-serialized, optional (nil = absent)
	Results    BlockResults
}

// keyBytes is a tiny convenience so call sites read "kv key for this
// literal name" without repeating kv.ToDBKey everywhere.
func keyBytes(s string) []byte { return kv.ToDBKey(s) }

func predKey(name string) string { return "pred" + kv.Segsep + name }
