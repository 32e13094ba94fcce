package state

import (
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// BlockWriter stages one committed block's state into a single batch. The
// batch is applied atomically by kv.Store.Write, so a crash between Stage
// and the batch's commit never leaves the store internally inconsistent
// (§4.6).
type BlockWriter struct {
	db     *kv.Store
	merkle *MerkleForest
	log    *zap.Logger
}

// NewBlockWriter wires a BlockWriter over db and merkle.
func NewBlockWriter(db *kv.Store, merkle *MerkleForest, log *zap.Logger) *BlockWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &BlockWriter{db: db, merkle: merkle, log: log}
}

// Stage assembles w into b. The seven steps run in a fixed order:
//
//  1. shadow-copy and rewrite the four always-shadowed STATE keys
//  2. shadow-copy and rewrite conversion_state, only on a full commit
//  3. rewrite the Ethereum bridge pair unconditionally, never shadowed
//  4. write the base tree always; write every subtree only on full commit
//  5. write the block-scoped height-prefixed fields and optional header
//  6. write the block's results
//  7. advance STATE["height"]
//
// The order has no effect on what readers observe: the batch lands in one
// transaction, so no partial block is ever visible.
func (w *BlockWriter) Stage(b *kv.WriteBatch, write BlockStateWrite) error {
	if err := w.shadowAndRewrite(b, kv.StateNextEpochMinStartHeight, encodeUint(write.NextEpochMinStartHeight)); err != nil {
		return err
	}
	if err := w.shadowAndRewrite(b, kv.StateNextEpochMinStartTime, encodeInt(write.NextEpochMinStartTime)); err != nil {
		return err
	}
	if err := w.shadowAndRewrite(b, kv.StateUpdateEpochBlocksDelay, encodeUint(write.UpdateEpochBlocksDelay)); err != nil {
		return err
	}
	txQueueBytes, err := Encode(write.TxQueue)
	if err != nil {
		return err
	}
	if err := w.shadowAndRewrite(b, kv.StateTxQueue, txQueueBytes); err != nil {
		return err
	}

	if write.FullCommit {
		convBytes, err := Encode(write.ConversionState)
		if err != nil {
			return err
		}
		if err := w.shadowAndRewrite(b, kv.StateConversionState, convBytes); err != nil {
			return err
		}
	}

	b.Put(kv.STATE, keyBytes(kv.StateEthereumHeight), encodeUint(write.EthereumHeight))
	ethQueueBytes, err := Encode(write.EthEventsQueue)
	if err != nil {
		return err
	}
	b.Put(kv.STATE, keyBytes(kv.StateEthEventsQueue), ethQueueBytes)

	w.merkle.WriteBaseTree(b, write.Height, write.BaseTree)
	if write.FullCommit {
		w.merkle.WriteSubtrees(b, write.Epoch, write.Subtrees)
	}

	h := kv.HeightPrefix(write.Height)
	b.Put(kv.BLOCK, kv.ToDBKey(h+kv.BlockHash), write.Hash)
	b.Put(kv.BLOCK, kv.ToDBKey(h+kv.BlockTime), encodeInt(write.Time))
	b.Put(kv.BLOCK, kv.ToDBKey(h+kv.BlockEpoch), encodeUint(write.Epoch))
	predEpochsBytes, err := Encode(write.PredEpochs)
	if err != nil {
		return err
	}
	b.Put(kv.BLOCK, kv.ToDBKey(h+kv.BlockPredEpochs), predEpochsBytes)
	addrGenBytes, err := Encode(write.AddressGen)
	if err != nil {
		return err
	}
	b.Put(kv.BLOCK, kv.ToDBKey(h+kv.BlockAddressGen), addrGenBytes)
	if write.Header != nil {
		b.Put(kv.BLOCK, kv.ToDBKey(h+kv.BlockHeader), write.Header)
	}

	resultsBytes, err := Encode(write.Results)
	if err != nil {
		return err
	}
	b.Put(kv.BLOCK, kv.ToDBKey(kv.BlockResultsRoot+kv.Segsep+itoa(write.Height)), resultsBytes)

	b.Put(kv.STATE, keyBytes(kv.StateHeight), encodeUint(write.Height))
	return nil
}

// shadowAndRewrite reads name's current value, writes it to pred/{name},
// then writes newValue to name — the "shadow then rewrite" pattern every
// shadowed STATE key follows so Rollback has exactly one level of history
// to restore from.
func (w *BlockWriter) shadowAndRewrite(b *kv.WriteBatch, name string, newValue []byte) error {
	current, err := w.db.GetCF(kv.STATE, keyBytes(name))
	if err != nil {
		return err
	}
	if current != nil {
		b.Put(kv.STATE, keyBytes(predKey(name)), current)
	}
	b.Put(kv.STATE, keyBytes(name), newValue)
	return nil
}
