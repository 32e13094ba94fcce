package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// DB composes every logical component over a single kv.Store into the
// surface a block-applier or consensus driver actually calls. It owns the
// shared logger and metrics registry; nothing below this layer reaches
// out to Prometheus directly.
type DB struct {
	Store    *kv.Store
	Subspace *Subspace
	Diffs    *DiffLog
	History  *HistoryReader
	Writer   *BlockWriter
	Merkle   *MerkleForest
	Replay   *ReplayProtection
	Rollback *Rollback
	Migrate  *Migrate
	Dump     *Dump

	log     *zap.Logger
	metrics *metrics
}

type metrics struct {
	height          prometheus.Gauge
	epoch           prometheus.Gauge
	rollbackCount   prometheus.Counter
	pruneCount      prometheus.Counter
	subspaceWriteSz prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgerstore", Name: "height", Help: "current committed block height",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgerstore", Name: "epoch", Help: "epoch of the current committed block height",
		}),
		rollbackCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerstore", Name: "rollbacks_total", Help: "number of single-step rollbacks performed",
		}),
		pruneCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerstore", Name: "merkle_prunes_total", Help: "number of Merkle subtree prunes performed",
		}),
		subspaceWriteSz: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerstore", Name: "subspace_write_bytes", Help: "byte size of subspace write/delete payloads",
			Buckets: prometheus.ExponentialBuckets(8, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.height, m.epoch, m.rollbackCount, m.pruneCount, m.subspaceWriteSz)
	}
	return m
}

// Open opens the underlying kv.Store at cfg and wires every component on
// top of it. reg may be nil to skip metrics registration (e.g. in tests).
func Open(cfg kv.Config, log *zap.Logger, reg prometheus.Registerer) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := kv.Open(cfg, log)
	if err != nil {
		return nil, err
	}

	m := newMetrics(reg)

	diffs := NewDiffLog(store, log)
	subspace, err := NewSubspace(store, diffs, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	subspace.setMetrics(m)
	history := NewHistoryReader(store, subspace, log)
	history.SetReadPastHeightLimit(cfg.ReadPastHeightLimit)
	merkle := NewMerkleForest(store, log)
	merkle.setMetrics(m)
	writer := NewBlockWriter(store, merkle, log)
	replay := NewReplayProtection(store, log)
	rollback := NewRollback(store, subspace, diffs, history, replay, log)
	migrate := NewMigrate(store, log)
	dump := NewDump(store, history, log)

	return &DB{
		Store: store, Subspace: subspace, Diffs: diffs, History: history,
		Writer: writer, Merkle: merkle, Replay: replay, Rollback: rollback,
		Migrate: migrate, Dump: dump,
		log: log, metrics: m,
	}, nil
}

// CommitBlock stages write into a single batch and applies it atomically,
// then updates the height and epoch gauges.
func (d *DB) CommitBlock(write BlockStateWrite) error {
	batch := kv.NewWriteBatch()
	if err := d.Writer.Stage(batch, write); err != nil {
		return err
	}
	if err := d.Store.Write(batch); err != nil {
		return err
	}
	d.metrics.height.Set(float64(write.Height))
	d.metrics.epoch.Set(float64(write.Epoch))
	return nil
}

// RollbackTo reverts to target and updates metrics.
func (d *DB) RollbackTo(target kv.BlockHeight) error {
	if err := d.Rollback.RollbackTo(target); err != nil {
		return err
	}
	d.metrics.rollbackCount.Inc()
	d.metrics.height.Set(float64(target))
	if epochBytes, err := d.Store.GetCF(kv.BLOCK, kv.ToDBKey(kv.HeightPrefix(uint64(target))+kv.BlockEpoch)); err == nil && epochBytes != nil {
		d.metrics.epoch.Set(float64(decodeUint(epochBytes)))
	}
	return nil
}

// Close flushes and releases the underlying store.
func (d *DB) Close() error {
	return d.Store.Close()
}
