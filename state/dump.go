package state

import (
	"encoding/hex"
	"io"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// Dump writes out the store's current (or a given height's) subspace
// contents as a TOML-like "key" = "hex_value" document, optionally followed
// by that height's DIFFS and BLOCK entries (§6).
type Dump struct {
	db      *kv.Store
	history *HistoryReader
	log     *zap.Logger
}

// NewDump wires a Dump over db.
func NewDump(db *kv.Store, history *HistoryReader, log *zap.Logger) *Dump {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dump{db: db, history: history, log: log}
}

// Write dumps the SUBSPACE contents to w: the live values when height is
// nil, otherwise each live key's value at *height as reconstructed by the
// HistoryReader. When historic is set and height is non-nil, the DIFFS and
// BLOCK entries recorded for that height are appended after the subspace
// section; with a nil height, historic has no effect.
func (d *Dump) Write(w io.Writer, height *kv.BlockHeight, historic bool) error {
	entries := make(map[string]string)

	if height == nil {
		if err := d.db.IteratePrefix(kv.SUBSPACE, nil, func(key, value []byte) (bool, error) {
			entries[string(key)] = hex.EncodeToString(value)
			return true, nil
		}); err != nil {
			return err
		}
	} else {
		currentBytes, err := d.db.GetCF(kv.STATE, keyBytes(kv.StateHeight))
		if err != nil {
			return err
		}
		lastHeight := decodeUint(currentBytes)
		if err := d.db.IteratePrefix(kv.SUBSPACE, nil, func(key, _ []byte) (bool, error) {
			v, err := d.history.ReadAt(string(key), *height, lastHeight)
			if err != nil {
				return false, err
			}
			if v != nil {
				entries[string(key)] = hex.EncodeToString(v)
			}
			return true, nil
		}); err != nil {
			return err
		}
	}

	enc := toml.NewEncoder(w)
	if err := enc.Encode(entries); err != nil {
		return kv.Wrap(kv.RawCodingErr, err, "encode dump")
	}

	if historic && height != nil {
		return d.writeHistoric(w, *height)
	}
	return nil
}

func (d *Dump) writeHistoric(w io.Writer, height kv.BlockHeight) error {
	diffs := make(map[string]string)
	prefix := []byte(kv.HeightPrefix(height))
	if err := d.db.IteratePrefix(kv.DIFFS, prefix, func(key, value []byte) (bool, error) {
		diffs[string(key)] = hex.EncodeToString(value)
		return true, nil
	}); err != nil {
		return err
	}
	block := make(map[string]string)
	if err := d.db.IteratePrefix(kv.BLOCK, prefix, func(key, value []byte) (bool, error) {
		block[string(key)] = hex.EncodeToString(value)
		return true, nil
	}); err != nil {
		return err
	}

	out := map[string]any{"diffs": diffs, "block": block}
	if raw, ok := block[kv.HeightPrefix(height)+kv.BlockHeader]; ok {
		rawBytes, err := hex.DecodeString(raw)
		if err != nil {
			return kv.Wrap(kv.RawCodingErr, err, "decode stored header hex")
		}
		header, err := DecodeHeader(rawBytes)
		if err != nil {
			return err
		}
		if header != nil {
			out["header_chain_id"] = header.ChainID
			out["header_time"] = header.Time.String()
		}
	}

	enc := toml.NewEncoder(w)
	if err := enc.Encode(out); err != nil {
		return kv.Wrap(kv.RawCodingErr, err, "encode historic dump")
	}
	return nil
}
