package state

import (
	"github.com/ugorji/go/codec"

	"github.com/erigontech/ledgerstore/kv"
)

// cborHandle is shared by every Encode/Decode call. codec.Handle values are
// safe for concurrent use once configured, so one package-level instance is
// enough (mirrors the reference pack's single shared rlp.Config idiom).
var cborHandle = &codec.CborHandle{}

// Encode serializes v into its canonical on-disk form. Every structured
// STATE/BLOCK value in this package round-trips through Encode and Decode;
// the block header and replay-protection entries bypass it in favor of
// their own wire formats, and Merkle root/store bytes are written as given
// (§3).
func Encode(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cborHandle)
	if err := enc.Encode(v); err != nil {
		return nil, kv.Wrap(kv.CodingErr, err, "encode")
	}
	return buf, nil
}

// Decode deserializes data into v, which must be a pointer.
func Decode(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, cborHandle)
	if err := dec.Decode(v); err != nil {
		return kv.Wrap(kv.CodingErr, err, "decode")
	}
	return nil
}
