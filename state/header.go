package state

import (
	cmtproto "github.com/cometbft/cometbft/proto/tendermint/types"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/erigontech/ledgerstore/kv"
)

// EncodeHeader renders a CometBFT block header as the raw bytes stored
// under BLOCK/{h}/header. It uses the header's own protobuf Marshal
// rather than the canonical CBOR codec: the header is an externally
// defined wire type, not one of this engine's own structured values, so
// round-tripping it through its native encoding keeps it byte-compatible
// with whatever consensus layer produced it (§3).
func EncodeHeader(h *cmttypes.Header) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	pb := h.ToProto()
	out, err := pb.Marshal()
	if err != nil {
		return nil, kv.Wrap(kv.RawCodingErr, err, "encode header")
	}
	return out, nil
}

// DecodeHeader parses raw BLOCK/{h}/header bytes back into a header value.
func DecodeHeader(raw []byte) (*cmttypes.Header, error) {
	if raw == nil {
		return nil, nil
	}
	var pb cmtproto.Header
	if err := pb.Unmarshal(raw); err != nil {
		return nil, kv.Wrap(kv.RawCodingErr, err, "decode header")
	}
	h, err := cmttypes.HeaderFromProto(&pb)
	if err != nil {
		return nil, kv.Wrap(kv.RawCodingErr, err, "convert header from proto")
	}
	return &h, nil
}
