package tx

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
)

// P2PKHScriptSigSize is the encoded length of a single-key script signature:
// varbytes pubkey (1+33) | varbytes signature (1+64).
const P2PKHScriptSigSize = 1 + crypto.PubKeySize + 1 + crypto.SignatureSize

// ScriptSig unlocks the inputs of a transaction spent by one key.
type ScriptSig struct {
	PubKey    []byte
	Signature []byte
}

// Bytes encodes the script signature.
func (s ScriptSig) Bytes() []byte {
	b := make([]byte, 0, P2PKHScriptSigSize)
	b = binary.AppendUvarint(b, uint64(len(s.PubKey)))
	b = append(b, s.PubKey...)
	b = binary.AppendUvarint(b, uint64(len(s.Signature)))
	return append(b, s.Signature...)
}

// DecodeScriptSig parses an encoded script signature.
func DecodeScriptSig(b []byte) (ScriptSig, error) {
	r := reader{buf: b}
	s := ScriptSig{PubKey: r.varBytes(), Signature: r.varBytes()}
	if r.err != nil {
		return ScriptSig{}, fmt.Errorf("decode script sig: %w", r.err)
	}
	if r.off != len(b) {
		return ScriptSig{}, fmt.Errorf("decode script sig: %d trailing bytes", len(b)-r.off)
	}
	return s, nil
}
