package types

// Script opcodes used by owner scripts.
const (
	OpDup         = 0x76
	OpEqual       = 0x87
	OpEqualVerify = 0x88
	OpHash160     = 0xa9
	OpCheckSig    = 0xac
)

// ScriptType identifies the form of a locking script.
type ScriptType uint8

const (
	ScriptTypeUnknown ScriptType = 0x00
	ScriptTypeP2PKH   ScriptType = 0x01 // Pay to public key hash
	ScriptTypeP2SH    ScriptType = 0x02 // Pay to script hash
)

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	case ScriptTypeP2SH:
		return "P2SH"
	default:
		return "Unknown"
	}
}

// P2PKHScript returns OP_DUP OP_HASH160 <addr> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHScript(addr Address) []byte {
	s := make([]byte, 0, AddressSize+5)
	s = append(s, OpDup, OpHash160, AddressSize)
	s = append(s, addr[:]...)
	return append(s, OpEqualVerify, OpCheckSig)
}

// P2SHScript returns OP_HASH160 <addr> OP_EQUAL.
func P2SHScript(addr Address) []byte {
	s := make([]byte, 0, AddressSize+3)
	s = append(s, OpHash160, AddressSize)
	s = append(s, addr[:]...)
	return append(s, OpEqual)
}

// ClassifyScript reports the form of a locking script.
func ClassifyScript(s []byte) ScriptType {
	switch {
	case len(s) == AddressSize+5 && s[0] == OpDup && s[1] == OpHash160 &&
		s[2] == AddressSize && s[AddressSize+3] == OpEqualVerify && s[AddressSize+4] == OpCheckSig:
		return ScriptTypeP2PKH
	case len(s) == AddressSize+3 && s[0] == OpHash160 && s[1] == AddressSize &&
		s[AddressSize+2] == OpEqual:
		return ScriptTypeP2SH
	default:
		return ScriptTypeUnknown
	}
}

// AddressFromScript extracts the address embedded in a P2PKH or P2SH script.
func AddressFromScript(s []byte) (Address, bool) {
	var a Address
	switch ClassifyScript(s) {
	case ScriptTypeP2PKH:
		copy(a[:], s[3:3+AddressSize])
	case ScriptTypeP2SH:
		copy(a[:], s[2:2+AddressSize])
	default:
		return Address{}, false
	}
	return a, true
}
