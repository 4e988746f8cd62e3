package metadata

import (
	"errors"
	"fmt"
)

var errTruncatedSignature = errors.New("truncated signature blob")

// SignatureHeader is the fixed prefix of a MethodDefSig blob (ECMA-335
// II.23.2.1): calling convention, generic parameter count, parameter count.
type SignatureHeader struct {
	Convention   CallingConvention
	GenericArity int
	ParamCount   int
}

// ParseSignatureHeader reads the header of a method signature blob.
func ParseSignatureHeader(blob []byte) (SignatureHeader, error) {
	if len(blob) == 0 {
		return SignatureHeader{}, errTruncatedSignature
	}
	header := SignatureHeader{Convention: CallingConvention(blob[0])}
	rest := blob[1:]
	if header.Convention.IsGeneric() {
		arity, n, err := decodeCompressed(rest)
		if err != nil {
			return SignatureHeader{}, fmt.Errorf("generic parameter count: %w", err)
		}
		header.GenericArity = int(arity)
		rest = rest[n:]
	}
	count, _, err := decodeCompressed(rest)
	if err != nil {
		return SignatureHeader{}, fmt.Errorf("parameter count: %w", err)
	}
	header.ParamCount = int(count)
	return header, nil
}

// decodeCompressed decodes an ECMA-335 II.23.2 compressed unsigned integer
// and returns it with the number of bytes consumed.
func decodeCompressed(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, errTruncatedSignature
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xc0 == 0x80:
		if len(b) < 2 {
			return 0, 0, errTruncatedSignature
		}
		return uint32(b[0]&0x3f)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xe0 == 0xc0:
		if len(b) < 4 {
			return 0, 0, errTruncatedSignature
		}
		return uint32(b[0]&0x1f)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	}
	return 0, 0, fmt.Errorf("invalid compressed integer lead byte 0x%02x", b[0])
}
