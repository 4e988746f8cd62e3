package metadata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignatureHeader(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want SignatureHeader
	}{
		{"static", []byte{0x00, 0x02, 0x01}, SignatureHeader{Convention: ConvDefault, ParamCount: 2}},
		{"instance", []byte{0x20, 0x00}, SignatureHeader{Convention: ConvHasThis}},
		{"generic", []byte{0x30, 0x02, 0x01}, SignatureHeader{Convention: ConvHasThis | ConvGeneric, GenericArity: 2, ParamCount: 1}},
		{"two byte count", []byte{0x00, 0x81, 0x02}, SignatureHeader{ParamCount: 0x102}},
		{"four byte count", []byte{0x05, 0xc0, 0x01, 0x00, 0x00}, SignatureHeader{Convention: ConvVarArg, ParamCount: 0x10000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignatureHeader(tt.blob)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSignatureHeader() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSignatureHeaderErrors(t *testing.T) {
	for _, blob := range [][]byte{nil, {0x00}, {0x10}, {0x00, 0x80}, {0x00, 0xc0, 0x01}} {
		_, err := ParseSignatureHeader(blob)
		assert.ErrorIs(t, err, errTruncatedSignature, "blob % x", blob)
	}

	_, err := ParseSignatureHeader([]byte{0x00, 0xe0})
	assert.ErrorContains(t, err, "invalid compressed integer lead byte 0xe0")
}
