package leb128

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSigned(t *testing.T) {
	tests := []struct {
		name    string
		value   int64
		encoded []byte
	}{
		{name: "zero", value: 0, encoded: []byte{0x00}},
		{name: "minus one", value: -1, encoded: []byte{0x7f}},
		{name: "largest one byte", value: 63, encoded: []byte{0x3f}},
		{name: "sign bit needs a second byte", value: 64, encoded: []byte{0xc0, 0x00}},
		{name: "smallest one byte", value: -64, encoded: []byte{0x40}},
		{name: "negative two bytes", value: -129, encoded: []byte{0xff, 0x7e}},
		{name: "negative three bytes", value: -624485, encoded: []byte{0x9b, 0xf1, 0x59}},
		{name: "max int32", value: math.MaxInt32, encoded: []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
		{name: "min int32", value: math.MinInt32, encoded: []byte{0x80, 0x80, 0x80, 0x80, 0x78}},
		{name: "max int64", value: math.MaxInt64, encoded: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}},
		{name: "min int64", value: math.MinInt64, encoded: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x7f}},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.encoded, EncodeInt64(tc.value))

			v, n, err := DecodeInt64(bytes.NewReader(tc.encoded))
			require.NoError(t, err)
			require.Equal(t, tc.value, v)
			require.Equal(t, uint64(len(tc.encoded)), n)

			if tc.value < math.MinInt32 || tc.value > math.MaxInt32 {
				_, _, err = DecodeInt32(bytes.NewReader(tc.encoded))
				require.Error(t, err)
				return
			}
			require.Equal(t, tc.encoded, EncodeInt32(int32(tc.value)))
			v32, n, err := DecodeInt32(bytes.NewReader(tc.encoded))
			require.NoError(t, err)
			require.Equal(t, int32(tc.value), v32)
			require.Equal(t, uint64(len(tc.encoded)), n)
		})
	}
}

func TestUnsigned(t *testing.T) {
	tests := []struct {
		name    string
		value   uint64
		encoded []byte
	}{
		{name: "zero", value: 0, encoded: []byte{0x00}},
		{name: "largest one byte", value: 127, encoded: []byte{0x7f}},
		{name: "smallest two bytes", value: 128, encoded: []byte{0x80, 0x01}},
		{name: "three bytes", value: 624485, encoded: []byte{0xe5, 0x8e, 0x26}},
		{name: "max uint32", value: math.MaxUint32, encoded: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
		{name: "above uint32", value: 1 << 32, encoded: []byte{0x80, 0x80, 0x80, 0x80, 0x10}},
		{name: "max uint64", value: math.MaxUint64, encoded: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.encoded, EncodeUint64(tc.value))

			v, n, err := DecodeUint64(bytes.NewReader(tc.encoded))
			require.NoError(t, err)
			require.Equal(t, tc.value, v)
			require.Equal(t, uint64(len(tc.encoded)), n)

			if tc.value > math.MaxUint32 {
				_, _, err = DecodeUint32(bytes.NewReader(tc.encoded))
				require.ErrorIs(t, err, errOverflow32)
				return
			}
			require.Equal(t, tc.encoded, EncodeUint32(uint32(tc.value)))
			v32, n, err := DecodeUint32(bytes.NewReader(tc.encoded))
			require.NoError(t, err)
			require.Equal(t, uint32(tc.value), v32)
			require.Equal(t, uint64(len(tc.encoded)), n)
		})
	}
}

// Non-minimal encodings are valid as long as they fit in the maximum length.
func TestDecode_padded(t *testing.T) {
	v, n, err := DecodeUint32(bytes.NewReader([]byte{0x85, 0x80, 0x80, 0x80, 0x00}))
	require.NoError(t, err)
	require.Equal(t, uint32(5), v)
	require.Equal(t, uint64(5), n)

	s, n, err := DecodeInt32(bytes.NewReader([]byte{0xff, 0xff, 0x7f}))
	require.NoError(t, err)
	require.Equal(t, int32(-1), s)
	require.Equal(t, uint64(3), n)
}

func TestDecode_errors(t *testing.T) {
	tests := []struct {
		name        string
		decode      func(io.ByteReader) error
		input       []byte
		expectedErr error
	}{
		{name: "uint32 empty", decode: decodeUint32, input: nil, expectedErr: io.ErrUnexpectedEOF},
		{name: "uint32 truncated", decode: decodeUint32, input: []byte{0x80}, expectedErr: io.ErrUnexpectedEOF},
		{name: "uint32 too long", decode: decodeUint32, input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: errOverflow32},
		{name: "uint32 unused bits", decode: decodeUint32, input: []byte{0x82, 0x80, 0x80, 0x80, 0x70}, expectedErr: errOverflow32},
		{name: "uint64 unused bits", decode: decodeUint64, input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x02}, expectedErr: errOverflow64},
		{name: "uint64 too long", decode: decodeUint64, input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: errOverflow64},
		{name: "int32 out of range", decode: decodeInt32, input: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, expectedErr: errOverflow32},
		{name: "int32 too long", decode: decodeInt32, input: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, expectedErr: errOverflow32},
		{name: "int64 truncated", decode: decodeInt64, input: []byte{0xff, 0xff}, expectedErr: io.ErrUnexpectedEOF},
		{name: "int64 too long", decode: decodeInt64, input: bytes.Repeat([]byte{0x80}, 11), expectedErr: errOverflow64},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.decode(bytes.NewReader(tc.input)), tc.expectedErr)
		})
	}
}

func decodeUint32(r io.ByteReader) error {
	_, _, err := DecodeUint32(r)
	return err
}

func decodeUint64(r io.ByteReader) error {
	_, _, err := DecodeUint64(r)
	return err
}

func decodeInt32(r io.ByteReader) error {
	_, _, err := DecodeInt32(r)
	return err
}

func decodeInt64(r io.ByteReader) error {
	_, _, err := DecodeInt64(r)
	return err
}

// Values are read back to back from one reader, the way section contents are.
func TestDecode_sequence(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeUint32(624485)...)
	buf = append(buf, EncodeInt64(-2)...)
	buf = append(buf, EncodeUint64(1<<40)...)
	r := bytes.NewReader(buf)

	u32, _, err := DecodeUint32(r)
	require.NoError(t, err)
	require.Equal(t, uint32(624485), u32)
	i64, _, err := DecodeInt64(r)
	require.NoError(t, err)
	require.Equal(t, int64(-2), i64)
	u64, _, err := DecodeUint64(r)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), u64)
	require.Zero(t, r.Len())
}
