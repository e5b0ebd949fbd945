package leb128

import (
	"errors"
	"fmt"
	"io"
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_signed_integer
func EncodeInt64(value int64) (buf []byte) {
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		// Extract the sign bit.
		s := uint8(value & 0x40)
		value >>= 7

		// The encoding unsigned numbers is simpler as it only needs to check if the value is non-zero to tell if there
		// are more bits to encode. Signed is a little more complicated as you have to double-check the sign bit.
		// If either case, set the high-order bit to tell the reader there are more bytes in this int.
		if (value != -1 || s == 0) && (value != 0 || s != 0) {
			b |= 0x80
		}

		// Append b into the buffer
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	return buf
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
//
// See https://en.wikipedia.org/wiki/LEB128#Encode_unsigned_integer
func EncodeUint64(value uint64) (buf []byte) {
	// This is effectively a do/while loop where we take 7 bits of the value and encode them until it is zero.
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		value = value >> 7

		// If there are remaining bits, the value won't be zero: Set the high-
		// order bit to tell the reader there are more bytes in this uint.
		if value != 0 {
			b |= 0x80
		}

		// Append b into the buffer
		buf = append(buf, b)
		if b&0x80 == 0 {
			return buf
		}
	}
}

// DecodeUint32 reads an unsigned LEB128 value and returns it with the number of bytes read.
func DecodeUint32(r io.ByteReader) (ret uint32, num uint64, err error) {
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, readErr(err)
		}
		num++
		if shift == 28 && b&0x70 != 0 {
			return 0, 0, errOverflow32
		}
		ret |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, errOverflow32
}

// DecodeUint64 reads an unsigned LEB128 value and returns it with the number of bytes read.
func DecodeUint64(r io.ByteReader) (ret uint64, num uint64, err error) {
	for shift := 0; shift < 70; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, readErr(err)
		}
		num++
		if shift == 63 && b&0x7e != 0 {
			return 0, 0, errOverflow64
		}
		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, errOverflow64
}

// DecodeInt32 reads a signed LEB128 value and returns it with the number of bytes read.
func DecodeInt32(r io.ByteReader) (ret int32, num uint64, err error) {
	v, num, err := decodeSigned(r, 32)
	if err != nil {
		return 0, 0, err
	}
	return int32(v), num, nil
}

// DecodeInt64 reads a signed LEB128 value and returns it with the number of bytes read.
func DecodeInt64(r io.ByteReader) (ret int64, num uint64, err error) {
	return decodeSigned(r, 64)
}

func decodeSigned(r io.ByteReader, bits int) (ret int64, num uint64, err error) {
	maxBytes := uint64((bits + 6) / 7)
	var shift int
	var b byte
	for {
		if num == maxBytes {
			if bits == 32 {
				return 0, 0, errOverflow32
			}
			return 0, 0, errOverflow64
		}
		if b, err = r.ReadByte(); err != nil {
			return 0, 0, readErr(err)
		}
		num++
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// Sign-extend when the last byte carries the sign bit.
	if shift < 64 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	if bits == 32 && (ret < -1<<31 || ret > 1<<31-1) {
		return 0, 0, errOverflow32
	}
	return ret, num, nil
}

func readErr(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("readByte failed: %w", err)
}
