// Package keycodec implements the order-preserving key codec: encoding
// application types into byte strings whose unsigned lexicographic
// order matches the application-level order, plus the nudge helpers the
// tree's traverse path uses to express strict bounds.
package keycodec

import (
	"bytes"
	"encoding/binary"
)

// Compare is the codec's total order: unsigned lexicographic
// comparison of encoded bytes.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }

// A Builder accumulates order-preserving components into one key.
type Builder struct {
	buf []byte
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Bytes() []byte { return b.buf }

// AppendBytes encodes a raw byte string component: nul bytes are
// escaped so that components remain self-delimiting when concatenated
// (so a key made of N components compares the same way as comparing the
// components in order), then a terminator is appended.
func (b *Builder) AppendBytes(v []byte) *Builder {
	b.buf = append(b.buf, escape(v)...)
	b.buf = append(b.buf, 0x00, 0x00)
	return b
}

// AppendString encodes a string the same way as AppendBytes.
func (b *Builder) AppendString(v string) *Builder { return b.AppendBytes([]byte(v)) }

// AppendUint64 encodes an unsigned integer big-endian, which is already
// order-preserving.
func (b *Builder) AppendUint64(v uint64) *Builder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// AppendInt64 encodes a signed integer order-preservingly by flipping
// the sign bit before the big-endian encode, so two's-complement
// negative numbers still sort before positive ones under unsigned byte
// comparison.
func (b *Builder) AppendInt64(v int64) *Builder {
	return b.AppendUint64(uint64(v) + (1 << 63))
}

// escape replaces every 0x00 byte with the pair "0x00 0x01", so an
// escaped component never contains 0x00 0x00 and that pair stays free to
// serve as the two-byte terminator above.
func escape(in []byte) []byte {
	zeros := bytes.Count(in, []byte{0x00})
	if zeros == 0 {
		return in
	}
	out := make([]byte, 0, len(in)+zeros)
	for _, c := range in {
		if c == 0x00 {
			out = append(out, 0x00, 0x01)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// unescape reverses escape for one component's bytes.
func unescape(in []byte) []byte {
	if !bytes.Contains(in, []byte{0x00, 0x01}) {
		return in
	}
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == 0x00 && i+1 < len(in) && in[i+1] == 0x01 {
			out = append(out, 0x00)
			i++
		} else {
			out = append(out, in[i])
		}
	}
	return out
}

// DecodeBytesComponent reads one AppendBytes-encoded component from the
// front of buf and returns the decoded value plus the remaining bytes.
func DecodeBytesComponent(buf []byte) (val, rest []byte, ok bool) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == 0x00 && buf[i+1] == 0x00 {
			return unescape(buf[:i]), buf[i+2:], true
		}
		if buf[i] == 0x00 && i+1 < len(buf) && buf[i+1] == 0x01 {
			i++ // escaped nul, skip over it
		}
	}
	return nil, buf, false
}

// CommonPrefixDepth counts how many encoded AppendBytes components at
// the front of a and b are byte-identical, used by traverse's "deep vs
// sibling" prefix check.
func CommonPrefixDepth(a, b []byte) int {
	depth := 0
	for {
		av, arest, aok := DecodeBytesComponent(a)
		bv, brest, bok := DecodeBytesComponent(b)
		if !aok || !bok || !bytes.Equal(av, bv) {
			return depth
		}
		depth++
		a, b = arest, brest
	}
}
