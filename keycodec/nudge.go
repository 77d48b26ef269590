package keycodec

import "bytes"

// Direction mirrors the traverse EQ/GT/GTEQ/LT/LTEQ vocabulary as it
// applies to nudging a probe key off of an exact value, so the search
// routine can reuse one binary search (find >=) for every direction.
type Direction int

const (
	Right Direction = iota
	Left
	Deeper
)

// Nudge produces a probe key suitable for a strict bound in the given
// direction. It never mutates key.
func Nudge(key []byte, dir Direction) []byte {
	switch dir {
	case Right, Deeper:
		return nudgeRight(key)
	case Left:
		return nudgeLeft(key)
	default:
		return key
	}
}

// nudgeRight returns the smallest byte string that sorts strictly after
// key: any real key with key as a proper prefix sorts at or after it
// (the probe is a prefix of it, or the probe collides with an actual
// stored key, in which case the caller's found-at bit distinguishes the
// two — see tree/search.go).
func nudgeRight(key []byte) []byte {
	out := make([]byte, len(key)+1)
	copy(out, key)
	out[len(key)] = 0x00
	return out
}

// nudgeLeft returns a probe key suitable for a strict less-than bound:
// it strips any trailing 0x00 bytes (which cannot be decremented) and
// decrements the last remaining byte, padding the tail with 0xFF so the
// probe sorts after every key sharing the now-shorter prefix but before
// key itself. An all-zero or empty key has no predecessor and nudges to
// the empty string, meaning "start of keyspace."
func nudgeLeft(key []byte) []byte {
	i := len(key)
	for i > 0 && key[i-1] == 0x00 {
		i--
	}
	if i == 0 {
		return nil
	}
	out := make([]byte, i)
	copy(out, key[:i])
	out[i-1]--
	return append(out, bytes.Repeat([]byte{0xFF}, 8)...)
}

// LeftEdge reports whether key represents the sentinel meaning "before
// every real key": the empty byte string, since no encoded component
// ever produces one.
func LeftEdge(key []byte) bool { return len(key) == 0 }
