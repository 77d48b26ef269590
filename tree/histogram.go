package tree

// Bucket is one key-range sampling result: the first key and occupancy
// of a sampled leaf page.
type Bucket struct {
	PageAddr  uint64
	FirstKey  []byte
	NKeys     int
	UsedBytes int
}

// SampleHistogram walks the leaf level left to right starting at lo (an
// empty lo means LEFT_EDGE), recording one Bucket every stride'th leaf
// visited, until limit buckets have been collected (limit <= 0 means no
// cap besides the maxTraverseSkips bound on leaves visited) or the right edge is
// reached. The sampling walks the leaf level's right links directly
// rather than re-descending per bucket, so one call sees a consistent
// left-to-right pass even while inserts land behind it.
func (t *Tree) SampleHistogram(lo []byte, stride, limit int, lc *LevelCache) ([]Bucket, error) {
	if stride <= 0 {
		stride = 1
	}
	claim, _, ok, err := t.seekForward(lo, true, lc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var buckets []Bucket
	for i := 0; i < maxTraverseSkips; i++ {
		if i%stride == 0 {
			var first []byte
			if claim.Page.NKeys() > 0 {
				first = append([]byte(nil), claim.Page.Key(0)...)
			}
			buckets = append(buckets, Bucket{
				PageAddr:  claim.Addr,
				FirstKey:  first,
				NKeys:     int(claim.Page.NKeys()),
				UsedBytes: claim.Page.UsedBytes(),
			})
			if limit > 0 && len(buckets) >= limit {
				t.Pool.Release(claim, false)
				return buckets, nil
			}
		}
		right := claim.Page.Right()
		t.Pool.Release(claim, false)
		if right == 0 {
			return buckets, nil
		}
		next, ok := t.Pool.Get(right, false, true)
		if !ok {
			return buckets, ErrRetry
		}
		claim = next
	}
	return buckets, nil
}

// PageCopyExport returns a read-only snapshot of one page's raw bytes,
// letting a tool inspect or archive tree structure without holding a
// live claim for the duration of its work.
func (t *Tree) PageCopyExport(addr uint64) ([]byte, error) {
	claim, ok := t.Pool.Get(addr, false, true)
	if !ok {
		return nil, ErrRetry
	}
	defer t.Pool.Release(claim, false)
	out := make([]byte, len(claim.Page.Data))
	copy(out, claim.Page.Data)
	return out, nil
}
