package ordering

// MoveItem returns a copy of items with the element at from relocated to
// index to. Both indexes are clamped into the slice; every other element
// keeps its relative order.
func MoveItem[T any](items []T, from, to int) []T {
	out := append([]T(nil), items...)
	if len(out) == 0 {
		return out
	}
	from = clamp(from, 0, len(out)-1)
	to = clamp(to, 0, len(out)-1)
	if from == to {
		return out
	}
	item := out[from]
	if from < to {
		copy(out[from:to], out[from+1:to+1])
	} else {
		copy(out[to+1:from+1], out[to:from])
	}
	out[to] = item
	return out
}

// TransferItem removes the element at from in src and inserts it into dst
// at index to. The inputs are not modified. from is clamped into src and to
// into the insertion range of dst.
func TransferItem[T any](src, dst []T, from, to int) ([]T, []T) {
	if len(src) == 0 {
		return append([]T{}, src...), append([]T{}, dst...)
	}
	from = clamp(from, 0, len(src)-1)
	to = clamp(to, 0, len(dst))
	item := src[from]

	newSrc := make([]T, 0, len(src)-1)
	newSrc = append(newSrc, src[:from]...)
	newSrc = append(newSrc, src[from+1:]...)

	newDst := make([]T, 0, len(dst)+1)
	newDst = append(newDst, dst[:to]...)
	newDst = append(newDst, item)
	newDst = append(newDst, dst[to:]...)
	return newSrc, newDst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
