package tcc

// Exclusions calls fn with every set of at most limit authority indices
// out of n, smallest sets first and each set in ascending order, until fn
// returns true. It reports whether fn did.
func Exclusions(n, limit int, fn func(excluded []int) bool) bool {
	for size := 0; size <= limit && size <= n; size++ {
		if combinations(n, size, fn) {
			return true
		}
	}
	return false
}

// combinations enumerates the size-element subsets of 0..n in
// lexicographic order.
func combinations(n, size int, fn func([]int) bool) bool {
	set := make([]int, size)
	for i := range set {
		set[i] = i
	}
	for {
		if fn(set) {
			return true
		}

		// advance the rightmost index that still has room
		i := size - 1
		for i >= 0 && set[i] == n-size+i {
			i--
		}
		if i < 0 {
			return false
		}
		set[i]++
		for j := i + 1; j < size; j++ {
			set[j] = set[j-1] + 1
		}
	}
}
