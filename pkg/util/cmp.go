package util

// EqualBy reports whether a and b hold equal elements in the same order.
func EqualBy[T any](a, b []T, equal func(x, y T) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// SameKeys reports whether a and b carry the same keys with the same
// multiplicity, in any order.
func SameKeys[T any, K comparable](a, b []T, key func(T) K) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[K]int, len(a))
	for _, x := range a {
		seen[key(x)]++
	}
	for _, y := range b {
		k := key(y)
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
