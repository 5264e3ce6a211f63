// Package util holds small slice helpers shared by the protocol layers.
package util

// CloneSlice returns a copy of src that does not share its backing array.
// A nil or empty src yields an empty, non-nil slice.
func CloneSlice[T any](src []T) []T {
	clone := make([]T, len(src))
	copy(clone, src)

	return clone
}

// Concat joins parts in order into a newly allocated slice.
func Concat[T any](parts ...[]T) []T {
	size := 0
	for _, p := range parts {
		size += len(p)
	}

	out := make([]T, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}

	return out
}
