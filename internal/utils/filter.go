package utils

// Filter returns the elements of slice for which keep returns true, in order.
// The result is never nil so it encodes as an empty JSON array.
func Filter[T any](slice []T, keep func(T) bool) []T {
	result := make([]T, 0, len(slice))
	for _, item := range slice {
		if keep(item) {
			result = append(result, item)
		}
	}
	return result
}
