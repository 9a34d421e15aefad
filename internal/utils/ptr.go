package utils

func Ptr[T any](v T) *T { return &v }

// Deref returns the zero value for nil pointers.
func Deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}
