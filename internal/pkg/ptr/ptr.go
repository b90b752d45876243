package ptr

func Of[T any](v T) *T {
	return &v
}

// Deref returns the pointed-to value or the zero value for nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
