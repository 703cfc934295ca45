package validate

// Number is the numeric constraint the numeric validators accept.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// IsGreaterThanZero checks if the provided numeric value is greater than
// zero, returning an error built from msg and args otherwise.
func IsGreaterThanZero[T Number](value T, msg string, args ...any) error {
	if value <= 0 {
		return createError(msg, args...)
	}
	return nil
}

// IsGreaterOrEqualToZero checks if the provided numeric value is greater
// than or equal to zero, returning an error built from msg and args
// otherwise.
func IsGreaterOrEqualToZero[T Number](value T, msg string, args ...any) error {
	if value < 0 {
		return createError(msg, args...)
	}
	return nil
}
