package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~int32 | ~int64 | ~uint
}

// CheckPositive returns a wrapped ErrInvalidSize if number is zero or negative
func CheckPositive[T Number](number T, name string) error {
	if number <= 0 {
		return cerrors.Wrapf(ErrInvalidSize, "%s is %d", name, number)
	}
	return nil
}

// LastAddress returns the inclusive end address of a segment of the given size beginning at start
func LastAddress(start, size int) int {
	return start + size - 1
}
