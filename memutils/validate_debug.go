//go:build debug_mem_utils

package memutils

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPositive will verify that the numerical value passed in is greater than zero, and panics if
// it is not. This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPositive(value int, name string) {
	err := CheckPositive[int](value, name)
	if err != nil {
		panic(err)
	}
}
