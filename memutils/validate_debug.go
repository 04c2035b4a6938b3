//go:build debug_mem_utils

package memutils

// DebugValidate panics if validatable fails its consistency checks. Builds without the
// debug_mem_utils tag skip the checks entirely.
func DebugValidate(validatable Validatable) {
	if err := validatable.Validate(); err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two. Builds without the debug_mem_utils tag skip
// the check.
func DebugCheckPow2[T Number](value T, name string) {
	if err := CheckPow2[T](value, name); err != nil {
		panic(err)
	}
}
