package memutils

// Validatable is anything with internal consistency checks that DebugValidate can run
type Validatable interface {
	Validate() error
}
