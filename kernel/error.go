// Package kernel contains the types shared by every kernel subsystem.
package kernel

// Error is returned by kernel code that can fail. Each failure is declared
// once as a package-level *Error and callers compare against it by identity,
// so reporting an error never allocates.
type Error struct {
	// Module names the subsystem reporting the error, e.g. "heap".
	Module string

	Message string
}

// Error returns the message without the module name.
func (e *Error) Error() string {
	return e.Message
}
