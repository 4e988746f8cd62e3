package internal

// PanicOnError panics if given a non-nil error. Use it only for errors
// that can only come from a programming mistake, never for input or I/O.
func PanicOnError(err error) {
	if err != nil {
		panic(err)
	}
}
