package metadata

import (
	"errors"
	"fmt"
)

// ErrNoTrace is returned by guards for methods or types marked as not to
// be traced.
var ErrNoTrace = errors.New("marked as not traceable")

// MetadataNotFoundError is returned when a token does not resolve to a
// method in the loaded module.
type MetadataNotFoundError struct {
	Token Token
}

func (e *MetadataNotFoundError) Error() string {
	return fmt.Sprintf("no metadata for %s", e.Token)
}

// InaccessibleTypeError is returned for instrumentation targets declared on
// a non-public type.
type InaccessibleTypeError struct {
	Type TypeRecord
}

func (e *InaccessibleTypeError) Error() string {
	return fmt.Sprintf("type %s is not public", e.Type.FullName())
}

// InaccessibleInterfaceError is returned for instrumentation targets
// declared on a non-public interface.
type InaccessibleInterfaceError struct {
	Type TypeRecord
}

func (e *InaccessibleInterfaceError) Error() string {
	return fmt.Sprintf("interface %s is not public", e.Type.FullName())
}
