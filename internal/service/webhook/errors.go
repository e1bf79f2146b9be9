package webhook

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a recognised event cannot be decoded.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

// UnrecognizedEventError reports an event kind the ingestor does not handle.
type UnrecognizedEventError struct {
	Kind string
}

func (e *UnrecognizedEventError) Error() string {
	return fmt.Sprintf("could not handle event: '%s'", e.Kind)
}
