package sentinel

import "errors"

// Sentinel errors for infrastructure facts. The HTTP clients wrap these under
// a domain error so callers can distinguish an unreachable collaborator or a
// vanished remote resource from an outright rejection with errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)
