package ingest

import (
	"errors"
	"fmt"
)

// ErrUpstream matches every UpstreamError.
var ErrUpstream = errors.New("catalog unavailable")

// UpstreamError reports that the catalog could not be reached while
// dispatching a record.
type UpstreamError struct {
	URN string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.URN, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUpstream) true for any UpstreamError.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
