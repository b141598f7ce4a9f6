package xapi

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks a tweet or user that the API reports as absent.
var ErrNotFound = errors.New("not found")

// ThrottleError is returned when the API throttles a call and the retry
// budget is exhausted. Reset is the server-supplied instant at which the
// limit window rolls over.
type ThrottleError struct {
	Reset time.Time
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled, retry after %s", e.Reset.Format(time.RFC3339))
}
