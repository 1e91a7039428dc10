package crawl

import (
	"errors"
	"fmt"
)

// ErrNotFound marks an application-level absence (HTTP 404). It is not
// retried; callers surface it as a skip for that entity.
var ErrNotFound = errors.New("page not found")

// ErrRunActive is returned when a crawl is started while one is running.
var ErrRunActive = errors.New("a crawl run is already active")

// NetworkError wraps a transport failure that survived the retry budget.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError marks input that is not parseable markup at all. Missing
// optional fields are not parse errors; they resolve to sentinel values.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse markup: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse markup: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps a repository or image-file write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
