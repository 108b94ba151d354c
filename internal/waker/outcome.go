package waker

import (
	"errors"
	"fmt"
	"time"
)

// Status classifies the result of one check run
type Status int

const (
	StatusClicked Status = iota
	StatusNotFound
	StatusLoadFailed
)

func (s Status) String() string {
	switch s {
	case StatusClicked:
		return "clicked"
	case StatusNotFound:
		return "not_found"
	case StatusLoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrElementNotFound reports that the marker did not appear before the
// element timeout. It is the expected state for an app that is awake.
var ErrElementNotFound = errors.New("element not found")

// NavigationError wraps a failure to load the target page
type NavigationError struct {
	URL    string
	Status int // HTTP status of the main document, 0 if none was received
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("navigate %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// LookupError wraps an element search that ended for a reason other than
// the element timeout (page crash, closed target, cancelled run)
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return fmt.Sprintf("element lookup: %v", e.Err) }

func (e *LookupError) Unwrap() error { return e.Err }

// ActivationError wraps a click on a found element that did not go through
type ActivationError struct {
	Err error
}

func (e *ActivationError) Error() string { return fmt.Sprintf("click: %v", e.Err) }

func (e *ActivationError) Unwrap() error { return e.Err }

// Outcome is the result of one run
type Outcome struct {
	URL     string
	Status  Status
	Message string
	Err     error
	Elapsed time.Duration
}

// Summary is the human-readable line logged for the outcome
func (o Outcome) Summary() string {
	switch o.Status {
	case StatusClicked:
		return "Wake-up button clicked - app should be restarting."
	case StatusNotFound:
		return "Wake-up button not found - app is likely already running or the page changed."
	default:
		if o.Message != "" {
			return "Wake-up check failed: " + o.Message
		}
		return "Wake-up check failed."
	}
}
