package push

import (
	"fmt"
	"net/http"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	// Gone means the push service no longer knows the endpoint (404/410).
	Gone
	// TransientFailure is any other non-2xx status or a network error.
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Gone:
		return "gone"
	case TransientFailure:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a Transport reports for one attempt.
// StatusCode is 0 when no HTTP response was received.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Classify maps an HTTP status and transport error to an Outcome.
func Classify(status int, err error) Outcome {
	if err != nil {
		return TransientFailure
	}
	switch {
	case status >= 200 && status < 300:
		return Delivered
	case status == http.StatusNotFound, status == http.StatusGone:
		return Gone
	default:
		return TransientFailure
	}
}

// ResultFor builds a Result, synthesizing an error for non-2xx statuses so
// failures always carry something loggable.
func ResultFor(status int, err error) Result {
	out := Classify(status, err)
	if err == nil && out != Delivered {
		err = &StatusError{StatusCode: status}
	}
	return Result{Outcome: out, StatusCode: status, Err: err}
}

// StatusError reports an unsuccessful push service response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("push service responded %d", e.StatusCode)
}
