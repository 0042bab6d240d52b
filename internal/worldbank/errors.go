package worldbank

import (
	"errors"
	"fmt"
)

// FetchError reports a request that still failed after the retry policy was
// exhausted, or was cut short by cancellation.
type FetchError struct {
	Country   string
	Indicator string
	Attempts  int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s failed after %d attempt(s): %v", e.Country, e.Indicator, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DataShapeError reports a payload the API delivered successfully but that
// cannot be read as an indicator series. It is never retried.
type DataShapeError struct {
	Country   string
	Indicator string
	Page      int
	Reason    string
}

func (e *DataShapeError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("unexpected payload for %s/%s page %d: %s", e.Country, e.Indicator, e.Page, e.Reason)
	}
	return fmt.Sprintf("unexpected payload for %s/%s: %s", e.Country, e.Indicator, e.Reason)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indicator API returned status %d for %s", e.Code, e.URL)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) (error, bool) {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err, true
	}
	return err, false
}
