package github

import (
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v66/github"
)

// ErrNotAuthenticated is returned when neither a user credential nor a
// GitHub App is available for writing to the tracker.
var ErrNotAuthenticated = errors.New("not authenticated with GitHub")

// TrackerError carries the remote status and message of a failed GitHub
// call. Status is zero when GitHub could not be reached at all.
type TrackerError struct {
	Status  int
	Message string
	Err     error
}

func (e *TrackerError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("github unreachable: %s", e.Message)
	}
	return fmt.Sprintf("github error %d: %s", e.Status, e.Message)
}

func (e *TrackerError) Unwrap() error { return e.Err }

// HTTPStatus is the status a relay handler should answer with.
func (e *TrackerError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}

// AsTrackerError reports whether err carries a TrackerError.
func AsTrackerError(err error) (*TrackerError, bool) {
	var te *TrackerError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Translate converts a go-github error into a TrackerError. The remote
// message is kept verbatim.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsTrackerError(err); ok {
		return err
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &TrackerError{Status: statusOf(rateErr.Response, http.StatusForbidden), Message: rateErr.Message, Err: err}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &TrackerError{Status: statusOf(abuseErr.Response, http.StatusForbidden), Message: abuseErr.Message, Err: err}
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) {
		return &TrackerError{Status: statusOf(respErr.Response, http.StatusBadGateway), Message: respErr.Message, Err: err}
	}
	return &TrackerError{Message: err.Error(), Err: err}
}

func statusOf(resp *http.Response, fallback int) int {
	if resp == nil {
		return fallback
	}
	return resp.StatusCode
}
