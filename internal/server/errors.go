package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/comments"
	"github.com/madebynoam/canvai-sub001/internal/github"
)

var (
	errAnnotationNotFound = errors.New("annotation not found")
	errInvalidThreadID    = errors.New("invalid thread id")
	errDeviceCodeRequired = errors.New("device_code is required")
	errNotSignedIn        = errors.New("not signed in")
	errCommentsDisabled   = errors.New("comment threads are not configured")
	errSignInDisabled     = errors.New("sign-in is not configured")
)

// errorBody is the JSON envelope of every failed request.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// statusFor maps an error to the status the relay answers with.
func statusFor(err error) int {
	if te, ok := github.AsTrackerError(err); ok {
		return te.HTTPStatus()
	}
	switch {
	case errors.Is(err, github.ErrNotAuthenticated), errors.Is(err, errNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, errAnnotationNotFound),
		errors.Is(err, comments.ErrThreadNotFound),
		errors.Is(err, comments.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, annotation.ErrCommentRequired),
		errors.Is(err, comments.ErrEmptyComment),
		errors.Is(err, comments.ErrInvalidMessage),
		errors.Is(err, comments.ErrUnknownEmoji),
		errors.Is(err, errInvalidThreadID),
		errors.Is(err, errDeviceCodeRequired):
		return http.StatusBadRequest
	case errors.Is(err, errCommentsDisabled), errors.Is(err, errSignInDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, statusFor(err), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// client went away; nobody is reading the answer
		return
	}
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("component", "server").Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorBody{Error: err.Error(), Status: status})
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, http.StatusBadRequest, err)
}
