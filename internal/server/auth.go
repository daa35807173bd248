package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/madebynoam/canvai-sub001/internal/auth"
	"github.com/madebynoam/canvai-sub001/internal/github"
)

type userResponse struct {
	User *auth.User `json:"user"`
}

func (s *Server) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if s.flow == nil {
		writeError(w, r, errSignInDisabled)
		return
	}
	sess, err := s.flow.Initiate(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if te, ok := github.AsTrackerError(err); ok {
			status = te.HTTPStatus()
		}
		writeErrorStatus(w, r, status, fmt.Errorf("request device code: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, auth.NewDeviceCodeResponse(sess, time.Now()))
}

// handlePoll performs one token-endpoint round trip. Pending, slow_down,
// expired and denied outcomes are 200 responses; only a failure to reach
// GitHub is an HTTP error.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.flow == nil {
		writeError(w, r, errSignInDisabled)
		return
	}
	var req auth.PollRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, fmt.Errorf("malformed poll request: %w", err))
		return
	}
	if req.DeviceCode == "" {
		writeError(w, r, errDeviceCodeRequired)
		return
	}
	res, err := s.flow.Poll(r.Context(), req.DeviceCode)
	if err != nil {
		status := http.StatusBadGateway
		if te, ok := github.AsTrackerError(err); ok {
			status = te.HTTPStatus()
		}
		writeErrorStatus(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, auth.NewPollResponse(res))
}

// handleUser never exposes the token.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		writeError(w, r, errNotSignedIn)
		return
	}
	u, ok := s.identity.User()
	if !ok {
		writeError(w, r, errNotSignedIn)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.flow == nil {
		writeError(w, r, errSignInDisabled)
		return
	}
	if err := s.flow.Logout(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
