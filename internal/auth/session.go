package auth

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the state of one device authorization attempt.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCodeIssued Phase = "code-issued"
	PhasePolling    Phase = "polling"
	PhaseSucceeded  Phase = "succeeded"
	PhaseExpired    Phase = "expired"
	PhaseError      Phase = "error"
)

var phaseTransitions = map[Phase]map[Phase]bool{
	PhaseIdle: {
		PhaseCodeIssued: true,
	},
	PhaseCodeIssued: {
		PhasePolling: true,
		PhaseExpired: true,
	},
	PhasePolling: {
		PhaseSucceeded: true,
		PhaseExpired:   true,
		PhaseError:     true,
	},
}

// CanTransition reports whether a session may move from one phase to another.
func CanTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	return phaseTransitions[from][to]
}

// Terminal reports whether no further polling can happen in p.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseExpired || p == PhaseError
}

// Session is one issued device/user code pair.
type Session struct {
	DeviceCode      string        `json:"device_code"`
	UserCode        string        `json:"user_code"`
	VerificationURI string        `json:"verification_uri"`
	Interval        time.Duration `json:"-"`
	ExpiresAt       time.Time     `json:"-"`
	Phase           Phase         `json:"phase"`
}

// Expired reports whether the code has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// PollStatus is the outcome of one token-endpoint round trip.
type PollStatus string

const (
	PollPending  PollStatus = "pending"
	PollSlowDown PollStatus = "slow_down"
	PollExpired  PollStatus = "expired"
	PollError    PollStatus = "error"
	PollSuccess  PollStatus = "success"
)

// PollResult describes a poll outcome. Protocol outcomes are values, not
// errors; only transport failures surface as Go errors.
type PollResult struct {
	Status PollStatus
	// Interval is the wait before the next poll after slow_down.
	Interval time.Duration
	// Code is the raw OAuth error code for PollError.
	Code    string
	Message string
	User    *User
}

// ErrExpired means the user code expired before it was approved; the caller
// has to start over with a new code.
var ErrExpired = errors.New("device code expired")

// FlowError is a terminal authorization error such as access_denied.
type FlowError struct {
	Code    string
	Message string
}

func (e *FlowError) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return fmt.Sprintf("device authorization failed: %s", e.Code)
	}
	return fmt.Sprintf("device authorization failed: %s: %s", e.Code, e.Message)
}

// IsFlowError reports whether err is a terminal FlowError.
func IsFlowError(err error) bool {
	var target *FlowError
	return errors.As(err, &target)
}
