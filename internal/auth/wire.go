package auth

import "time"

// DeviceCodeResponse is the relay's answer to a device-code request.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`
	ExpiresIn       int    `json:"expires_in"`
}

// NewDeviceCodeResponse renders a session for the wire.
func NewDeviceCodeResponse(s *Session, now time.Time) DeviceCodeResponse {
	resp := DeviceCodeResponse{
		DeviceCode:      s.DeviceCode,
		UserCode:        s.UserCode,
		VerificationURI: s.VerificationURI,
		Interval:        int(s.Interval / time.Second),
	}
	if !s.ExpiresAt.IsZero() {
		resp.ExpiresIn = int(s.ExpiresAt.Sub(now) / time.Second)
	}
	return resp
}

// Session rebuilds the session a relay client polls for.
func (r DeviceCodeResponse) Session(now time.Time) *Session {
	s := &Session{
		DeviceCode:      r.DeviceCode,
		UserCode:        r.UserCode,
		VerificationURI: r.VerificationURI,
		Interval:        time.Duration(r.Interval) * time.Second,
		Phase:           PhaseCodeIssued,
	}
	if r.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return s
}

// PollRequest is the body of a relay poll.
type PollRequest struct {
	DeviceCode string `json:"device_code"`
}

// PollResponse is a poll outcome on the wire.
type PollResponse struct {
	Status   PollStatus `json:"status"`
	Interval int        `json:"interval,omitempty"`
	User     *User      `json:"user,omitempty"`
	Error    string     `json:"error,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// NewPollResponse renders a poll result for the wire.
func NewPollResponse(r PollResult) PollResponse {
	return PollResponse{
		Status:   r.Status,
		Interval: int(r.Interval / time.Second),
		User:     r.User,
		Error:    r.Code,
		Message:  r.Message,
	}
}

// Result converts a wire response back into a PollResult.
func (r PollResponse) Result() PollResult {
	return PollResult{
		Status:   r.Status,
		Interval: time.Duration(r.Interval) * time.Second,
		Code:     r.Error,
		Message:  r.Message,
		User:     r.User,
	}
}
