package auth

import (
	"context"
	"time"
)

// Poller performs a single token poll for a device code.
type Poller interface {
	Poll(ctx context.Context, deviceCode string) (PollResult, error)
}

// sleep waits for d or until ctx is done. Tests replace it to record waits.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Await polls until the session reaches a terminal outcome. It waits the
// session interval before every poll and adopts the interval handed back on
// slow_down. Transport errors end the wait.
func Await(ctx context.Context, p Poller, sess *Session) (*User, error) {
	interval := sess.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for {
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}

		res, err := p.Poll(ctx, sess.DeviceCode)
		if err != nil {
			return nil, err
		}
		sess.Phase = PhasePolling

		switch res.Status {
		case PollPending:
		case PollSlowDown:
			if res.Interval > 0 {
				interval = res.Interval
			} else {
				interval += SlowDownStep
			}
		case PollExpired:
			sess.Phase = PhaseExpired
			return nil, ErrExpired
		case PollError:
			sess.Phase = PhaseError
			return nil, &FlowError{Code: res.Code, Message: res.Message}
		case PollSuccess:
			sess.Phase = PhaseSucceeded
			return res.User, nil
		}
	}
}
