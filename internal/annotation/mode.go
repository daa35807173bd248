package annotation

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/events"
)

// DefaultGracePeriod is how long the detector keeps reporting watch mode after
// the last waiter went away. Agents re-register right after each response, so
// a shorter window would flicker the mode on every dispatch.
const DefaultGracePeriod = 5 * time.Second

// Detector infers watch/manual mode from waiter registrations on a Queue.
type Detector struct {
	mu         sync.Mutex
	mode       Mode
	waiters    int
	generation uint64
	timer      *time.Timer
	grace      time.Duration
	publisher  Publisher
}

func NewDetector(publisher Publisher, grace time.Duration) *Detector {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Detector{
		mode:      ModeManual,
		grace:     grace,
		publisher: publisher,
	}
}

// Mode returns the current mode.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// WaiterRegistered cancels any pending downgrade and enters watch mode.
func (d *Detector) WaiterRegistered() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.waiters++
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.mode != ModeWatch {
		d.setModeLocked(ModeWatch)
	}
}

// WaiterReleased arms the grace timer. The downgrade only happens if no newer
// registration or release has bumped the generation in the meantime.
func (d *Detector) WaiterReleased() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.waiters > 0 {
		d.waiters--
	}
	d.generation++
	gen := d.generation
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.grace, func() {
		d.expire(gen)
	})
}

// Stop cancels any pending timer.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.generation {
		return
	}
	d.timer = nil
	if d.waiters == 0 && d.mode != ModeManual {
		d.setModeLocked(ModeManual)
	}
}

func (d *Detector) setModeLocked(mode Mode) {
	d.mode = mode
	log.Info().Str("component", "mode").Str("mode", string(mode)).Msg("agent mode changed")
	if d.publisher != nil {
		d.publisher.Publish(events.TopicAnnotations, events.Event{
			Name:    EventMode,
			Payload: ModeEvent{Type: EventMode, Mode: mode},
		})
	}
}
