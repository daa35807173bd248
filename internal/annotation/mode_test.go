package annotation

import (
	"context"
	"testing"
	"time"
)

const testGrace = 40 * time.Millisecond

func modeSequence(pub *recordingPublisher) []Mode {
	var out []Mode
	for _, ev := range pub.named(EventMode) {
		out = append(out, ev.Payload.(ModeEvent).Mode)
	}
	return out
}

func TestDetector_StartsManual(t *testing.T) {
	d := NewDetector(nil, testGrace)
	if d.Mode() != ModeManual {
		t.Fatalf("mode = %s, want manual", d.Mode())
	}
}

func TestDetector_ReRegistrationWithinGraceEmitsSingleWatch(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDetector(pub, testGrace)
	defer d.Stop()

	d.WaiterRegistered()
	d.WaiterReleased()
	d.WaiterRegistered()

	time.Sleep(3 * testGrace)

	got := modeSequence(pub)
	if len(got) != 1 || got[0] != ModeWatch {
		t.Fatalf("mode events = %v, want [watch]", got)
	}
	if d.Mode() != ModeWatch {
		t.Fatalf("mode = %s, want watch", d.Mode())
	}
}

func TestDetector_GraceElapsedEmitsSingleManual(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDetector(pub, testGrace)
	defer d.Stop()

	d.WaiterRegistered()
	d.WaiterReleased()

	if d.Mode() != ModeWatch {
		t.Fatalf("mode = %s right after release, want watch", d.Mode())
	}

	time.Sleep(3 * testGrace)

	got := modeSequence(pub)
	want := []Mode{ModeWatch, ModeManual}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("mode events = %v, want %v", got, want)
	}
	if d.Mode() != ModeManual {
		t.Fatalf("mode = %s, want manual", d.Mode())
	}
}

func TestDetector_StaleTimerDoesNotDowngrade(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDetector(pub, testGrace)
	defer d.Stop()

	d.WaiterRegistered()
	d.WaiterReleased()
	time.Sleep(testGrace / 2)
	d.WaiterRegistered()
	time.Sleep(2 * testGrace)

	if d.Mode() != ModeWatch {
		t.Fatalf("mode = %s, want watch while a waiter is registered", d.Mode())
	}
	for _, m := range modeSequence(pub) {
		if m == ModeManual {
			t.Fatal("stale timer published a manual transition")
		}
	}
}

func TestDetector_WiredToQueue(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDetector(pub, testGrace)
	defer d.Stop()
	q := NewQueue(pub, d)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Next(context.Background())
	}()
	waitUntil(t, func() bool { return d.Mode() == ModeWatch })

	a := q.Submit(Input{Comment: "go"})
	<-done
	q.Resolve(a.ID)

	// The agent re-polls immediately after each response.
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _ = q.Next(ctx) }()
	waitUntil(t, func() bool { return q.Waiters() == 1 })

	time.Sleep(3 * testGrace)
	if got := modeSequence(pub); len(got) != 1 {
		t.Fatalf("mode events = %v, want a single watch transition", got)
	}

	cancel()
	waitUntil(t, func() bool { return d.Mode() == ModeManual })
}
