package annotation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/madebynoam/canvai-sub001/internal/events"
)

// Publisher is the push side of the event broker.
type Publisher interface {
	Publish(topic string, event events.Event) int
}

// WaiterObserver is told about every long-poll registration and release.
type WaiterObserver interface {
	WaiterRegistered()
	WaiterReleased()
}

type waiter struct {
	ch chan Annotation
}

// Queue owns the annotation registry and the FIFO list of blocked consumers.
// It is created once per process and handed to the HTTP handlers.
type Queue struct {
	mu          sync.Mutex
	nextID      int
	annotations map[string]*Annotation
	order       []string
	waiters     []*waiter

	publisher Publisher
	observer  WaiterObserver
	now       func() time.Time
}

// NewQueue creates an empty queue. observer may be nil.
func NewQueue(publisher Publisher, observer WaiterObserver) *Queue {
	return &Queue{
		annotations: make(map[string]*Annotation),
		publisher:   publisher,
		observer:    observer,
		now:         time.Now,
	}
}

// Submit stores a new pending annotation. If a consumer is blocked in Next,
// the oldest one receives it immediately. Submit never blocks.
func (q *Queue) Submit(in Input) Annotation {
	q.mu.Lock()
	q.nextID++
	a := &Annotation{
		ID:             strconv.Itoa(q.nextID),
		FrameID:        in.FrameID,
		ComponentName:  in.ComponentName,
		Selector:       in.Selector,
		ElementTag:     in.ElementTag,
		ElementText:    in.ElementText,
		ComputedStyles: in.ComputedStyles,
		Comment:        in.Comment,
		Timestamp:      q.now().UnixMilli(),
		Status:         StatusPending,
	}
	*a = a.clone()
	q.annotations[a.ID] = a
	q.order = append(q.order, a.ID)

	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w.ch <- a.clone()
	}
	out := a.clone()
	q.mu.Unlock()

	q.publish(EventCreated, CreatedEvent{Type: EventCreated, Annotation: out})
	return out
}

// Resolve marks an annotation resolved and announces it. Unknown ids report
// false and publish nothing.
func (q *Queue) Resolve(id string) (Annotation, bool) {
	q.mu.Lock()
	a, ok := q.annotations[id]
	if !ok {
		q.mu.Unlock()
		return Annotation{}, false
	}
	a.Status = StatusResolved
	out := a.clone()
	q.mu.Unlock()

	q.publish(EventResolved, ResolvedEvent{Type: EventResolved, ID: id})
	return out, true
}

// Delete discards an annotation regardless of status.
func (q *Queue) Delete(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.annotations[id]; !ok {
		return false
	}
	delete(q.annotations, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of one annotation.
func (q *Queue) Get(id string) (Annotation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.annotations[id]
	if !ok {
		return Annotation{}, false
	}
	return a.clone(), true
}

func (q *Queue) ListPending() []Annotation {
	return q.list(func(a *Annotation) bool { return a.Status == StatusPending })
}

func (q *Queue) ListAll() []Annotation {
	return q.list(func(*Annotation) bool { return true })
}

// Waiters reports how many consumers are currently blocked in Next.
func (q *Queue) Waiters() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// Next returns the oldest pending annotation. When none is pending it blocks
// until Submit hands one over or ctx ends; in the latter case the waiter is
// dropped and ctx.Err() returned. An annotation handed to a cancelled waiter
// stays pending and is returned by the next call.
func (q *Queue) Next(ctx context.Context) (Annotation, error) {
	q.mu.Lock()
	for _, id := range q.order {
		if a := q.annotations[id]; a.Status == StatusPending {
			out := a.clone()
			q.mu.Unlock()
			return out, nil
		}
	}
	w := &waiter{ch: make(chan Annotation, 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	if q.observer != nil {
		q.observer.WaiterRegistered()
		defer q.observer.WaiterReleased()
	}

	select {
	case a := <-w.ch:
		return a, nil
	case <-ctx.Done():
		q.mu.Lock()
		q.removeWaiterLocked(w)
		q.mu.Unlock()
		return Annotation{}, ctx.Err()
	}
}

func (q *Queue) removeWaiterLocked(w *waiter) {
	for i, existing := range q.waiters {
		if existing == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

func (q *Queue) list(keep func(*Annotation) bool) []Annotation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Annotation, 0, len(q.order))
	for _, id := range q.order {
		if a := q.annotations[id]; keep(a) {
			out = append(out, a.clone())
		}
	}
	return out
}

func (q *Queue) publish(name string, payload any) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(events.TopicAnnotations, events.Event{Name: name, Payload: payload})
}
