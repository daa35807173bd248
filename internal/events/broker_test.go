package events

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerPublishFiltersByTopic(t *testing.T) {
	broker := NewBroker(8)
	t.Cleanup(broker.Close)

	annotations, closeA := broker.Subscribe(TopicAnnotations)
	defer closeA()
	comments, closeC := broker.Subscribe(TopicComments)
	defer closeC()

	if n := broker.Publish(TopicAnnotations, Event{Name: "mode", Payload: 1}); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	assertReceives(t, annotations, []any{1})
	select {
	case ev := <-comments:
		t.Fatalf("comments subscriber got unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker(4)
	t.Cleanup(broker.Close)

	ch, cancel := broker.Subscribe(TopicComments)
	cancel()
	cancel()

	if n := broker.Publish(TopicComments, Event{Name: "x"}); n != 0 {
		t.Fatalf("delivered = %d after unsubscribe, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if got := broker.Subscribers(TopicComments); got != 0 {
		t.Fatalf("Subscribers = %d, want 0", got)
	}
}

func TestBrokerDropsStaleEventsForSlowSubscribers(t *testing.T) {
	broker := NewBroker(1)
	t.Cleanup(broker.Close)

	ch, cancel := broker.Subscribe(TopicAnnotations)
	defer cancel()

	broker.Publish(TopicAnnotations, Event{Name: "a", Payload: 1})
	broker.Publish(TopicAnnotations, Event{Name: "a", Payload: 2})

	assertReceives(t, ch, []any{2})
}

func TestBrokerSubscribeAfterClose(t *testing.T) {
	broker := NewBroker(1)
	broker.Close()

	ch, cancel := broker.Subscribe(TopicAnnotations)
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel from closed broker")
	}
}

func TestServeStreamsEventsAndRemovesSubscriber(t *testing.T) {
	broker := NewBroker(8)
	t.Cleanup(broker.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = broker.Serve(w, r, TopicAnnotations, Event{Name: "mode", Payload: map[string]string{"type": "mode", "mode": "manual"}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	waitFor(t, func() bool { return broker.Subscribers(TopicAnnotations) == 1 })
	broker.Publish(TopicAnnotations, Event{Name: "resolved", Payload: map[string]string{"type": "resolved", "id": "7"}})

	got := make(chan Message, 4)
	go func() {
		_ = ReadStream(ctx, resp.Body, func(m Message) { got <- m })
	}()

	for _, want := range []string{`{"mode":"manual","type":"mode"}`, `{"id":"7","type":"resolved"}`} {
		select {
		case m := <-got:
			if string(m.Data) != want {
				t.Fatalf("data = %s, want %s", m.Data, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	waitFor(t, func() bool { return broker.Subscribers(TopicAnnotations) == 0 })
}

func TestReadStreamParsesFrames(t *testing.T) {
	input := ": keep-alive\n\nevent: reply-added\ndata: {\"a\":1}\n\ndata: line1\ndata: line2\n\n"
	var frames []Message
	if err := ReadStream(context.Background(), strings.NewReader(input), func(m Message) {
		frames = append(frames, m)
	}); err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Name != "reply-added" || string(frames[0].Data) != `{"a":1}` {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].Name != "" || string(frames[1].Data) != "line1\nline2" {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
}

func TestWriteEventFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvent(&buf, Event{Name: "mode", Payload: map[string]string{"mode": "watch"}}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	want := "event: mode\ndata: {\"mode\":\"watch\"}\n\n"
	if buf.String() != want {
		t.Fatalf("WriteEvent = %q, want %q", buf.String(), want)
	}
}

func assertReceives(t *testing.T, ch <-chan Event, payloads []any) {
	t.Helper()
	for _, want := range payloads {
		select {
		case ev := <-ch:
			if ev.Payload != want {
				t.Fatalf("payload = %v, want %v", ev.Payload, want)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("timed out waiting for payload %v", want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
