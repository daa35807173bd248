package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/events"
)

func (s *Server) handleSubmitAnnotation(w http.ResponseWriter, r *http.Request) {
	var in annotation.Input
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, fmt.Errorf("malformed annotation: %w", err))
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.queue.Submit(in))
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	switch status := annotation.Status(r.URL.Query().Get("status")); status {
	case "":
		writeJSON(w, http.StatusOK, s.queue.ListAll())
	case annotation.StatusPending:
		writeJSON(w, http.StatusOK, s.queue.ListPending())
	case annotation.StatusResolved:
		all := s.queue.ListAll()
		out := make([]annotation.Annotation, 0, len(all))
		for _, a := range all {
			if a.Status == annotation.StatusResolved {
				out = append(out, a)
			}
		}
		writeJSON(w, http.StatusOK, out)
	default:
		badRequest(w, r, fmt.Errorf("unknown status %q", status))
	}
}

// handleNextAnnotation blocks until an annotation is pending or the caller
// disconnects. There is no server-side timeout.
func (s *Server) handleNextAnnotation(w http.ResponseWriter, r *http.Request) {
	a, err := s.queue.Next(r.Context())
	if err != nil {
		log.Debug().Str("component", "server").Msg("long-poll caller disconnected")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleResolveAnnotation(w http.ResponseWriter, r *http.Request) {
	a, ok := s.queue.Resolve(mux.Vars(r)["id"])
	if !ok {
		writeError(w, r, errAnnotationNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	if !s.queue.Delete(mux.Vars(r)["id"]) {
		writeError(w, r, errAnnotationNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, annotation.ModeEvent{Type: annotation.EventMode, Mode: s.detector.Mode()})
}

// handleAnnotationEvents opens the annotation stream, starting with the
// current mode so a fresh subscriber never has to guess.
func (s *Server) handleAnnotationEvents(w http.ResponseWriter, r *http.Request) {
	initial := events.Event{
		Name:    annotation.EventMode,
		Payload: annotation.ModeEvent{Type: annotation.EventMode, Mode: s.detector.Mode()},
	}
	s.serveStream(w, r, events.TopicAnnotations, initial)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, topic string, initial ...events.Event) {
	err := s.broker.Serve(w, r, topic, initial...)
	if errors.Is(err, events.ErrStreamingUnsupported) {
		writeError(w, r, err)
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("component", "server").Str("topic", topic).Msg("event stream ended")
	}
}
