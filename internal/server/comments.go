package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/comments"
	"github.com/madebynoam/canvai-sub001/internal/events"
)

type replyRequest struct {
	Body string `json:"body"`
}

type reactionRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type reactionResponse struct {
	Reactions []comments.Reaction `json:"reactions"`
}

type promoteRequest struct {
	MessageID string `json:"messageId"`
}

// threadNumber returns the issue number behind {id}, or writes an error and
// returns false. It also rejects requests when no store is configured.
func (s *Server) threadNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	if s.threads == nil {
		writeError(w, r, errCommentsDisabled)
		return 0, false
	}
	n, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || n <= 0 {
		writeError(w, r, errInvalidThreadID)
		return 0, false
	}
	return n, true
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if s.threads == nil {
		writeError(w, r, errCommentsDisabled)
		return
	}
	threads, err := s.threads.ListThreads(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if threads == nil {
		threads = []comments.Thread{}
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	if s.threads == nil {
		writeError(w, r, errCommentsDisabled)
		return
	}
	var in comments.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, fmt.Errorf("malformed thread: %w", err))
		return
	}
	t, err := s.threads.CreateThread(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	t, err := s.threads.GetThread(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAddReply(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, fmt.Errorf("malformed reply: %w", err))
		return
	}
	m, err := s.threads.AddReply(r.Context(), n, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleResolveThread(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	t, err := s.threads.ResolveThread(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReopenThread(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	t, err := s.threads.ReopenThread(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	if err := s.threads.DeleteThread(r.Context(), n); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleReaction(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	var req reactionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, fmt.Errorf("malformed reaction: %w", err))
		return
	}
	reactions, err := s.threads.ToggleReaction(r.Context(), n, req.MessageID, req.Emoji)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reactionResponse{Reactions: reactions})
}

// handlePromote queues a thread message as an annotation and records the
// annotation id in the thread's metadata. A failed metadata rewrite does not
// undo the annotation; the returned thread still carries the id.
func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.threadNumber(w, r)
	if !ok {
		return
	}
	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, fmt.Errorf("malformed promote request: %w", err))
		return
	}

	t, err := s.threads.GetThread(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := t.AnnotationInput(req.MessageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a := s.queue.Submit(in)

	linked, err := s.threads.LinkAnnotation(r.Context(), n, a.ID)
	if err != nil {
		log.Warn().Err(err).Str("component", "server").Int("issue", n).Str("annotation", a.ID).Msg("could not record annotation on thread")
		linked = t
		linked.AnnotationID = a.ID
	}
	writeJSON(w, http.StatusCreated, comments.PromoteResult{Annotation: a, Thread: *linked})
}

func (s *Server) handleCommentEvents(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, events.TopicComments)
}
