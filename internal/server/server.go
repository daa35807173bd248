package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/auth"
	"github.com/madebynoam/canvai-sub001/internal/comments"
	"github.com/madebynoam/canvai-sub001/internal/events"
)

// Threads is the comment thread store behind /comments. *comments.Store
// implements it.
type Threads interface {
	ListThreads(ctx context.Context) ([]comments.Thread, error)
	GetThread(ctx context.Context, number int) (*comments.Thread, error)
	CreateThread(ctx context.Context, in comments.CreateInput) (*comments.Thread, error)
	AddReply(ctx context.Context, number int, body string) (*comments.Message, error)
	ResolveThread(ctx context.Context, number int) (*comments.Thread, error)
	ReopenThread(ctx context.Context, number int) (*comments.Thread, error)
	DeleteThread(ctx context.Context, number int) error
	ToggleReaction(ctx context.Context, number int, messageID, emoji string) ([]comments.Reaction, error)
	LinkAnnotation(ctx context.Context, number int, annotationID string) (*comments.Thread, error)
}

// DeviceFlow drives sign-in. *auth.Flow implements it.
type DeviceFlow interface {
	Initiate(ctx context.Context) (*auth.Session, error)
	Poll(ctx context.Context, deviceCode string) (auth.PollResult, error)
	Logout() error
}

// Identity reports the signed-in user. *auth.Store implements it.
type Identity interface {
	User() (*auth.User, bool)
}

// Options wires the relay's collaborators. Threads, Flow, Identity and
// Webhook are optional; their routes answer 503 when absent.
type Options struct {
	Queue    *annotation.Queue
	Detector *annotation.Detector
	Broker   *events.Broker
	Threads  Threads
	Flow     DeviceFlow
	Identity Identity
	Webhook  http.Handler
}

// Server is the relay's HTTP surface.
type Server struct {
	queue    *annotation.Queue
	detector *annotation.Detector
	broker   *events.Broker
	threads  Threads
	flow     DeviceFlow
	identity Identity
	webhook  http.Handler
}

// New creates a relay server.
func New(opts Options) *Server {
	return &Server{
		queue:    opts.Queue,
		detector: opts.Detector,
		broker:   opts.Broker,
		threads:  opts.Threads,
		flow:     opts.Flow,
		identity: opts.Identity,
		webhook:  opts.Webhook,
	}
}

// Router registers every relay route on a new router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Annotation queue
	r.HandleFunc("/annotations", s.handleSubmitAnnotation).Methods("POST")
	r.HandleFunc("/annotations", s.handleListAnnotations).Methods("GET")
	r.HandleFunc("/annotations/next", s.handleNextAnnotation).Methods("GET")
	r.HandleFunc("/annotations/events", s.handleAnnotationEvents).Methods("GET")
	r.HandleFunc("/annotations/{id}/resolve", s.handleResolveAnnotation).Methods("POST")
	r.HandleFunc("/annotations/{id}", s.handleDeleteAnnotation).Methods("DELETE")
	r.HandleFunc("/mode", s.handleMode).Methods("GET")

	// Device flow
	r.HandleFunc("/auth/device-code", s.handleDeviceCode).Methods("POST")
	r.HandleFunc("/auth/poll", s.handlePoll).Methods("POST")
	r.HandleFunc("/auth/user", s.handleUser).Methods("GET")
	r.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")

	// Comment threads; /comments/events must precede /comments/{id}
	r.HandleFunc("/comments/events", s.handleCommentEvents).Methods("GET")
	r.HandleFunc("/comments", s.handleListThreads).Methods("GET")
	r.HandleFunc("/comments", s.handleCreateThread).Methods("POST")
	r.HandleFunc("/comments/{id}", s.handleGetThread).Methods("GET")
	r.HandleFunc("/comments/{id}", s.handleDeleteThread).Methods("DELETE")
	r.HandleFunc("/comments/{id}/replies", s.handleAddReply).Methods("POST")
	r.HandleFunc("/comments/{id}/resolve", s.handleResolveThread).Methods("POST")
	r.HandleFunc("/comments/{id}/reopen", s.handleReopenThread).Methods("POST")
	r.HandleFunc("/comments/{id}/reactions", s.handleToggleReaction).Methods("POST")
	r.HandleFunc("/comments/{id}/promote", s.handlePromote).Methods("POST")

	if s.webhook != nil {
		r.Handle("/webhooks/github", s.webhook).Methods("POST")
	}

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	// Root endpoint with info
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":  "canvai-relay",
			"status":   "running",
			"mode":     s.detector.Mode(),
			"comments": s.threads != nil,
		})
	}).Methods("GET")

	return r
}

// Handler is the router wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	return accessLog(cors(s.Router()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

const maxBodyBytes = 1 << 20
