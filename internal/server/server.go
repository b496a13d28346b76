// Package server exposes the runtime over an SSE transport: GET /events for
// the event stream, POST /message for client messages, GET /health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/snow-ai/snow/internal/app"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/proc"
	"github.com/snow-ai/snow/internal/session"
)

// Server is the SSE transport server.
type Server struct {
	app  *app.App
	http *http.Server

	mu      sync.Mutex
	pending map[string]chan confirmAnswer // requestID -> answer
}

// confirmAnswer is a client's confirmation response.
type confirmAnswer struct {
	Action string `json:"action"`
	Reply  string `json:"reply,omitempty"`
}

// New creates a server and installs it as the gate's confirmer.
func New(a *app.App, port int) *Server {
	srv := &Server{
		app:     a,
		pending: make(map[string]chan confirmAnswer),
	}
	a.Gate.SetConfirmer(srv)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/events", srv.handleEvents)
	r.Post("/message", srv.handleMessage)
	r.Get("/health", srv.handleHealth)

	srv.http = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// ListenAndServe runs the server until the context is cancelled.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.http.Shutdown(shutdownCtx)
	}()

	logging.Info().Str("addr", srv.http.Addr).Msg("sse server listening")
	err := srv.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Confirm implements permission.Confirmer over the SSE transport: the
// permission.required event (already published by the gate) reaches clients
// as tool_confirmation_request; the client's response resolves it here.
func (srv *Server) Confirm(ctx context.Context, req permission.Request) (permission.Decision, error) {
	ch := make(chan confirmAnswer, 1)
	srv.mu.Lock()
	srv.pending[req.ID] = ch
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.pending, req.ID)
		srv.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return permission.Decision{}, ctx.Err()
	case answer := <-ch:
		switch answer.Action {
		case "approve-once":
			return permission.Decision{Kind: permission.DecisionAllow}, nil
		case "approve-always":
			return permission.Decision{Kind: permission.DecisionAllow, Always: true}, nil
		case "reject-with-reply":
			return permission.Decision{Kind: permission.DecisionRejectWithReply, Reply: answer.Reply}, nil
		default:
			return permission.Decision{Kind: permission.DecisionReject}, nil
		}
	}
}

// clientMessage is the POST /message payload.
type clientMessage struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Images    []message.Image `json:"images,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Response  *confirmAnswer  `json:"response,omitempty"`
	YOLOMode  *bool           `json:"yoloMode,omitempty"`
}

func (srv *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg clientMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	switch msg.Type {
	case "chat", "image":
		srv.handleChat(w, r, msg)
	case "tool_confirmation_response", "user_question_response":
		srv.handleConfirmResponse(w, msg)
	case "tool_input":
		srv.handleToolInput(w, msg)
	case "abort":
		srv.handleAbort(w, r, msg)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown message type: " + msg.Type})
	}
}

// handleToolInput routes a user-typed line to a child process flagged as
// waiting for input.
func (srv *Server) handleToolInput(w http.ResponseWriter, msg clientMessage) {
	if msg.SessionID == "" || msg.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId and requestId (the tool callId) are required"})
		return
	}
	child := proc.Default().Find(msg.SessionID, msg.RequestID)
	if child == nil || child.WriteInput == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no process waiting for input"})
		return
	}
	if err := child.WriteInput(msg.Content); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) handleChat(w http.ResponseWriter, r *http.Request, msg clientMessage) {
	ctx := r.Context()

	var sess *session.Session
	var err error
	if msg.SessionID != "" {
		sess, err = srv.app.Sessions.Load(ctx, msg.SessionID)
	} else {
		sess, err = srv.app.Sessions.Create(ctx, "")
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	input := session.UserInput{
		Text:   msg.Content,
		Images: msg.Images,
		YOLO:   msg.YOLOMode,
	}
	// The turn runs asynchronously; results stream over /events.
	srv.app.Sessions.Submit(sess, input)

	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": sess.ID()})
}

func (srv *Server) handleConfirmResponse(w http.ResponseWriter, msg clientMessage) {
	if msg.RequestID == "" || msg.Response == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId and response are required"})
		return
	}

	srv.mu.Lock()
	ch, ok := srv.pending[msg.RequestID]
	srv.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown requestId"})
		return
	}

	select {
	case ch <- *msg.Response:
	default:
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) handleAbort(w http.ResponseWriter, r *http.Request, msg clientMessage) {
	if msg.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId is required"})
		return
	}
	sess, err := srv.app.Sessions.Load(r.Context(), msg.SessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	srv.app.Sessions.Cancel(sess)
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborting"})
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": srv.app.Providers.IDs(),
		"tools":     len(srv.app.Registry.IDs()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
