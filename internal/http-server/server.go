package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/delivery"
	"github.com/machamire/ndeip-core/internal/session"
	"github.com/machamire/ndeip-core/pkg/jwt"
	"github.com/machamire/ndeip-core/pkg/s3storage"
)

type Server struct {
	users      db.UserStore
	messages   db.MessageStore
	convs      db.ConversationStore
	calls      db.CallHistoryStore
	pipeline   *delivery.Pipeline
	sessions   *session.Manager
	tokens     *jwt.Service
	storage    *s3storage.MinIOClient
	log        *log.Logger
	httpServer *http.Server
}

func New(
	addr string,
	store *db.PostgresStore,
	pipeline *delivery.Pipeline,
	sessions *session.Manager,
	tokens *jwt.Service,
	storage *s3storage.MinIOClient,
	log *log.Logger,
) *Server {
	s := &Server{
		users:    store,
		messages: store,
		convs:    store,
		calls:    store,
		pipeline: pipeline,
		sessions: sessions,
		tokens:   tokens,
		storage:  storage,
		log:      log,
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the server until Shutdown is called or it fails
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
