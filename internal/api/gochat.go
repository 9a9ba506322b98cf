package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chathub/internal/auth"
	"github.com/npezzotti/go-chathub/internal/config"
	"github.com/npezzotti/go-chathub/internal/database"
)

type GoChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	cs             ChatService
	tokens         *auth.TokenAuthority
	allowedOrigins []string
	upgrader       websocket.Upgrader
	srv            *http.Server
}

// NewGoChatApp wires the REST and websocket routes. metrics may be nil.
func NewGoChatApp(logger *log.Logger, cs ChatService, db database.ChatRepository, tokens *auth.TokenAuthority, metrics http.Handler, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		tokens:         tokens,
		allowedOrigins: cfg.AllowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(s.routes(metrics))

	h = s.errorHandler(h)
	if logger != nil {
		h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	}

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *GoChatApp) routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", s.healthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Get("/ws", s.serveWs)

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", s.register)
		r.Post("/users/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/users/logout", s.logout)
			r.Get("/users/current-user", s.currentUser)

			r.Get("/chats", s.listChats)
			r.Get("/chats/users", s.listUsers)
			r.Post("/chats/c/{receiverId}", s.createOrGetOneOnOneChat)
			r.Delete("/chats/remove/{chatId}", s.removeOneOnOneChat)
			r.Delete("/chats/leave/group/{chatId}", s.leaveGroupChat)
			r.Post("/chats/group", s.createGroupChat)
			r.Route("/chats/group/{chatId}", func(r chi.Router) {
				r.Get("/", s.getGroupChat)
				r.Patch("/", s.renameGroupChat)
				r.Delete("/", s.deleteGroupChat)
				r.Post("/{participantId}", s.addParticipant)
				r.Delete("/{participantId}", s.removeParticipant)
			})

			r.Route("/messages/{chatId}", func(r chi.Router) {
				r.Get("/", s.listMessages)
				r.Post("/", s.sendMessage)
				r.Delete("/{messageId}", s.deleteMessage)
			})
		})
	})

	return r
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
