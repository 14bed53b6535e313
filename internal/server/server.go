package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/taskdeck/taskdeck/internal/engine"
	"github.com/taskdeck/taskdeck/internal/tasks"
)

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. "127.0.0.1:8321"

	// DefaultSession is used when a request carries no X-Session-ID header.
	DefaultSession string
}

// Server is the HTTP surface over the chat engine and the task client.
type Server struct {
	config  Config
	engine  *engine.Engine
	tasks   *tasks.Client
	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
	logger  *log.Logger

	mu           sync.Mutex
	broadcasters map[string]*Broadcaster
}

// New creates a new Server with the given config.
func New(cfg Config, eng *engine.Engine, taskClient *tasks.Client) *Server {
	if cfg.DefaultSession == "" {
		cfg.DefaultSession = "default"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:       cfg,
		engine:       eng,
		tasks:        taskClient,
		baseCtx:      ctx,
		cancel:       cancel,
		logger:       log.New(os.Stderr, "[taskdeck-server] ", log.LstdFlags),
		broadcasters: make(map[string]*Broadcaster),
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat/messages", s.handleSubmitMessage)
	mux.HandleFunc("GET /chat/history", s.handleHistory)
	mux.HandleFunc("POST /chat/clear", s.handleClear)
	mux.HandleFunc("GET /chat/events", s.handleEvents)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /tasks/stats", s.handleTaskStats)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin POST requests. Browsers automatically set
// the Origin header on cross-origin requests, so checking it blocks CSRF from
// malicious web pages while allowing CLI/programmatic callers (which either
// omit Origin or set it to match the server).
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				// Allow only localhost-family origins.
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.mu.Lock()
	for _, b := range s.broadcasters {
		b.Close()
	}
	s.mu.Unlock()

	s.cancel()
}

// broadcaster returns the per-session chunk broadcaster, creating it on
// first use.
func (s *Server) broadcaster(session string) *Broadcaster {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasters[session]
	if !ok {
		b = NewBroadcaster()
		s.broadcasters[session] = b
	}
	return b
}
