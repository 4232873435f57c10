// Package server exposes the Reader API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedsync/internal/greader"
	"github.com/bryan-buckman/feedsync/internal/rss"
)

// Server is the main HTTP server.
type Server struct {
	service *greader.Service
	poller  *rss.Poller
	auth    Authenticator
	router  chi.Router

	mu   sync.Mutex
	http *http.Server
}

// New creates a server. poller may be nil when no background refresh is wanted.
func New(service *greader.Service, poller *rss.Poller, auth Authenticator) *Server {
	s := &Server{
		service: service,
		poller:  poller,
		auth:    auth,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Post("/accounts/ClientLogin", s.handleClientLogin)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/reader", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/ping", s.handlePing)

		r.Route("/api/0", func(r chi.Router) {
			r.Get("/user-info", s.handleUserInfo)
			r.Get("/token", s.handleToken)

			r.Get("/subscription/list", s.handleSubscriptionList)
			r.Post("/subscription/quickadd", s.handleQuickAdd)
			r.Post("/subscription/edit", s.handleSubscriptionEdit)
			r.Post("/subscription/import", s.handleImportOPML)
			r.Get("/subscription/export", s.handleExportOPML)

			r.Get("/stream/items/ids", s.handleItemIDs)
			r.Post("/stream/items/ids", s.handleItemIDs)
			r.Post("/stream/items/contents", s.handleContents)

			r.Post("/edit-tag", s.handleEditTag)
			r.Post("/mark-all-as-read", s.handleMarkAllAsRead)
			r.Get("/unread-count", s.handleUnreadCount)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/unread", s.handleUnread)
		r.Post("/markAsRead", s.handleMarkAsRead)
		r.Post("/addSubscription", s.handleAddSubscription)
	})

	s.router = r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	if s.poller != nil {
		s.poller.Start()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	log.WithField("addr", addr).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and stops the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if s.poller != nil {
		s.poller.Stop()
	}
	return err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"took":       time.Since(start).Round(time.Microsecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}
