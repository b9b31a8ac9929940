// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phantomfetch/phantomfetch/internal/api/handlers"
	"github.com/phantomfetch/phantomfetch/internal/api/middleware"
	"github.com/phantomfetch/phantomfetch/internal/services/classifier"
)

type Server struct {
	server *http.Server
	logger zerolog.Logger

	host    string
	port    int
	baseURL string

	queue       handlers.QueueStore
	classifier  classifier.Classifier
	scheduler   handlers.SchedulerStats
	downloads   handlers.DownloadSnapshotter
	submissions handlers.SubmissionLister
	reaper      handlers.ReaperStatus
	limit       func() int
}

// Dependencies wires the API. Queue is required; the rest may be nil.
type Dependencies struct {
	Host    string
	Port    int
	BaseURL string

	Queue       handlers.QueueStore
	Classifier  classifier.Classifier
	Scheduler   handlers.SchedulerStats
	Downloads   handlers.DownloadSnapshotter
	Submissions handlers.SubmissionLister
	Reaper      handlers.ReaperStatus
	// Limit reports the current download cap alongside the admission snapshot.
	Limit func() int
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:      log.Logger.With().Str("module", "api").Logger(),
		host:        deps.Host,
		port:        deps.Port,
		baseURL:     normalizeBaseURL(deps.BaseURL),
		queue:       deps.Queue,
		classifier:  deps.Classifier,
		scheduler:   deps.Scheduler,
		downloads:   deps.Downloads,
		submissions: deps.Submissions,
		reaper:      deps.Reaper,
		limit:       deps.Limit,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.baseURL).
		Msgf("Starting API server - Open: http://%s%sapi/status", host, s.baseURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	if s.queue == nil {
		return nil, errors.New("api: queue store is required")
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		MaxAge: 300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler()
	queuesHandler := handlers.NewQueuesHandler(s.queue)
	requestsHandler := handlers.NewRequestsHandler(s.queue, s.classifier)
	statusHandler := handlers.NewStatusHandler(s.scheduler, s.downloads, s.submissions, s.reaper, s.limit)

	apiRouter := chi.NewRouter()
	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Get("/health", healthHandler.HandleHealth)
		r.Get("/status", statusHandler.GetStatus)

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", queuesHandler.Counts)
			r.Route("/{category}", func(r chi.Router) {
				r.Get("/", queuesHandler.List)
				r.Post("/", queuesHandler.Add)
				r.Put("/", queuesHandler.Edit)
				r.Delete("/", queuesHandler.Remove)
				r.Get("/peek", queuesHandler.Peek)
				r.Get("/search", queuesHandler.Search)
			})
		})

		r.Post("/requests", requestsHandler.Create)
	})

	r.Mount(s.baseURL+"api", apiRouter)

	if s.baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Must use baseUrl: " + s.baseURL + " instead of /"))
		})
	}

	return r, nil
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "/"
	}
	if !strings.HasPrefix(baseURL, "/") {
		baseURL = "/" + baseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}
