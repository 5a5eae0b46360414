package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telepresence-headset/clock"
	"telepresence-headset/config"
	"telepresence-headset/control"
	"telepresence-headset/ntpsync"
	"telepresence-headset/pipeline"
)

// Server is the diagnostics HTTP server: /status, /ws, and /health.
type Server struct {
	config      *config.Config
	logger      *zap.Logger
	httpServer  *http.Server
	handlers    *Handlers
	broadcaster *Broadcaster
}

// NewServer wires a diagnostics server to the running components.
func NewServer(cfg *config.Config, clk *clock.Clock, ntp *ntpsync.Timer, sup *pipeline.Supervisor, link *control.Link, logger *zap.Logger) *Server {
	handlers := NewHandlers(cfg, clk, ntp, sup, link, logger)
	return &Server{
		config:      cfg,
		logger:      logger,
		handlers:    handlers,
		broadcaster: NewBroadcaster(handlers, logger),
	}
}

// Start begins serving HTTP and the background snapshot broadcaster.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handlers.HandleStatus)
	mux.HandleFunc("/health", s.handlers.HandleHealth)
	mux.HandleFunc("/ws", s.broadcaster.HandleWS)

	addr := fmt.Sprintf(":%d", s.config.Network.DiagnosticsPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.addMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.broadcaster.Run()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("diagnostics server error", zap.Error(err))
		}
	}()

	s.logger.Info("diagnostics server started", zap.String("address", addr))
	return nil
}

// addMiddleware applies permissive CORS (diagnostics is read-only and
// same-LAN) and request logging, matching the teacher's middleware wrapper.
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(lw, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Stop gracefully shuts the server down within the configured shutdown
// timeout.
func (s *Server) Stop() error {
	s.broadcaster.Stop()
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.Timeouts.ShutdownSeconds)*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during diagnostics server shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("diagnostics server stopped")
	return nil
}
