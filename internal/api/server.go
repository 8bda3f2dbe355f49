// Package api exposes the stressd control surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/perfbench/stressd/internal/metrics"
	"github.com/perfbench/stressd/internal/otel"
	"github.com/perfbench/stressd/internal/runmanager"
	"github.com/perfbench/stressd/internal/sysinfo"
)

type Server struct {
	runManager        *runmanager.RunManager
	sysReader         *sysinfo.Reader
	metricsCollector  *metrics.Collector
	tracer            *otel.Tracer
	otelMetrics       *otel.Metrics
	stressorBinary    string
	server            *http.Server
	listener          net.Listener
	mu                sync.Mutex
	running           bool
	addr              string
	rateLimiter       *rateLimiter
	rateLimiterConfig *RateLimiterConfig
}

func NewServer(addr string, rm *runmanager.RunManager) *Server {
	return &Server{
		runManager:        rm,
		addr:              addr,
		rateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// SetRateLimiterConfig configures the rate limiter.
// Must be called before Start() for changes to take effect.
func (s *Server) SetRateLimiterConfig(config *RateLimiterConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimiterConfig = config
	s.rateLimiter = nil // Reset to pick up new config
}

func (s *Server) SetSystemReader(r *sysinfo.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysReader = r
}

func (s *Server) SetMetricsCollector(mc *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsCollector = mc
}

func (s *Server) GetMetricsCollector() *metrics.Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsCollector
}

func (s *Server) SetTracer(t *otel.Tracer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracer = t
}

func (s *Server) SetOTelMetrics(m *otel.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otelMetrics = m
}

// SetStressorBinary sets the binary checked by the readiness probe.
func (s *Server) SetStressorBinary(binary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stressorBinary = binary
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/stress", s.rateLimitMiddleware(http.HandlerFunc(s.handleStress)).ServeHTTP)
	mux.HandleFunc("/stop", s.rateLimitMiddleware(http.HandlerFunc(s.handleStop)).ServeHTTP)
	mux.HandleFunc("/reset", s.rateLimitMiddleware(http.HandlerFunc(s.handleReset)).ServeHTTP)
	mux.HandleFunc("/status", s.rateLimitMiddleware(http.HandlerFunc(s.handleStatus)).ServeHTTP)
	mux.HandleFunc("/events", s.rateLimitMiddleware(http.HandlerFunc(s.handleEvents)).ServeHTTP)
	mux.HandleFunc("/metrics", s.rateLimitMiddleware(http.HandlerFunc(s.handleSystemMetrics)).ServeHTTP)
	mux.HandleFunc("/metrics/prometheus", s.handlePrometheusMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReadyz)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	var handler http.Handler = mux
	handler = s.requestMetricsMiddleware(handler)
	if s.tracer != nil || s.otelMetrics != nil {
		handler = otel.Middleware(s.tracer, s.otelMetrics)(handler)
	}

	s.server = &http.Server{
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // Protect against slowloris attacks
	}

	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("server error: %v\n", err)
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Lazy initialize rate limiter
		s.mu.Lock()
		if s.rateLimiter == nil {
			s.rateLimiter = newRateLimiter(s.rateLimiterConfig)
		}
		rl := s.rateLimiter
		config := s.rateLimiterConfig
		s.mu.Unlock()

		if !rl.allow(clientKey(r)) {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))
			w.Header().Set("Retry-After", "1")

			s.writeError(w, http.StatusTooManyRequests, &ErrorResponse{
				ErrorType:    ErrorTypeRateLimited,
				ErrorCode:    ErrorCodeRateLimitExceeded,
				ErrorMessage: "Too many requests. Please slow down.",
				Retryable:    true,
				Details: map[string]interface{}{
					"retry_after_seconds": 1,
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey identifies a client by remote host, ignoring the ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestMetricsMiddleware feeds served requests into the Prometheus collector.
func (s *Server) requestMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		mc := s.metricsCollector
		s.mu.Unlock()

		if mc == nil {
			next.ServeHTTP(w, r)
			return
		}

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		mc.RecordRequest(r.URL.Path, sr.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// StartTestServer creates a test server and returns it with a cleanup function.
// Returns an error if the server fails to start.
func StartTestServer(rm *runmanager.RunManager) (*Server, func(), error) {
	server := NewServer("127.0.0.1:0", rm)
	if err := server.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start test server: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return server, cleanup, nil
}
