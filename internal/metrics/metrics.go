package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionmeter_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionmeter_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Session lifecycle metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionmeter_sessions_started_total",
			Help: "Total sessions started",
		},
	)

	DeviceStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionmeter_device_stops_total",
			Help: "Total devices stopped",
		},
	)

	DeviceSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionmeter_device_switches_total",
			Help: "Total automatic switches to another device",
		},
	)

	Resets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionmeter_resets_total",
			Help: "Total full state resets",
		},
	)

	// Rate limiting metrics
	RateLimitedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionmeter_rate_limited_requests_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)

	// Stream metrics
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionmeter_stream_clients",
			Help: "Number of connected summary stream clients",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionsStarted,
		DeviceStops,
		DeviceSwitches,
		Resets,
		RateLimitedRequests,
		StreamClients,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
