package metrics

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/spirit-labs/preagg/logger"
)

type (
	Labels        = prometheus.Labels
	Counter       = prometheus.Counter
	CounterVec    = prometheus.CounterVec
	CounterOpts   = prometheus.CounterOpts
	HistogramOpts = prometheus.HistogramOpts
	Histogram     = prometheus.Histogram
)

const namespace = "preagg"

// NewCounterVec creates a counter vector in the preagg namespace registered with the default registry.
func NewCounterVec(name string, help string, labels ...string) *CounterVec {
	c := prometheus.NewCounterVec(CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	prometheus.MustRegister(c)
	return c
}

func NewCounter(name string, help string) Counter {
	c := prometheus.NewCounter(CounterOpts{Namespace: namespace, Name: name, Help: help})
	prometheus.MustRegister(c)
	return c
}

func NewHistogram(name string, help string, buckets []float64) Histogram {
	h := prometheus.NewHistogram(HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets})
	prometheus.MustRegister(h)
	return h
}

// Server exposes the default registry over http on /metrics.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(bind string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		}),
	))
	return &Server{
		httpServer: &http.Server{
			Addr:              bind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("prometheus http export server failed to serve %v", err)
		}
	}()
	log.Debugf("started prometheus http server on address %s", listener.Addr())
	return nil
}

// Addr is the address the server listens on once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}
