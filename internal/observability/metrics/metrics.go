// Package metrics exposes pipeline and gateway health as Prometheus
// series, served under /metrics on the local API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokbot/internal/live"
)

// Service implements pipeline.Observer and owns its own registry so tests
// (and a future second room) never trip duplicate-registration panics on
// the global default registry.
type Service struct {
	reg *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	duplicatesTotal *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
}

// New builds the service. cacheSize and connected are sampled at scrape
// time; pass nil to skip those gauges.
func New(cacheSize func() float64, connected func() float64) *Service {
	s := &Service{reg: prometheus.NewRegistry()}

	s.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokbot",
		Name:      "events_accepted_total",
		Help:      "Canonical events accepted by the pipeline, by kind.",
	}, []string{"kind"})

	s.duplicatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokbot",
		Name:      "duplicates_blocked_total",
		Help:      "Raw events dropped as duplicates, by kind.",
	}, []string{"kind"})

	s.handlerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokbot",
		Name:      "handler_failures_total",
		Help:      "Dispatcher handler errors and panics, by kind and handler.",
	}, []string{"kind", "handler"})

	s.reg.MustRegister(s.eventsTotal, s.duplicatesTotal, s.handlerFailures)

	if cacheSize != nil {
		s.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokbot",
			Name:      "dedup_cache_entries",
			Help:      "Keys currently tracked across both dedup caches.",
		}, cacheSize))
	}
	if connected != nil {
		s.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tokbot",
			Name:      "gateway_connected",
			Help:      "1 while the gateway websocket is up.",
		}, connected))
	}

	return s
}

func (s *Service) EventAccepted(kind live.Kind) {
	s.eventsTotal.WithLabelValues(string(kind)).Inc()
}

func (s *Service) DuplicateBlocked(kind live.Kind) {
	s.duplicatesTotal.WithLabelValues(string(kind)).Inc()
}

func (s *Service) HandlerFailed(kind live.Kind, handler string) {
	s.handlerFailures.WithLabelValues(string(kind), handler).Inc()
}

// Handler serves the registry in the standard exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}
