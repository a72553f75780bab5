package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the scheduling engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	bookingsCreated   prometheus.Counter
	bookingConflicts  prometheus.Counter
	seriesOccurrences *prometheus.CounterVec
	cancellations     *prometheus.CounterVec
	makeupsExpired    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	bookingsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total lesson bookings successfully created",
	})

	bookingConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_conflicts_total",
		Help: "Total booking attempts rejected due to resource conflicts",
	})

	seriesOccurrences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "series_occurrences_total",
		Help: "Recurring series occurrences by outcome",
	}, []string{"outcome"})

	cancellations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cancellation_decisions_total",
		Help: "Cancellation review decisions by outcome",
	}, []string{"decision"})

	makeupsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "makeups_expired_total",
		Help: "Total makeup credits expired by the sweep",
	})

	registry.MustRegister(
		requestDuration,
		requestTotal,
		bookingsCreated,
		bookingConflicts,
		seriesOccurrences,
		cancellations,
		makeupsExpired,
	)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		bookingsCreated:   bookingsCreated,
		bookingConflicts:  bookingConflicts,
		seriesOccurrences: seriesOccurrences,
		cancellations:     cancellations,
		makeupsExpired:    makeupsExpired,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// BookingCreated increments the created counter.
func (s *MetricsService) BookingCreated() {
	s.bookingsCreated.Inc()
}

// BookingConflict increments the conflict counter.
func (s *MetricsService) BookingConflict() {
	s.bookingConflicts.Inc()
}

// SeriesOccurrence records one occurrence outcome ("created" or "skipped").
func (s *MetricsService) SeriesOccurrence(outcome string) {
	s.seriesOccurrences.WithLabelValues(outcome).Inc()
}

// CancellationDecision records a review outcome ("approved" or "rejected").
func (s *MetricsService) CancellationDecision(decision string) {
	s.cancellations.WithLabelValues(decision).Inc()
}

// MakeupsExpired adds the number of credits expired by a sweep run.
func (s *MetricsService) MakeupsExpired(n int) {
	s.makeupsExpired.Add(float64(n))
}
