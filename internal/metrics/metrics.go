// Package metrics exposes call lifecycle counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	callsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewcall_calls_started_total",
		Help: "Calls that reached the connected state",
	})
	callsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewcall_calls_terminated_total",
		Help: "Call terminations, partitioned by reason",
	}, []string{"reason"})
	callsTooShort = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interviewcall_calls_too_short_total",
		Help: "Calls that ended before the minimum duration",
	})
	callFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewcall_call_failures_total",
		Help: "Displayed call failures, partitioned by kind",
	}, []string{"kind"})
	feedbackRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interviewcall_feedback_requests_total",
		Help: "Feedback pipeline requests, partitioned by result",
	}, []string{"result"})
	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interviewcall_call_duration_seconds",
		Help:    "Elapsed time of terminated calls",
		Buckets: []float64{10, 20, 60, 300, 600, 900, 1800, 3600},
	})
)

func CallStarted() {
	callsStarted.Inc()
}

func CallTerminated(reason string, elapsedSeconds int) {
	callsTerminated.WithLabelValues(reason).Inc()
	callDuration.Observe(float64(elapsedSeconds))
}

func CallTooShort() {
	callsTooShort.Inc()
}

func CallFailed(kind string) {
	callFailures.WithLabelValues(kind).Inc()
}

// FeedbackRequested counts a feedback submission; err is its outcome.
func FeedbackRequested(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	feedbackRequests.WithLabelValues(result).Inc()
}

// Handler returns the /metrics mux.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve runs the metrics server on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] serving on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
