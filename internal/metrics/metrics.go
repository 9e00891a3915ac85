// Package metrics exports the daemon's Prometheus counters.
//
// Collectors are registered with the default registry at init time and are
// served by Handler. Nothing is exported unless metrics.listen is set.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "provisiond"

var (
	// DNSAnswered counts hijacked answers sent.
	DNSAnswered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_answered_total",
		Help:      "DNS queries answered with the portal address",
	})

	// DNSDropped counts packets discarded without a response.
	DNSDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_dropped_total",
		Help:      "DNS packets dropped without a response",
	}, []string{"reason"})

	// DNSSkipped counts responder cycles skipped entirely.
	DNSSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_skipped_total",
		Help:      "DNS responder cycles skipped before reading",
	}, []string{"reason"})

	// PortalRequests counts portal HTTP requests by outcome.
	PortalRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "portal_requests_total",
		Help:      "Portal HTTP requests by kind",
	}, []string{"kind"})

	// ConnectAttempts counts station join attempts by result.
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Station join attempts by result",
	}, []string{"result"})

	// DHCPLeases counts leases granted to AP clients.
	DHCPLeases = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dhcp_leases_total",
		Help:      "DHCP leases acknowledged on the provisioning AP",
	})

	// State is 1 for the current provisioning state and 0 for the others.
	State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "state",
		Help:      "Current provisioning state",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(DNSAnswered, DNSDropped, DNSSkipped,
		PortalRequests, ConnectAttempts, DHCPLeases, State)
}

// SetState marks state as current among all.
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		State.WithLabelValues(s).Set(v)
	}
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
