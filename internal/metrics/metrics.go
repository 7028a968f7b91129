// Package metrics exposes Prometheus counters/gauges for the replica and
// client processes. This is observability only: nothing here is read by
// the protocol core (internal/replica, internal/client).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Replica bundles the counters/gauges exported by a replica process.
type Replica struct {
	registry *prometheus.Registry

	RequestsReceived *prometheus.CounterVec
	RequestsExecuted prometheus.Counter
	ConnectedClients prometheus.Gauge
	Failures         prometheus.Counter
}

// NewReplica builds a fresh, independently-registered Replica metrics
// bundle so that multiple replicas can run in the same test process
// without colliding on the global Prometheus registry.
func NewReplica() *Replica {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Replica{
		registry: reg,
		RequestsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rsm_replica_requests_received_total",
			Help: "Requests received from clients, by transaction code.",
		}, []string{"transaction"}),
		RequestsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsm_replica_requests_executed_total",
			Help: "Non-dummy requests executed by the stability selector.",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rsm_replica_connected_clients",
			Help: "Number of clients currently connected to this replica.",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsm_replica_failures_total",
			Help: "Simulated failures injected into this replica (0 or 1).",
		}),
	}
}

// Serve starts an HTTP server exposing this bundle's /metrics endpoint.
// Runs until the listener errors (e.g. on process shutdown); callers
// typically invoke this in its own goroutine and log the error.
func (r *Replica) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}

// Client bundles the counters exported by a client process.
type Client struct {
	registry *prometheus.Registry

	Broadcasts  *prometheus.CounterVec
	Acks        prometheus.Counter
	Demotions   prometheus.Counter
	DummyTicks  prometheus.Counter
}

// NewClient builds a fresh, independently-registered Client metrics bundle.
func NewClient() *Client {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Client{
		registry: reg,
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rsm_client_broadcasts_total",
			Help: "Requests broadcast to replicas, by transaction code.",
		}, []string{"transaction"}),
		Acks: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsm_client_acks_received_total",
			Help: "Acks received from replicas.",
		}),
		Demotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsm_client_replica_demotions_total",
			Help: "Replicas demoted after an observed failure notice.",
		}),
		DummyTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsm_client_dummy_ticks_total",
			Help: "Dummy requests broadcast by the liveness ticker.",
		}),
	}
}

// Serve starts an HTTP server exposing this bundle's /metrics endpoint.
func (c *Client) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
