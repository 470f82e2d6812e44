// Package observability — metrics.go
//
// Prometheus metrics for pitctld.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: pitctl_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - thermocouple_id is used as a label on per-channel gauges; the
//     channel count is fixed at a handful of configured sensors, never
//     unbounded.
//   - alert_type is a fixed five-value label.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for pitctld.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Control loop ─────────────────────────────────────────────────────────

	// ControlTempCelsius is the current control-channel temperature.
	ControlTempCelsius prometheus.Gauge

	// SetpointCelsius is the active PID setpoint.
	SetpointCelsius prometheus.Gauge

	// PIDOutputPercent is the PID controller's output, 0-100.
	PIDOutputPercent prometheus.Gauge

	// RelayState is 1 if the relay is currently energised, else 0.
	RelayState prometheus.Gauge

	// LoopDurationSeconds records control loop tick duration.
	LoopDurationSeconds prometheus.Histogram

	// LoopIterationsTotal counts completed control loop ticks.
	LoopIterationsTotal prometheus.Counter

	// ─── Thermocouples ────────────────────────────────────────────────────────

	// ThermocoupleTempCelsius is the last reading per channel.
	// Labels: thermocouple_id
	ThermocoupleTempCelsius *prometheus.GaugeVec

	// ThermocoupleFaultsTotal counts fault readings per channel.
	// Labels: thermocouple_id
	ThermocoupleFaultsTotal *prometheus.CounterVec

	// ─── Alerts ───────────────────────────────────────────────────────────────

	// AlertsActive is the current number of active alerts by type.
	// Labels: alert_type
	AlertsActive *prometheus.GaugeVec

	// AlertsRaisedTotal counts alert activations by type.
	// Labels: alert_type
	AlertsRaisedTotal *prometheus.CounterVec

	// WebhookDeliveriesTotal counts webhook dispatch attempts.
	// Labels: outcome (delivered, dropped, failed)
	WebhookDeliveriesTotal *prometheus.CounterVec

	// ─── Phase / session ──────────────────────────────────────────────────────

	// PhaseTransitionsTotal counts approved phase transitions.
	PhaseTransitionsTotal prometheus.Counter

	// ActiveSmokeSessions is 1 if a smoke session is currently active.
	ActiveSmokeSessions prometheus.Gauge

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageReadingsRetained is the current number of reading rows.
	StorageReadingsRetained prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since the daemon started.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all pitctld Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ControlTempCelsius: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "control", Name: "temp_celsius",
			Help: "Current control-channel temperature in Celsius.",
		}),

		SetpointCelsius: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "control", Name: "setpoint_celsius",
			Help: "Active PID setpoint in Celsius.",
		}),

		PIDOutputPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "control", Name: "pid_output_percent",
			Help: "PID controller output, 0-100.",
		}),

		RelayState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "control", Name: "relay_state",
			Help: "Relay energised state: 1 = on, 0 = off.",
		}),

		LoopDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitctl", Subsystem: "control", Name: "loop_duration_seconds",
			Help:    "Control loop tick duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		LoopIterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitctl", Subsystem: "control", Name: "loop_iterations_total",
			Help: "Total completed control loop ticks.",
		}),

		ThermocoupleTempCelsius: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "thermocouple", Name: "temp_celsius",
			Help: "Last reading per configured thermocouple channel.",
		}, []string{"thermocouple_id"}),

		ThermocoupleFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitctl", Subsystem: "thermocouple", Name: "faults_total",
			Help: "Total fault readings per thermocouple channel.",
		}, []string{"thermocouple_id"}),

		AlertsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "alerts", Name: "active",
			Help: "Current number of active alerts by type.",
		}, []string{"alert_type"}),

		AlertsRaisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitctl", Subsystem: "alerts", Name: "raised_total",
			Help: "Total alert activations by type.",
		}, []string{"alert_type"}),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pitctl", Subsystem: "alerts", Name: "webhook_deliveries_total",
			Help: "Total webhook dispatch attempts by outcome.",
		}, []string{"outcome"}),

		PhaseTransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pitctl", Subsystem: "phase", Name: "transitions_total",
			Help: "Total approved phase transitions.",
		}),

		ActiveSmokeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "phase", Name: "active_smoke_sessions",
			Help: "1 if a smoke session is currently active, else 0.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pitctl", Subsystem: "storage", Name: "write_latency_seconds",
			Help:    "BoltDB write transaction latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		StorageReadingsRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "storage", Name: "readings_retained",
			Help: "Current number of reading rows retained in BoltDB.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pitctl", Subsystem: "agent", Name: "uptime_seconds",
			Help: "Number of seconds since pitctld started.",
		}),
	}

	reg.MustRegister(
		m.ControlTempCelsius,
		m.SetpointCelsius,
		m.PIDOutputPercent,
		m.RelayState,
		m.LoopDurationSeconds,
		m.LoopIterationsTotal,
		m.ThermocoupleTempCelsius,
		m.ThermocoupleFaultsTotal,
		m.AlertsActive,
		m.AlertsRaisedTotal,
		m.WebhookDeliveriesTotal,
		m.PhaseTransitionsTotal,
		m.ActiveSmokeSessions,
		m.StorageWriteLatency,
		m.StorageReadingsRetained,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
